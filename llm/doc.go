// Package llm defines the provider abstraction shared by every model
// backend: chat messages, tool calls, request/response shapes and the
// Provider interface. It depends on nothing but the standard library so
// that providers and agents can both import it freely.
package llm
