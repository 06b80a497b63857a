// Package a2a implements the agent-to-agent HTTP surface: agent card
// discovery (public and authenticated extended), synchronous message
// exchange, and SSE streaming, plus the matching client.
package a2a
