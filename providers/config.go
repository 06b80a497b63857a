// Package providers holds configuration structs for the model backends.
// The backend in use is picked once at construction from a tagged config
// variant (see config.LLMConfig); there is no runtime provider switching.
package providers

import "time"

// OpenAIConfig configures the OpenAI-compatible provider. BaseURL may point
// at any chat-completions-compatible endpoint (OpenAI, vLLM, Ollama, ...).
type OpenAIConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiConfig configures the Google Gemini provider.
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
