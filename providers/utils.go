package providers

import "github.com/fxagent/fxagent/llm"

// ChooseModel selects the model to use: the request model wins, then the
// configured model, then the provider default.
func ChooseModel(req *llm.ChatRequest, configModel string, defaultModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if configModel != "" {
		return configModel
	}
	return defaultModel
}
