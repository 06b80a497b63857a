package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fxagent/fxagent/llm"
)

// ExchangeRateToolName is the registry name of the exchange-rate tool.
const ExchangeRateToolName = "get_exchange_rate"

// defaultFrankfurterURL is the public Frankfurter rate-quote service.
const defaultFrankfurterURL = "https://api.frankfurter.app"

// ExchangeRateToolConfig configures the exchange-rate tool.
type ExchangeRateToolConfig struct {
	BaseURL string        // rate service base URL (default Frankfurter)
	Client  *http.Client  // HTTP client (default 15s timeout)
	Timeout time.Duration // per-invocation timeout for the executor
}

// exchangeRateArgs are the model-supplied arguments. All strings; the
// downstream API is the only validator.
type exchangeRateArgs struct {
	CurrencyFrom string `json:"currency_from"`
	CurrencyTo   string `json:"currency_to"`
	CurrencyDate string `json:"currency_date"`
}

// toolError is the data-level error value the model receives. The tool
// never fails past its boundary; every failure mode becomes this value.
type toolError struct {
	Error string `json:"error"`
}

func toolErrorJSON(msg string) json.RawMessage {
	data, _ := json.Marshal(toolError{Error: msg})
	return data
}

// NewExchangeRateTool creates the ToolFunc and metadata for currency rate
// lookups against a Frankfurter-style service.
//
// Success returns the upstream JSON body verbatim (it must contain a
// "rates" key). A non-2xx status, an unparseable body, a body without
// "rates", or a transport failure all return {"error": "<message>"} as
// ordinary tool output, never a Go error.
func NewExchangeRateTool(config ExchangeRateToolConfig, logger *zap.Logger) (ToolFunc, ToolMetadata) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultFrankfurterURL
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}

	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		params := exchangeRateArgs{
			CurrencyFrom: "USD",
			CurrencyTo:   "EUR",
			CurrencyDate: "latest",
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return toolErrorJSON(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}
		if params.CurrencyFrom == "" {
			params.CurrencyFrom = "USD"
		}
		if params.CurrencyTo == "" {
			params.CurrencyTo = "EUR"
		}
		if params.CurrencyDate == "" {
			params.CurrencyDate = "latest"
		}

		endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(baseURL, "/"), url.PathEscape(params.CurrencyDate))
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return toolErrorJSON(fmt.Sprintf("API request failed: %v", err)), nil
		}
		q := httpReq.URL.Query()
		q.Set("from", params.CurrencyFrom)
		q.Set("to", params.CurrencyTo)
		httpReq.URL.RawQuery = q.Encode()

		resp, err := client.Do(httpReq)
		if err != nil {
			logger.Warn("exchange rate request failed", zap.Error(err))
			return toolErrorJSON(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return toolErrorJSON(fmt.Sprintf("API request failed: %v", err)), nil
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			logger.Warn("exchange rate upstream error",
				zap.Int("status", resp.StatusCode),
				zap.String("from", params.CurrencyFrom),
				zap.String("to", params.CurrencyTo),
			)
			return toolErrorJSON(fmt.Sprintf("API request failed: status %d", resp.StatusCode)), nil
		}

		var data map[string]any
		if err := json.Unmarshal(body, &data); err != nil {
			return toolErrorJSON("invalid JSON response from API"), nil
		}
		if _, ok := data["rates"]; !ok {
			return toolErrorJSON("invalid API response format"), nil
		}

		logger.Debug("exchange rate fetched",
			zap.String("from", params.CurrencyFrom),
			zap.String("to", params.CurrencyTo),
			zap.String("date", params.CurrencyDate),
		)

		// Upstream body returned verbatim.
		return json.RawMessage(body), nil
	}

	meta := ToolMetadata{
		Schema: llm.ToolSchema{
			Name:        ExchangeRateToolName,
			Description: "Get the current exchange rate between two currencies, optionally for a specific date.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"currency_from": {"type": "string", "description": "Currency code to convert from, e.g. \"USD\".", "default": "USD"},
					"currency_to": {"type": "string", "description": "Currency code to convert to, e.g. \"EUR\".", "default": "EUR"},
					"currency_date": {"type": "string", "description": "ISO date for the rate, or \"latest\".", "default": "latest"}
				}
			}`),
		},
		Timeout: timeout,
	}

	return fn, meta
}
