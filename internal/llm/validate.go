package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/telebot-agent/chatengine/internal/errs"
)

// ValidateAPIKey confirms apiKey/baseURL can authenticate against the
// provider by listing its models, the cheapest call that proves a key
// is live without spending a completion. Used by /set api_key to
// reject a bad key immediately rather than at the next chat turn.
func ValidateAPIKey(ctx context.Context, apiKey, baseURL string) error {
	if apiKey == "" {
		return errs.ConfigMissing("api key is empty")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(cfg)
	if _, err := client.ListModels(ctx); err != nil {
		return errs.Precondition("api key rejected by provider: " + err.Error())
	}
	return nil
}
