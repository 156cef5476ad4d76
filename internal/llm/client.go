// Package llm is the streaming chat client (C5): an eino-backed,
// OpenAI-compatible model wrapper that turns a provider stream into a
// flat sequence of StreamChunk values, with the tools-unsupported
// fallback and failure-kind classification spec §4.4 requires.
//
// Grounded on the teacher's internal/provider/openai.go (ChatModelConfig
// construction, env-var API key fallback, WithTools binding) and
// internal/session/stream.go + loop.go (index-keyed tool-call
// accumulation, exponential backoff via cenkalti/backoff/v4). The
// tools-unsupported retry and failure-kind classification are new
// logic the teacher doesn't need (it assumes the configured provider
// always supports tool calling).
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"github.com/telebot-agent/chatengine/internal/errs"
)

const (
	maxRetries           = 3
	retryInitialInterval = time.Second
	retryMaxInterval     = 30 * time.Second
	retryMaxElapsedTime  = 2 * time.Minute
)

// Client is a single-model OpenAI-compatible chat backend.
type Client struct {
	chatModel einomodel.ToolCallingChatModel
	model     string
}

// New builds a Client bound to one model. baseURL may be empty to use
// the default OpenAI API endpoint.
func New(ctx context.Context, apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errs.ConfigMissing("llm api key is not configured")
	}
	if model == "" {
		return nil, errs.ConfigMissing("llm model is not configured")
	}

	cfg := &openai.ChatModelConfig{
		APIKey: apiKey,
		Model:  model,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm: create chat model: %w", err)
	}
	return &Client{chatModel: cm, model: model}, nil
}

// ChatRequest is one turn's worth of input to the model.
type ChatRequest struct {
	Messages    []*schema.Message
	Tools       []*schema.ToolInfo
	Temperature float64
}

// Outcome reports what actually happened while opening the stream,
// notably whether the tools-unsupported fallback fired.
type Outcome struct {
	ToolsDropped bool
}

// Chat opens a stream for req, applying the tools-unsupported fallback
// and transient-failure backoff before giving up. The returned channel
// is closed after the final chunk (Finished=true). A read error ends
// the stream early: the last chunk sent then carries the error in Err,
// with Finished=true and no content.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, *Outcome, error) {
	reader, outcome, err := c.openStream(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan StreamChunk)
	go consumeStream(reader, out)
	return out, outcome, nil
}

func (c *Client) openStream(ctx context.Context, req ChatRequest) (*schema.StreamReader[*schema.Message], *Outcome, error) {
	model := c.chatModel
	tools := req.Tools
	if len(tools) > 0 {
		bound, err := model.WithTools(tools)
		if err != nil {
			return nil, nil, fmt.Errorf("llm: bind tools: %w", err)
		}
		model = bound
	}

	opts := buildOptions(req)
	outcome := &Outcome{}
	toolsUnsupportedRetried := false
	b := newRetryBackoff(ctx)

	for {
		reader, err := model.Stream(ctx, req.Messages, opts...)
		if err == nil {
			return reader, outcome, nil
		}

		if !toolsUnsupportedRetried && len(tools) > 0 && isToolsUnsupportedError(err) {
			toolsUnsupportedRetried = true
			outcome.ToolsDropped = true
			model = c.chatModel // retry once, without the tools binding
			tools = nil
			continue
		}

		kind := classifyFailure(err)
		if kind != errs.KindTransient {
			return nil, nil, wrapFailure(err, kind)
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return nil, nil, wrapFailure(err, errs.KindTransient)
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(next):
		}
	}
}

func buildOptions(req ChatRequest) []einomodel.Option {
	var opts []einomodel.Option
	if req.Temperature > 0 {
		opts = append(opts, einomodel.WithTemperature(float32(req.Temperature)))
	}
	return opts
}

// newRetryBackoff mirrors the teacher's newRetryBackoff: exponential
// backoff with jitter, bounded retry count and elapsed time.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = retryMaxElapsedTime
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// isToolsUnsupportedError matches spec §4.4's fallback trigger: the
// first call's error message contains a marker for "tool" or
// "function" (case-insensitive).
func isToolsUnsupportedError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tool") || strings.Contains(msg, "function")
}

// classifyFailure maps a raw provider error to one of spec §4.4's
// failure kinds. Authentication and model-not-found are fatal for the
// turn (mapped to Precondition, since neither resolves by retrying);
// rate-limit and network/timeout are transient.
func classifyFailure(err error) errs.Kind {
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "unauthorized", "invalid api key", "authentication", "401", "403"):
		return errs.KindPrecondition
	case containsAny(msg, "model not found", "does not exist", "invalid model", "404"):
		return errs.KindPrecondition
	case containsAny(msg, "rate limit", "too many requests", "429"):
		return errs.KindTransient
	case containsAny(msg, "timeout", "deadline exceeded", "connection refused", "network", "eof"):
		return errs.KindTransient
	default:
		return errs.KindTransient
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func wrapFailure(err error, kind errs.Kind) error {
	msg := fmt.Sprintf("llm request failed: %v", err)
	switch kind {
	case errs.KindPrecondition:
		return errs.Precondition(msg)
	default:
		return errs.Transient(msg, err)
	}
}
