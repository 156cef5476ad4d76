// Package embedding generates memory embeddings and scores their
// similarity. Grounded on l7n102031-go-agent-memory/supabase.go's
// generateEmbedding (openai.NewClient, CreateEmbeddings, float64 ->
// float32 conversion), adapted to this domain's storage model: that
// repo hands the vector to Postgres's pgvector `<=>` operator for
// similarity search, but spec §6 stores embeddings as JSON-encoded
// text and §4.8 requires the cosine comparison to happen in Go over
// the in-memory/cached candidate set — so Cosine below is new code,
// not adapted from any pack example (confirmed: no Go-side cosine
// function exists anywhere in that repo).
package embedding

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/telebot-agent/chatengine/internal/errs"
)

// Client wraps an OpenAI-compatible embeddings endpoint.
type Client struct {
	api   *openai.Client
	model string
}

// New builds a Client. baseURL may be empty to use the default OpenAI
// endpoint; apiKey is required.
func New(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errs.ConfigMissing("embedding api key is not configured")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Embed returns the embedding vector for a single piece of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, errs.Transient(fmt.Sprintf("embedding request failed: %v", err), err)
	}
	if len(resp.Data) == 0 {
		return nil, errs.Transient("embedding response had no data", nil)
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	copy(vec, resp.Data[0].Embedding)
	return vec, nil
}

// Cosine computes cosine similarity between a and b. Returns 0 on
// dimension mismatch or a zero vector rather than erroring, since
// callers use it purely for ranking candidates.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
