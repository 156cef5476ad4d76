package llm

import (
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"
)

// Usage reports token counts for a finished turn.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// ToolCall is one fully-assembled function call request from the
// model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// StreamChunk is one tagged record from the stream, per spec §4.4.
type StreamChunk struct {
	Content   string
	Reasoning string
	Usage     *Usage
	Finished  bool
	ToolCalls []ToolCall
	Err       error
}

// toolAccumulator tracks id/name/arguments fragments for one
// in-progress tool call, keyed by index (teacher's stream.go scheme).
type toolAccumulator struct {
	id        string
	name      string
	arguments string
}

// consumeStream reads an eino message stream to completion, emitting
// one StreamChunk per delta and a final chunk with Finished=true
// carrying the assembled tool calls and last-seen usage. Closes out
// when done, per the contract "finite; not restartable".
func consumeStream(reader *schema.StreamReader[*schema.Message], out chan<- StreamChunk) {
	defer close(out)
	defer reader.Close()

	accumulators := make(map[string]*toolAccumulator)
	order := make([]string, 0, 4)
	var lastUsage *Usage

	for {
		msg, err := reader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			out <- StreamChunk{Err: err, Finished: true}
			return
		}

		chunk := StreamChunk{Content: msg.Content, Reasoning: msg.ReasoningContent}

		for _, tc := range msg.ToolCalls {
			key := toolCallKey(tc)
			acc, ok := accumulators[key]
			if !ok {
				acc = &toolAccumulator{}
				accumulators[key] = acc
				order = append(order, key)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				acc.arguments += tc.Function.Arguments
			}
		}

		if msg.ResponseMeta != nil {
			if msg.ResponseMeta.Usage != nil {
				lastUsage = &Usage{
					PromptTokens:     int64(msg.ResponseMeta.Usage.PromptTokens),
					CompletionTokens: int64(msg.ResponseMeta.Usage.CompletionTokens),
					TotalTokens:      int64(msg.ResponseMeta.Usage.TotalTokens),
				}
			}
		}

		if chunk.Content != "" || chunk.Reasoning != "" {
			out <- chunk
		}
	}

	final := StreamChunk{Finished: true, Usage: lastUsage}
	for _, key := range order {
		acc := accumulators[key]
		final.ToolCalls = append(final.ToolCalls, ToolCall{
			ID: acc.id, Name: acc.name, Arguments: acc.arguments,
		})
	}
	out <- final
}

func toolCallKey(tc schema.ToolCall) string {
	if tc.Index != nil {
		return fmt.Sprintf("idx:%d", *tc.Index)
	}
	return tc.ID
}
