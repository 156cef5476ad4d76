// Package tool is the tool registry and built-in tool implementations
// (C6/C7): a polymorphic Tool interface plus a stable-order registry
// that the chat pipeline consults once per turn for schemas, system
// prompt enrichment, dispatch, and post-processing.
//
// Grounded on the teacher's internal/tool/tool.go (Tool interface,
// Parameters-as-schema, Result shape) and internal/tool/registry.go
// (map-backed registry with a Register/Get/List surface), generalized
// for spec §4.5's wider capability set: a tool here may additionally
// enrich the system prompt and post-process the final assistant text,
// neither of which the teacher's code-editing tools need.
package tool

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// Tool is the polymorphic capability set per spec §4.5. Every tool
// implements Name/Definition/Execute; the optional interfaces below
// are type-asserted by the registry where the spec calls them
// "optional" (get_instruction, enrich_system_prompt, post_process).
type Tool interface {
	// Name is both the registry key and the LLM-facing function name.
	Name() string

	// Definition returns the function-schema record the LLM sees.
	Definition() *schema.ToolInfo

	// Execute runs the tool for one call. ok=false means "no result
	// text" (fire-and-forget, e.g. a TTS enqueue); the pipeline then
	// skips appending a tool-result message for this call.
	Execute(ctx context.Context, userID int64, argumentsJSON string) (result string, ok bool, err error)
}

// InstructionProvider is implemented by tools that inject a usage hint
// into the system prompt alongside their schema (e.g. the memory
// tool's regex-fallback instructions).
type InstructionProvider interface {
	GetInstruction() string
}

// SystemPromptEnricher is implemented by tools that rewrite the system
// prompt itself before the first LLM call of a turn (the memory tool's
// semantic-retrieval injection).
type SystemPromptEnricher interface {
	EnrichSystemPrompt(ctx context.Context, userID int64, prompt, query string) string
}

// PostProcessor is implemented by tools that inspect the final,
// filtered assistant text before persistence (the memory tool's
// tagged-fallback extraction).
type PostProcessor interface {
	PostProcess(ctx context.Context, userID int64, text string) string
}

// stringParam and friends build schema.ParameterInfo values without
// the teacher's JSON-Schema-string indirection: every built-in tool
// here has a small, fixed parameter set, so there's no JSON schema
// document to round-trip.
func stringParam(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.String, Desc: desc, Required: required}
}

func integerParam(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.Integer, Desc: desc, Required: required}
}
