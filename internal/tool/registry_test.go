package tool

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name        string
	instruction string
	enrich      func(prompt, query string) string
	postProcess func(text string) string
	execResult  string
	execOK      bool
}

func (s *stubTool) Name() string { return s.name }
func (s *stubTool) Definition() *schema.ToolInfo {
	return &schema.ToolInfo{Name: s.name, Desc: "stub"}
}
func (s *stubTool) Execute(ctx context.Context, userID int64, argumentsJSON string) (string, bool, error) {
	return s.execResult, s.execOK, nil
}
func (s *stubTool) GetInstruction() string { return s.instruction }
func (s *stubTool) EnrichSystemPrompt(ctx context.Context, userID int64, prompt, query string) string {
	return s.enrich(prompt, query)
}
func (s *stubTool) PostProcess(ctx context.Context, userID int64, text string) string {
	return s.postProcess(text)
}

func TestDefinitionsFiltersByEnabledAndPreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a"})
	r.Register(&stubTool{name: "b"})
	r.Register(&stubTool{name: "c"})

	defs := r.Definitions(map[string]bool{"a": true, "c": true})
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "c", defs[1].Name)
}

func TestGetInstructionsConcatenatesEnabledOnly(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a", instruction: "use a"})
	r.Register(&stubTool{name: "b", instruction: "use b"})

	instr := r.GetInstructions(map[string]bool{"a": true})
	assert.Equal(t, "use a", instr)
}

func TestEnrichSystemPromptThreadsThroughTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a", enrich: func(prompt, query string) string { return prompt + "+a" }})
	r.Register(&stubTool{name: "b", enrich: func(prompt, query string) string { return prompt + "+b" }})

	out := r.EnrichSystemPrompt(context.Background(), 1, "base", "q", map[string]bool{"a": true, "b": true})
	assert.Equal(t, "base+a+b", out)
}

func TestExecuteUnknownToolReturnsSyntheticError(t *testing.T) {
	r := NewRegistry()
	result, ok, err := r.Execute(context.Background(), 1, "does_not_exist", "{}")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "unknown tool does_not_exist", result)
}

func TestExecuteDispatchesToRegisteredTool(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a", execResult: "done", execOK: true})

	result, ok, err := r.Execute(context.Background(), 1, "a", "{}")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "done", result)
}

func TestPostProcessRunsOnlyEnabledTools(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "a", postProcess: func(text string) string { return text + "[a]" }})
	r.Register(&stubTool{name: "b", postProcess: func(text string) string { return text + "[b]" }})

	out := r.PostProcess(context.Background(), 1, "x", map[string]bool{"b": true})
	assert.Equal(t, "x[b]", out)
}
