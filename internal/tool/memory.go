package tool

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/telebot-agent/chatengine/internal/types"
)

// memoryService is the subset of *services.Services the memory tool
// needs; a narrow interface keeps this package from importing
// services (which would import tool back for the registry, if this
// package ever grows a services dependency in the other direction).
type memoryService interface {
	AddMemory(ctx context.Context, userID int64, content string, source types.MemorySource) (*types.Memory, error)
	FormatMemoriesForPrompt(ctx context.Context, userID int64, query string) string
}

// MemoryTool implements spec §4.7's memory tool: explicit save_memory
// calls, semantic system-prompt enrichment, and a regex-based fallback
// for models that narrate memories instead of calling the tool.
type MemoryTool struct {
	svc memoryService
}

// NewMemoryTool builds a memory tool bound to svc.
func NewMemoryTool(svc memoryService) *MemoryTool {
	return &MemoryTool{svc: svc}
}

func (t *MemoryTool) Name() string { return "save_memory" }

func (t *MemoryTool) Definition() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "save_memory",
		Desc: "Save a durable fact about the user for recall in future conversations, across personas and sessions.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"content": stringParam("The fact to remember, written as a short standalone statement.", true),
		}),
	}
}

type saveMemoryInput struct {
	Content string `json:"content"`
}

func (t *MemoryTool) Execute(ctx context.Context, userID int64, argumentsJSON string) (string, bool, error) {
	var in saveMemoryInput
	if err := json.Unmarshal([]byte(argumentsJSON), &in); err != nil {
		return "invalid save_memory arguments", true, nil
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return "nothing to remember", true, nil
	}
	if _, err := t.svc.AddMemory(ctx, userID, in.Content, types.MemorySourceAI); err != nil {
		return "", true, err
	}
	return "remembered", true, nil
}

// EnrichSystemPrompt injects the top-K relevant memories, using the
// user's current input as the retrieval query, per spec §4.6/§4.8.
func (t *MemoryTool) EnrichSystemPrompt(ctx context.Context, userID int64, prompt, query string) string {
	block := t.svc.FormatMemoriesForPrompt(ctx, userID, query)
	if block == "" {
		return prompt
	}
	return prompt + "\n\n" + block
}

const memoryFallbackInstruction = `If you learn a durable fact about the user that's worth remembering, ` +
	`prefer calling save_memory. If you instead state it inline, wrap it as ` +
	"[MEMORY: the fact] (or [记忆: the fact], or <memory>the fact</memory>) so it is still captured."

func (t *MemoryTool) GetInstruction() string { return memoryFallbackInstruction }

// memoryTagPattern matches spec §4.6's three fallback-tag formats.
// Exactly one capture group is non-empty per match.
var memoryTagPattern = regexp.MustCompile(`(?is)\[MEMORY:\s*(.*?)\s*\]|\[记忆:\s*(.*?)\s*\]|<memory>\s*(.*?)\s*</memory>`)

// PostProcess extracts fallback-tagged memories from the final
// assistant text, saves each, and strips the tags from the returned
// text so the user never sees the raw markers.
func (t *MemoryTool) PostProcess(ctx context.Context, userID int64, text string) string {
	matches := memoryTagPattern.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		content := firstNonEmpty(m[1], m[2], m[3])
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		_, _ = t.svc.AddMemory(ctx, userID, content, types.MemorySourceAI)
	}
	return strings.TrimSpace(memoryTagPattern.ReplaceAllString(text, ""))
}

func firstNonEmpty(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}
