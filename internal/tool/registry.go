package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Registry composes all registered tools in stable (registration)
// order, per spec §4.5. Filtering to a turn's enabled_tools happens at
// call time, not at registration time, so the same Registry serves
// every user regardless of their individual tool settings.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, preserving first-registration order. A second
// Register call for the same name replaces it in place without moving
// its position.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Definitions returns the function-schema records for every tool whose
// name is present and true in enabled, in registration order.
func (r *Registry) Definitions(enabled map[string]bool) []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*schema.ToolInfo, 0, len(r.order))
	for _, name := range r.order {
		if !enabled[name] {
			continue
		}
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// GetInstructions concatenates the usage-hint text of every enabled
// tool that provides one, in registration order.
func (r *Registry) GetInstructions(enabled map[string]bool) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.order {
		if !enabled[name] {
			continue
		}
		ip, ok := r.tools[name].(InstructionProvider)
		if !ok {
			continue
		}
		instr := ip.GetInstruction()
		if instr == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(instr)
	}
	return b.String()
}

// EnrichSystemPrompt runs every enabled SystemPromptEnricher in
// registration order, threading the (possibly already enriched)
// prompt through each.
func (r *Registry) EnrichSystemPrompt(ctx context.Context, userID int64, prompt, query string, enabled map[string]bool) string {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	tools := make(map[string]Tool, len(r.tools))
	for k, v := range r.tools {
		tools[k] = v
	}
	r.mu.RUnlock()

	for _, name := range names {
		if !enabled[name] {
			continue
		}
		enricher, ok := tools[name].(SystemPromptEnricher)
		if !ok {
			continue
		}
		prompt = enricher.EnrichSystemPrompt(ctx, userID, prompt, query)
	}
	return prompt
}

// PostProcess runs every enabled PostProcessor in registration order
// against the final assistant text.
func (r *Registry) PostProcess(ctx context.Context, userID int64, text string, enabled map[string]bool) string {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	tools := make(map[string]Tool, len(r.tools))
	for k, v := range r.tools {
		tools[k] = v
	}
	r.mu.RUnlock()

	for _, name := range names {
		if !enabled[name] {
			continue
		}
		pp, ok := tools[name].(PostProcessor)
		if !ok {
			continue
		}
		text = pp.PostProcess(ctx, userID, text)
	}
	return text
}

// Execute dispatches a single tool call by name. Unknown names never
// crash the turn: they return a synthesized error result the LLM can
// see and recover from, per spec §4.5.
func (r *Registry) Execute(ctx context.Context, userID int64, name, argumentsJSON string) (result string, ok bool, err error) {
	r.mu.RLock()
	t, found := r.tools[name]
	r.mu.RUnlock()

	if !found {
		return fmt.Sprintf("unknown tool %s", name), true, nil
	}
	return t.Execute(ctx, userID, argumentsJSON)
}

// Names returns every registered tool name in registration order,
// regardless of any user's enabled_tools setting. Used by /set tool
// and /settings to validate and list the full capability set.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
