package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/telebot-agent/chatengine/internal/embedding"
	"github.com/telebot-agent/chatengine/internal/event"
	"github.com/telebot-agent/chatengine/internal/types"
)

// AddMemory implements spec §4.8's add_memory: embed if a client is
// configured, deduplicate against the user's existing memories (at
// most one replacement per add), then insert.
func (s *Services) AddMemory(ctx context.Context, userID int64, content string, source types.MemorySource) (*types.Memory, error) {
	m := &types.Memory{UserID: userID, Content: content, Source: source}

	if s.embed != nil {
		vec, err := s.embed.Embed(ctx, content)
		if err == nil {
			m.Embedding = vec
			s.dedupAgainst(userID, vec)
		}
		// an embedding failure degrades to storing without one rather
		// than failing the whole add: memory persistence outranks
		// semantic retrieval.
	}

	saved := s.cache.AddMemory(m)
	s.publish(event.MemoryAdded, event.MemoryAddedData{UserID: userID, MemoryID: saved.ID})
	return saved, nil
}

// dedupAgainst deletes at most one existing memory whose embedding is
// at or above the dedup threshold against vec.
func (s *Services) dedupAgainst(userID int64, vec []float32) {
	for _, existing := range s.cache.GetMemories(userID) {
		if !existing.HasEmbedding() {
			continue
		}
		if embedding.Cosine(existing.Embedding, vec) >= s.memoryDedupThreshold {
			s.cache.DeleteMemory(userID, existing.ID)
			return
		}
	}
}

func (s *Services) GetMemories(userID int64) []*types.Memory {
	return s.cache.GetMemories(userID)
}

func (s *Services) DeleteMemory(userID, memoryID int64) bool {
	ok := s.cache.DeleteMemory(userID, memoryID)
	if ok {
		s.publish(event.MemoryDeleted, event.MemoryDeletedData{UserID: userID, MemoryID: memoryID})
	}
	return ok
}

func (s *Services) ClearMemories(userID int64) {
	s.cache.ClearMemories(userID)
}

type scoredMemory struct {
	memory *types.Memory
	score  float64
}

// FormatMemoriesForPrompt implements spec §4.8's format_memories_for_prompt:
// absent a query, an embedding client, or any embedded memory, every
// memory is returned; otherwise memories are ranked by cosine
// similarity to the query, filtered by the retrieval threshold, capped
// at top-K, with un-embedded memories always included for legacy
// safety.
func (s *Services) FormatMemoriesForPrompt(ctx context.Context, userID int64, query string) string {
	all := s.cache.GetMemories(userID)
	if len(all) == 0 {
		return ""
	}

	anyEmbedded := false
	for _, m := range all {
		if m.HasEmbedding() {
			anyEmbedded = true
			break
		}
	}

	if query == "" || s.embed == nil || !anyEmbedded {
		return formatMemoryBlock(all)
	}

	qVec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return formatMemoryBlock(all)
	}

	var scored []scoredMemory
	var legacy []*types.Memory
	for _, m := range all {
		if !m.HasEmbedding() {
			legacy = append(legacy, m)
			continue
		}
		score := embedding.Cosine(m.Embedding, qVec)
		if score >= s.memorySimilarityThreshold {
			scored = append(scored, scoredMemory{memory: m, score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > s.memoryTopK {
		scored = scored[:s.memoryTopK]
	}

	selected := make([]*types.Memory, 0, len(scored)+len(legacy))
	for _, sm := range scored {
		selected = append(selected, sm.memory)
	}
	selected = append(selected, legacy...)
	return formatMemoryBlock(selected)
}

func formatMemoryBlock(memories []*types.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known facts about this user:\n")
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s\n", m.Content)
	}
	return b.String()
}
