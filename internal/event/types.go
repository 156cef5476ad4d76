package event

import "github.com/telebot-agent/chatengine/internal/types"

// SessionCreatedData is the payload for session.created events.
type SessionCreatedData struct {
	Session *types.Session `json:"session"`
}

// SessionUpdatedData is the payload type for session.updated events.
// No package in this module publishes session.updated: session
// renames and the sync engine's temporary-id remap emit no event.
type SessionUpdatedData struct {
	Session *types.Session `json:"session"`
}

// SessionDeletedData is the payload for session.deleted events.
type SessionDeletedData struct {
	UserID    int64 `json:"user_id"`
	SessionID int64 `json:"session_id"`
}

// PersonaSwitchedData fires when a user's current persona/session
// pointer changes, independent of any in-flight pinned turn.
type PersonaSwitchedData struct {
	UserID      int64  `json:"user_id"`
	PersonaName string `json:"persona_name"`
	SessionID   int64  `json:"session_id"`
}

// TokenUsageUpdatedData is the payload for token_usage.updated events.
type TokenUsageUpdatedData struct {
	UserID      int64 `json:"user_id"`
	PersonaName string `json:"persona_name"`
	TotalTokens int64 `json:"total_tokens"`
}

// MemoryAddedData is the payload for memory.added events.
type MemoryAddedData struct {
	UserID   int64 `json:"user_id"`
	MemoryID int64 `json:"memory_id"`
}

// MemoryDeletedData is the payload for memory.deleted events, including
// dedup-triggered deletions performed by add_memory itself.
type MemoryDeletedData struct {
	UserID   int64 `json:"user_id"`
	MemoryID int64 `json:"memory_id"`
}

// SyncCompletedData reports the outcome of one cache sync cycle.
type SyncCompletedData struct {
	Duration          string `json:"duration"`
	SessionsInserted  int    `json:"sessions_inserted"`
	MemoriesInserted  int    `json:"memories_inserted"`
	ConversationRows  int    `json:"conversation_rows"`
}

// SyncFailedData reports a sync cycle that had to restore its dirty
// sets for retry on the next cycle.
type SyncFailedData struct {
	Error string `json:"error"`
}

// VoiceEnqueuedData fires when the TTS tool appends synthesized audio
// to a user's pending-voice queue.
type VoiceEnqueuedData struct {
	UserID    int64 `json:"user_id"`
	QueueSize int   `json:"queue_size"`
}
