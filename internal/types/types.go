// Package types holds the domain entities shared across the cache,
// services, pipeline, and persistence layers.
package types

import "time"

// Role distinguishes a conversation message's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MemorySource distinguishes who produced a memory entry.
type MemorySource string

const (
	MemorySourceUser MemorySource = "user"
	MemorySourceAI   MemorySource = "ai"
)

// APIPreset is a saved provider configuration a user can switch between
// with `/set provider load <name>`.
type APIPreset struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// UserSettings holds the single per-user configuration row. Created
// lazily on first interaction, mutated by commands, never deleted.
type UserSettings struct {
	UserID         int64                `json:"user_id"`
	APIKey         string               `json:"api_key"`
	BaseURL        string               `json:"base_url"`
	Model          string               `json:"model"`
	Temperature    float64              `json:"temperature"`
	TokenLimit     int64                `json:"token_limit"` // 0 = unlimited
	CurrentPersona string               `json:"current_persona"`
	EnabledTools   map[string]bool      `json:"enabled_tools"`
	TitleModel     string               `json:"title_model"`
	TTSVoice       string               `json:"tts_voice"`
	TTSStyle       string               `json:"tts_style"`
	TTSEndpoint    string               `json:"tts_endpoint"`
	APIPresets     map[string]APIPreset `json:"api_presets"`
}

// Clone returns a deep-enough copy for cache snapshot isolation.
func (s *UserSettings) Clone() *UserSettings {
	if s == nil {
		return nil
	}
	cp := *s
	cp.EnabledTools = make(map[string]bool, len(s.EnabledTools))
	for k, v := range s.EnabledTools {
		cp.EnabledTools[k] = v
	}
	cp.APIPresets = make(map[string]APIPreset, len(s.APIPresets))
	for k, v := range s.APIPresets {
		cp.APIPresets[k] = v
	}
	return &cp
}

// Persona is a named system-prompt preset bound to a user. Identified
// by (UserID, Name). "default" always exists implicitly and cannot be
// deleted.
type Persona struct {
	UserID            int64  `json:"user_id"`
	Name              string `json:"name"`
	SystemPrompt      string `json:"system_prompt"`
	CurrentSessionID  int64  `json:"current_session_id"` // weak reference; 0 = none
}

const DefaultPersonaName = "default"

// Session is a contiguous conversation thread within a persona.
type Session struct {
	ID          int64     `json:"id"` // negative = temporary, pending DB insert
	UserID      int64     `json:"user_id"`
	PersonaName string    `json:"persona_name"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
}

const DefaultSessionTitle = "New Session"

// ConversationMessage is one append-only turn entry. Tool-call
// intermediate messages are never persisted here; only the final
// assistant text and the user's input are.
type ConversationMessage struct {
	SessionID int64     `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// PersonaTokenUsage tracks cumulative token spend for one
// (user, persona) pair. Invariant: Total == Prompt + Completion.
type PersonaTokenUsage struct {
	UserID          int64  `json:"user_id"`
	PersonaName     string `json:"persona_name"`
	PromptTokens    int64  `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens     int64  `json:"total_tokens"`
}

// Memory is a private, cross-persona fact belonging to a user.
type Memory struct {
	ID        int64        `json:"id"` // negative = temporary, pending DB insert
	UserID    int64        `json:"user_id"`
	Content   string       `json:"content"`
	Source    MemorySource `json:"source"`
	Embedding []float32    `json:"embedding,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// HasEmbedding reports whether m carries a usable embedding vector.
func (m *Memory) HasEmbedding() bool {
	return m != nil && len(m.Embedding) > 0
}
