// Package services is the thin semantic façade over internal/cache
// (C3). It never talks to the database directly: everything here
// reads or writes the in-memory cache, which internal/cache's sync
// engine flushes on its own schedule.
//
// Grounded in shape on the teacher's internal/session package acting
// as the boundary between the server/command layer and the session
// store, generalized from "one kind of entity" (coding sessions) to
// the five this domain's cache holds. The "current" vs. "explicit"
// write-mode split, and the constraint that the pipeline uses only
// the explicit mode, follow spec §4.3 directly — the teacher has no
// analogous ambiguity (its sessions are always addressed by id).
package services

import (
	"context"
	"fmt"

	"github.com/telebot-agent/chatengine/internal/cache"
	"github.com/telebot-agent/chatengine/internal/errs"
	"github.com/telebot-agent/chatengine/internal/event"
	"github.com/telebot-agent/chatengine/internal/types"
)

// EmbeddingClient is the subset of internal/embedding.Client the
// memory subsystem needs; an interface so tests can substitute a fake
// and so the service works when no embedding provider is configured.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	defaultMemoryTopK               = 10
	defaultMemorySimilarityThreshold = 0.35
	defaultMemoryDedupThreshold      = 0.85
)

// Services wraps the cache and the optional embedding client. A nil
// embedding client is valid: memory operations degrade gracefully per
// spec §4.8 ("if the embedding provider is configured").
type Services struct {
	cache *cache.Cache
	bus   *event.Bus
	embed EmbeddingClient

	memoryTopK               int
	memorySimilarityThreshold float64
	memoryDedupThreshold      float64

	defaultEnabledTools map[string]bool
}

// Option configures a Services instance at construction.
type Option func(*Services)

func WithMemoryTopK(n int) Option { return func(s *Services) { s.memoryTopK = n } }
func WithMemorySimilarityThreshold(v float64) Option {
	return func(s *Services) { s.memorySimilarityThreshold = v }
}
func WithMemoryDedupThreshold(v float64) Option {
	return func(s *Services) { s.memoryDedupThreshold = v }
}

// WithDefaultEnabledTools sets which tools a brand-new UserSettings
// row starts with enabled, by tool name (see internal/tool's Name()
// values, not the config package's short aliases).
func WithDefaultEnabledTools(names []string) Option {
	return func(s *Services) {
		enabled := make(map[string]bool, len(names))
		for _, n := range names {
			enabled[n] = true
		}
		s.defaultEnabledTools = enabled
	}
}

// New builds a Services facade. embed may be nil.
func New(c *cache.Cache, bus *event.Bus, embed EmbeddingClient, opts ...Option) *Services {
	s := &Services{
		cache: c,
		bus:   bus,
		embed: embed,

		memoryTopK:               defaultMemoryTopK,
		memorySimilarityThreshold: defaultMemorySimilarityThreshold,
		memoryDedupThreshold:      defaultMemoryDedupThreshold,

		defaultEnabledTools: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Settings ---

func (s *Services) GetUserSettings(userID int64) *types.UserSettings {
	enabled := make(map[string]bool, len(s.defaultEnabledTools))
	for name, on := range s.defaultEnabledTools {
		enabled[name] = on
	}
	return s.cache.GetOrCreateUserSettings(userID, types.UserSettings{
		Model:          "",
		Temperature:    1.0,
		CurrentPersona: types.DefaultPersonaName,
		EnabledTools:   enabled,
	})
}

// UpdateUserSetting applies a single mutation to a user's settings row.
func (s *Services) UpdateUserSetting(userID int64, fn func(*types.UserSettings)) {
	s.cache.UpdateUserSetting(userID, fn)
}

// --- Personas ---

func (s *Services) GetPersonas(userID int64) []*types.Persona {
	return s.cache.GetPersonas(userID)
}

// SwitchPersona makes name the user's current persona, auto-creating
// it if it doesn't exist yet, and returns the persona, whose
// CurrentSessionID is the (now pinnable) current session — a first
// session is created if the persona has none.
func (s *Services) SwitchPersona(userID int64, name string) (*types.Persona, error) {
	p := s.cache.GetOrCreatePersona(userID, name)
	s.UpdateUserSetting(userID, func(us *types.UserSettings) { us.CurrentPersona = name })

	if p.CurrentSessionID == 0 {
		sess := s.cache.CreateSession(userID, name, types.DefaultSessionTitle)
		p.CurrentSessionID = sess.ID
	}

	s.publish(event.PersonaSwitched, event.PersonaSwitchedData{
		UserID: userID, PersonaName: name, SessionID: p.CurrentSessionID,
	})
	return p, nil
}

// CreatePersona creates a new, empty persona with an optional system
// prompt. It does not switch the user's current persona.
func (s *Services) CreatePersona(userID int64, name, prompt string) *types.Persona {
	p := s.cache.GetOrCreatePersona(userID, name)
	if prompt != "" {
		p.SystemPrompt = prompt
	}
	return p
}

func (s *Services) DeletePersona(userID int64, name string) error {
	if name == types.DefaultPersonaName {
		return errs.Precondition("cannot delete the default persona")
	}
	return s.cache.DeletePersona(userID, name)
}

// --- Sessions ---

func (s *Services) GetSessions(userID int64, personaName string) []*types.Session {
	return s.cache.GetSessions(userID, personaName)
}

// CreateSession starts a new session under personaName. It becomes the
// persona's current session only when the persona had none; otherwise
// the current session pointer is left unchanged.
func (s *Services) CreateSession(userID int64, personaName string) *types.Session {
	sess := s.cache.CreateSession(userID, personaName, types.DefaultSessionTitle)
	s.publish(event.SessionCreated, event.SessionCreatedData{Session: sess})
	return sess
}

// SwitchSession changes which session is "current" for a persona.
// Fails with PreconditionViolation if the session doesn't belong to
// (userID, personaName).
func (s *Services) SwitchSession(userID int64, personaName string, sessionID int64) error {
	sess := s.cache.GetSession(sessionID)
	if sess == nil || sess.UserID != userID || sess.PersonaName != personaName {
		return errs.Precondition(fmt.Sprintf("session %d does not belong to this user/persona", sessionID))
	}
	s.cache.SetPersonaCurrentSession(userID, personaName, sessionID)
	return nil
}

func (s *Services) RenameSession(sessionID int64, title string) {
	s.cache.RenameSession(sessionID, title)
}

func (s *Services) DeleteSession(sessionID int64) {
	sess := s.cache.GetSession(sessionID)
	s.cache.DeleteSession(sessionID)
	if sess != nil {
		s.publish(event.SessionDeleted, event.SessionDeletedData{UserID: sess.UserID, SessionID: sessionID})
	}
}

// --- Conversation (explicit mode; the pipeline MUST use these) ---

func (s *Services) AddUserMessageToSession(sessionID int64, content string) {
	s.cache.AppendMessage(sessionID, types.RoleUser, content)
}

func (s *Services) AddAssistantMessageToSession(sessionID int64, content string) {
	s.cache.AppendMessage(sessionID, types.RoleAssistant, content)
}

func (s *Services) PopLastExchange(sessionID int64) (userMsg, assistantMsg *types.ConversationMessage, ok bool) {
	return s.cache.PopLastExchange(sessionID)
}

func (s *Services) GetConversation(sessionID int64) []*types.ConversationMessage {
	return s.cache.GetConversation(sessionID)
}

// ClearConversation empties a session's message history in place,
// backing /clear: the session and its title survive, only the turns
// are dropped.
func (s *Services) ClearConversation(sessionID int64) {
	s.cache.ClearConversation(sessionID)
}

// ForkSession duplicates sourceSessionID's message history into a new
// session under the same persona, titled "<original> (fork)". Adapted
// from the agent runtime's session.Service.Fork for /chat fork; the
// new session does not become current automatically, matching
// CreateSession's behavior — callers that want that call SwitchSession.
func (s *Services) ForkSession(userID int64, personaName string, sourceSessionID int64) (*types.Session, error) {
	src := s.cache.GetSession(sourceSessionID)
	if src == nil || src.UserID != userID || src.PersonaName != personaName {
		return nil, errs.Precondition(fmt.Sprintf("session %d does not belong to this user/persona", sourceSessionID))
	}

	title := src.Title
	if title == "" {
		title = types.DefaultSessionTitle
	}
	forked := s.cache.CreateSession(userID, personaName, title+" (fork)")
	for _, m := range s.cache.GetConversation(sourceSessionID) {
		s.cache.AppendMessage(forked.ID, m.Role, m.Content)
	}
	s.publish(event.SessionCreated, event.SessionCreatedData{Session: forked})
	return forked, nil
}

// --- Token accounting ---

func (s *Services) AddTokenUsage(userID int64, personaName string, prompt, completion int64) {
	s.cache.AddTokenUsage(userID, personaName, prompt, completion)
	s.publish(event.TokenUsageUpdated, event.TokenUsageUpdatedData{
		UserID: userID, PersonaName: personaName, TotalTokens: prompt + completion,
	})
}

// GetRemainingTokens returns token_limit - used, or +Inf if unlimited.
func (s *Services) GetRemainingTokens(userID int64) float64 {
	return s.cache.GetRemainingTokens(userID)
}

// GetPersonaTokenUsage reports cumulative prompt/completion/total
// token spend for one (user, persona) pair, backing /usage.
func (s *Services) GetPersonaTokenUsage(userID int64, personaName string) *types.PersonaTokenUsage {
	return s.cache.GetPersonaTokenUsage(userID, personaName)
}

// --- Provider presets ---

// SaveAPIPreset stores preset under name, replacing any existing
// preset of the same name, for /set provider save <name>.
func (s *Services) SaveAPIPreset(userID int64, name string, preset types.APIPreset) {
	s.UpdateUserSetting(userID, func(us *types.UserSettings) {
		us.APIPresets[name] = preset
	})
}

// LoadAPIPreset retrieves a saved preset by name, for /set provider
// load <name>.
func (s *Services) LoadAPIPreset(userID int64, name string) (types.APIPreset, bool) {
	settings := s.GetUserSettings(userID)
	preset, ok := settings.APIPresets[name]
	return preset, ok
}

// ListAPIPresetNames returns every saved preset name for this user, in
// no particular order; callers sort if presentation needs it.
func (s *Services) ListAPIPresetNames(userID int64) []string {
	settings := s.GetUserSettings(userID)
	names := make([]string, 0, len(settings.APIPresets))
	for name := range settings.APIPresets {
		names = append(names, name)
	}
	return names
}

// DeleteAPIPreset removes a saved preset by name, for /set provider
// delete <name>. Reports whether it existed.
func (s *Services) DeleteAPIPreset(userID int64, name string) bool {
	existed := false
	s.UpdateUserSetting(userID, func(us *types.UserSettings) {
		if _, ok := us.APIPresets[name]; ok {
			existed = true
			delete(us.APIPresets, name)
		}
	})
	return existed
}

func (s *Services) publish(t event.EventType, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{Type: t, Data: data})
}
