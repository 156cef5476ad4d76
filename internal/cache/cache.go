// Package cache is the process-wide write-back cache and sync engine
// (C2): the authoritative in-memory image of every user's settings,
// personas, sessions, conversations, token counters, and memories,
// with dirty-set tracking so a background worker can periodically
// flush changes to internal/storage without the chat pipeline ever
// blocking on a database round trip.
//
// Grounded on the general shape of the agent runtime's
// internal/session/service.go (one struct, one mutex, several maps,
// typed accessor methods) generalized from that file's single
// sessions-map to the five-table state surface of §3; the dirty-set/
// temp-id/remap protocol itself has no teacher analogue (the runtime's
// storage writes synchronously) and follows spec §4.2's numbered
// steps directly.
package cache

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/telebot-agent/chatengine/internal/errs"
	"github.com/telebot-agent/chatengine/internal/types"
)

func personaKey(userID int64, name string) string {
	return fmt.Sprintf("%d:%s", userID, name)
}

// Cache is the process-wide singleton state. All mutation goes through
// its methods to preserve dirty tracking; reads of collections return
// copies so callers never observe a torn write.
type Cache struct {
	mu sync.Mutex

	settings      map[int64]*types.UserSettings
	personas      map[string]*types.Persona // uid:name
	sessionsByID  map[int64]*types.Session
	sessionIndex  map[string][]int64 // uid:persona -> ordered session ids
	conversations map[int64][]*types.ConversationMessage
	personaTokens map[string]*types.PersonaTokenUsage // uid:name
	memories      map[int64][]*types.Memory

	nextTempSessionID int64
	nextTempMemoryID  int64

	dirty dirtySets
}

// dirtySets mirrors spec §4.2's nine (plus three session-specific)
// disjoint change kinds.
type dirtySets struct {
	settings      map[int64]struct{}
	personas      map[string]struct{}
	deletedPersonas map[string]struct{}
	conversations map[int64]struct{}
	clearedConversations map[int64]struct{}
	tokens        map[string]struct{}
	newMemoryIDs  []int64
	deletedMemoryIDs []int64
	clearedMemories map[int64]struct{}
	newSessionIDs []int64
	sessionTitles map[int64]struct{}
	deletedSessions map[int64]struct{}
}

func newDirtySets() dirtySets {
	return dirtySets{
		settings:             make(map[int64]struct{}),
		personas:             make(map[string]struct{}),
		deletedPersonas:       make(map[string]struct{}),
		conversations:        make(map[int64]struct{}),
		clearedConversations: make(map[int64]struct{}),
		tokens:               make(map[string]struct{}),
		clearedMemories:      make(map[int64]struct{}),
		sessionTitles:        make(map[int64]struct{}),
		deletedSessions:      make(map[int64]struct{}),
	}
}

// New creates an empty cache. Callers populate it once at startup by
// loading rows from internal/storage (see Load in sync.go).
func New() *Cache {
	return &Cache{
		settings:      make(map[int64]*types.UserSettings),
		personas:      make(map[string]*types.Persona),
		sessionsByID:  make(map[int64]*types.Session),
		sessionIndex:  make(map[string][]int64),
		conversations: make(map[int64][]*types.ConversationMessage),
		personaTokens: make(map[string]*types.PersonaTokenUsage),
		memories:      make(map[int64][]*types.Memory),
		dirty:         newDirtySets(),
	}
}

// --- UserSettings ---

func (c *Cache) GetUserSettings(userID int64) *types.UserSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings[userID].Clone()
}

// GetOrCreateUserSettings lazily creates a UserSettings row seeded
// from defaults on first interaction, per spec §3's lifecycle note.
func (c *Cache) GetOrCreateUserSettings(userID int64, defaults types.UserSettings) *types.UserSettings {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.settings[userID]; ok {
		return s.Clone()
	}
	s := defaults
	s.UserID = userID
	if s.EnabledTools == nil {
		s.EnabledTools = map[string]bool{}
	}
	if s.APIPresets == nil {
		s.APIPresets = map[string]types.APIPreset{}
	}
	if s.CurrentPersona == "" {
		s.CurrentPersona = types.DefaultPersonaName
	}
	c.settings[userID] = &s
	c.dirty.settings[userID] = struct{}{}
	c.ensurePersonaLocked(userID, types.DefaultPersonaName)
	return s.Clone()
}

// UpdateUserSetting applies fn to the user's settings row (creating it
// via defaults if absent) and marks it dirty.
func (c *Cache) UpdateUserSetting(userID int64, fn func(*types.UserSettings)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.settings[userID]
	if !ok {
		s = &types.UserSettings{UserID: userID, CurrentPersona: types.DefaultPersonaName,
			EnabledTools: map[string]bool{}, APIPresets: map[string]types.APIPreset{}}
		c.settings[userID] = s
	}
	fn(s)
	c.dirty.settings[userID] = struct{}{}
}

// --- Personas ---

func (c *Cache) ensurePersonaLocked(userID int64, name string) *types.Persona {
	key := personaKey(userID, name)
	if p, ok := c.personas[key]; ok {
		return p
	}
	p := &types.Persona{UserID: userID, Name: name}
	c.personas[key] = p
	c.dirty.personas[key] = struct{}{}
	c.personaTokens[key] = &types.PersonaTokenUsage{UserID: userID, PersonaName: name}
	c.dirty.tokens[key] = struct{}{}
	return p
}

// GetOrCreatePersona returns the named persona, auto-creating it
// (per §4.3 "switch_persona (auto-create if missing)").
func (c *Cache) GetOrCreatePersona(userID int64, name string) *types.Persona {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.ensurePersonaLocked(userID, name)
	cp := *p
	return &cp
}

// SetPersonaCurrentSession points a persona's current-session pointer
// at sessionID, e.g. for /chat switch. Marks the persona dirty.
func (c *Cache) SetPersonaCurrentSession(userID int64, name string, sessionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.ensurePersonaLocked(userID, name)
	p.CurrentSessionID = sessionID
	c.dirty.personas[personaKey(userID, name)] = struct{}{}
}

func (c *Cache) GetPersonas(userID int64) []*types.Persona {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*types.Persona
	for _, p := range c.personas {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// DeletePersona removes a persona and cascades to its sessions,
// conversations, and persona-token row. Fails with PreconditionViolation
// for "default".
func (c *Cache) DeletePersona(userID int64, name string) error {
	if name == types.DefaultPersonaName {
		return errs.Precondition("cannot delete the default persona")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := personaKey(userID, name)
	if _, ok := c.personas[key]; !ok {
		return errs.Precondition(fmt.Sprintf("persona %q does not exist", name))
	}

	idxKey := fmt.Sprintf("%d:%s", userID, name)
	// deleteSessionLocked compacts the index slice in place, so range
	// over a copy to visit every session.
	for _, sid := range append([]int64(nil), c.sessionIndex[idxKey]...) {
		c.deleteSessionLocked(sid)
	}
	delete(c.sessionIndex, idxKey)

	delete(c.personas, key)
	delete(c.personaTokens, key)
	delete(c.dirty.personas, key)
	delete(c.dirty.tokens, key)
	c.dirty.deletedPersonas[key] = struct{}{}
	return nil
}

// --- Sessions ---

// CreateSession assigns a negative temporary id immediately so callers
// can reference it in other dirty sets before it is ever persisted.
func (c *Cache) CreateSession(userID int64, personaName, title string) *types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextTempSessionID--
	id := c.nextTempSessionID

	sess := &types.Session{
		ID:          id,
		UserID:      userID,
		PersonaName: personaName,
		Title:       title,
		CreatedAt:   time.Now(),
	}
	c.sessionsByID[id] = sess

	idxKey := fmt.Sprintf("%d:%s", userID, personaName)
	c.sessionIndex[idxKey] = append(c.sessionIndex[idxKey], id)

	c.dirty.newSessionIDs = append(c.dirty.newSessionIDs, id)

	if p := c.ensurePersonaLocked(userID, personaName); p.CurrentSessionID == 0 {
		p.CurrentSessionID = id
		c.dirty.personas[personaKey(userID, personaName)] = struct{}{}
	}

	cp := *sess
	return &cp
}

func (c *Cache) GetSession(sessionID int64) *types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessionsByID[sessionID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (c *Cache) GetSessions(userID int64, personaName string) []*types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	idxKey := fmt.Sprintf("%d:%s", userID, personaName)
	var out []*types.Session
	for _, id := range c.sessionIndex[idxKey] {
		if s, ok := c.sessionsByID[id]; ok {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out
}

func (c *Cache) RenameSession(sessionID int64, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessionsByID[sessionID]; ok {
		s.Title = title
		c.dirty.sessionTitles[sessionID] = struct{}{}
	}
}

func (c *Cache) DeleteSession(sessionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteSessionLocked(sessionID)
}

func (c *Cache) deleteSessionLocked(sessionID int64) {
	s, ok := c.sessionsByID[sessionID]
	if !ok {
		return
	}
	idxKey := fmt.Sprintf("%d:%s", s.UserID, s.PersonaName)
	kept := c.sessionIndex[idxKey][:0]
	for _, id := range c.sessionIndex[idxKey] {
		if id != sessionID {
			kept = append(kept, id)
		}
	}
	c.sessionIndex[idxKey] = kept

	delete(c.sessionsByID, sessionID)
	delete(c.conversations, sessionID)
	delete(c.dirty.conversations, sessionID)
	delete(c.dirty.clearedConversations, sessionID)
	delete(c.dirty.sessionTitles, sessionID)
	c.dirty.deletedSessions[sessionID] = struct{}{}
}

// --- Conversation messages ---

func (c *Cache) AppendMessage(sessionID int64, role types.Role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations[sessionID] = append(c.conversations[sessionID], &types.ConversationMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	c.dirty.conversations[sessionID] = struct{}{}
}

func (c *Cache) GetConversation(sessionID int64) []*types.ConversationMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.conversations[sessionID]
	out := make([]*types.ConversationMessage, len(msgs))
	copy(out, msgs)
	return out
}

// PopLastExchange removes the last (user, assistant) pair from a
// session's in-memory message list, for /retry. Per the §8 round-trip
// property, re-running the pipeline afterward restores the count.
func (c *Cache) PopLastExchange(sessionID int64) (userMsg, assistantMsg *types.ConversationMessage, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.conversations[sessionID]
	if len(msgs) < 2 {
		return nil, nil, false
	}
	assistantMsg = msgs[len(msgs)-1]
	userMsg = msgs[len(msgs)-2]
	if assistantMsg.Role != types.RoleAssistant || userMsg.Role != types.RoleUser {
		return nil, nil, false
	}
	c.conversations[sessionID] = msgs[:len(msgs)-2]
	return userMsg, assistantMsg, true
}

// ClearConversation empties a session's history, e.g. for /clear.
func (c *Cache) ClearConversation(sessionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conversations, sessionID)
	delete(c.dirty.conversations, sessionID)
	c.dirty.clearedConversations[sessionID] = struct{}{}
}

// --- Token accounting ---

// AddTokenUsage accumulates prompt/completion tokens for (userID,
// personaName), maintaining the total = prompt + completion invariant.
func (c *Cache) AddTokenUsage(userID int64, personaName string, prompt, completion int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := personaKey(userID, personaName)
	t, ok := c.personaTokens[key]
	if !ok {
		t = &types.PersonaTokenUsage{UserID: userID, PersonaName: personaName}
		c.personaTokens[key] = t
	}
	t.PromptTokens += prompt
	t.CompletionTokens += completion
	t.TotalTokens = t.PromptTokens + t.CompletionTokens
	c.dirty.tokens[key] = struct{}{}
}

// GetRemainingTokens returns token_limit minus the sum of total_tokens
// across all of the user's personas, or +Inf if token_limit is 0.
func (c *Cache) GetRemainingTokens(userID int64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	settings := c.settings[userID]
	if settings == nil || settings.TokenLimit == 0 {
		return math.Inf(1)
	}

	var used int64
	for _, t := range c.personaTokens {
		if t.UserID == userID {
			used += t.TotalTokens
		}
	}
	return float64(settings.TokenLimit - used)
}

// GetPersonaTokenUsage returns a copy of the (user, persona) usage
// row, or a zero-valued one if no turn has billed tokens yet.
func (c *Cache) GetPersonaTokenUsage(userID int64, personaName string) *types.PersonaTokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := personaKey(userID, personaName)
	if t, ok := c.personaTokens[key]; ok {
		cp := *t
		return &cp
	}
	return &types.PersonaTokenUsage{UserID: userID, PersonaName: personaName}
}

// --- Memories ---

// AddMemory inserts a new memory, assigning a negative temporary id,
// and marks it new. Dedup scanning happens in internal/services
// (it needs the embedding client); the cache itself only stores.
func (c *Cache) AddMemory(m *types.Memory) *types.Memory {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextTempMemoryID--
	m.ID = c.nextTempMemoryID
	m.CreatedAt = time.Now()
	c.memories[m.UserID] = append(c.memories[m.UserID], m)
	c.dirty.newMemoryIDs = append(c.dirty.newMemoryIDs, m.ID)

	cp := *m
	return &cp
}

func (c *Cache) GetMemories(userID int64) []*types.Memory {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.memories[userID]
	out := make([]*types.Memory, len(ms))
	copy(out, ms)
	return out
}

func (c *Cache) DeleteMemory(userID, memoryID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := c.memories[userID]
	for i, m := range ms {
		if m.ID == memoryID {
			c.memories[userID] = append(ms[:i], ms[i+1:]...)
			c.removeFromNewMemoryIDsLocked(memoryID)
			if memoryID > 0 {
				c.dirty.deletedMemoryIDs = append(c.dirty.deletedMemoryIDs, memoryID)
			}
			return true
		}
	}
	return false
}

func (c *Cache) removeFromNewMemoryIDsLocked(id int64) {
	kept := c.dirty.newMemoryIDs[:0]
	for _, x := range c.dirty.newMemoryIDs {
		if x != id {
			kept = append(kept, x)
		}
	}
	c.dirty.newMemoryIDs = kept
}

func (c *Cache) ClearMemories(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// newMemoryIDs is shared across all users, so only drop the ids
	// that belonged to this user's now-deleted memories; every other
	// user's pending new-memory markers must survive untouched.
	removed := make(map[int64]struct{}, len(c.memories[userID]))
	for _, m := range c.memories[userID] {
		removed[m.ID] = struct{}{}
	}

	delete(c.memories, userID)
	c.dirty.clearedMemories[userID] = struct{}{}

	kept := c.dirty.newMemoryIDs[:0]
	for _, id := range c.dirty.newMemoryIDs {
		if _, gone := removed[id]; !gone {
			kept = append(kept, id)
		}
	}
	c.dirty.newMemoryIDs = kept
}
