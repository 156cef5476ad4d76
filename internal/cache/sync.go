package cache

import (
	"context"
	"fmt"

	"github.com/telebot-agent/chatengine/internal/storage"
	"github.com/telebot-agent/chatengine/internal/types"
)

// Load populates an empty cache from the store at startup. IDs come
// straight from the database, so nothing is marked dirty.
func Load(ctx context.Context, store *storage.Store) (*Cache, error) {
	c := New()

	allSettings, err := store.ListAllUserSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: load settings: %w", err)
	}

	for _, us := range allSettings {
		c.settings[us.UserID] = us

		personas, err := store.GetPersonas(ctx, us.UserID)
		if err != nil {
			return nil, fmt.Errorf("cache: load personas for user %d: %w", us.UserID, err)
		}
		for _, p := range personas {
			key := personaKey(p.UserID, p.Name)
			c.personas[key] = p
			c.personaTokens[key] = &types.PersonaTokenUsage{UserID: p.UserID, PersonaName: p.Name}

			sessions, err := store.GetSessions(ctx, p.UserID, p.Name)
			if err != nil {
				return nil, fmt.Errorf("cache: load sessions for persona %q: %w", p.Name, err)
			}
			idxKey := fmt.Sprintf("%d:%s", p.UserID, p.Name)
			for _, sess := range sessions {
				c.sessionsByID[sess.ID] = sess
				c.sessionIndex[idxKey] = append(c.sessionIndex[idxKey], sess.ID)

				msgs, err := store.GetConversation(ctx, sess.ID)
				if err != nil {
					return nil, fmt.Errorf("cache: load conversation for session %d: %w", sess.ID, err)
				}
				if len(msgs) > 0 {
					c.conversations[sess.ID] = msgs
				}
			}
		}

		memories, err := store.GetMemories(ctx, us.UserID)
		if err != nil {
			return nil, fmt.Errorf("cache: load memories for user %d: %w", us.UserID, err)
		}
		if len(memories) > 0 {
			c.memories[us.UserID] = memories
		}
	}

	return c, nil
}

// syncSnapshot is the dirty-set swap taken atomically under the cache
// lock (spec §4.2 step 1), plus the values needed to write them
// without holding the lock for the database round trip.
type syncSnapshot struct {
	dirty dirtySets

	settings      map[int64]*types.UserSettings
	personas      map[string]*types.Persona
	sessions      map[int64]*types.Session
	conversations map[int64][]*types.ConversationMessage
	memories      map[int64]*types.Memory
	tokens        map[string]*types.PersonaTokenUsage
}

func (c *Cache) snapshotDirty() syncSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := syncSnapshot{
		dirty:         c.dirty,
		settings:      make(map[int64]*types.UserSettings),
		personas:      make(map[string]*types.Persona),
		sessions:      make(map[int64]*types.Session),
		conversations: make(map[int64][]*types.ConversationMessage),
		memories:      make(map[int64]*types.Memory),
		tokens:        make(map[string]*types.PersonaTokenUsage),
	}
	c.dirty = newDirtySets()

	for uid := range snap.dirty.settings {
		if s, ok := c.settings[uid]; ok {
			cp := *s
			snap.settings[uid] = &cp
		}
	}
	for key := range snap.dirty.personas {
		if p, ok := c.personas[key]; ok {
			cp := *p
			snap.personas[key] = &cp
		}
	}
	newSet := make(map[int64]struct{}, len(snap.dirty.newSessionIDs))
	for _, id := range snap.dirty.newSessionIDs {
		newSet[id] = struct{}{}
	}
	for id := range newSet {
		if s, ok := c.sessionsByID[id]; ok {
			cp := *s
			snap.sessions[id] = &cp
		}
	}
	for id := range snap.dirty.sessionTitles {
		if s, ok := c.sessionsByID[id]; ok {
			cp := *s
			snap.sessions[id] = &cp
		}
	}
	for id := range snap.dirty.conversations {
		msgs := c.conversations[id]
		cp := make([]*types.ConversationMessage, len(msgs))
		copy(cp, msgs)
		snap.conversations[id] = cp
	}
	memSet := make(map[int64]struct{}, len(snap.dirty.newMemoryIDs))
	for _, id := range snap.dirty.newMemoryIDs {
		memSet[id] = struct{}{}
	}
	for _, ms := range c.memories {
		for _, m := range ms {
			if _, ok := memSet[m.ID]; ok {
				cp := *m
				snap.memories[m.ID] = &cp
			}
		}
	}
	for key := range snap.dirty.tokens {
		if t, ok := c.personaTokens[key]; ok {
			cp := *t
			snap.tokens[key] = &cp
		}
	}

	return snap
}

// restoreDirty re-merges an un-synced snapshot back into the live
// dirty sets after a failed cycle (spec §4.2 step 4), so the next
// cycle retries it alongside whatever changed meanwhile.
func (c *Cache) restoreDirty(snap syncSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for uid := range snap.dirty.settings {
		c.dirty.settings[uid] = struct{}{}
	}
	for key := range snap.dirty.personas {
		c.dirty.personas[key] = struct{}{}
	}
	for key := range snap.dirty.deletedPersonas {
		c.dirty.deletedPersonas[key] = struct{}{}
	}
	for id := range snap.dirty.conversations {
		c.dirty.conversations[id] = struct{}{}
	}
	for id := range snap.dirty.clearedConversations {
		c.dirty.clearedConversations[id] = struct{}{}
	}
	for key := range snap.dirty.tokens {
		c.dirty.tokens[key] = struct{}{}
	}
	c.dirty.newMemoryIDs = append(c.dirty.newMemoryIDs, snap.dirty.newMemoryIDs...)
	c.dirty.deletedMemoryIDs = append(c.dirty.deletedMemoryIDs, snap.dirty.deletedMemoryIDs...)
	for uid := range snap.dirty.clearedMemories {
		c.dirty.clearedMemories[uid] = struct{}{}
	}
	c.dirty.newSessionIDs = append(c.dirty.newSessionIDs, snap.dirty.newSessionIDs...)
	for id := range snap.dirty.sessionTitles {
		c.dirty.sessionTitles[id] = struct{}{}
	}
	for id := range snap.dirty.deletedSessions {
		c.dirty.deletedSessions[id] = struct{}{}
	}
}

// remapSessionID replaces a temporary negative session id with its
// durable database id throughout the live cache (spec §4.2 step 3),
// merging in any messages appended to the temp id while the sync
// transaction was in flight.
func (c *Cache) remapSessionID(tempID, dbID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessionsByID[tempID]; ok {
		s.ID = dbID
		c.sessionsByID[dbID] = s
		delete(c.sessionsByID, tempID)
	}

	for key, ids := range c.sessionIndex {
		for i, id := range ids {
			if id == tempID {
				ids[i] = dbID
				c.sessionIndex[key] = ids
			}
		}
	}

	if pending, ok := c.conversations[tempID]; ok {
		for _, m := range pending {
			m.SessionID = dbID
		}
		c.conversations[dbID] = append(c.conversations[dbID], pending...)
		delete(c.conversations, tempID)
	}

	for _, set := range []map[int64]struct{}{
		c.dirty.conversations, c.dirty.clearedConversations,
		c.dirty.sessionTitles, c.dirty.deletedSessions,
	} {
		if _, ok := set[tempID]; ok {
			delete(set, tempID)
			set[dbID] = struct{}{}
		}
	}

	for _, p := range c.personas {
		if p.CurrentSessionID == tempID {
			p.CurrentSessionID = dbID
		}
	}
}

func (c *Cache) remapMemoryID(tempID, dbID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ms := range c.memories {
		for _, m := range ms {
			if m.ID == tempID {
				m.ID = dbID
			}
		}
	}
}

// Sync runs one flush cycle: swap dirty sets, write everything in one
// transaction, remap temporary session/memory ids, and on failure
// restore the dirty sets so the next cycle retries.
func (c *Cache) Sync(ctx context.Context, store *storage.Store) error {
	snap := c.snapshotDirty()
	if isSnapshotEmpty(snap) {
		return nil
	}

	if err := c.runCycle(ctx, store, snap); err != nil {
		c.restoreDirty(snap)
		return fmt.Errorf("cache: sync cycle: %w", err)
	}
	return nil
}

func isSnapshotEmpty(s syncSnapshot) bool {
	return len(s.dirty.settings) == 0 && len(s.dirty.personas) == 0 &&
		len(s.dirty.deletedPersonas) == 0 && len(s.dirty.conversations) == 0 &&
		len(s.dirty.clearedConversations) == 0 && len(s.dirty.tokens) == 0 &&
		len(s.dirty.newMemoryIDs) == 0 && len(s.dirty.deletedMemoryIDs) == 0 &&
		len(s.dirty.clearedMemories) == 0 && len(s.dirty.newSessionIDs) == 0 &&
		len(s.dirty.sessionTitles) == 0 && len(s.dirty.deletedSessions) == 0
}

func (c *Cache) runCycle(ctx context.Context, store *storage.Store, snap syncSnapshot) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	deletedSessionSet := make(map[int64]struct{}, len(snap.dirty.deletedSessions))
	for id := range snap.dirty.deletedSessions {
		deletedSessionSet[id] = struct{}{}
	}

	// A session created and deleted within the same cycle never
	// touched the database; drop it from both sets.
	var liveNewSessions []int64
	for _, id := range snap.dirty.newSessionIDs {
		if _, deleted := deletedSessionSet[id]; deleted {
			delete(deletedSessionSet, id)
			delete(snap.sessions, id)
			continue
		}
		liveNewSessions = append(liveNewSessions, id)
	}

	// Deletes first.
	for key := range snap.dirty.deletedPersonas {
		userID, name := splitPersonaKey(key)
		if err := store.DeletePersona(ctx, tx, userID, name); err != nil {
			return fmt.Errorf("delete persona %q: %w", key, err)
		}
	}
	for id := range deletedSessionSet {
		if id < 0 {
			continue // never persisted
		}
		if err := store.DeleteSession(ctx, tx, id); err != nil {
			return fmt.Errorf("delete session %d: %w", id, err)
		}
	}
	deletedMemorySet := make(map[int64]struct{}, len(snap.dirty.deletedMemoryIDs))
	for _, id := range snap.dirty.deletedMemoryIDs {
		deletedMemorySet[id] = struct{}{}
		if id < 0 {
			continue
		}
		if err := store.DeleteMemory(ctx, tx, id); err != nil {
			return fmt.Errorf("delete memory %d: %w", id, err)
		}
	}
	for uid := range snap.dirty.clearedMemories {
		if err := store.ClearMemories(ctx, tx, uid); err != nil {
			return fmt.Errorf("clear memories for user %d: %w", uid, err)
		}
	}

	// Upserts for settings/personas.
	for _, us := range snap.settings {
		if err := store.UpsertUserSettings(ctx, tx, us); err != nil {
			return fmt.Errorf("upsert settings for user %d: %w", us.UserID, err)
		}
	}
	for key, p := range snap.personas {
		if _, deleted := snap.dirty.deletedPersonas[key]; deleted {
			continue
		}
		if err := store.UpsertPersona(ctx, tx, p); err != nil {
			return fmt.Errorf("upsert persona %q: %w", key, err)
		}
	}

	// New sessions, then the id remap, applied immediately so
	// subsequent steps in this same cycle see durable ids.
	remappedSessions := make(map[int64]int64, len(liveNewSessions))
	for _, tempID := range liveNewSessions {
		sess, ok := snap.sessions[tempID]
		if !ok {
			continue
		}
		dbID, err := store.InsertSession(ctx, tx, sess)
		if err != nil {
			return fmt.Errorf("insert session (temp %d): %w", tempID, err)
		}
		remappedSessions[tempID] = dbID
	}

	resolveSession := func(id int64) int64 {
		if dbID, ok := remappedSessions[id]; ok {
			return dbID
		}
		return id
	}

	for id := range snap.dirty.sessionTitles {
		if _, deleted := deletedSessionSet[id]; deleted {
			continue
		}
		sess, ok := snap.sessions[id]
		if !ok {
			continue
		}
		if err := store.UpdateSessionTitle(ctx, tx, resolveSession(id), sess.Title); err != nil {
			return fmt.Errorf("update title for session %d: %w", id, err)
		}
	}

	// New memories.
	remappedMemories := make(map[int64]int64, len(snap.dirty.newMemoryIDs))
	for _, tempID := range snap.dirty.newMemoryIDs {
		if _, deleted := deletedMemorySet[tempID]; deleted {
			continue
		}
		m, ok := snap.memories[tempID]
		if !ok {
			continue
		}
		dbID, err := store.InsertMemory(ctx, tx, m)
		if err != nil {
			return fmt.Errorf("insert memory (temp %d): %w", tempID, err)
		}
		remappedMemories[tempID] = dbID
	}

	// Conversation rows: clears first, then only rows beyond the
	// durable length.
	for id := range snap.dirty.clearedConversations {
		realID := resolveSession(id)
		if _, deleted := deletedSessionSet[id]; deleted {
			continue
		}
		if err := store.ClearConversationMessages(ctx, tx, realID); err != nil {
			return fmt.Errorf("clear conversation for session %d: %w", id, err)
		}
	}
	for id, msgs := range snap.conversations {
		if _, deleted := deletedSessionSet[id]; deleted {
			continue
		}
		realID := resolveSession(id)
		durable, err := store.ConversationLength(ctx, realID)
		if err != nil {
			return fmt.Errorf("conversation length for session %d: %w", realID, err)
		}
		if _, cleared := snap.dirty.clearedConversations[id]; cleared {
			durable = 0
		}
		if durable > len(msgs) {
			continue
		}
		for _, m := range msgs[durable:] {
			m.SessionID = realID
			if err := store.InsertConversationMessage(ctx, tx, m); err != nil {
				return fmt.Errorf("insert conversation message for session %d: %w", realID, err)
			}
		}
	}

	// Token usage.
	for key, t := range snap.tokens {
		if err := store.UpsertPersonaTokens(ctx, tx, t); err != nil {
			return fmt.Errorf("upsert tokens for %q: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for tempID, dbID := range remappedSessions {
		c.remapSessionID(tempID, dbID)
	}
	for tempID, dbID := range remappedMemories {
		c.remapMemoryID(tempID, dbID)
	}
	return nil
}

func splitPersonaKey(key string) (int64, string) {
	var userID int64
	var name string
	_, _ = fmt.Sscanf(key, "%d:", &userID)
	for i, r := range key {
		if r == ':' {
			name = key[i+1:]
			break
		}
	}
	return userID, name
}
