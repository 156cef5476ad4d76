package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebot-agent/chatengine/internal/types"
)

func TestCreateSessionAssignsNegativeTempID(t *testing.T) {
	c := New()
	s1 := c.CreateSession(1, "default", types.DefaultSessionTitle)
	s2 := c.CreateSession(1, "default", types.DefaultSessionTitle)

	assert.Less(t, s1.ID, int64(0))
	assert.Less(t, s2.ID, int64(0))
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Contains(t, c.dirty.newSessionIDs, s1.ID)
	assert.Contains(t, c.dirty.newSessionIDs, s2.ID)
}

func TestAppendMessageMarksSessionDirty(t *testing.T) {
	c := New()
	s := c.CreateSession(1, "default", types.DefaultSessionTitle)

	c.AppendMessage(s.ID, types.RoleUser, "hello")
	c.AppendMessage(s.ID, types.RoleAssistant, "hi there")

	msgs := c.GetConversation(s.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	_, dirty := c.dirty.conversations[s.ID]
	assert.True(t, dirty)
}

func TestPopLastExchangeRestoresCount(t *testing.T) {
	c := New()
	s := c.CreateSession(1, "default", types.DefaultSessionTitle)
	c.AppendMessage(s.ID, types.RoleUser, "hello")
	c.AppendMessage(s.ID, types.RoleAssistant, "hi there")

	before := len(c.GetConversation(s.ID))
	userMsg, assistantMsg, ok := c.PopLastExchange(s.ID)
	require.True(t, ok)
	assert.Equal(t, "hello", userMsg.Content)
	assert.Equal(t, "hi there", assistantMsg.Content)
	assert.Len(t, c.GetConversation(s.ID), before-2)

	c.AppendMessage(s.ID, types.RoleUser, "hello")
	c.AppendMessage(s.ID, types.RoleAssistant, "hi again")
	assert.Len(t, c.GetConversation(s.ID), before)
}

func TestTokenUsageInvariantHolds(t *testing.T) {
	c := New()
	c.AddTokenUsage(1, "default", 10, 5)
	c.AddTokenUsage(1, "default", 3, 2)

	key := personaKey(1, "default")
	t2 := c.personaTokens[key]
	require.NotNil(t, t2)
	assert.Equal(t, t2.TotalTokens, t2.PromptTokens+t2.CompletionTokens)
	assert.Equal(t, int64(13), t2.PromptTokens)
	assert.Equal(t, int64(7), t2.CompletionTokens)
}

func TestGetRemainingTokensUnlimited(t *testing.T) {
	c := New()
	c.GetOrCreateUserSettings(1, types.UserSettings{})
	remaining := c.GetRemainingTokens(1)
	assert.True(t, remaining > 1e300) // +Inf
}

func TestGetRemainingTokensRespectsLimit(t *testing.T) {
	c := New()
	c.GetOrCreateUserSettings(1, types.UserSettings{TokenLimit: 100})
	c.AddTokenUsage(1, types.DefaultPersonaName, 20, 10)
	assert.Equal(t, float64(70), c.GetRemainingTokens(1))
}

func TestDeleteDefaultPersonaRejected(t *testing.T) {
	c := New()
	c.GetOrCreateUserSettings(1, types.UserSettings{})
	err := c.DeletePersona(1, types.DefaultPersonaName)
	assert.Error(t, err)
}

func TestDeletePersonaCascadesSessions(t *testing.T) {
	c := New()
	c.GetOrCreateUserSettings(1, types.UserSettings{})
	c.GetOrCreatePersona(1, "work")
	s := c.CreateSession(1, "work", types.DefaultSessionTitle)
	c.AppendMessage(s.ID, types.RoleUser, "hi")

	require.NoError(t, c.DeletePersona(1, "work"))

	assert.Empty(t, c.GetSessions(1, "work"))
	assert.Nil(t, c.sessionsByID[s.ID])
	_, hasDeletedSession := c.dirty.deletedSessions[s.ID]
	// a cascade-deleted never-synced session stays queued for delete;
	// the next sync cycle pairs it with its pending insert and writes
	// neither.
	assert.True(t, hasDeletedSession)
}

func TestAddMemoryAssignsNegativeTempID(t *testing.T) {
	c := New()
	m := c.AddMemory(&types.Memory{UserID: 1, Content: "likes go"})
	assert.Less(t, m.ID, int64(0))
	assert.Contains(t, c.dirty.newMemoryIDs, m.ID)
	assert.Len(t, c.GetMemories(1), 1)
}

func TestDeleteMemoryByTempIDDropsNewMarker(t *testing.T) {
	c := New()
	m := c.AddMemory(&types.Memory{UserID: 1, Content: "likes go"})
	assert.True(t, c.DeleteMemory(1, m.ID))
	assert.Empty(t, c.GetMemories(1))
	assert.NotContains(t, c.dirty.newMemoryIDs, m.ID)
	assert.Empty(t, c.dirty.deletedMemoryIDs)
}

func TestClearMemoriesDropsOnlyThatUsersNewMarkers(t *testing.T) {
	c := New()
	m1 := c.AddMemory(&types.Memory{UserID: 1, Content: "likes go"})
	m2 := c.AddMemory(&types.Memory{UserID: 2, Content: "likes rust"})

	c.ClearMemories(1)

	assert.Empty(t, c.GetMemories(1))
	assert.Len(t, c.GetMemories(2), 1)
	assert.NotContains(t, c.dirty.newMemoryIDs, m1.ID)
	assert.Contains(t, c.dirty.newMemoryIDs, m2.ID)
}

func TestClearMemoriesMarksUserDirtyForSync(t *testing.T) {
	c := New()
	c.AddMemory(&types.Memory{UserID: 1, Content: "likes go"})

	c.ClearMemories(1)

	assert.Contains(t, c.dirty.clearedMemories, int64(1))
}

func TestRemapSessionIDMergesConcurrentAppends(t *testing.T) {
	c := New()
	s := c.CreateSession(1, "default", types.DefaultSessionTitle)
	tempID := s.ID
	c.AppendMessage(tempID, types.RoleUser, "before remap")

	// Simulate messages arriving while the sync transaction for this
	// session's insert is still in flight.
	c.AppendMessage(tempID, types.RoleAssistant, "also before remap")

	c.remapSessionID(tempID, 42)

	assert.Nil(t, c.sessionsByID[tempID])
	remapped := c.sessionsByID[42]
	require.NotNil(t, remapped)
	assert.Equal(t, int64(42), remapped.ID)

	msgs := c.GetConversation(42)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, int64(42), m.SessionID)
	}
	assert.Empty(t, c.GetConversation(tempID))
}

func TestSnapshotClearsLiveDirtySets(t *testing.T) {
	c := New()
	c.CreateSession(1, "default", types.DefaultSessionTitle)
	snap := c.snapshotDirty()
	assert.NotEmpty(t, snap.dirty.newSessionIDs)
	assert.Empty(t, c.dirty.newSessionIDs)
}

func TestRestoreDirtyReinstatesAfterFailure(t *testing.T) {
	c := New()
	c.CreateSession(1, "default", types.DefaultSessionTitle)
	snap := c.snapshotDirty()
	require.Empty(t, c.dirty.newSessionIDs)

	c.restoreDirty(snap)
	assert.NotEmpty(t, c.dirty.newSessionIDs)
}
