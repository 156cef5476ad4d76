package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebot-agent/chatengine/internal/cache"
	"github.com/telebot-agent/chatengine/internal/types"
)

func newTestServices() *Services {
	return New(cache.New(), nil, nil)
}

func TestSwitchPersonaAutoCreatesAndSeedsSession(t *testing.T) {
	s := newTestServices()
	p, err := s.SwitchPersona(1, "work")
	require.NoError(t, err)
	assert.Equal(t, "work", p.Name)
	assert.NotZero(t, p.CurrentSessionID)

	settings := s.GetUserSettings(1)
	assert.Equal(t, "work", settings.CurrentPersona)
}

func TestDeleteDefaultPersonaFails(t *testing.T) {
	s := newTestServices()
	s.GetUserSettings(1)
	err := s.DeletePersona(1, types.DefaultPersonaName)
	assert.Error(t, err)
}

func TestSwitchSessionRejectsForeignSession(t *testing.T) {
	s := newTestServices()
	s.GetUserSettings(1)
	sess := s.CreateSession(2, types.DefaultPersonaName) // different user
	err := s.SwitchSession(1, types.DefaultPersonaName, sess.ID)
	assert.Error(t, err)
}

func TestPopLastExchangeThenResend(t *testing.T) {
	s := newTestServices()
	s.GetUserSettings(1)
	sess := s.CreateSession(1, types.DefaultPersonaName)
	s.AddUserMessageToSession(sess.ID, "hi")
	s.AddAssistantMessageToSession(sess.ID, "hello")

	before := len(s.GetConversation(sess.ID))
	_, _, ok := s.PopLastExchange(sess.ID)
	require.True(t, ok)
	assert.Len(t, s.GetConversation(sess.ID), before-2)
}

func TestAddTokenUsageAndRemaining(t *testing.T) {
	s := newTestServices()
	s.UpdateUserSetting(1, func(us *types.UserSettings) { us.TokenLimit = 1000 })
	s.AddTokenUsage(1, types.DefaultPersonaName, 100, 50)
	assert.Equal(t, float64(850), s.GetRemainingTokens(1))
}

func TestGetPersonaTokenUsageReportsTotals(t *testing.T) {
	s := newTestServices()
	s.AddTokenUsage(1, types.DefaultPersonaName, 100, 50)
	usage := s.GetPersonaTokenUsage(1, types.DefaultPersonaName)
	assert.Equal(t, int64(100), usage.PromptTokens)
	assert.Equal(t, int64(50), usage.CompletionTokens)
	assert.Equal(t, int64(150), usage.TotalTokens)
}

func TestGetPersonaTokenUsageZeroValueWhenUnbilled(t *testing.T) {
	s := newTestServices()
	usage := s.GetPersonaTokenUsage(1, "never-used")
	assert.Equal(t, int64(0), usage.TotalTokens)
}

func TestClearConversationEmptiesHistory(t *testing.T) {
	s := newTestServices()
	sess := s.CreateSession(1, types.DefaultPersonaName)
	s.AddUserMessageToSession(sess.ID, "hi")
	s.AddAssistantMessageToSession(sess.ID, "hello")
	s.ClearConversation(sess.ID)
	assert.Empty(t, s.GetConversation(sess.ID))
}

func TestForkSessionCopiesHistoryUnderNewSession(t *testing.T) {
	s := newTestServices()
	sess := s.CreateSession(1, types.DefaultPersonaName)
	s.AddUserMessageToSession(sess.ID, "hi")
	s.AddAssistantMessageToSession(sess.ID, "hello")

	forked, err := s.ForkSession(1, types.DefaultPersonaName, sess.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, forked.ID)
	assert.Contains(t, forked.Title, "(fork)")
	src, dst := s.GetConversation(sess.ID), s.GetConversation(forked.ID)
	require.Len(t, dst, len(src))
	for i := range src {
		assert.Equal(t, src[i].Role, dst[i].Role)
		assert.Equal(t, src[i].Content, dst[i].Content)
		assert.Equal(t, forked.ID, dst[i].SessionID)
	}
}

func TestForkSessionRejectsForeignSession(t *testing.T) {
	s := newTestServices()
	sess := s.CreateSession(2, types.DefaultPersonaName)
	_, err := s.ForkSession(1, types.DefaultPersonaName, sess.ID)
	assert.Error(t, err)
}

func TestAPIPresetSaveLoadListDelete(t *testing.T) {
	s := newTestServices()
	s.GetUserSettings(1)

	s.SaveAPIPreset(1, "work", types.APIPreset{APIKey: "k1", BaseURL: "https://a", Model: "m1"})
	s.SaveAPIPreset(1, "home", types.APIPreset{APIKey: "k2", BaseURL: "https://b", Model: "m2"})

	preset, ok := s.LoadAPIPreset(1, "work")
	require.True(t, ok)
	assert.Equal(t, "m1", preset.Model)

	names := s.ListAPIPresetNames(1)
	assert.ElementsMatch(t, []string{"work", "home"}, names)

	assert.True(t, s.DeleteAPIPreset(1, "home"))
	assert.False(t, s.DeleteAPIPreset(1, "home"))
	assert.ElementsMatch(t, []string{"work"}, s.ListAPIPresetNames(1))
}

type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestAddMemoryDedupesSimilarContent(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{
		"likes go":          {1, 0, 0},
		"really likes go":   {0.99, 0.01, 0},
		"dislikes mondays":  {0, 1, 0},
	}}
	s := New(cache.New(), nil, embed, WithMemoryDedupThreshold(0.9))

	_, err := s.AddMemory(context.Background(), 1, "likes go", types.MemorySourceUser)
	require.NoError(t, err)
	_, err = s.AddMemory(context.Background(), 1, "really likes go", types.MemorySourceUser)
	require.NoError(t, err)

	mems := s.GetMemories(1)
	require.Len(t, mems, 1)
	assert.Equal(t, "really likes go", mems[0].Content)

	_, err = s.AddMemory(context.Background(), 1, "dislikes mondays", types.MemorySourceUser)
	require.NoError(t, err)
	assert.Len(t, s.GetMemories(1), 2)
}

func TestFormatMemoriesForPromptRanksByRelevance(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{
		"go":              {1, 0, 0},
		"mondays":         {0, 1, 0},
		"query about go":  {1, 0, 0},
	}}
	s := New(cache.New(), nil, embed, WithMemorySimilarityThreshold(0.5), WithMemoryTopK(10))

	ctx := context.Background()
	_, _ = s.AddMemory(ctx, 1, "go", types.MemorySourceUser)
	_, _ = s.AddMemory(ctx, 1, "mondays", types.MemorySourceUser)

	block := s.FormatMemoriesForPrompt(ctx, 1, "query about go")
	assert.Contains(t, block, "go")
	assert.NotContains(t, block, "mondays")
}

func TestFormatMemoriesForPromptReturnsAllWithoutQuery(t *testing.T) {
	s := newTestServices()
	_, _ = s.AddMemory(context.Background(), 1, "fact one", types.MemorySourceUser)
	block := s.FormatMemoriesForPrompt(context.Background(), 1, "")
	assert.Contains(t, block, "fact one")
}
