package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebot-agent/chatengine/internal/types"
)

type fakeSettingsProvider struct {
	settings map[int64]*types.UserSettings
}

func (f *fakeSettingsProvider) GetUserSettings(userID int64) *types.UserSettings {
	return f.settings[userID]
}

func TestResolveVoicePrefersUserSetting(t *testing.T) {
	settings := &fakeSettingsProvider{settings: map[int64]*types.UserSettings{
		1: {TTSVoice: "user-voice"},
	}}
	c := newTTSClient("", "default-voice", NewVoiceQueue(), nil, settings)
	assert.Equal(t, "user-voice", c.resolveVoice(1, "arg-voice"))
}

func TestResolveVoiceFallsBackToArgThenDefault(t *testing.T) {
	settings := &fakeSettingsProvider{settings: map[int64]*types.UserSettings{}}
	c := newTTSClient("", "default-voice", NewVoiceQueue(), nil, settings)
	assert.Equal(t, "arg-voice", c.resolveVoice(1, "arg-voice"))
	assert.Equal(t, "default-voice", c.resolveVoice(1, ""))
}

func TestVoiceQueueDrainReturnsInEnqueueOrderAndClears(t *testing.T) {
	q := NewVoiceQueue()
	q.enqueue(VoiceClip{UserID: 1, Audio: []byte("a")})
	q.enqueue(VoiceClip{UserID: 1, Audio: []byte("b")})
	q.enqueue(VoiceClip{UserID: 2, Audio: []byte("c")})

	clips := q.Drain(1)
	require.Len(t, clips, 2)
	assert.Equal(t, []byte("a"), clips[0].Audio)
	assert.Equal(t, []byte("b"), clips[1].Audio)
	assert.Empty(t, q.Drain(1))
}

func TestTTSSpeakToolExecuteNoEndpointFails(t *testing.T) {
	settings := &fakeSettingsProvider{settings: map[int64]*types.UserSettings{}}
	speak, _ := NewTTSTools("", "voice", NewVoiceQueue(), nil, settings)

	_, ok, err := speak.Execute(context.Background(), 1, `{"text":"hello"}`)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestTTSSpeakToolExecuteEmptyTextIsNoop(t *testing.T) {
	settings := &fakeSettingsProvider{settings: map[int64]*types.UserSettings{}}
	speak, _ := NewTTSTools("http://tts.example/speak", "voice", NewVoiceQueue(), nil, settings)

	_, ok, err := speak.Execute(context.Background(), 1, `{"text":""}`)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestTTSListVoicesToolNoEndpoint(t *testing.T) {
	settings := &fakeSettingsProvider{settings: map[int64]*types.UserSettings{}}
	_, list := NewTTSTools("", "voice", NewVoiceQueue(), nil, settings)

	result, ok, err := list.Execute(context.Background(), 1, `{}`)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "no tts provider configured", result)
}
