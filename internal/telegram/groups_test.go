package telegram

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telebot-agent/chatengine/internal/pipeline"
)

func TestGroupAggregatorMergesAttachmentsAndKeepsFirstText(t *testing.T) {
	var mu sync.Mutex
	var flushed *pipeline.Input

	done := make(chan struct{})
	g := newGroupAggregator(func(in pipeline.Input) {
		mu.Lock()
		flushed = &in
		mu.Unlock()
		close(done)
	})

	g.add("album-1", pipeline.Input{
		ChatID: 1, Text: "caption",
		Attachments: []pipeline.Attachment{{Kind: pipeline.MediaImage, Filename: "a.jpg"}},
	})
	g.add("album-1", pipeline.Input{
		ChatID: 1,
		Attachments: []pipeline.Attachment{{Kind: pipeline.MediaImage, Filename: "b.jpg"}},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("aggregator never flushed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, flushed)
	assert.Equal(t, "caption", flushed.Text)
	require.Len(t, flushed.Attachments, 2)
	assert.Equal(t, "a.jpg", flushed.Attachments[0].Filename)
	assert.Equal(t, "b.jpg", flushed.Attachments[1].Filename)
}

func TestGroupAggregatorFlushesEachGroupIndependently(t *testing.T) {
	var mu sync.Mutex
	flushedGroups := 0

	g := newGroupAggregator(func(in pipeline.Input) {
		mu.Lock()
		flushedGroups++
		mu.Unlock()
	})

	g.add("album-1", pipeline.Input{ChatID: 1})
	g.add("album-2", pipeline.Input{ChatID: 2})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushedGroups == 2
	}, 2*time.Second, 10*time.Millisecond)
}
