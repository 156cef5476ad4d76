package telegram

import (
	"sync"
	"time"

	"github.com/telebot-agent/chatengine/internal/pipeline"
)

// groupAggregator merges the separate updates Telegram sends for one
// media-group album into a single pipeline.Input, flushing a group
// once no new part has arrived for mediaGroupFlushDelay.
type groupAggregator struct {
	mu     sync.Mutex
	groups map[string]*pendingGroup
	flush  func(pipeline.Input)
}

type pendingGroup struct {
	input pipeline.Input
	timer *time.Timer
}

func newGroupAggregator(flush func(pipeline.Input)) *groupAggregator {
	return &groupAggregator{groups: make(map[string]*pendingGroup), flush: flush}
}

// add merges in's attachments and text into the group keyed by
// groupID, resetting the flush timer.
func (g *groupAggregator) add(groupID string, in pipeline.Input) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pg, ok := g.groups[groupID]
	if !ok {
		pg = &pendingGroup{input: in}
		g.groups[groupID] = pg
	} else {
		if pg.input.Text == "" {
			pg.input.Text = in.Text
		}
		pg.input.Attachments = append(pg.input.Attachments, in.Attachments...)
		pg.timer.Stop()
	}

	pg.timer = time.AfterFunc(mediaGroupFlushDelay, func() {
		g.mu.Lock()
		complete, ok := g.groups[groupID]
		if ok {
			delete(g.groups, groupID)
		}
		g.mu.Unlock()
		if ok {
			g.flush(complete.input)
		}
	})
}
