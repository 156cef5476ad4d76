// Package telegram is the long-polling transport (out of scope for
// the turn-processing contracts themselves, per the chat engine's
// external-collaborator boundary): it turns inbound tgbotapi.Update
// values into pipeline.Input turns, implements pipeline.Sender for
// outbound delivery, and routes "/..." text to the command dispatcher
// before anything reaches the chat pipeline.
//
// Grounded on the teacher's internal/server package for the overall
// shape (a Config + New + Run/Shutdown transport object holding
// references to the services it drives), generalized from an HTTP
// router to a long-polling update loop since this domain's transport
// is Telegram, not a REST API.
package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telebot-agent/chatengine/internal/command"
	"github.com/telebot-agent/chatengine/internal/logging"
	"github.com/telebot-agent/chatengine/internal/pipeline"
)

// mediaGroupFlushDelay bounds how long the aggregator waits for
// further parts of an album before treating it as complete; Telegram
// delivers an album's photos/documents as separate updates with no
// explicit "last one" marker.
const mediaGroupFlushDelay = 800 * time.Millisecond

// Bot is the Telegram long-polling transport.
type Bot struct {
	api        *tgbotapi.BotAPI
	dispatcher *command.Dispatcher
	runner     *pipeline.Pipeline

	groups *groupAggregator
}

// NewBot authenticates against the Bot API with token. The bot is a
// valid pipeline.Sender as soon as this returns; Wire must be called
// before Run so inbound updates have somewhere to go, since the
// dispatcher and pipeline both take the bot itself as their sender
// and so cannot be constructed before it.
func NewBot(token string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	b := &Bot{api: api}
	b.groups = newGroupAggregator(func(in pipeline.Input) {
		b.runner.Run(context.Background(), in)
	})
	return b, nil
}

// Wire attaches the command dispatcher and chat pipeline that Run
// routes updates to.
func (b *Bot) Wire(dispatcher *command.Dispatcher, runner *pipeline.Pipeline) {
	b.dispatcher = dispatcher
	b.runner = runner
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	if strings.HasPrefix(msg.Text, "/") {
		out, found := b.dispatcher.Handle(ctx, msg.From.ID, msg.Chat.ID, msg.Text)
		if found {
			if !out.Handled && out.Text != "" {
				if err := b.SendText(ctx, msg.Chat.ID, out.Text, false); err != nil {
					logging.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("telegram: command reply failed")
				}
			}
			return
		}
	}

	in, err := b.buildInput(ctx, msg)
	if err != nil {
		logging.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("telegram: failed to build turn input")
		return
	}

	if msg.MediaGroupID != "" {
		b.groups.add(msg.MediaGroupID, in)
		return
	}
	b.runner.Run(ctx, in)
}
