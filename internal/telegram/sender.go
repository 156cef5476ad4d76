package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telebot-agent/chatengine/internal/pipeline"
)

// Bot implements pipeline.Sender directly against the Bot API; ctx is
// accepted for interface conformance but the underlying client calls
// are synchronous HTTP requests without per-call cancellation.

func (b *Bot) SendPlaceholder(ctx context.Context, chatID int64, text string) (pipeline.MessageHandle, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := b.api.Send(msg)
	if err != nil {
		return pipeline.MessageHandle{}, err
	}
	return pipeline.MessageHandle{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (b *Bot) EditMessage(ctx context.Context, handle pipeline.MessageHandle, text string, html bool) error {
	edit := tgbotapi.NewEditMessageText(handle.ChatID, handle.MessageID, text)
	if html {
		edit.ParseMode = tgbotapi.ModeHTML
	}
	_, err := b.api.Send(edit)
	return err
}

func (b *Bot) DeleteMessage(ctx context.Context, handle pipeline.MessageHandle) error {
	del := tgbotapi.NewDeleteMessage(handle.ChatID, handle.MessageID)
	_, err := b.api.Request(del)
	return err
}

func (b *Bot) SendText(ctx context.Context, chatID int64, text string, html bool) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendVoice(ctx context.Context, chatID int64, audio []byte, format string) error {
	file := tgbotapi.FileBytes{Name: fmt.Sprintf("voice.%s", format), Bytes: audio}
	voice := tgbotapi.NewVoice(chatID, file)
	_, err := b.api.Send(voice)
	return err
}
