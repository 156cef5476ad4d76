package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/telebot-agent/chatengine/internal/pipeline"
)

const fileDownloadTimeout = 15 * time.Second

// buildInput converts an inbound Telegram message into one pipeline
// turn, downloading any photo/document attachments so the pipeline
// only ever deals with in-memory bytes.
func (b *Bot) buildInput(ctx context.Context, msg *tgbotapi.Message) (pipeline.Input, error) {
	in := pipeline.Input{
		UserID:       msg.From.ID,
		ChatID:       msg.Chat.ID,
		IsGroup:      msg.Chat.IsGroup() || msg.Chat.IsSuperGroup(),
		RepliedToBot: repliesToBot(msg, b.api.Self.ID),
		MentionsBot:  mentionsBot(msg, b.api.Self.UserName),
		Text:         textOf(msg),
	}

	if len(msg.Photo) > 0 {
		best := msg.Photo[len(msg.Photo)-1] // largest size last, per Bot API ordering
		data, err := b.downloadFile(ctx, best.FileID)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("download photo: %w", err)
		}
		in.Attachments = append(in.Attachments, pipeline.Attachment{
			Kind: pipeline.MediaImage, Filename: best.FileID + ".jpg", MimeType: "image/jpeg", Data: data,
		})
	}

	if msg.Document != nil {
		data, err := b.downloadFile(ctx, msg.Document.FileID)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("download document: %w", err)
		}
		mime := msg.Document.MimeType
		kind := pipeline.MediaFile
		if strings.HasPrefix(mime, "image/") {
			kind = pipeline.MediaImage
		}
		in.Attachments = append(in.Attachments, pipeline.Attachment{
			Kind: kind, Filename: msg.Document.FileName, MimeType: mime, Data: data,
		})
	}

	return in, nil
}

func textOf(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func repliesToBot(msg *tgbotapi.Message, botID int64) bool {
	return msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == botID
}

func mentionsBot(msg *tgbotapi.Message, username string) bool {
	if username == "" {
		return false
	}
	return strings.Contains(textOf(msg), "@"+username)
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, fileDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d downloading telegram file", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
