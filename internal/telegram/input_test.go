package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stretchr/testify/assert"
)

func TestTextOfFallsBackToCaption(t *testing.T) {
	assert.Equal(t, "hello", textOf(&tgbotapi.Message{Text: "hello", Caption: "ignored"}))
	assert.Equal(t, "a photo", textOf(&tgbotapi.Message{Caption: "a photo"}))
	assert.Equal(t, "", textOf(&tgbotapi.Message{}))
}

func TestRepliesToBotChecksReplyAuthor(t *testing.T) {
	msg := &tgbotapi.Message{
		ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 42}},
	}
	assert.True(t, repliesToBot(msg, 42))
	assert.False(t, repliesToBot(msg, 7))
	assert.False(t, repliesToBot(&tgbotapi.Message{}, 42))
}

func TestMentionsBotChecksUsernameSubstring(t *testing.T) {
	msg := &tgbotapi.Message{Text: "hey @chatbot what's up"}
	assert.True(t, mentionsBot(msg, "chatbot"))
	assert.False(t, mentionsBot(msg, "otherbot"))
	assert.False(t, mentionsBot(msg, ""))
}
