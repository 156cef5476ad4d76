package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/telebot-agent/chatengine/internal/errs"
	"github.com/telebot-agent/chatengine/internal/types"
)

func TestValidateTokenInvariant(t *testing.T) {
	ok := &types.PersonaTokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	assert.NoError(t, validateTokenInvariant(ok))

	bad := &types.PersonaTokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 14}
	err := validateTokenInvariant(bad)
	assert.True(t, errs.IsSchemaInvariantViolated(err))
}
