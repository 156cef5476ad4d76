package pipeline

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/telebot-agent/chatengine/internal/llm"
	"github.com/telebot-agent/chatengine/internal/types"
)

// titleSystemPrompt mirrors the teacher's title generator: a single
// line, no explanations, keep concrete nouns.
const titleSystemPrompt = `You are a title generator. You output ONLY a conversation title. Nothing else.

Generate a brief title that would help the user find this conversation later.

Rules:
- A single line, <=50 characters
- No explanations
- Remove: the, this, my, a, an
- Always output something meaningful`

const titleMaxChars = 100

// isDefaultTitle reports whether title still looks like the
// auto-assigned default, following the teacher's prefix check: a
// default title with a suffix appended ("New Session (fork)") also
// counts as default and is regenerated.
func isDefaultTitle(title string) bool {
	return title == types.DefaultSessionTitle || strings.HasPrefix(title, types.DefaultSessionTitle)
}

// ensureTitle generates a short title for sessionID on its first user
// message. Any failure (no title model configured, request error,
// empty result) is silent: title generation is cosmetic and must
// never block or fail the turn it rides along with.
func (p *Pipeline) ensureTitle(ctx context.Context, userID int64, personaName string, sessionID int64, userText, apiKey, baseURL, model string) {
	sess := p.findSession(userID, personaName, sessionID)
	if sess == nil || !isDefaultTitle(sess.Title) {
		return
	}

	titleModel := model
	if settings := p.services.GetUserSettings(userID); settings != nil && settings.TitleModel != "" {
		titleModel = settings.TitleModel
	}

	client, err := p.newClient(ctx, apiKey, baseURL, titleModel)
	if err != nil {
		return
	}

	chunks, _, err := client.Chat(ctx, llm.ChatRequest{
		Messages: []*schema.Message{
			{Role: schema.System, Content: titleSystemPrompt},
			{Role: schema.User, Content: "Generate a title for this conversation:\n\n" + userText},
		},
	})
	if err != nil {
		return
	}

	var title strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return
		}
		title.WriteString(chunk.Content)
	}

	cleaned := cleanTitle(title.String())
	if cleaned == "" {
		return
	}
	p.services.RenameSession(sessionID, cleaned)
}

func cleanTitle(raw string) string {
	text := strings.TrimSpace(raw)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			text = line
			break
		}
	}
	if len(text) > titleMaxChars {
		text = text[:titleMaxChars-3] + "..."
	}
	return text
}

func (p *Pipeline) findSession(userID int64, personaName string, sessionID int64) *types.Session {
	for _, s := range p.services.GetSessions(userID, personaName) {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}
