package command

import (
	"context"
	"fmt"
	"html"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/telebot-agent/chatengine/internal/errs"
	"github.com/telebot-agent/chatengine/internal/pipeline"
	"github.com/telebot-agent/chatengine/internal/types"
)

const helpText = `Available commands:
/start - begin onboarding
/help - show this message
/clear - wipe the current chat's history
/retry - regenerate the last reply
/settings - show current configuration
/set <key> <value> - change a setting (see /settings for keys)
/persona, /persona <name>, /persona new <name> [prompt], /persona delete <name>, /persona prompt [<text>]
/chat, /chat new [title], /chat <index>, /chat rename <title>, /chat delete <index>, /chat fork
/remember <text>, /memories, /forget <num|all>
/usage - token spend for the current persona
/export - export the current chat as Markdown`

func (d *Dispatcher) registerBuiltins() {
	d.register("start", d.handleStart)
	d.register("help", d.handleHelp)
	d.register("clear", d.handleClear)
	d.register("retry", d.handleRetry)
	d.register("usage", d.handleUsage)
	d.register("export", d.handleExport)

	d.registerSettings()
	d.registerPersona()
	d.registerChat()
	d.registerMemory()
}

func (d *Dispatcher) handleStart(ctx context.Context, in Input) (Output, error) {
	if _, err := d.services.SwitchPersona(in.UserID, d.services.GetUserSettings(in.UserID).CurrentPersona); err != nil {
		return Output{}, err
	}
	return Output{Text: "Welcome. Use /set api_key <key> to connect a model, then just send a message to start chatting. /help lists every command."}, nil
}

func (d *Dispatcher) handleHelp(ctx context.Context, in Input) (Output, error) {
	return Output{Text: helpText}, nil
}

func (d *Dispatcher) handleClear(ctx context.Context, in Input) (Output, error) {
	settings := d.services.GetUserSettings(in.UserID)
	persona, err := d.services.SwitchPersona(in.UserID, settings.CurrentPersona)
	if err != nil {
		return Output{}, err
	}
	d.services.ClearConversation(persona.CurrentSessionID)
	return Output{Text: "Chat history cleared."}, nil
}

// handleRetry regenerates the last reply through the chat pipeline
// (which owns the placeholder/edit/delete lifecycle for a turn) and
// follows up with a short summary of what changed, the way the agent
// runtime's diff tool summarizes a file edit.
func (d *Dispatcher) handleRetry(ctx context.Context, in Input) (Output, error) {
	settings := d.services.GetUserSettings(in.UserID)
	persona, err := d.services.SwitchPersona(in.UserID, settings.CurrentPersona)
	if err != nil {
		return Output{}, err
	}
	sessionID := persona.CurrentSessionID

	before := lastAssistantText(d.services.GetConversation(sessionID))

	d.pipeline.Retry(ctx, pipeline.Input{UserID: in.UserID, ChatID: in.ChatID})

	after := lastAssistantText(d.services.GetConversation(sessionID))
	if before != "" && after != "" && before != after {
		if summary := diffSummary(before, after); summary != "" {
			_ = d.sender.SendText(ctx, in.ChatID, summary, false)
		}
	}
	return Output{Handled: true}, nil
}

func lastAssistantText(msgs []*types.ConversationMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleAssistant {
			return msgs[i].Content
		}
	}
	return ""
}

// diffSummary reports a one-line +N/-N added/removed line count between
// before and after, grounded on the agent runtime's buildDiffMetadata.
func diffSummary(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	added, removed := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += countLines(d.Text)
		}
	}
	if added == 0 && removed == 0 {
		return ""
	}
	return fmt.Sprintf("(retry changed the reply: +%d/-%d lines)", added, removed)
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}

func (d *Dispatcher) handleUsage(ctx context.Context, in Input) (Output, error) {
	settings := d.services.GetUserSettings(in.UserID)
	usage := d.services.GetPersonaTokenUsage(in.UserID, settings.CurrentPersona)
	remaining := d.services.GetRemainingTokens(in.UserID)
	remainingText := "unlimited"
	if remaining < 1e18 {
		remainingText = fmt.Sprintf("%.0f", remaining)
	}
	return Output{Text: fmt.Sprintf(
		"Usage for %s:\nPrompt tokens: %d\nCompletion tokens: %d\nTotal tokens: %d\nRemaining: %s",
		settings.CurrentPersona, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, remainingText,
	)}, nil
}

func (d *Dispatcher) handleExport(ctx context.Context, in Input) (Output, error) {
	settings := d.services.GetUserSettings(in.UserID)
	persona, err := d.services.SwitchPersona(in.UserID, settings.CurrentPersona)
	if err != nil {
		return Output{}, err
	}
	msgs := d.services.GetConversation(persona.CurrentSessionID)
	if len(msgs) == 0 {
		return Output{Text: "Nothing to export yet."}, nil
	}

	var htmlBuf strings.Builder
	for _, m := range msgs {
		speaker := "User"
		if m.Role == types.RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&htmlBuf, "<p><b>%s:</b> %s</p>\n", speaker, html.EscapeString(m.Content))
	}

	markdown, err := convertTranscriptToMarkdown(htmlBuf.String())
	if err != nil {
		return Output{}, errs.Transient("export conversion failed", err)
	}
	return Output{Text: markdown}, nil
}

// convertTranscriptToMarkdown renders an HTML transcript fragment as
// Markdown, grounded on the agent runtime's convertHTMLToMarkdown.
func convertTranscriptToMarkdown(htmlFragment string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	return converter.ConvertString(htmlFragment)
}

func errorText(err error) string {
	switch {
	case errs.IsPrecondition(err):
		if e, ok := err.(*errs.Error); ok {
			return e.Message
		}
		return err.Error()
	case errs.IsConfigMissing(err):
		return "No API key configured yet. Use /set api_key <key> to get started."
	case errs.IsQuotaExceeded(err):
		return "Token limit reached for the current persona."
	default:
		return "Something went wrong. Please try again."
	}
}
