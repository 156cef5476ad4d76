// Package pipeline is the chat turn orchestrator (C8): preflight,
// context pinning, media-group aggregation, system prompt assembly, a
// bounded streaming tool-call loop, thinking-tag filtering, message
// delivery, persistence, and the TTS side-channel drain.
//
// Grounded on the teacher's internal/session package: system.go's
// ordered-parts prompt assembly, stream.go's throttled-edit pattern
// (MinEventInterval / throttledPublish, generalized here to
// streamUpdateInterval), loop.go's step-bounded agentic loop and
// schema.ToolCall/ToolCallID message construction, and title.go's
// ensureTitle (see title.go). The preflight chain, context pinning,
// media grouping, and the generic user-visible error surface are new:
// the teacher has no group-chat gate, no token quota, and addresses
// its sessions by id rather than a "current" pointer.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/oklog/ulid/v2"

	"github.com/telebot-agent/chatengine/internal/errs"
	"github.com/telebot-agent/chatengine/internal/llm"
	"github.com/telebot-agent/chatengine/internal/logging"
	"github.com/telebot-agent/chatengine/internal/services"
	"github.com/telebot-agent/chatengine/internal/tool"
	"github.com/telebot-agent/chatengine/internal/types"
)

const (
	maxToolRounds        = 3
	maxInvocations       = maxToolRounds + 1
	toolTimeout          = 30 * time.Second
	streamUpdateInterval = 1 * time.Second
	maxMessageLength     = 4096
	thinkingPlaceholder  = "Thinking…"
	genericErrorText     = "Error. Please retry."

	maxFileAttachmentChars = 20000
	maxImageBase64Chars    = 200000
)

// chatClient is the subset of *llm.Client the pipeline depends on,
// narrowed to an interface so tests can substitute a fake stream.
type chatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, *llm.Outcome, error)
}

// ClientFactory builds a chatClient bound to one user's resolved
// provider credentials. The default wraps llm.New.
type ClientFactory func(ctx context.Context, apiKey, baseURL, model string) (chatClient, error)

func defaultClientFactory(ctx context.Context, apiKey, baseURL, model string) (chatClient, error) {
	return llm.New(ctx, apiKey, baseURL, model)
}

// Config holds the environment-derived defaults a turn falls back to
// when a user hasn't configured their own provider.
type Config struct {
	DefaultAPIKey       string
	DefaultBaseURL      string
	DefaultModel        string
	DefaultTemperature  float64
	DefaultSystemPrompt string
}

// Pipeline wires the services facade, tool registry, TTS side
// channel, and transport sender into one turn-processing unit.
type Pipeline struct {
	services   *services.Services
	registry   *tool.Registry
	voiceQueue *tool.VoiceQueue
	sender     Sender
	cfg        Config
	newClient  ClientFactory
}

// New builds a Pipeline. newClient may be nil to use the default
// eino-backed factory.
func New(svc *services.Services, registry *tool.Registry, voiceQueue *tool.VoiceQueue, sender Sender, cfg Config, newClient ClientFactory) *Pipeline {
	if newClient == nil {
		newClient = defaultClientFactory
	}
	return &Pipeline{
		services:   svc,
		registry:   registry,
		voiceQueue: voiceQueue,
		sender:     sender,
		cfg:        cfg,
		newClient:  newClient,
	}
}

// Run processes one inbound turn end to end. Every failure path is
// swallowed into the generic user-visible error text; diagnostics go
// to the structured logger only.
func (p *Pipeline) Run(ctx context.Context, in Input) {
	if in.IsGroup && !in.RepliedToBot && !in.MentionsBot {
		return
	}

	settings := p.services.GetUserSettings(in.UserID)
	apiKey, baseURL, model, temperature := resolveLLMParams(settings, p.cfg)
	if apiKey == "" {
		_ = p.sender.SendText(ctx, in.ChatID, "No API key configured yet. Use /set api_key <key> to get started.", false)
		return
	}
	if p.services.GetRemainingTokens(in.UserID) <= 0 {
		_ = p.sender.SendText(ctx, in.ChatID, "Token limit reached for the current persona. Use /set token_limit to raise it.", false)
		return
	}

	handle, err := p.sender.SendPlaceholder(ctx, in.ChatID, "…")
	if err != nil {
		logging.Error().Err(err).Int64("user_id", in.UserID).Msg("pipeline: send placeholder failed")
		return
	}

	// Context pinning: the persona/session resolved here is used for
	// every read and write in this turn, even if the user's "current"
	// pointer moves before the turn completes.
	persona, err := p.services.SwitchPersona(in.UserID, settings.CurrentPersona)
	if err != nil {
		p.fail(ctx, handle, in.UserID, err)
		return
	}
	personaName := persona.Name
	sessionID := persona.CurrentSessionID

	turnLog := logging.Turn(ulidString(), in.UserID, personaName, sessionID)

	client, err := p.newClient(ctx, apiKey, baseURL, model)
	if err != nil {
		turnLog.Error().Err(err).Msg("pipeline: client construction failed")
		p.fail(ctx, handle, in.UserID, err)
		return
	}

	llmText, historyText := buildUserTurn(in)
	messages := p.buildMessages(ctx, in, settings, persona, sessionID, llmText)
	defs := p.registry.Definitions(settings.EnabledTools)

	finalText, usage, err := p.streamLoop(ctx, client, messages, defs, temperature, handle, in.UserID)
	if err != nil {
		turnLog.Error().Err(err).Msg("pipeline: stream failed")
		p.fail(ctx, handle, in.UserID, err)
		return
	}

	finalText = filterThinking(finalText)
	finalText = p.registry.PostProcess(ctx, in.UserID, finalText, settings.EnabledTools)
	if strings.TrimSpace(finalText) == "" {
		finalText = "…"
	}

	p.deliver(ctx, handle, in.ChatID, finalText)

	p.services.AddUserMessageToSession(sessionID, historyText)
	p.services.AddAssistantMessageToSession(sessionID, finalText)
	if usage != nil {
		p.services.AddTokenUsage(in.UserID, personaName, usage.PromptTokens, usage.CompletionTokens)
	}

	p.ensureTitle(ctx, in.UserID, personaName, sessionID, historyText, apiKey, baseURL, model)

	for _, clip := range p.voiceQueue.Drain(in.UserID) {
		if err := p.sender.SendVoice(ctx, in.ChatID, clip.Audio, clip.Format); err != nil {
			turnLog.Warn().Err(err).Msg("pipeline: voice delivery failed")
		}
	}
}

// Retry pops the pinned session's last exchange and reprocesses the
// same user content as a fresh turn.
func (p *Pipeline) Retry(ctx context.Context, in Input) {
	settings := p.services.GetUserSettings(in.UserID)
	persona, err := p.services.SwitchPersona(in.UserID, settings.CurrentPersona)
	if err != nil {
		_ = p.sender.SendText(ctx, in.ChatID, genericErrorText, false)
		return
	}

	userMsg, _, ok := p.services.PopLastExchange(persona.CurrentSessionID)
	if !ok || userMsg == nil {
		_ = p.sender.SendText(ctx, in.ChatID, "Nothing to retry yet.", false)
		return
	}

	retryInput := in
	retryInput.Text = userMsg.Content
	retryInput.Attachments = nil
	p.Run(ctx, retryInput)
}

func (p *Pipeline) buildMessages(ctx context.Context, in Input, settings *types.UserSettings, persona *types.Persona, sessionID int64, llmText string) []*schema.Message {
	systemPrompt := persona.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = p.cfg.DefaultSystemPrompt
	}
	systemPrompt = p.registry.EnrichSystemPrompt(ctx, in.UserID, systemPrompt, in.Text, settings.EnabledTools)
	if instr := p.registry.GetInstructions(settings.EnabledTools); instr != "" {
		systemPrompt = systemPrompt + "\n\n" + instr
	}

	history := p.services.GetConversation(sessionID)
	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, &schema.Message{Role: schema.System, Content: systemPrompt})
	for _, m := range history {
		role := schema.User
		if m.Role == types.RoleAssistant {
			role = schema.Assistant
		}
		messages = append(messages, &schema.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, &schema.Message{Role: schema.User, Content: llmText})
	return messages
}

// streamLoop drives at most maxInvocations LLM calls, executing any
// requested tools between rounds, and returns the final assistant
// text plus the last usage record observed.
func (p *Pipeline) streamLoop(ctx context.Context, client chatClient, messages []*schema.Message, defs []*schema.ToolInfo, temperature float64, handle MessageHandle, userID int64) (string, *llm.Usage, error) {
	var lastUsage *llm.Usage

	for round := 0; round < maxInvocations; round++ {
		chunks, _, err := client.Chat(ctx, llm.ChatRequest{Messages: messages, Tools: defs, Temperature: temperature})
		if err != nil {
			return "", nil, err
		}

		var buffer strings.Builder
		var lastEdit time.Time
		lastDisplay := ""
		var finished *llm.StreamChunk

		for chunk := range chunks {
			if chunk.Err != nil {
				return "", nil, chunk.Err
			}
			if chunk.Usage != nil {
				lastUsage = chunk.Usage
			}
			if chunk.Finished {
				f := chunk
				finished = &f
				break
			}

			buffer.WriteString(chunk.Content)

			display := streamingDisplayText(buffer.String())
			if display == "" {
				display = thinkingPlaceholder
			}
			if display == lastDisplay {
				continue
			}
			if lastEdit.IsZero() || time.Since(lastEdit) >= streamUpdateInterval {
				shown := display
				if shown != thinkingPlaceholder {
					shown += "▌"
				}
				_ = p.sender.EditMessage(ctx, handle, shown, false)
				lastEdit = time.Now()
				lastDisplay = display
			}
		}

		if finished == nil {
			return strings.TrimSpace(buffer.String()), lastUsage, nil
		}
		if len(finished.ToolCalls) == 0 {
			return buffer.String(), lastUsage, nil
		}

		assistantToolCalls := make([]schema.ToolCall, 0, len(finished.ToolCalls))
		for _, tc := range finished.ToolCalls {
			assistantToolCalls = append(assistantToolCalls, schema.ToolCall{
				ID:       tc.ID,
				Function: schema.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		messages = append(messages, &schema.Message{Role: schema.Assistant, Content: buffer.String(), ToolCalls: assistantToolCalls})

		for _, tc := range finished.ToolCalls {
			toolCtx, cancel := context.WithTimeout(ctx, toolTimeout)
			result, ok, execErr := p.registry.Execute(toolCtx, userID, tc.Name, tc.Arguments)
			cancel()
			if execErr != nil {
				result = fmt.Sprintf("tool %s failed: %v", tc.Name, execErr)
				ok = true
			}
			if !ok {
				continue
			}
			messages = append(messages, &schema.Message{Role: schema.Tool, ToolCallID: tc.ID, Content: result})
		}
	}

	return "", lastUsage, errs.Transient("exhausted tool-call rounds without a final reply", nil)
}

func (p *Pipeline) deliver(ctx context.Context, handle MessageHandle, chatID int64, text string) {
	chunks := splitMessage(text, maxMessageLength)
	if len(chunks) == 1 {
		p.sendChunk(chunks[0], func(t string, html bool) error {
			return p.sender.EditMessage(ctx, handle, t, html)
		})
		return
	}

	_ = p.sender.DeleteMessage(ctx, handle)
	for _, c := range chunks {
		p.sendChunk(c, func(t string, html bool) error {
			return p.sender.SendText(ctx, chatID, t, html)
		})
	}
}

func (p *Pipeline) sendChunk(chunk string, send func(text string, html bool) error) {
	if htmlText, err := markdownToTelegramHTML(chunk); err == nil {
		if send(htmlText, true) == nil {
			return
		}
	}
	_ = send(chunk, false)
}

func (p *Pipeline) fail(ctx context.Context, handle MessageHandle, userID int64, err error) {
	msg := genericErrorText
	switch {
	case errs.IsConfigMissing(err):
		msg = "No API key configured yet. Use /set api_key <key> to get started."
	case errs.IsQuotaExceeded(err):
		msg = "Token limit reached for the current persona."
	}
	_ = p.sender.EditMessage(ctx, handle, msg, false)
}

// resolveLLMParams applies the per-user-setting-over-environment-
// default fallback the onboarding flow relies on.
func resolveLLMParams(s *types.UserSettings, cfg Config) (apiKey, baseURL, model string, temperature float64) {
	apiKey = s.APIKey
	if apiKey == "" {
		apiKey = cfg.DefaultAPIKey
	}
	baseURL = s.BaseURL
	if baseURL == "" {
		baseURL = cfg.DefaultBaseURL
	}
	model = s.Model
	if model == "" {
		model = cfg.DefaultModel
	}
	temperature = s.Temperature
	if temperature == 0 {
		temperature = cfg.DefaultTemperature
	}
	return apiKey, baseURL, model, temperature
}

// buildUserTurn aggregates in's text and attachments into a single
// LLM-facing content string plus the (shorter) form persisted to
// conversation history.
func buildUserTurn(in Input) (llmText, historyText string) {
	if len(in.Attachments) == 0 {
		return in.Text, in.Text
	}

	var llmParts []string
	if in.Text != "" {
		llmParts = append(llmParts, in.Text)
	}

	var fileHistory []string
	hasImage, hasFile := false, false

	for _, a := range in.Attachments {
		switch a.Kind {
		case MediaImage:
			hasImage = true
			llmParts = append(llmParts, encodeImageAttachment(a))
		case MediaFile:
			hasFile = true
			content, truncated := capText(string(a.Data), maxFileAttachmentChars)
			block := fmt.Sprintf("[attached file %s]\n%s", a.Filename, content)
			if truncated {
				block += "\n...[truncated]"
			}
			llmParts = append(llmParts, block)
			fileHistory = append(fileHistory, fmt.Sprintf("[File: %s] %s", a.Filename, content))
		}
	}

	llmText = strings.Join(llmParts, "\n\n")

	switch {
	case hasFile:
		historyText = strings.Join(fileHistory, "\n")
		if in.Text != "" {
			historyText = in.Text + "\n" + historyText
		}
	case hasImage:
		historyText = "[Image]" + in.Text
	default:
		historyText = in.Text
	}
	return llmText, historyText
}

func encodeImageAttachment(a Attachment) string {
	encoded := base64.StdEncoding.EncodeToString(a.Data)
	truncated := false
	if len(encoded) > maxImageBase64Chars {
		encoded = encoded[:maxImageBase64Chars]
		truncated = true
	}
	mime := a.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}
	block := fmt.Sprintf("[attached image %s]\ndata:%s;base64,%s", a.Filename, mime, encoded)
	if truncated {
		block += "...[truncated]"
	}
	return block
}

func capText(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	return s[:max], true
}

// ulidString generates a correlation id for one turn's log lines.
func ulidString() string {
	return ulid.Make().String()
}
