// Package command is the chat-side command surface (C9): a fixed
// registry of named handlers with single-line argument parsing,
// replacing the agent runtime's template-driven internal/command
// package (markdown command files with ${var}/$1/$input expansion)
// since this domain's command set is closed rather than user-
// authored. Kept from the runtime's design: a map-backed registry
// with stable dispatch and a uniform arg-parsing entry point.
package command

import (
	"context"
	"strings"

	"github.com/telebot-agent/chatengine/internal/pipeline"
	"github.com/telebot-agent/chatengine/internal/services"
	"github.com/telebot-agent/chatengine/internal/tool"
)

// Input is one parsed command invocation.
type Input struct {
	UserID int64
	ChatID int64
	// Args is everything after the command name, trimmed, as one line
	// (spec §6: "all accept arguments as a single line").
	Args string
}

// Output is a handler's synchronous reply. A handler that already
// delivered its own output (e.g. by invoking the chat pipeline, which
// owns its own placeholder/edit/delete lifecycle) returns Handled=true
// with an empty Text so the caller sends nothing further.
type Output struct {
	Text    string
	Handled bool
}

// Handler processes one command invocation.
type Handler func(ctx context.Context, in Input) (Output, error)

// Dispatcher owns the command registry and the collaborators handlers
// need: the services façade, the chat pipeline (for /retry, which
// rides the same turn-processing machinery as a normal message), the
// tool registry (for /set tool and /settings), the
// transport sender (for /retry's follow-up diff summary), and the
// configured defaults (for onboarding text and masked /settings
// display).
type Dispatcher struct {
	services *services.Services
	pipeline *pipeline.Pipeline
	registry *tool.Registry
	sender   pipeline.Sender
	cfg      pipeline.Config

	handlers map[string]Handler
}

// New builds a Dispatcher with every built-in command registered.
func New(svc *services.Services, pl *pipeline.Pipeline, registry *tool.Registry, sender pipeline.Sender, cfg pipeline.Config) *Dispatcher {
	d := &Dispatcher{
		services: svc,
		pipeline: pl,
		registry: registry,
		sender:   sender,
		cfg:      cfg,
		handlers: make(map[string]Handler),
	}
	d.registerBuiltins()
	return d
}

func (d *Dispatcher) register(name string, h Handler) {
	d.handlers[name] = h
}

// ParseCommand splits a raw inbound message into a command name
// (lowercased, leading "/" and any "@botname" suffix stripped) and the
// remaining single-line argument string. ok is false if text doesn't
// start with "/".
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	text = text[1:]
	fields := strings.SplitN(text, " ", 2)
	name = strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at != -1 {
		name = name[:at]
	}
	if len(fields) == 2 {
		args = strings.TrimSpace(fields[1])
	}
	return name, args, name != ""
}

// Handle dispatches text (a full inbound message, e.g. "/set model
// gpt-4o") to its registered handler. found is false if text isn't a
// recognized command, in which case the caller should route it to the
// chat pipeline instead.
func (d *Dispatcher) Handle(ctx context.Context, userID, chatID int64, text string) (Output, bool) {
	name, args, isCommand := ParseCommand(text)
	if !isCommand {
		return Output{}, false
	}
	h, ok := d.handlers[name]
	if !ok {
		return Output{Text: "Unknown command. Try /help."}, true
	}
	out, err := h(ctx, Input{UserID: userID, ChatID: chatID, Args: args})
	if err != nil {
		return Output{Text: errorText(err)}, true
	}
	return out, true
}
