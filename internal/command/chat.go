package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

func (d *Dispatcher) registerChat() {
	d.register("chat", d.handleChat)
}

func (d *Dispatcher) handleChat(ctx context.Context, in Input) (Output, error) {
	settings := d.services.GetUserSettings(in.UserID)
	persona := settings.CurrentPersona

	if in.Args == "" {
		return d.listSessions(in.UserID, persona), nil
	}

	verb, rest := splitFirstWord(in.Args)
	switch strings.ToLower(verb) {
	case "new":
		sess := d.services.CreateSession(in.UserID, persona)
		if rest != "" {
			d.services.RenameSession(sess.ID, rest)
		}
		return Output{Text: "Started a new chat."}, nil
	case "rename":
		if rest == "" {
			return Output{Text: "Usage: /chat rename <title>"}, nil
		}
		sess, err := d.currentSession(in.UserID, persona)
		if err != nil {
			return Output{}, err
		}
		d.services.RenameSession(sess.ID, rest)
		return Output{Text: "Renamed chat to " + rest + "."}, nil
	case "delete":
		return d.deleteChatByIndex(in.UserID, persona, rest)
	case "fork":
		return d.forkChat(in.UserID, persona)
	default:
		// Bare "/chat <index>" switches to the Nth session in the list.
		return d.switchChatByIndex(in.UserID, persona, in.Args)
	}
}

func (d *Dispatcher) listSessions(userID int64, persona string) Output {
	sessions := d.services.GetSessions(userID, persona)
	current, _ := d.currentSessionID(userID, persona)
	var b strings.Builder
	fmt.Fprintf(&b, "Chats (%s):\n", persona)
	for i, s := range sessions {
		marker := "  "
		if s.ID == current {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%d. %s\n", marker, i+1, s.Title)
	}
	return Output{Text: b.String()}
}

func (d *Dispatcher) currentSessionID(userID int64, persona string) (int64, error) {
	p, err := d.services.SwitchPersona(userID, persona)
	if err != nil {
		return 0, err
	}
	return p.CurrentSessionID, nil
}

func (d *Dispatcher) currentSession(userID int64, persona string) (*sessionRef, error) {
	id, err := d.currentSessionID(userID, persona)
	if err != nil {
		return nil, err
	}
	for _, s := range d.services.GetSessions(userID, persona) {
		if s.ID == id {
			return &sessionRef{ID: s.ID, Title: s.Title}, nil
		}
	}
	return &sessionRef{ID: id}, nil
}

type sessionRef struct {
	ID    int64
	Title string
}

func (d *Dispatcher) sessionByIndex(userID int64, persona, arg string) (int64, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || idx < 1 {
		return 0, fmt.Errorf("invalid chat index %q", arg)
	}
	sessions := d.services.GetSessions(userID, persona)
	if idx > len(sessions) {
		return 0, fmt.Errorf("no chat at index %d", idx)
	}
	return sessions[idx-1].ID, nil
}

func (d *Dispatcher) switchChatByIndex(userID int64, persona, arg string) (Output, error) {
	id, err := d.sessionByIndex(userID, persona, arg)
	if err != nil {
		return Output{Text: "Usage: /chat <index>"}, nil
	}
	if err := d.services.SwitchSession(userID, persona, id); err != nil {
		return Output{}, err
	}
	return Output{Text: fmt.Sprintf("Switched to chat %s.", arg)}, nil
}

func (d *Dispatcher) deleteChatByIndex(userID int64, persona, arg string) (Output, error) {
	id, err := d.sessionByIndex(userID, persona, arg)
	if err != nil {
		return Output{Text: "Usage: /chat delete <index>"}, nil
	}
	d.services.DeleteSession(id)
	return Output{Text: "Deleted chat " + arg + "."}, nil
}

func (d *Dispatcher) forkChat(userID int64, persona string) (Output, error) {
	id, err := d.currentSessionID(userID, persona)
	if err != nil {
		return Output{}, err
	}
	forked, err := d.services.ForkSession(userID, persona, id)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: "Forked current chat into \"" + forked.Title + "\"."}, nil
}
