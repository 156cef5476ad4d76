package command

import (
	"context"
	"fmt"
	"strings"
)

func (d *Dispatcher) registerPersona() {
	d.register("persona", d.handlePersona)
}

func (d *Dispatcher) handlePersona(ctx context.Context, in Input) (Output, error) {
	if in.Args == "" {
		return d.listPersonas(in.UserID), nil
	}

	verb, rest := splitFirstWord(in.Args)
	switch strings.ToLower(verb) {
	case "new":
		return d.newPersona(in.UserID, rest)
	case "delete":
		return d.deletePersona(in.UserID, rest)
	case "prompt":
		return d.personaPrompt(in.UserID, rest)
	default:
		// Bare "/persona <name>" switches to an existing (or auto-created)
		// persona; the whole argument line is the name, per spec §6.
		return d.switchPersona(in.UserID, in.Args)
	}
}

func (d *Dispatcher) listPersonas(userID int64) Output {
	personas := d.services.GetPersonas(userID)
	current := d.services.GetUserSettings(userID).CurrentPersona
	var b strings.Builder
	b.WriteString("Personas:\n")
	for _, p := range personas {
		marker := "  "
		if p.Name == current {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s\n", marker, p.Name)
	}
	return Output{Text: b.String()}
}

func (d *Dispatcher) switchPersona(userID int64, name string) (Output, error) {
	p, err := d.services.SwitchPersona(userID, name)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: "Switched to persona " + p.Name + "."}, nil
}

func (d *Dispatcher) newPersona(userID int64, rest string) (Output, error) {
	if rest == "" {
		return Output{Text: "Usage: /persona new <name> [prompt]"}, nil
	}
	name, prompt := splitFirstWord(rest)
	d.services.CreatePersona(userID, name, prompt)
	return Output{Text: "Created persona " + name + ". Switch to it with /persona " + name + "."}, nil
}

func (d *Dispatcher) deletePersona(userID int64, name string) (Output, error) {
	if name == "" {
		return Output{Text: "Usage: /persona delete <name>"}, nil
	}
	if err := d.services.DeletePersona(userID, name); err != nil {
		return Output{}, err
	}
	return Output{Text: "Deleted persona " + name + "."}, nil
}

func (d *Dispatcher) personaPrompt(userID int64, text string) (Output, error) {
	settings := d.services.GetUserSettings(userID)
	current := settings.CurrentPersona
	if text == "" {
		for _, p := range d.services.GetPersonas(userID) {
			if p.Name == current {
				if p.SystemPrompt == "" {
					return Output{Text: "No custom prompt set for " + current + "."}, nil
				}
				return Output{Text: p.SystemPrompt}, nil
			}
		}
		return Output{Text: "No custom prompt set for " + current + "."}, nil
	}

	d.services.CreatePersona(userID, current, text)
	return Output{Text: "Updated prompt for " + current + "."}, nil
}
