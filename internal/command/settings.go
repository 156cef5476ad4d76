package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/telebot-agent/chatengine/internal/llm"
	"github.com/telebot-agent/chatengine/internal/types"
)

func (d *Dispatcher) registerSettings() {
	d.register("settings", d.handleSettings)
	d.register("set", d.handleSet)
}

func (d *Dispatcher) handleSettings(ctx context.Context, in Input) (Output, error) {
	s := d.services.GetUserSettings(in.UserID)
	var b strings.Builder
	fmt.Fprintf(&b, "Persona: %s\n", s.CurrentPersona)
	fmt.Fprintf(&b, "Model: %s\n", orDefault(s.Model, d.cfg.DefaultModel))
	fmt.Fprintf(&b, "Base URL: %s\n", orDefault(s.BaseURL, d.cfg.DefaultBaseURL))
	fmt.Fprintf(&b, "API key: %s\n", maskKey(orDefault(s.APIKey, d.cfg.DefaultAPIKey)))
	fmt.Fprintf(&b, "Temperature: %v\n", s.Temperature)
	fmt.Fprintf(&b, "Token limit: %s\n", tokenLimitText(s.TokenLimit))
	fmt.Fprintf(&b, "Title model: %s\n", orDefault(s.TitleModel, "(chat model)"))
	fmt.Fprintf(&b, "TTS voice: %s\n", orDefault(s.TTSVoice, "(default)"))
	fmt.Fprintf(&b, "Enabled tools: %s\n", toolListText(d.registry.Names(), s.EnabledTools))
	return Output{Text: b.String()}, nil
}

func (d *Dispatcher) handleSet(ctx context.Context, in Input) (Output, error) {
	key, rest := splitFirstWord(in.Args)
	switch strings.ToLower(key) {
	case "":
		return Output{Text: "Usage: /set <key> <value>. See /settings for current keys."}, nil
	case "base_url":
		d.services.UpdateUserSetting(in.UserID, func(s *types.UserSettings) { s.BaseURL = rest })
		return Output{Text: "Base URL updated."}, nil
	case "api_key":
		return d.setAPIKey(ctx, in.UserID, rest)
	case "model":
		return d.setModel(in.UserID, rest)
	case "temperature":
		return d.setTemperature(in.UserID, rest)
	case "token_limit":
		return d.setTokenLimit(in.UserID, rest)
	case "voice":
		d.services.UpdateUserSetting(in.UserID, func(s *types.UserSettings) { s.TTSVoice = rest })
		return Output{Text: "Voice updated."}, nil
	case "style":
		d.services.UpdateUserSetting(in.UserID, func(s *types.UserSettings) { s.TTSStyle = rest })
		return Output{Text: "Voice style updated."}, nil
	case "endpoint":
		d.services.UpdateUserSetting(in.UserID, func(s *types.UserSettings) { s.TTSEndpoint = rest })
		return Output{Text: "TTS endpoint updated."}, nil
	case "title_model":
		d.services.UpdateUserSetting(in.UserID, func(s *types.UserSettings) { s.TitleModel = rest })
		return Output{Text: "Title model updated."}, nil
	case "tool":
		return d.setTool(in.UserID, rest)
	case "provider":
		return d.setProvider(in.UserID, rest)
	default:
		return Output{Text: fmt.Sprintf("Unknown setting %q.", key)}, nil
	}
}

func (d *Dispatcher) setAPIKey(ctx context.Context, userID int64, key string) (Output, error) {
	if key == "" {
		return Output{Text: "Usage: /set api_key <key>"}, nil
	}
	settings := d.services.GetUserSettings(userID)
	baseURL := orDefault(settings.BaseURL, d.cfg.DefaultBaseURL)
	if err := llm.ValidateAPIKey(ctx, key, baseURL); err != nil {
		return Output{Text: "That key was rejected by the provider; settings unchanged."}, nil
	}
	d.services.UpdateUserSetting(userID, func(s *types.UserSettings) { s.APIKey = key })
	return Output{Text: "API key validated and saved."}, nil
}

func (d *Dispatcher) setModel(userID int64, model string) (Output, error) {
	if model == "" {
		return Output{Text: "Usage: /set model <name>|(interactive)"}, nil
	}
	if model == "(interactive)" {
		d.services.UpdateUserSetting(userID, func(s *types.UserSettings) { s.Model = "" })
		return Output{Text: "Model override cleared; using the default model."}, nil
	}
	d.services.UpdateUserSetting(userID, func(s *types.UserSettings) { s.Model = model })
	return Output{Text: "Model updated to " + model + "."}, nil
}

func (d *Dispatcher) setTemperature(userID int64, arg string) (Output, error) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return Output{Text: "Usage: /set temperature <number>"}, nil
	}
	d.services.UpdateUserSetting(userID, func(s *types.UserSettings) { s.Temperature = v })
	return Output{Text: fmt.Sprintf("Temperature updated to %v.", v)}, nil
}

func (d *Dispatcher) setTokenLimit(userID int64, arg string) (Output, error) {
	v, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || v < 0 {
		return Output{Text: "Usage: /set token_limit <number> (0 = unlimited)"}, nil
	}
	d.services.UpdateUserSetting(userID, func(s *types.UserSettings) { s.TokenLimit = v })
	return Output{Text: fmt.Sprintf("Token limit updated to %s.", tokenLimitText(v))}, nil
}

func (d *Dispatcher) setTool(userID int64, arg string) (Output, error) {
	name, onoff := splitFirstWord(arg)
	enable, ok := parseOnOff(onoff)
	if name == "" || !ok {
		return Output{Text: "Usage: /set tool <name> <on|off>"}, nil
	}
	known := false
	for _, n := range d.registry.Names() {
		if n == name {
			known = true
			break
		}
	}
	if !known {
		return Output{Text: fmt.Sprintf("Unknown tool %q. Known tools: %s", name, strings.Join(d.registry.Names(), ", "))}, nil
	}
	d.services.UpdateUserSetting(userID, func(s *types.UserSettings) { s.EnabledTools[name] = enable })
	state := "disabled"
	if enable {
		state = "enabled"
	}
	return Output{Text: fmt.Sprintf("Tool %s %s.", name, state)}, nil
}

func (d *Dispatcher) setProvider(userID int64, arg string) (Output, error) {
	verb, rest := splitFirstWord(arg)
	switch strings.ToLower(verb) {
	case "list":
		names := d.services.ListAPIPresetNames(userID)
		if len(names) == 0 {
			return Output{Text: "No saved providers yet. Use /set provider save <name>."}, nil
		}
		return Output{Text: "Saved providers: " + strings.Join(names, ", ")}, nil
	case "save":
		if rest == "" {
			return Output{Text: "Usage: /set provider save <name>"}, nil
		}
		settings := d.services.GetUserSettings(userID)
		d.services.SaveAPIPreset(userID, rest, types.APIPreset{
			APIKey: settings.APIKey, BaseURL: settings.BaseURL, Model: settings.Model,
		})
		return Output{Text: "Saved current provider config as " + rest + "."}, nil
	case "load":
		if rest == "" {
			return Output{Text: "Usage: /set provider load <name>"}, nil
		}
		preset, ok := d.services.LoadAPIPreset(userID, rest)
		if !ok {
			return Output{Text: fmt.Sprintf("No saved provider named %q.", rest)}, nil
		}
		d.services.UpdateUserSetting(userID, func(s *types.UserSettings) {
			s.APIKey, s.BaseURL, s.Model = preset.APIKey, preset.BaseURL, preset.Model
		})
		return Output{Text: "Loaded provider " + rest + "."}, nil
	case "delete":
		if rest == "" {
			return Output{Text: "Usage: /set provider delete <name>"}, nil
		}
		if !d.services.DeleteAPIPreset(userID, rest) {
			return Output{Text: fmt.Sprintf("No saved provider named %q.", rest)}, nil
		}
		return Output{Text: "Deleted provider " + rest + "."}, nil
	default:
		return Output{Text: "Usage: /set provider list | save <name> | load <name> | delete <name>"}, nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func tokenLimitText(limit int64) string {
	if limit == 0 {
		return "unlimited"
	}
	return strconv.FormatInt(limit, 10)
}

func toolListText(all []string, enabled map[string]bool) string {
	if len(all) == 0 {
		return "(none available)"
	}
	var parts []string
	for _, name := range all {
		state := "off"
		if enabled[name] {
			state = "on"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, state))
	}
	return strings.Join(parts, ", ")
}

func splitFirstWord(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	fields := strings.SplitN(s, " ", 2)
	first = fields[0]
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}
	return first, rest
}

func parseOnOff(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on":
		return true, true
	case "off":
		return false, true
	default:
		return false, false
	}
}
