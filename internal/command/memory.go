package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/telebot-agent/chatengine/internal/types"
)

func (d *Dispatcher) registerMemory() {
	d.register("remember", d.handleRemember)
	d.register("memories", d.handleMemories)
	d.register("forget", d.handleForget)
}

func (d *Dispatcher) handleRemember(ctx context.Context, in Input) (Output, error) {
	if in.Args == "" {
		return Output{Text: "Usage: /remember <text>"}, nil
	}
	if _, err := d.services.AddMemory(ctx, in.UserID, in.Args, types.MemorySourceUser); err != nil {
		return Output{}, err
	}
	return Output{Text: "Remembered."}, nil
}

func (d *Dispatcher) handleMemories(ctx context.Context, in Input) (Output, error) {
	mems := d.services.GetMemories(in.UserID)
	if len(mems) == 0 {
		return Output{Text: "No memories saved yet."}, nil
	}
	var b strings.Builder
	b.WriteString("Memories:\n")
	for i, m := range mems {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Content)
	}
	return Output{Text: b.String()}, nil
}

func (d *Dispatcher) handleForget(ctx context.Context, in Input) (Output, error) {
	arg := strings.TrimSpace(in.Args)
	if arg == "" {
		return Output{Text: "Usage: /forget <num|all>"}, nil
	}
	if strings.EqualFold(arg, "all") {
		d.services.ClearMemories(in.UserID)
		return Output{Text: "Cleared all memories."}, nil
	}

	idx, err := strconv.Atoi(arg)
	if err != nil || idx < 1 {
		return Output{Text: "Usage: /forget <num|all>"}, nil
	}
	mems := d.services.GetMemories(in.UserID)
	if idx > len(mems) {
		return Output{Text: fmt.Sprintf("No memory at index %d.", idx)}, nil
	}
	d.services.DeleteMemory(in.UserID, mems[idx-1].ID)
	return Output{Text: "Forgot memory " + arg + "."}, nil
}
