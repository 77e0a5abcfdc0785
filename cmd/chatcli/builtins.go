package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/Loggableim/chatcmd/internal/audit"
	"github.com/Loggableim/chatcmd/internal/command"
	"github.com/Loggableim/chatcmd/internal/permission"
)

// registerBuiltins installs the host's demo command set.
func registerBuiltins(registry *command.Registry, history *audit.HistoryStore, prefix string) {
	registry.Register(&command.Definition{
		Plugin:      hostPlugin,
		Name:        "help",
		Description: "List available commands",
		Syntax:      "help [command]",
		MaxArgs:     1,
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			if len(args) == 1 {
				def, ok := registry.Lookup(args[0])
				if !ok {
					return nil, fmt.Errorf("no such command %q", args[0])
				}
				return &command.Result{
					Success: true,
					Message: fmt.Sprintf("%s%s - %s", prefix, def.Syntax, def.Description),
				}, nil
			}
			enabled := registry.Enabled()
			names := make([]string, 0, len(enabled))
			for _, def := range enabled {
				names = append(names, def.Name)
			}
			return &command.Result{
				Success: true,
				Message: fmt.Sprintf("Commands: %s", strings.Join(names, ", ")),
				Data: map[string]any{
					"count":    len(enabled),
					"commands": names,
				},
			}, nil
		},
	})

	registry.Register(&command.Definition{
		Plugin:      hostPlugin,
		Name:        "ping",
		Description: "Liveness check",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			return &command.Result{Success: true, Message: "pong"}, nil
		},
	})

	registry.Register(&command.Definition{
		Plugin:      hostPlugin,
		Name:        "roll",
		Description: "Roll a die, optionally with a side count",
		Syntax:      "roll [sides]",
		MaxArgs:     1,
		Validator:   &command.Validator{Kind: command.ValidatorIntArgs},
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			sides := 6
			if len(args) == 1 {
				sides, _ = strconv.Atoi(args[0])
				if sides < 2 {
					return nil, fmt.Errorf("need at least 2 sides")
				}
			}
			return &command.Result{
				Success:        true,
				Message:        fmt.Sprintf("%s rolled %d (d%d)", ctx.DisplayName, rand.Intn(sides)+1, sides),
				DisplayOverlay: true,
			}, nil
		},
	})

	// notes is a tiny undoable command: "note <text>" appends, undo removes
	// the appended entry again.
	var (
		notesMu sync.Mutex
		notes   []string
	)
	registry.Register(&command.Definition{
		Plugin:      hostPlugin,
		Name:        "note",
		Description: "Append a note (undoable)",
		Syntax:      "note <text...>",
		MinArgs:     1,
		Permission:  permission.VIP,
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			notesMu.Lock()
			notes = append(notes, strings.Join(args, " "))
			n := len(notes)
			notesMu.Unlock()
			return &command.Result{Success: true, Message: fmt.Sprintf("note #%d saved", n)}, nil
		},
		Undo: func(ctx *command.Context) error {
			notesMu.Lock()
			defer notesMu.Unlock()
			if len(notes) == 0 {
				return fmt.Errorf("no notes left")
			}
			notes = notes[:len(notes)-1]
			return nil
		},
	})

	registry.Register(&command.Definition{
		Plugin:      hostPlugin,
		Name:        "undo",
		Description: "Undo your last undoable command",
		SkipHistory: true,
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			entry, err := history.Undo(ctx.UserID, ctx)
			if err != nil {
				return nil, err
			}
			return &command.Result{
				Success: true,
				Message: fmt.Sprintf("undid %s%s", prefix, entry.Command),
			}, nil
		},
	})

	registry.RegisterAlias("h", "help")
	registry.RegisterAlias("dice", "roll")
}
