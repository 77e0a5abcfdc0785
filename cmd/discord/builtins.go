package main

import (
	"fmt"
	"strings"

	"github.com/Loggableim/chatcmd/internal/command"
)

const hostPlugin = "discord"

// registerBuiltins installs the minimal command set for the Discord host.
func registerBuiltins(registry *command.Registry, prefix string) {
	registry.Register(&command.Definition{
		Plugin:      hostPlugin,
		Name:        "help",
		Description: "List available commands",
		MaxArgs:     1,
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			enabled := registry.Enabled()
			lines := make([]string, 0, len(enabled))
			for _, def := range enabled {
				lines = append(lines, fmt.Sprintf("%s%s - %s", prefix, def.Syntax, def.Description))
			}
			return &command.Result{
				Success: true,
				Message: strings.Join(lines, "\n"),
				Data:    map[string]any{"count": len(enabled)},
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
}
