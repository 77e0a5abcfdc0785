// Package deferred drives commands back through the dispatcher later or in
// bulk: macros run a fixed sequence of command strings as one unit, and the
// scheduler re-submits a single command at a future time, once or on an
// interval. Both only ever talk to the dispatcher; they hold no command
// logic of their own.
package deferred

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Loggableim/chatcmd/internal/command"
	"github.com/Loggableim/chatcmd/internal/dispatch"
	"github.com/Loggableim/chatcmd/internal/permission"
)

// Runner is the dispatcher surface deferred execution needs. Satisfied by
// *dispatch.Dispatcher.
type Runner interface {
	Dispatch(ctx context.Context, msg dispatch.Message) *command.Result
}

// Macro is a named, ordered sequence of raw command strings executed as one
// logical unit.
type Macro struct {
	Name        string
	Commands    []string
	Delay       time.Duration // pause between steps
	StopOnError bool
	Permission  permission.Level
	Enabled     bool
}

// MacroResult carries the per-step results of one macro run. Success is
// false only when a step failed while StopOnError was set.
type MacroResult struct {
	RunID   string
	Macro   string
	Steps   []*command.Result
	Success bool
}

// MacroRunner stores macros and executes them through the dispatcher.
// Safe for concurrent use.
type MacroRunner struct {
	mu     sync.RWMutex
	macros map[string]*Macro
	runner Runner
}

// NewMacroRunner creates an empty runner.
func NewMacroRunner(r Runner) *MacroRunner {
	return &MacroRunner{
		macros: make(map[string]*Macro),
		runner: r,
	}
}

// Define adds or replaces a macro. Names are normalized to lowercase.
func (m *MacroRunner) Define(mac Macro) error {
	name := strings.ToLower(strings.TrimSpace(mac.Name))
	if name == "" {
		return fmt.Errorf("macro name is required")
	}
	if len(mac.Commands) == 0 {
		return fmt.Errorf("macro %q has no commands", name)
	}
	if mac.Permission == "" {
		mac.Permission = permission.All
	}
	mac.Name = name
	mac.Enabled = true
	mac.Commands = append([]string(nil), mac.Commands...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.macros[name] = &mac
	return nil
}

// Remove drops a macro.
func (m *MacroRunner) Remove(name string) bool {
	name = strings.ToLower(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.macros[name]; !ok {
		return false
	}
	delete(m.macros, name)
	return true
}

// SetEnabled toggles a macro.
func (m *MacroRunner) SetEnabled(name string, enabled bool) bool {
	name = strings.ToLower(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	mac, ok := m.macros[name]
	if !ok {
		return false
	}
	mac.Enabled = enabled
	return true
}

// List returns the defined macros, sorted by name.
func (m *MacroRunner) List() []Macro {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Macro, 0, len(m.macros))
	for _, mac := range m.macros {
		out = append(out, *mac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes a macro's steps sequentially on behalf of the user carried in
// base. Each step is re-dispatched as if the user had typed it, so every
// step passes the full pipeline again. A macro does not support mid-run
// cancellation: it runs to completion or, with StopOnError, to the first
// failed step. ctx only bounds the inter-step delays.
func (m *MacroRunner) Run(ctx context.Context, name string, base dispatch.Message) (*MacroResult, error) {
	name = strings.ToLower(name)
	m.mu.RLock()
	stored, ok := m.macros[name]
	var mac Macro
	if ok {
		// Copy under the lock; SetEnabled mutates the stored macro in place
		// and the run must not observe a mid-flight toggle.
		mac = *stored
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown macro %q", name)
	}
	if !mac.Enabled {
		return nil, fmt.Errorf("macro %q is disabled", name)
	}
	if !permission.Check(base.Role, mac.Permission) {
		return nil, fmt.Errorf("macro %q requires %q permission", name, mac.Permission)
	}

	result := &MacroResult{
		RunID:   uuid.NewString(),
		Macro:   name,
		Success: true,
	}
	for i, raw := range mac.Commands {
		if i > 0 && mac.Delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(mac.Delay):
			}
		}
		msg := base
		msg.Raw = raw
		step := m.runner.Dispatch(ctx, msg)
		result.Steps = append(result.Steps, step)
		if !step.Success && mac.StopOnError {
			result.Success = false
			break
		}
	}
	return result, nil
}
