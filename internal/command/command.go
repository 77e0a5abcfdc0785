// Package command defines the chat-command contract: what a command is, what
// a handler receives, what it returns, and the registry plus alias resolver
// that own the definitions. Dispatch order, rate limits and cooldowns live in
// the dispatch package; this one only knows names, handlers and metadata.
package command

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Loggableim/chatcmd/internal/permission"
)

// Context is the per-message execution context handed to handlers. It is
// built fresh for every inbound message and never persisted.
type Context struct {
	UserID      string
	DisplayName string
	Role        permission.Level
	Timestamp   time.Time

	// Upstream payload as received from the message source.
	Payload any

	// Enrichment flags supplied by the source.
	IsFollower   bool
	IsSubscriber bool
	IsModerator  bool

	// Profile is the cached enrichment lookup, when the host configured one.
	Profile any
}

// Result is the shaped outcome of a dispatch. Once returned it is complete;
// callers never observe partial writes.
type Result struct {
	IsCommand      bool
	Success        bool
	Message        string
	Error          string
	ErrorCode      string
	Suggestion     string
	Data           any
	DisplayOverlay bool
}

// Handler executes a command. A non-nil error (or a panic) is converted by
// the dispatcher into a structured failure; it never crashes the dispatch
// loop.
type Handler func(args []string, ctx *Context) (*Result, error)

// UndoFunc reverses a previously executed command for the history store.
type UndoFunc func(ctx *Context) error

// ValidatorKind selects a built-in argument validator.
type ValidatorKind int

const (
	// ValidatorFunc runs a caller-supplied function.
	ValidatorFunc ValidatorKind = iota
	// ValidatorIntArgs requires every argument to be an integer.
	ValidatorIntArgs
	// ValidatorOneOf requires the first argument to be one of Choices.
	ValidatorOneOf
)

// Validator is an optional argument check applied after the min/max count
// check. Built-in kinds cover the common cases; ValidatorFunc escapes to
// custom logic.
type Validator struct {
	Kind    ValidatorKind
	Choices []string
	Func    func(args []string) error
}

// Validate runs the validator against the positional arguments.
func (v *Validator) Validate(args []string) error {
	switch v.Kind {
	case ValidatorIntArgs:
		for i, a := range args {
			if _, err := strconv.Atoi(a); err != nil {
				return fmt.Errorf("argument %d must be a number, got %q", i+1, a)
			}
		}
		return nil
	case ValidatorOneOf:
		if len(args) == 0 {
			return fmt.Errorf("an argument is required, one of: %v", v.Choices)
		}
		for _, c := range v.Choices {
			if args[0] == c {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of: %v", args[0], v.Choices)
	case ValidatorFunc:
		if v.Func == nil {
			return nil
		}
		return v.Func(args)
	default:
		return nil
	}
}

// MaxArgsUnbounded disables the upper argument-count bound.
const MaxArgsUnbounded = -1

// Definition describes one registered command. Name is canonical (lowercase,
// unique per registry); Plugin identifies the owner and gates mutation.
type Definition struct {
	Plugin      string
	Name        string
	Description string
	Syntax      string
	Permission  permission.Level
	Enabled     bool
	MinArgs     int
	MaxArgs     int
	Category    string
	Validator   *Validator
	Handler     Handler
	Undo        UndoFunc

	// SkipHistory keeps successful runs out of the per-user history. Meant
	// for meta commands (undo itself, help) whose replay makes no sense.
	SkipHistory bool

	execCount atomic.Uint64
}

// ExecCount returns how many times the command ran (success or failure).
func (d *Definition) ExecCount() uint64 {
	return d.execCount.Load()
}

// recordExec bumps the execution counter. Called by the registry only.
func (d *Definition) recordExec() {
	d.execCount.Add(1)
}

// Undoable reports whether the command can be reversed through history.
func (d *Definition) Undoable() bool {
	return d.Undo != nil
}
