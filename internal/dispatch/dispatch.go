// Package dispatch runs the command pipeline. One inbound message flows
// through recognition, rate limiting, name resolution, cooldown, permission
// and argument checks, then at most one handler invocation, and always comes
// back as a fully formed result; no failure escapes to the host as a panic
// or error.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
	gocache "github.com/patrickmn/go-cache"

	"github.com/Loggableim/chatcmd/internal/audit"
	"github.com/Loggableim/chatcmd/internal/command"
	"github.com/Loggableim/chatcmd/internal/cooldown"
	"github.com/Loggableim/chatcmd/internal/permission"
	"github.com/Loggableim/chatcmd/pkg/cache"
	"github.com/Loggableim/chatcmd/pkg/tokenbucket"
)

// DefaultMaxMessageLen bounds raw-message parsing cost.
const DefaultMaxMessageLen = 500

// enrichment cache defaults: profiles are cheap to keep for a few minutes
// and expensive to re-fetch per message.
const (
	enrichTTL   = 5 * time.Minute
	enrichSweep = 10 * time.Minute
)

// suggestion cache: "did you mean" answers for recently mistyped names. The
// underlying scan is linear in the registry, and typos repeat.
const (
	suggestCap = 128
	suggestTTL = time.Minute
)

// Message is one inbound chat event as supplied by the message source. The
// engine decides command-ness from Raw alone.
type Message struct {
	Raw         string
	UserID      string
	DisplayName string
	Role        permission.Level
	Payload     any

	IsFollower   bool
	IsSubscriber bool
	IsModerator  bool
}

// EnrichFunc fetches profile data for a user; results are cached by user id.
type EnrichFunc func(userID string) (any, error)

// Observer receives one callback per completed dispatch. Implemented by the
// metrics layer; a nil observer is skipped.
type Observer interface {
	ObserveDispatch(outcome string, d time.Duration)
}

// Config wires a Dispatcher. Registry, Limiter and Cooldowns are required;
// the rest is optional.
type Config struct {
	Prefix        string // single-character command prefix, default "/"
	MaxMessageLen int

	Registry    *command.Registry
	Limiter     *tokenbucket.Limiter
	Cooldowns   *cooldown.Tracker
	Permissions *permission.Engine  // optional advanced model + overrides
	Audit       *audit.Log          // optional
	History     *audit.HistoryStore // optional
	Enrich      EnrichFunc          // optional
	Observer    Observer            // optional
	Logger      *clog.Logger        // optional
}

// Dispatcher owns no global state; everything it touches is passed in
// through Config. Safe for concurrent use.
type Dispatcher struct {
	prefix      rune
	maxLen      int
	registry    *command.Registry
	limiter     *tokenbucket.Limiter
	cooldowns   *cooldown.Tracker
	perms       *permission.Engine
	auditLog    *audit.Log
	history     *audit.HistoryStore
	enrich      EnrichFunc
	profiles    *gocache.Cache
	suggestions *cache.TTL[string, string]
	observer    Observer
	log         *clog.Logger
	now         func() time.Time
}

// New validates the config and builds a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("dispatch: registry is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("dispatch: rate limiter is required")
	}
	if cfg.Cooldowns == nil {
		return nil, fmt.Errorf("dispatch: cooldown tracker is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/"
	}
	runes := []rune(prefix)
	if len(runes) != 1 {
		return nil, fmt.Errorf("dispatch: prefix must be a single character, got %q", prefix)
	}
	maxLen := cfg.MaxMessageLen
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLen
	}
	logger := cfg.Logger
	if logger == nil {
		logger = clog.New(io.Discard)
	}

	d := &Dispatcher{
		prefix:      runes[0],
		maxLen:      maxLen,
		registry:    cfg.Registry,
		limiter:     cfg.Limiter,
		cooldowns:   cfg.Cooldowns,
		perms:       cfg.Permissions,
		auditLog:    cfg.Audit,
		history:     cfg.History,
		enrich:      cfg.Enrich,
		suggestions: cache.NewTTL[string, string](suggestCap, suggestTTL),
		observer:    cfg.Observer,
		log:         logger.With("component", "dispatch"),
		now:         time.Now,
	}
	if d.enrich != nil {
		d.profiles = gocache.New(enrichTTL, enrichSweep)
	}
	return d, nil
}

// Prefix returns the configured command prefix.
func (d *Dispatcher) Prefix() string {
	return string(d.prefix)
}

// Dispatch runs one message through the pipeline. The returned result is
// always complete; IsCommand is false only when the message carried no
// command syntax at all, which produces no side effects.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) *command.Result {
	raw := msg.Raw
	if raw == "" || len(raw) > d.maxLen {
		return &command.Result{}
	}
	runes := []rune(raw)
	if runes[0] != d.prefix {
		return &command.Result{}
	}

	fields := strings.Fields(strings.TrimSpace(string(runes[1:])))
	if len(fields) == 0 {
		return &command.Result{}
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	// Admission order is part of the contract: rate limit shadows cooldown
	// shadows permission; tests depend on which denial a user sees first.
	if dec := d.limiter.Allow(msg.UserID); !dec.Allowed {
		return d.finish(msg, name, args, 0, &command.Result{
			IsCommand: true,
			Error: fmt.Sprintf("You're sending commands too fast (%s limit). Try again in %ds.",
				dec.Scope, dec.RetryAfterSeconds()),
			ErrorCode: CodeRateLimited,
		})
	}

	def, ok := d.registry.Lookup(name)
	if !ok {
		res := &command.Result{
			IsCommand: true,
			Error:     fmt.Sprintf("Unknown command %q.", name),
			ErrorCode: CodeUnknownCommand,
		}
		if near := d.suggest(name); near != "" {
			res.Suggestion = fmt.Sprintf("Did you mean %s%s?", string(d.prefix), near)
		} else {
			res.Suggestion = fmt.Sprintf("Use %shelp to list commands.", string(d.prefix))
		}
		return d.finish(msg, name, args, 0, res)
	}

	if !def.Enabled {
		return d.finish(msg, def.Name, args, 0, &command.Result{
			IsCommand: true,
			Error:     fmt.Sprintf("Command %q is currently disabled.", def.Name),
			ErrorCode: CodeCommandDisabled,
		})
	}

	if ready, remaining, scope := d.cooldowns.Check(def.Name, msg.UserID); !ready {
		return d.finish(msg, def.Name, args, 0, &command.Result{
			IsCommand: true,
			Error: fmt.Sprintf("Command %q is on %s cooldown for another %dms.",
				def.Name, scope, remaining.Milliseconds()),
			ErrorCode: CodeOnCooldown,
		})
	}

	if !d.allowed(msg, def) {
		return d.finish(msg, def.Name, args, 0, &command.Result{
			IsCommand: true,
			Error: fmt.Sprintf("You need %q permission to use %q.",
				def.Permission, def.Name),
			ErrorCode:  CodePermissionDenied,
			Suggestion: fmt.Sprintf("Your role is %q.", msg.Role),
		})
	}

	if res := validateArgs(def, args, string(d.prefix)); res != nil {
		return d.finish(msg, def.Name, args, 0, res)
	}

	cctx := d.buildContext(msg)
	start := d.now()
	res, err := d.invoke(ctx, def, args, cctx)
	duration := d.now().Sub(start)

	if err != nil {
		res = &command.Result{
			IsCommand: true,
			Error:     fmt.Sprintf("Command %q failed: %v", def.Name, err),
			ErrorCode: CodeExecutionFailed,
		}
	}
	if res == nil {
		res = &command.Result{Success: true}
	}
	res.IsCommand = true
	if !res.Success && res.ErrorCode == "" {
		res.ErrorCode = CodeExecutionFailed
	}

	d.record(msg, def, args, cctx, res, duration)
	return d.finishObserved(res, duration)
}

// suggest resolves "did you mean" hints for unknown names, caching answers
// briefly since the same typo tends to arrive in bursts. Stale hints after a
// registration are acceptable; they age out within the TTL.
func (d *Dispatcher) suggest(name string) string {
	if near, ok := d.suggestions.Get(name); ok {
		return near
	}
	near := d.registry.Suggest(name)
	d.suggestions.Set(name, near)
	return near
}

// allowed applies the permission model: an explicit per-(user, command)
// override wins outright; otherwise the fixed hierarchy decides, with the
// advanced role engine able to grant what the hierarchy denies.
func (d *Dispatcher) allowed(msg Message, def *command.Definition) bool {
	if d.perms != nil {
		if allow, ok := d.perms.Override(msg.UserID, def.Name); ok {
			return allow
		}
	}
	if permission.Check(msg.Role, def.Permission) {
		return true
	}
	if d.perms != nil {
		return d.perms.HasPermission(msg.UserID, "command."+def.Name)
	}
	return false
}

func validateArgs(def *command.Definition, args []string, prefix string) *command.Result {
	if len(args) < def.MinArgs ||
		(def.MaxArgs != command.MaxArgsUnbounded && len(args) > def.MaxArgs) {
		bound := "or more"
		if def.MaxArgs != command.MaxArgsUnbounded {
			bound = fmt.Sprintf("to %d", def.MaxArgs)
		}
		return &command.Result{
			IsCommand: true,
			Error: fmt.Sprintf("Command %q takes %d %s arguments, got %d.",
				def.Name, def.MinArgs, bound, len(args)),
			ErrorCode:  CodeArgCountInvalid,
			Suggestion: fmt.Sprintf("Syntax: %s%s", prefix, def.Syntax),
		}
	}
	if def.Validator != nil {
		if err := def.Validator.Validate(args); err != nil {
			return &command.Result{
				IsCommand:  true,
				Error:      fmt.Sprintf("Invalid arguments: %v", err),
				ErrorCode:  CodeArgValueInvalid,
				Suggestion: fmt.Sprintf("Syntax: %s%s", prefix, def.Syntax),
			}
		}
	}
	return nil
}

// buildContext assembles the per-message execution context, filling Profile
// from the enrichment cache when a fetcher is configured.
func (d *Dispatcher) buildContext(msg Message) *command.Context {
	cctx := &command.Context{
		UserID:       msg.UserID,
		DisplayName:  msg.DisplayName,
		Role:         msg.Role,
		Timestamp:    d.now(),
		Payload:      msg.Payload,
		IsFollower:   msg.IsFollower,
		IsSubscriber: msg.IsSubscriber,
		IsModerator:  msg.IsModerator,
	}
	if d.enrich == nil {
		return cctx
	}
	if cached, ok := d.profiles.Get(msg.UserID); ok {
		cctx.Profile = cached
		return cctx
	}
	profile, err := d.enrich(msg.UserID)
	if err != nil {
		d.log.Warn("enrichment lookup failed", "user", msg.UserID, "err", err)
		return cctx
	}
	d.profiles.Set(msg.UserID, profile, gocache.DefaultExpiration)
	cctx.Profile = profile
	return cctx
}

// invoke calls the handler, converting a panic into an error so a broken
// handler can never take down the dispatch loop.
func (d *Dispatcher) invoke(ctx context.Context, def *command.Definition, args []string, cctx *command.Context) (res *command.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked", "command", def.Name, "panic", r)
			res, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	_ = ctx // reserved for handler timeouts applied by the caller
	return def.Handler(args, cctx)
}

// record books the outcome: usage counters, cooldown start on success, audit
// trail, and history for undoable successes.
func (d *Dispatcher) record(msg Message, def *command.Definition, args []string, cctx *command.Context, res *command.Result, duration time.Duration) {
	d.registry.RecordExecution(def.Name, res.Success)
	if res.Success {
		d.cooldowns.MarkUsed(def.Name, msg.UserID)
	}
	if d.auditLog != nil {
		d.auditLog.Append(audit.Entry{
			Time:     cctx.Timestamp,
			UserID:   msg.UserID,
			Username: msg.DisplayName,
			Command:  def.Name,
			Args:     args,
			Success:  res.Success,
			Error:    res.Error,
			Duration: duration,
		})
	}
	if res.Success && d.history != nil && !def.SkipHistory {
		d.history.Record(msg.UserID, audit.HistoryEntry{
			Command:  def.Name,
			Args:     args,
			Time:     cctx.Timestamp,
			Undoable: def.Undoable(),
			Undo:     def.Undo,
		})
	}
	if res.Success {
		d.log.Debug("command executed", "command", def.Name, "user", msg.UserID, "duration", duration)
	} else {
		d.log.Debug("command failed", "command", def.Name, "user", msg.UserID, "code", res.ErrorCode)
	}
}

// finish audits a pre-execution denial and notifies the observer.
func (d *Dispatcher) finish(msg Message, name string, args []string, duration time.Duration, res *command.Result) *command.Result {
	if d.auditLog != nil && name != "" {
		d.auditLog.Append(audit.Entry{
			Time:     d.now(),
			UserID:   msg.UserID,
			Username: msg.DisplayName,
			Command:  name,
			Args:     args,
			Success:  false,
			Error:    res.Error,
			Duration: duration,
		})
	}
	return d.finishObserved(res, duration)
}

func (d *Dispatcher) finishObserved(res *command.Result, duration time.Duration) *command.Result {
	if d.observer != nil {
		outcome := OutcomeSuccess
		if !res.Success {
			outcome = res.ErrorCode
		}
		d.observer.ObserveDispatch(outcome, duration)
	}
	return res
}
