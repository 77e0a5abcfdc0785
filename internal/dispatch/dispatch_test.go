package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Loggableim/chatcmd/internal/audit"
	"github.com/Loggableim/chatcmd/internal/command"
	"github.com/Loggableim/chatcmd/internal/cooldown"
	"github.com/Loggableim/chatcmd/internal/permission"
	"github.com/Loggableim/chatcmd/pkg/tokenbucket"
)

type testEnv struct {
	dispatcher *Dispatcher
	registry   *command.Registry
	limiter    *tokenbucket.Limiter
	cooldowns  *cooldown.Tracker
	perms      *permission.Engine
	auditLog   *audit.Log
	history    *audit.HistoryStore
}

// looseLimits keeps rate limiting out of the way unless a test wants it.
func looseLimits() tokenbucket.Config {
	return tokenbucket.Config{
		Global:  tokenbucket.Bucket{Capacity: 10000, Refill: 1000, Interval: time.Second},
		PerUser: tokenbucket.Bucket{Capacity: 10000, Refill: 1000, Interval: time.Second},
	}
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		registry:  command.NewRegistry(),
		limiter:   tokenbucket.New(looseLimits()),
		cooldowns: cooldown.New(),
		perms:     permission.NewEngine(),
		auditLog:  audit.NewLog(100),
		history:   audit.NewHistoryStore(0),
	}
	cfg := Config{
		Registry:    env.registry,
		Limiter:     env.limiter,
		Cooldowns:   env.cooldowns,
		Permissions: env.perms,
		Audit:       env.auditLog,
		History:     env.history,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg)
	require.NoError(t, err)
	env.dispatcher = d
	return env
}

func (e *testEnv) register(t *testing.T, def *command.Definition) *command.Definition {
	t.Helper()
	require.True(t, e.registry.Register(def))
	return def
}

func (e *testEnv) dispatch(raw string) *command.Result {
	return e.dispatcher.Dispatch(context.Background(), Message{
		Raw:         raw,
		UserID:      "u1",
		DisplayName: "Alice",
		Role:        permission.All,
	})
}

func echoHandler(args []string, ctx *command.Context) (*command.Result, error) {
	return &command.Result{Success: true, Message: strings.Join(args, " ")}, nil
}

func TestNewRequiresCoreDeps(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{
		Registry:  command.NewRegistry(),
		Limiter:   tokenbucket.New(looseLimits()),
		Cooldowns: cooldown.New(),
		Prefix:    "!!",
	})
	require.Error(t, err, "prefix must be one character")
}

func TestNonCommandsAreSilent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})

	for _, raw := range []string{
		"",
		"hello chat",
		"roll 20",
		"/",
		"/   ",
		"/" + strings.Repeat("x", DefaultMaxMessageLen),
	} {
		res := env.dispatch(raw)
		require.False(t, res.IsCommand, "raw %q must not be treated as a command", raw)
		require.Empty(t, res.ErrorCode)
	}

	require.Equal(t, 0, env.auditLog.Len(), "non-commands leave no trail")
	require.Equal(t, uint64(0), env.limiter.Stats().Allowed+env.limiter.Stats().Denied,
		"empty and non-prefixed messages never touch the limiter")
}

func TestHelpStyleCommandSucceeds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "help",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			enabled := env.registry.Enabled()
			names := make([]string, 0, len(enabled))
			for _, def := range enabled {
				names = append(names, def.Name)
			}
			return &command.Result{
				Success: true,
				Message: fmt.Sprintf("%d commands available", len(names)),
				Data:    map[string]any{"count": len(names), "commands": names},
			}, nil
		},
	})

	res := env.dispatch("/help")
	require.True(t, res.IsCommand)
	require.True(t, res.Success)
	require.Empty(t, res.ErrorCode)

	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, 2, data["count"])
}

func TestUnknownCommandSuggests(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})

	res := env.dispatch("/rolll 20")
	require.True(t, res.IsCommand)
	require.False(t, res.Success)
	require.Equal(t, CodeUnknownCommand, res.ErrorCode)
	require.Contains(t, res.Suggestion, "/roll")

	res = env.dispatch("/xyzzy")
	require.Equal(t, CodeUnknownCommand, res.ErrorCode)
	require.Contains(t, res.Suggestion, "/help")
}

func TestDisabledCommand(t *testing.T) {
	env := newTestEnv(t, nil)
	def := env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})
	require.True(t, env.registry.SetEnabled("roll", "test", false))

	res := env.dispatch("/roll 20")
	require.True(t, res.IsCommand)
	require.False(t, res.Success)
	require.Equal(t, CodeCommandDisabled, res.ErrorCode)
	require.Equal(t, uint64(0), def.ExecCount(), "disabled commands never run")
}

func TestPermissionDenied(t *testing.T) {
	env := newTestEnv(t, nil)
	def := env.register(t, &command.Definition{
		Plugin:     "test",
		Name:       "kick",
		Permission: permission.Moderator,
		Handler:    echoHandler,
	})

	res := env.dispatcher.Dispatch(context.Background(), Message{
		Raw: "/kick bob", UserID: "u1", DisplayName: "Alice", Role: permission.VIP,
	})
	require.True(t, res.IsCommand)
	require.False(t, res.Success)
	require.Equal(t, CodePermissionDenied, res.ErrorCode)
	require.NotEmpty(t, res.Error)
	require.NotEmpty(t, res.Suggestion)
	require.Equal(t, uint64(0), def.ExecCount(), "denied attempts leave the counter untouched")

	res = env.dispatcher.Dispatch(context.Background(), Message{
		Raw: "/kick bob", UserID: "u2", Role: permission.Moderator,
	})
	require.True(t, res.Success)
	require.Equal(t, uint64(1), def.ExecCount())
}

func TestPermissionOverrideWins(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin:     "test",
		Name:       "kick",
		Permission: permission.Moderator,
		Handler:    echoHandler,
	})

	// Allow override lets a plain viewer through.
	env.perms.SetOverride("u1", "kick", true)
	res := env.dispatch("/kick bob")
	require.True(t, res.Success)

	// Deny override locks out even a broadcaster.
	env.perms.SetOverride("u9", "kick", false)
	res = env.dispatcher.Dispatch(context.Background(), Message{
		Raw: "/kick bob", UserID: "u9", Role: permission.Broadcaster,
	})
	require.False(t, res.Success)
	require.Equal(t, CodePermissionDenied, res.ErrorCode)
}

func TestAdvancedRoleGrants(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin:     "test",
		Name:       "kick",
		Permission: permission.Moderator,
		Handler:    echoHandler,
	})

	require.NoError(t, env.perms.DefineRole(permission.Role{
		Name:        "helper",
		Permissions: []string{"command.kick"},
	}))
	env.perms.AssignRole("u1", "helper")

	res := env.dispatch("/kick bob")
	require.True(t, res.Success, "role engine grants what the hierarchy denies")
}

func TestArgCountValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin:  "test",
		Name:    "ban",
		Syntax:  "ban <user> [reason]",
		MinArgs: 1,
		MaxArgs: 2,
		Handler: echoHandler,
	})

	res := env.dispatch("/ban")
	require.Equal(t, CodeArgCountInvalid, res.ErrorCode)
	require.Contains(t, res.Suggestion, "/ban <user> [reason]")

	res = env.dispatch("/ban bob spamming links badly")
	require.Equal(t, CodeArgCountInvalid, res.ErrorCode)

	res = env.dispatch("/ban bob")
	require.True(t, res.Success)
}

func TestArgValueValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin:    "test",
		Name:      "roll",
		Syntax:    "roll <sides>",
		MinArgs:   1,
		MaxArgs:   1,
		Validator: &command.Validator{Kind: command.ValidatorIntArgs},
		Handler:   echoHandler,
	})

	res := env.dispatch("/roll twenty")
	require.False(t, res.Success)
	require.Equal(t, CodeArgValueInvalid, res.ErrorCode)
	require.Contains(t, res.Suggestion, "/roll <sides>")

	res = env.dispatch("/roll 20")
	require.True(t, res.Success)
}

func TestHandlerErrorIsShaped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "fragile",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	})

	res := env.dispatch("/fragile")
	require.True(t, res.IsCommand)
	require.False(t, res.Success)
	require.Equal(t, CodeExecutionFailed, res.ErrorCode)
	require.Contains(t, res.Error, "backend unavailable")
}

func TestHandlerPanicIsContained(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "boom",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			panic("handler bug")
		},
	})
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})

	res := env.dispatch("/boom")
	require.False(t, res.Success)
	require.Equal(t, CodeExecutionFailed, res.ErrorCode)
	require.Contains(t, res.Error, "handler bug")

	// The dispatcher keeps working afterwards.
	res = env.dispatch("/roll 20")
	require.True(t, res.Success)
}

func TestNilResultMeansSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "quiet",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			return nil, nil
		},
	})

	res := env.dispatch("/quiet")
	require.True(t, res.IsCommand)
	require.True(t, res.Success)
}

func TestFailedResultGetsErrorCode(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "soft",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			return &command.Result{Success: false, Error: "not today"}, nil
		},
	})

	res := env.dispatch("/soft")
	require.False(t, res.Success)
	require.Equal(t, CodeExecutionFailed, res.ErrorCode)
}

func TestRateLimitShadowsEverything(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Limiter = tokenbucket.New(tokenbucket.Config{
			Global:  tokenbucket.Bucket{Capacity: 2, Refill: 1, Interval: time.Hour},
			PerUser: tokenbucket.Bucket{Capacity: 2, Refill: 1, Interval: time.Hour},
		})
	})
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})

	require.True(t, env.dispatch("/roll").Success)
	require.True(t, env.dispatch("/roll").Success)

	// Even an unknown name now reports the rate limit, not the lookup miss.
	res := env.dispatch("/nosuch")
	require.True(t, res.IsCommand)
	require.Equal(t, CodeRateLimited, res.ErrorCode)
	require.Contains(t, res.Error, "Try again in")
}

func TestCooldownAfterSuccess(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})
	env.cooldowns.Set("roll", cooldown.Setting{User: 5 * time.Second})

	require.True(t, env.dispatch("/roll").Success)

	res := env.dispatch("/roll")
	require.False(t, res.Success)
	require.Equal(t, CodeOnCooldown, res.ErrorCode)
	require.Contains(t, res.Error, "ms")

	// A different user has their own window.
	res = env.dispatcher.Dispatch(context.Background(), Message{
		Raw: "/roll", UserID: "u2", Role: permission.All,
	})
	require.True(t, res.Success)
}

func TestFailureDoesNotStartCooldown(t *testing.T) {
	env := newTestEnv(t, nil)
	attempts := 0
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "flaky",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			attempts++
			if attempts == 1 {
				return nil, fmt.Errorf("first try fails")
			}
			return &command.Result{Success: true}, nil
		},
	})
	env.cooldowns.Set("flaky", cooldown.Setting{User: time.Minute})

	require.False(t, env.dispatch("/flaky").Success)
	require.True(t, env.dispatch("/flaky").Success, "failure must not open the window")

	res := env.dispatch("/flaky")
	require.Equal(t, CodeOnCooldown, res.ErrorCode)
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})

	env.dispatch("/roll 20")
	env.dispatch("/nosuch")

	require.Equal(t, 2, env.auditLog.Len())

	got := env.auditLog.Query(audit.Filter{Command: "roll"})
	require.Len(t, got, 1)
	require.True(t, got[0].Success)
	require.Equal(t, []string{"20"}, got[0].Args)
	require.Equal(t, "Alice", got[0].Username)

	got = env.auditLog.Query(audit.Filter{Command: "nosuch"})
	require.Len(t, got, 1)
	require.False(t, got[0].Success)
}

func TestHistoryRecordsUndoableSuccesses(t *testing.T) {
	env := newTestEnv(t, nil)
	undone := false
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "note",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			return &command.Result{Success: true}, nil
		},
		Undo: func(ctx *command.Context) error {
			undone = true
			return nil
		},
	})
	env.register(t, &command.Definition{
		Plugin:      "test",
		Name:        "help",
		SkipHistory: true,
		Handler:     echoHandler,
	})

	env.dispatch("/note hello")
	env.dispatch("/help")

	entries, cursor := env.history.List("u1")
	require.Len(t, entries, 1, "meta commands stay out of history")
	require.Equal(t, 1, cursor)
	require.Equal(t, "note", entries[0].Command)
	require.True(t, entries[0].Undoable)

	_, err := env.history.Undo("u1", nil)
	require.NoError(t, err)
	require.True(t, undone)
}

func TestAliasDispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	def := env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})
	require.NoError(t, env.registry.RegisterAlias("dice", "roll"))

	res := env.dispatch("/dice 20")
	require.True(t, res.Success)
	require.Equal(t, "20", res.Message)
	require.Equal(t, uint64(1), def.ExecCount())
}

func TestEnrichmentCached(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Enrich = func(userID string) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return map[string]string{"id": userID}, nil
		}
	})
	var seen any
	env.register(t, &command.Definition{
		Plugin: "test",
		Name:   "whoami",
		Handler: func(args []string, ctx *command.Context) (*command.Result, error) {
			seen = ctx.Profile
			return &command.Result{Success: true}, nil
		},
	})

	require.True(t, env.dispatch("/whoami").Success)
	require.True(t, env.dispatch("/whoami").Success)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls, "second dispatch is served from the profile cache")
	require.Equal(t, map[string]string{"id": "u1"}, seen)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveDispatch(outcome string, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func TestObserverSeesEveryOutcome(t *testing.T) {
	obs := &recordingObserver{}
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Observer = obs
	})
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})

	env.dispatch("/roll")
	env.dispatch("/nosuch")
	env.dispatch("plain chat")

	require.Equal(t, []string{OutcomeSuccess, CodeUnknownCommand}, obs.outcomes,
		"non-commands are invisible to the observer")
}

func TestConcurrentDispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, &command.Definition{Plugin: "test", Name: "roll", Handler: echoHandler})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				res := env.dispatcher.Dispatch(context.Background(), Message{
					Raw:    "/roll 20",
					UserID: fmt.Sprintf("u%d", n),
					Role:   permission.All,
				})
				if !res.Success {
					t.Errorf("dispatch failed: %+v", res)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, uint64(400), env.registry.Stats().Executions)
}
