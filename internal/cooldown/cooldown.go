// Package cooldown tracks per-command usage windows. A command may carry a
// per-user cooldown, a global cooldown shared by all users, or both. Usage is
// recorded only after a successful execution, so denied attempts never extend
// a window.
package cooldown

import (
	"context"
	"sync"
	"time"
)

// Scope names which window blocked a check.
type Scope string

const (
	ScopeUser   Scope = "user"
	ScopeGlobal Scope = "global"
)

// Setting holds the cooldown durations for one command. A zero duration
// disables that scope.
type Setting struct {
	User   time.Duration
	Global time.Duration
}

type userKey struct {
	Command string
	User    string
}

// Tracker remembers when each command was last used. Safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	settings map[string]Setting
	userLast map[userKey]time.Time
	globLast map[string]time.Time
	now      func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		settings: make(map[string]Setting),
		userLast: make(map[userKey]time.Time),
		globLast: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Set configures the cooldown windows for a command, replacing any previous
// setting.
func (t *Tracker) Set(commandName string, s Setting) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.User <= 0 && s.Global <= 0 {
		delete(t.settings, commandName)
		return
	}
	t.settings[commandName] = s
}

// Clear removes a command's cooldown configuration and any recorded usage.
func (t *Tracker) Clear(commandName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.settings, commandName)
	delete(t.globLast, commandName)
	for k := range t.userLast {
		if k.Command == commandName {
			delete(t.userLast, k)
		}
	}
}

// Setting returns the configured windows for a command.
func (t *Tracker) Setting(commandName string) (Setting, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.settings[commandName]
	return s, ok
}

// Check reports whether the command is ready for this user. When blocked it
// returns the remaining window and whether the user or the global scope is
// the one blocking. The user scope is checked first.
func (t *Tracker) Check(commandName, userID string) (ready bool, remaining time.Duration, scope Scope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.settings[commandName]
	if !ok {
		return true, 0, ""
	}
	now := t.now()

	if s.User > 0 {
		if last, used := t.userLast[userKey{Command: commandName, User: userID}]; used {
			if left := s.User - now.Sub(last); left > 0 {
				return false, left, ScopeUser
			}
		}
	}
	if s.Global > 0 {
		if last, used := t.globLast[commandName]; used {
			if left := s.Global - now.Sub(last); left > 0 {
				return false, left, ScopeGlobal
			}
		}
	}
	return true, 0, ""
}

// MarkUsed records a successful execution, starting the configured windows.
func (t *Tracker) MarkUsed(commandName, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.settings[commandName]
	if !ok {
		return
	}
	now := t.now()
	if s.User > 0 {
		t.userLast[userKey{Command: commandName, User: userID}] = now
	}
	if s.Global > 0 {
		t.globLast[commandName] = now
	}
}

// Cleanup removes usage entries whose window has already elapsed. Returns the
// number of entries removed.
func (t *Tracker) Cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for k, last := range t.userLast {
		s, ok := t.settings[k.Command]
		if !ok || now.Sub(last) >= s.User {
			delete(t.userLast, k)
			removed++
		}
	}
	for name, last := range t.globLast {
		s, ok := t.settings[name]
		if !ok || now.Sub(last) >= s.Global {
			delete(t.globLast, name)
			removed++
		}
	}
	return removed
}

// Run clears expired windows every interval until ctx is done. Call from the
// host's lifecycle.
func (t *Tracker) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cleanup()
		}
	}
}

// Len returns the number of live usage entries across both scopes.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.userLast) + len(t.globLast)
}
