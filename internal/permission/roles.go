package permission

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Loggableim/chatcmd/pkg/cache"
)

// Role is a named set of permission strings with optional parent roles to
// inherit from. A permission string is matched exactly, or by prefix when it
// ends in ".*" (so "music.*" grants "music.play").
type Role struct {
	Name        string
	Permissions []string
	Parents     []string
	Priority    int
}

type overrideKey struct {
	User    string
	Command string
}

type memoKey struct {
	User string
	Perm string
}

const memoCapacity = 256

// Engine holds custom roles, per-user role assignments and per-(user,
// command) overrides. Decisions are memoized per (user, permission) and the
// memo is flushed whenever roles, assignments or overrides change.
// Safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	roles     map[string]*Role
	userRoles map[string]map[string]struct{}
	overrides map[overrideKey]bool
	memo      *cache.LRU[memoKey, bool]
}

// NewEngine creates an empty permission engine.
func NewEngine() *Engine {
	memo, _ := cache.NewLRU[memoKey, bool](memoCapacity)
	return &Engine{
		roles:     make(map[string]*Role),
		userRoles: make(map[string]map[string]struct{}),
		overrides: make(map[overrideKey]bool),
		memo:      memo,
	}
}

// DefineRole adds or replaces a custom role. Parent names do not have to
// exist yet; unknown parents are skipped during traversal.
func (e *Engine) DefineRole(r Role) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("role name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := r
	cp.Permissions = append([]string(nil), r.Permissions...)
	cp.Parents = append([]string(nil), r.Parents...)
	e.roles[r.Name] = &cp
	e.memo.Purge()
	return nil
}

// RemoveRole drops a role definition. Assignments referring to it remain but
// grant nothing.
func (e *Engine) RemoveRole(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.roles[name]; !ok {
		return false
	}
	delete(e.roles, name)
	e.memo.Purge()
	return true
}

// AssignRole grants a role to a user.
func (e *Engine) AssignRole(userID, role string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.userRoles[userID]
	if !ok {
		set = make(map[string]struct{})
		e.userRoles[userID] = set
	}
	set[role] = struct{}{}
	e.memo.Purge()
}

// RevokeRole removes a role from a user.
func (e *Engine) RevokeRole(userID, role string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.userRoles[userID]; ok {
		delete(set, role)
		if len(set) == 0 {
			delete(e.userRoles, userID)
		}
	}
	e.memo.Purge()
}

// RolesOf returns the role names assigned to a user, sorted.
func (e *Engine) RolesOf(userID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := e.userRoles[userID]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetOverride records an explicit allow/deny for (user, command). Overrides
// win over every role-derived decision.
func (e *Engine) SetOverride(userID, commandName string, allow bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[overrideKey{User: userID, Command: commandName}] = allow
	e.memo.Purge()
}

// ClearOverride removes an override, if present.
func (e *Engine) ClearOverride(userID, commandName string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := overrideKey{User: userID, Command: commandName}
	if _, ok := e.overrides[k]; !ok {
		return false
	}
	delete(e.overrides, k)
	e.memo.Purge()
	return true
}

// Override returns the explicit decision for (user, command), when one
// exists.
func (e *Engine) Override(userID, commandName string) (allow, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	allow, ok = e.overrides[overrideKey{User: userID, Command: commandName}]
	return allow, ok
}

// HasPermission reports whether any of the user's roles, directly or through
// inheritance, carries the permission string. Results are memoized until the
// next mutation.
func (e *Engine) HasPermission(userID, perm string) bool {
	k := memoKey{User: userID, Perm: perm}
	if v, ok := e.memo.Get(k); ok {
		return v
	}

	e.mu.RLock()
	granted := false
	visited := make(map[string]struct{})
	for name := range e.userRoles[userID] {
		if e.roleGrants(name, perm, visited) {
			granted = true
			break
		}
	}
	e.mu.RUnlock()

	e.memo.Set(k, granted)
	return granted
}

// roleGrants walks a role and its parents. The visited set keeps inheritance
// cycles from recursing forever. Caller holds at least a read lock.
func (e *Engine) roleGrants(name, perm string, visited map[string]struct{}) bool {
	if _, seen := visited[name]; seen {
		return false
	}
	visited[name] = struct{}{}

	role, ok := e.roles[name]
	if !ok {
		return false
	}
	for _, p := range role.Permissions {
		if permMatches(p, perm) {
			return true
		}
	}
	for _, parent := range role.Parents {
		if e.roleGrants(parent, perm, visited) {
			return true
		}
	}
	return false
}

// permMatches reports whether the held permission string covers the wanted
// one. "*" covers everything; a trailing ".*" covers the prefix.
func permMatches(held, wanted string) bool {
	if held == wanted || held == "*" {
		return true
	}
	if strings.HasSuffix(held, ".*") {
		return strings.HasPrefix(wanted, held[:len(held)-1])
	}
	return false
}

// Invalidate flushes the memoized decisions. Mutating methods call this
// already; hosts only need it after bulk-loading state behind the engine's
// back.
func (e *Engine) Invalidate() {
	e.memo.Purge()
}

// MemoStats exposes the decision cache counters.
func (e *Engine) MemoStats() cache.Stats {
	return e.memo.Stats()
}
