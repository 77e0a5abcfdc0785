package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AliasResolver maps alternate names to canonical command names. The mapping
// is kept in both directions so a command's aliases can be listed and bulk
// removed when it is unregistered. Safe for concurrent use.
type AliasResolver struct {
	mu          sync.RWMutex
	toCanonical map[string]string
	byCanonical map[string]map[string]struct{}
}

// NewAliasResolver creates an empty resolver.
func NewAliasResolver() *AliasResolver {
	return &AliasResolver{
		toCanonical: make(map[string]string),
		byCanonical: make(map[string]map[string]struct{}),
	}
}

// Register maps alias to canonical. Fails if the alias is already taken.
// Names are normalized to lowercase.
func (a *AliasResolver) Register(alias, canonical string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	canonical = strings.ToLower(strings.TrimSpace(canonical))
	if alias == "" || canonical == "" {
		return fmt.Errorf("alias and canonical name are required")
	}
	if alias == canonical {
		return fmt.Errorf("alias %q cannot point at itself", alias)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.toCanonical[alias]; ok {
		return fmt.Errorf("alias %q already resolves to %q", alias, existing)
	}
	a.toCanonical[alias] = canonical
	set, ok := a.byCanonical[canonical]
	if !ok {
		set = make(map[string]struct{})
		a.byCanonical[canonical] = set
	}
	set[alias] = struct{}{}
	return nil
}

// Resolve returns the canonical name for name, or name itself when no alias
// is registered.
func (a *AliasResolver) Resolve(name string) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if canonical, ok := a.toCanonical[name]; ok {
		return canonical
	}
	return name
}

// IsAlias reports whether name is a registered alias.
func (a *AliasResolver) IsAlias(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.toCanonical[name]
	return ok
}

// Remove drops a single alias.
func (a *AliasResolver) Remove(alias string) bool {
	alias = strings.ToLower(alias)
	a.mu.Lock()
	defer a.mu.Unlock()
	canonical, ok := a.toCanonical[alias]
	if !ok {
		return false
	}
	delete(a.toCanonical, alias)
	if set, ok := a.byCanonical[canonical]; ok {
		delete(set, alias)
		if len(set) == 0 {
			delete(a.byCanonical, canonical)
		}
	}
	return true
}

// RemoveAll drops every alias of a canonical name, returning how many were
// removed. Used when the command itself is unregistered.
func (a *AliasResolver) RemoveAll(canonical string) int {
	canonical = strings.ToLower(canonical)
	a.mu.Lock()
	defer a.mu.Unlock()
	set, ok := a.byCanonical[canonical]
	if !ok {
		return 0
	}
	for alias := range set {
		delete(a.toCanonical, alias)
	}
	delete(a.byCanonical, canonical)
	return len(set)
}

// Of returns the aliases of a canonical name, sorted.
func (a *AliasResolver) Of(canonical string) []string {
	canonical = strings.ToLower(canonical)
	a.mu.RLock()
	defer a.mu.RUnlock()
	set := a.byCanonical[canonical]
	out := make([]string, 0, len(set))
	for alias := range set {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered aliases.
func (a *AliasResolver) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.toCanonical)
}
