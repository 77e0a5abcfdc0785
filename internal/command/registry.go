package command

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Loggableim/chatcmd/internal/permission"
	"github.com/Loggableim/chatcmd/pkg/cache"
)

// lookupCacheSize bounds the hot-name lookup cache.
const lookupCacheSize = 50

// Stats is a snapshot of registry activity. Counters are tracked
// incrementally as operations happen, never recomputed on read.
type Stats struct {
	Commands        int
	Aliases         int
	Registrations   uint64
	Unregistrations uint64
	Lookups         uint64
	Executions      uint64
	Failures        uint64
	Usage           map[string]uint64
	LookupCache     cache.Stats
}

// Registry owns the command definitions for one engine instance. Lookups go
// through the alias resolver and a small LRU before touching the primary
// map. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Definition
	aliases  *AliasResolver
	lookup   *cache.LRU[string, *Definition]

	registrations   uint64
	unregistrations uint64
	lookups         uint64
	executions      uint64
	failures        uint64
	usage           map[string]uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	lookup, _ := cache.NewLRU[string, *Definition](lookupCacheSize)
	return &Registry{
		commands: make(map[string]*Definition),
		aliases:  NewAliasResolver(),
		lookup:   lookup,
		usage:    make(map[string]uint64),
	}
}

// Register validates, defaults and stores a definition. The name is
// normalized to lowercase. Returns false instead of an error when the
// definition is invalid, the name is taken by another plugin, or the name
// shadows an existing alias. Re-registering under the same plugin replaces
// the previous definition. Registration always enables the command; owners
// toggle it afterwards with SetEnabled.
func (r *Registry) Register(def *Definition) bool {
	if def == nil || def.Handler == nil {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(def.Name))
	plugin := strings.TrimSpace(def.Plugin)
	if name == "" || plugin == "" || strings.ContainsAny(name, " \t\n") {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Checked under r.mu so a concurrent RegisterAlias cannot slip the same
	// name in between the check and the store.
	if r.aliases.IsAlias(name) {
		return false
	}
	if existing, ok := r.commands[name]; ok && existing.Plugin != plugin {
		return false
	}

	def.Name = name
	def.Plugin = plugin
	if def.Description == "" {
		def.Description = "No description provided"
	}
	if def.Syntax == "" {
		def.Syntax = name
	}
	if def.Permission == "" {
		def.Permission = permission.All
	}
	if def.Category == "" {
		def.Category = "General"
	}
	if def.MinArgs < 0 {
		def.MinArgs = 0
	}
	if def.MaxArgs == 0 || def.MaxArgs < MaxArgsUnbounded {
		def.MaxArgs = MaxArgsUnbounded
	}
	def.Enabled = true

	r.commands[name] = def
	r.registrations++
	r.lookup.Remove(name)
	return true
}

// Unregister removes a command, but only for the plugin that owns it. The
// command's aliases are removed with it.
func (r *Registry) Unregister(name, plugin string) bool {
	name = strings.ToLower(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.commands[name]
	if !ok || def.Plugin != plugin {
		return false
	}
	r.dropLocked(name)
	return true
}

// UnregisterAll removes every command owned by plugin, returning the count.
func (r *Registry) UnregisterAll(plugin string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for name, def := range r.commands {
		if def.Plugin != plugin {
			continue
		}
		r.dropLocked(name)
		removed++
	}
	return removed
}

// Clear drops every command and alias. Used by hosts on shutdown/reload.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.commands {
		r.dropLocked(name)
	}
	r.lookup.Purge()
}

// dropLocked removes one command plus its aliases and cache entry. The
// lookup cache is keyed by canonical name only, so evicting that one key
// covers every alias too. Caller holds the write lock.
func (r *Registry) dropLocked(name string) {
	delete(r.commands, name)
	r.unregistrations++
	r.lookup.Remove(name)
	r.aliases.RemoveAll(name)
}

// Lookup resolves a name or alias to its definition. The alias resolver runs
// first, then the LRU cache, then the primary map; misses populate the
// cache.
func (r *Registry) Lookup(nameOrAlias string) (*Definition, bool) {
	name := strings.ToLower(strings.TrimSpace(nameOrAlias))
	canonical := r.aliases.Resolve(name)

	r.mu.Lock()
	r.lookups++
	r.mu.Unlock()

	if def, ok := r.lookup.Get(canonical); ok {
		return def, true
	}

	r.mu.RLock()
	def, ok := r.commands[canonical]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r.lookup.Set(canonical, def)
	return def, true
}

// RegisterAlias maps an alias to a known canonical command. Fails when the
// alias collides with an existing alias or command name, or when the
// canonical command is unknown.
func (r *Registry) RegisterAlias(alias, canonical string) error {
	alias = strings.ToLower(strings.TrimSpace(alias))
	canonical = strings.ToLower(strings.TrimSpace(canonical))

	// The whole check-and-register runs under r.mu so the alias/command
	// name spaces stay mutually exclusive against a concurrent Register.
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[alias]; ok {
		return fmt.Errorf("alias %q is already a registered command name", alias)
	}
	if _, ok := r.commands[canonical]; !ok {
		return fmt.Errorf("unknown command %q", canonical)
	}
	return r.aliases.Register(alias, canonical)
}

// RemoveAlias drops a single alias.
func (r *Registry) RemoveAlias(alias string) bool {
	return r.aliases.Remove(strings.ToLower(alias))
}

// AliasesOf lists the aliases of a command, sorted.
func (r *Registry) AliasesOf(name string) []string {
	return r.aliases.Of(name)
}

// Aliases returns the full alias map (alias -> canonical), for hosts that
// persist alias changes across restarts.
func (r *Registry) Aliases() map[string]string {
	out := make(map[string]string)
	r.aliases.mu.RLock()
	defer r.aliases.mu.RUnlock()
	for alias, canonical := range r.aliases.toCanonical {
		out[alias] = canonical
	}
	return out
}

// SetEnabled toggles a command, but only for the plugin that owns it.
func (r *Registry) SetEnabled(name, plugin string, enabled bool) bool {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.commands[name]
	if !ok || def.Plugin != plugin {
		return false
	}
	def.Enabled = enabled
	return true
}

// All returns every definition, sorted by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.commands))
	for _, def := range r.commands {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enabled returns every enabled definition, sorted by name.
func (r *Registry) Enabled() []*Definition {
	all := r.All()
	out := make([]*Definition, 0, len(all))
	for _, def := range all {
		if def.Enabled {
			out = append(out, def)
		}
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// RecordExecution updates usage counters after a handler ran. Called by the
// dispatcher.
func (r *Registry) RecordExecution(name string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions++
	if !success {
		r.failures++
	}
	r.usage[name]++
	if def, ok := r.commands[name]; ok {
		def.recordExec()
	}
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	usage := make(map[string]uint64, len(r.usage))
	for k, v := range r.usage {
		usage[k] = v
	}
	return Stats{
		Commands:        len(r.commands),
		Aliases:         r.aliases.Len(),
		Registrations:   r.registrations,
		Unregistrations: r.unregistrations,
		Lookups:         r.lookups,
		Executions:      r.executions,
		Failures:        r.failures,
		Usage:           usage,
		LookupCache:     r.lookup.Stats(),
	}
}

// Suggest returns the closest registered command name to input, for "did you
// mean" hints on unknown commands. Prefix matches win; otherwise the nearest
// name within edit distance two is offered. Empty when nothing is close.
func (r *Registry) Suggest(input string) string {
	input = strings.ToLower(input)
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := ""
	bestDist := 3 // only distances 0..2 qualify
	for name := range r.commands {
		if strings.HasPrefix(name, input) || strings.HasPrefix(input, name) {
			if bestDist > 0 || (best != "" && len(name) < len(best)) || best == "" {
				best, bestDist = name, 0
			}
			continue
		}
		if d := editDistance(input, name); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

// editDistance is plain Levenshtein over two short names.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
