// Package permission decides whether a chat user may run a command. Two
// models are available: a fixed role hierarchy used by every deployment, and
// an optional custom-role engine with inheritance, wildcard permission
// strings and explicit per-user overrides layered on top.
package permission

// Level is a role in the fixed hierarchy.
type Level string

const (
	All         Level = "all"
	Subscriber  Level = "subscriber"
	VIP         Level = "vip"
	Moderator   Level = "moderator"
	Broadcaster Level = "broadcaster"
)

// hierarchy orders levels from least to most privileged.
var hierarchy = []Level{All, Subscriber, VIP, Moderator, Broadcaster}

var hierarchyIndex = func() map[Level]int {
	m := make(map[Level]int, len(hierarchy))
	for i, l := range hierarchy {
		m[l] = i
	}
	return m
}()

// Valid reports whether l is a known hierarchy level.
func Valid(l Level) bool {
	_, ok := hierarchyIndex[l]
	return ok
}

// Check reports whether role meets or exceeds required in the fixed
// hierarchy. Unknown roles fall back to strict equality.
func Check(role, required Level) bool {
	ri, ok1 := hierarchyIndex[role]
	qi, ok2 := hierarchyIndex[required]
	if !ok1 || !ok2 {
		return role == required
	}
	return ri >= qi
}

// Levels returns the hierarchy from least to most privileged.
func Levels() []Level {
	out := make([]Level, len(hierarchy))
	copy(out, hierarchy)
	return out
}
