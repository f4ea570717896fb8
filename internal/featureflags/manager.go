// Package featureflags toggles request kinds on and off from configuration.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Manager evaluates flags defined in a simple key=value list.
// Example: "loa=on,appeal=off,review=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := normalize(parts[0])
		value := normalize(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for a member. Unset flags
// evaluate to def.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic per-member rollout, e.g. 25%)
func (m *Manager) Enabled(name, memberID string, def bool) bool {
	if m == nil {
		return def
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return def
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	if strings.HasSuffix(value, "%") {
		pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
		if err != nil || pct <= 0 {
			return false
		}
		if pct >= 100 {
			return true
		}
		if memberID == "" {
			return false
		}
		return rolloutBucket(name, memberID) < pct
	}

	return false
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	if m == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot evaluates the given names for one member, defaulting unset flags to def.
func (m *Manager) Snapshot(memberID string, names []string, def bool) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[normalize(name)] = m.Enabled(name, memberID, def)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, memberID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + memberID))
	return int(h.Sum32() % 100)
}
