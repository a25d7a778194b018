package conversion

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const maxToolNameLen = 64

var (
	validToolName   = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	invalidToolRune = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// toolNameMap rewrites tool names that OpenAI-style upstreams reject. forward maps
// client names to upstream names; inverse maps them back.
type toolNameMap struct {
	forward map[string]string
	inverse map[string]string
}

func newToolNameMap(names []string) toolNameMap {
	m := toolNameMap{forward: map[string]string{}, inverse: map[string]string{}}
	taken := map[string]bool{}
	for _, name := range names {
		if validToolName.MatchString(name) {
			taken[name] = true
		}
	}
	for _, name := range names {
		if validToolName.MatchString(name) {
			continue
		}
		if _, done := m.forward[name]; done {
			continue
		}
		safe := invalidToolRune.ReplaceAllString(name, "_")
		if safe == "" || len(safe) > maxToolNameLen || taken[safe] {
			safe = hashedToolName(safe, name)
		}
		taken[safe] = true
		m.forward[name] = safe
		m.inverse[safe] = name
	}
	return m
}

// hashedToolName keeps a readable prefix and disambiguates with a digest of the
// original name.
func hashedToolName(safe, original string) string {
	sum := sha256.Sum256([]byte(original))
	suffix := "_" + hex.EncodeToString(sum[:4])
	prefix := strings.Trim(safe, "_")
	if limit := maxToolNameLen - len(suffix); len(prefix) > limit {
		prefix = prefix[:limit]
	}
	if prefix == "" {
		prefix = "tool"
	}
	return prefix + suffix
}

func (m toolNameMap) upstream(name string) string {
	if mapped, ok := m.forward[name]; ok {
		return mapped
	}
	return name
}

// restoreToolName returns the client's name for an upstream tool name.
func restoreToolName(inverse map[string]string, name string) string {
	if original, ok := inverse[name]; ok {
		return original
	}
	return name
}
