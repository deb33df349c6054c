// Package services holds the pipeline's pure decision logic.
package services

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultTagPattern triggers on any tag containing a dot
const DefaultTagPattern = "*.*"

const tagRefPrefix = "refs/tags/"

// TriggerGate decides whether a pushed ref starts the pipeline.
// Patterns follow CI filter globs: "*" stops at "/", "**" does not.
type TriggerGate struct {
	patterns []string
}

// NewTriggerGate validates patterns; an empty list means DefaultTagPattern
func NewTriggerGate(patterns []string) (*TriggerGate, error) {
	if len(patterns) == 0 {
		patterns = []string{DefaultTagPattern}
	}
	for _, p := range patterns {
		if p == "" || !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid tag pattern %q", p)
		}
	}
	return &TriggerGate{patterns: patterns}, nil
}

// Patterns returns the configured tag filters
func (g *TriggerGate) Patterns() []string {
	return g.patterns
}

// TagFromRef extracts the tag name from a ref path.
// Bare names are taken as tags; any other refs/ path is not a tag.
func TagFromRef(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, tagRefPrefix):
		tag := strings.TrimPrefix(ref, tagRefPrefix)
		return tag, tag != ""
	case strings.HasPrefix(ref, "refs/"):
		return "", false
	default:
		return ref, ref != ""
	}
}

// Evaluate returns the tag carried by ref and whether it activates the pipeline
func (g *TriggerGate) Evaluate(ref string) (string, bool) {
	tag, ok := TagFromRef(ref)
	if !ok {
		return "", false
	}

	for _, pattern := range g.patterns {
		matched, err := doublestar.Match(pattern, tag)
		if err == nil && matched {
			return tag, true
		}
	}
	return tag, false
}
