// Package trigger decides whether a chat message is addressed to the model.
package trigger

import "strings"

// DefaultPrefixes are checked in order; the first match wins.
var DefaultPrefixes = []string{"!llm", "ask llm"}

// Match is the result of checking a message against the prefix list.
type Match struct {
	Matched   bool
	Prefix    string // the configured prefix that matched
	Remainder string // text after the prefix, whitespace trimmed
}

// Matcher holds an ordered, immutable prefix list. It is safe for concurrent use.
type Matcher struct {
	prefixes []string
}

// New builds a Matcher. Blank prefixes are dropped; nil means DefaultPrefixes.
func New(prefixes []string) *Matcher {
	if prefixes == nil {
		prefixes = DefaultPrefixes
	}
	m := &Matcher{prefixes: make([]string, 0, len(prefixes))}
	for _, p := range prefixes {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m.prefixes = append(m.prefixes, p)
	}
	return m
}

// Prefixes returns a copy of the prefix list in match order.
func (m *Matcher) Prefixes() []string {
	return append([]string(nil), m.prefixes...)
}

// Match reports whether text starts with one of the prefixes, ignoring case.
// Matching is a plain prefix test: "!llmfoo" matches "!llm" with remainder "foo".
func (m *Matcher) Match(text string) Match {
	text = strings.TrimSpace(text)
	for _, p := range m.prefixes {
		if len(text) < len(p) || !strings.EqualFold(text[:len(p)], p) {
			continue
		}
		return Match{
			Matched:   true,
			Prefix:    p,
			Remainder: strings.TrimSpace(text[len(p):]),
		}
	}
	return Match{}
}
