// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package replace

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// =============================================================================
// RULE TYPES
// =============================================================================

// RuleSpec is a rewrite rule as submitted by the user or read from config.
type RuleSpec struct {
	Pattern     string `json:"pattern" toml:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement" toml:"replacement" yaml:"replacement"`
	Flags       string `json:"flags,omitempty" toml:"flags,omitempty" yaml:"flags,omitempty"`
}

// Rule is a compiled rewrite rule.
type Rule struct {
	spec    RuleSpec
	pattern *regexp.Regexp
}

// Spec returns the spec the rule was compiled from.
func (r Rule) Spec() RuleSpec {
	return r.spec
}

// Apply replaces every match of the rule in text. Replacement templates expand
// $1, ${1}, $name and ${name}.
func (r Rule) Apply(text string) string {
	return r.pattern.ReplaceAllString(text, r.spec.Replacement)
}

// =============================================================================
// COMPILATION
// =============================================================================

// Compile compiles a single rule. Flag letters are translated into an inline
// flag group; unknown letters are ignored.
func Compile(spec RuleSpec) (Rule, error) {
	pattern := spec.Pattern
	var inline strings.Builder
	for _, f := range spec.Flags {
		switch f {
		case 'i', 'I':
			addFlag(&inline, 'i')
		case 'm', 'M':
			addFlag(&inline, 'm')
		case 's', 'S':
			addFlag(&inline, 's')
		case 'U':
			addFlag(&inline, 'U')
		case 'x', 'X':
			pattern = stripExtended(pattern)
		}
	}

	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compile %q: %w", spec.Pattern, err)
	}
	return Rule{spec: spec, pattern: re}, nil
}

func addFlag(b *strings.Builder, f byte) {
	if !strings.ContainsRune(b.String(), rune(f)) {
		b.WriteByte(f)
	}
}

// stripExtended removes insignificant whitespace and #-comments from a
// pattern written in extended mode. Escaped characters survive untouched, so
// `\ ` and `\#` still match a literal space and hash.
func stripExtended(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\':
			b.WriteRune(r)
			if i+1 < len(runes) {
				i++
				b.WriteRune(runes[i])
			}
		case r == '#':
			for i+1 < len(runes) && runes[i+1] != '\n' {
				i++
			}
		case unicode.IsSpace(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
