// Package template resolves {placeholder} slots in agent and task text.
//
// A placeholder is an identifier wrapped in single braces, e.g. {measure}.
// Anything else in braces (JSON snippets, empty braces, spaced words) is left
// untouched so prompts can carry literal examples.
package template

import (
	"regexp"
	"sort"
)

var placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_\-]*)\}`)

// Placeholders returns the distinct placeholder names in text, in order of first appearance.
func Placeholders(text string) []string {
	matches := placeholderRE.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Collect gathers the distinct placeholders used across all texts, sorted.
func Collect(texts ...string) []string {
	seen := make(map[string]bool)
	for _, text := range texts {
		for _, name := range Placeholders(text) {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Missing returns the sorted placeholders in required that inputs does not define.
func Missing(required []string, inputs map[string]string) []string {
	var out []string
	for _, name := range required {
		if _, ok := inputs[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Interpolate replaces every known placeholder with its input value.
// Unknown placeholders are kept verbatim; callers validate with Missing first.
func Interpolate(text string, inputs map[string]string) string {
	if len(inputs) == 0 {
		return text
	}
	return placeholderRE.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := inputs[name]; ok {
			return value
		}
		return match
	})
}
