package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

const defaultTextSearchResults = 3

// TextSearch answers keyword queries with the best matching paragraphs of a
// local UTF-8 text file.
type TextSearch struct {
	name       string
	path       string
	maxResults int
}

// NewTextSearch builds a text search tool over path.
func NewTextSearch(name, path string, maxResults int) *TextSearch {
	if maxResults <= 0 {
		maxResults = defaultTextSearchResults
	}
	return &TextSearch{name: name, path: path, maxResults: maxResults}
}

func textSearchFactory(_ context.Context, spec Spec) (Built, error) {
	path := stringOpt(spec.Options, "path", "")
	if path == "" {
		return Built{}, fmt.Errorf("textsearch requires a path option")
	}
	return Built{Tools: []core.Tool{NewTextSearch(spec.Name, path, intOpt(spec.Options, "max_results", 0))}}, nil
}

func (t *TextSearch) Name() string { return t.name }

func (t *TextSearch) Description() string {
	return fmt.Sprintf("Searches the document %s for paragraphs matching the query keywords.", t.path)
}

func (t *TextSearch) Parameters() map[string]any {
	return queryParameters("Keywords to look for in the document")
}

// Call returns up to maxResults paragraphs ranked by keyword hits.
// An unreadable file is reported as a permanent tool failure.
func (t *TextSearch) Call(ctx context.Context, args map[string]any) (string, error) {
	query, err := queryArg(args)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return "", errors.ToolUnavailable(t.name, err)
	}

	terms := keywords(query)
	type match struct {
		idx   int
		score int
		text  string
	}
	var matches []match
	for i, para := range paragraphs(strings.ToValidUTF8(string(data), "")) {
		lower := strings.ToLower(para)
		score := 0
		for _, term := range terms {
			score += strings.Count(lower, term)
		}
		if score > 0 {
			matches = append(matches, match{idx: i, score: score, text: para})
		}
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No paragraphs in %s match %q.", t.path, query), nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].idx < matches[j].idx
	})
	if len(matches) > t.maxResults {
		matches = matches[:t.maxResults]
	}
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = m.text
	}
	return strings.Join(parts, "\n\n---\n\n"), nil
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// keywords lowercases the query and drops words shorter than three letters.
func keywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		return fields
	}
	return out
}

var (
	_ core.Tool       = (*TextSearch)(nil)
	_ core.ToolSchema = (*TextSearch)(nil)
)
