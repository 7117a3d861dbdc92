package tools

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Hit is one scored chunk returned by a VectorSearcher.
type Hit struct {
	ID    string
	Score float32
	Text  string
}

// VectorSearcher finds the chunks nearest to a vector in a collection.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int, threshold float32) ([]Hit, error)
}

// DocSearch is semantic search over a pre-indexed document collection.
type DocSearch struct {
	name       string
	collection string
	embedder   Embedder
	searcher   VectorSearcher
	limit      int
	threshold  float32
}

// DocSearchOption configures a DocSearch.
type DocSearchOption func(*DocSearch)

// WithLimit sets how many chunks a query returns.
func WithLimit(n int) DocSearchOption {
	return func(d *DocSearch) {
		if n > 0 {
			d.limit = n
		}
	}
}

// WithScoreThreshold drops chunks scoring below threshold.
func WithScoreThreshold(threshold float32) DocSearchOption {
	return func(d *DocSearch) { d.threshold = threshold }
}

// NewDocSearch builds a document search tool.
func NewDocSearch(name, collection string, embedder Embedder, searcher VectorSearcher, opts ...DocSearchOption) *DocSearch {
	d := &DocSearch{
		name:       name,
		collection: collection,
		embedder:   embedder,
		searcher:   searcher,
		limit:      4,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func docSearchFactory(_ context.Context, spec Spec) (Built, error) {
	collection := stringOpt(spec.Options, "collection", "")
	if collection == "" {
		return Built{}, fmt.Errorf("docsearch requires a collection option")
	}
	searcher, err := NewQdrantSearcher(stringOpt(spec.Options, "qdrant_addr", "localhost:6334"),
		WithPayloadField(stringOpt(spec.Options, "payload_field", "text")))
	if err != nil {
		return Built{}, err
	}
	embedder := NewOllamaEmbedder(
		stringOpt(spec.Options, "ollama_url", ""),
		stringOpt(spec.Options, "embed_model", "nomic-embed-text"),
	)
	tool := NewDocSearch(spec.Name, collection, embedder, searcher,
		WithLimit(intOpt(spec.Options, "limit", 0)),
		WithScoreThreshold(float32(floatOpt(spec.Options, "score_threshold", 0))),
	)
	return Built{Tools: []core.Tool{tool}, Closer: searcher}, nil
}

func (d *DocSearch) Name() string { return d.name }

func (d *DocSearch) Description() string {
	return fmt.Sprintf("Semantic search over the indexed document collection %q. Returns the passages most relevant to the query.", d.collection)
}

func (d *DocSearch) Parameters() map[string]any {
	return queryParameters("Question or topic to look up in the document")
}

// Call embeds the query and returns the nearest passages, best first.
func (d *DocSearch) Call(ctx context.Context, args map[string]any) (string, error) {
	query, err := queryArg(args)
	if err != nil {
		return "", err
	}
	vector, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return "", d.classify(ctx, "embed query", err)
	}
	hits, err := d.searcher.Search(ctx, d.collection, vector, d.limit, d.threshold)
	if err != nil {
		return "", d.classify(ctx, "search collection", err)
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No passages in %q match %q.", d.collection, query), nil
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (score %.3f) %s", i+1, h.Score, strings.TrimSpace(h.Text))
	}
	return b.String(), nil
}

func (d *DocSearch) classify(ctx context.Context, op string, err error) error {
	if errors.IsToolError(err) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.ToolTimeout(d.name, fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ core.Tool       = (*DocSearch)(nil)
	_ core.ToolSchema = (*DocSearch)(nil)
)
