// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools builds the configured tool variants agents can use.
package tools

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

// Kinds understood by the default registry.
const (
	KindTextSearch = "textsearch"
	KindDocSearch  = "docsearch"
	KindMCP        = "mcp"
)

// Spec describes one configured tool entry.
type Spec struct {
	Name    string         `koanf:"name" yaml:"name"`
	Kind    string         `koanf:"kind" yaml:"kind"`
	Options map[string]any `koanf:"options" yaml:"options"`
}

// Built is what a factory produces: the tools and an optional resource to release.
type Built struct {
	Tools  []core.Tool
	Closer io.Closer
}

// Factory constructs the tools for a spec.
type Factory func(ctx context.Context, spec Spec) (Built, error)

// Registry maps tool kinds to factories and owns the resources of built tools.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	closers   []io.Closer
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFactory registers or replaces the factory for kind.
func WithFactory(kind string, f Factory) Option {
	return func(r *Registry) {
		r.factories[kind] = f
	}
}

// NewRegistry returns a registry with the textsearch, docsearch and mcp kinds.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		factories: map[string]Factory{
			KindTextSearch: textSearchFactory,
			KindDocSearch:  docSearchFactory,
			KindMCP:        mcpFactory,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build constructs every spec and returns the tools keyed by spec name.
// On failure the resources built so far are released.
func (r *Registry) Build(ctx context.Context, specs []Spec) (map[string][]core.Tool, error) {
	out := make(map[string][]core.Tool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			r.Close()
			return nil, errors.Newf(errors.CodeConfig, "tool spec of kind %q has no name", spec.Kind)
		}
		if _, dup := out[spec.Name]; dup {
			r.Close()
			return nil, errors.Newf(errors.CodeConfig, "tool %q defined twice", spec.Name)
		}
		r.mu.Lock()
		factory, ok := r.factories[strings.ToLower(spec.Kind)]
		r.mu.Unlock()
		if !ok {
			r.Close()
			return nil, errors.Newf(errors.CodeConfig, "tool %q: unknown kind %q", spec.Name, spec.Kind)
		}
		built, err := factory(ctx, spec)
		if err != nil {
			r.Close()
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("tool %q", spec.Name), err)
		}
		if built.Closer != nil {
			r.mu.Lock()
			r.closers = append(r.closers, built.Closer)
			r.mu.Unlock()
		}
		r.logger.Debug("tools.built", slog.String("tool", spec.Name), slog.String("kind", spec.Kind), slog.Int("count", len(built.Tools)))
		out[spec.Name] = built.Tools
	}
	return out, nil
}

// Close releases every resource held by built tools.
func (r *Registry) Close() error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func stringOpt(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intOpt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func floatOpt(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func durationOpt(opts map[string]any, key string, def time.Duration) time.Duration {
	switch v := opts[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case time.Duration:
		return v
	}
	return def
}

func stringsOpt(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// queryArg extracts the free-text query argument shared by the search tools.
func queryArg(args map[string]any) (string, error) {
	for _, key := range []string{"query", "search_query", "input"} {
		if v, ok := args[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", stderrors.New("a non-empty query argument is required")
}

func queryParameters(desc string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": desc},
		},
		"required": []string{"query"},
	}
}
