package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o" {
		t.Errorf("unexpected llm defaults %s", cfg.LLM)
	}
	if !cfg.Crew.Memory || !cfg.Crew.Cache || cfg.Crew.MaxRPM != 10 {
		t.Errorf("unexpected crew defaults %+v", cfg.Crew)
	}
	if cfg.Crew.RateLimitWait != 2*time.Minute || cfg.Agent.ToolTimeout != time.Minute {
		t.Errorf("unexpected duration defaults %v %v", cfg.Crew.RateLimitWait, cfg.Agent.ToolTimeout)
	}
	if cfg.Crew.MaxDelegationDepth != 3 || cfg.Crew.MemoryBudget != 8000 || cfg.Crew.TaskRetry != 1 {
		t.Errorf("unexpected crew limits %+v", cfg.Crew)
	}
	if cfg.Telemetry.Enabled {
		t.Errorf("telemetry must be off by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "config.yaml", `
llm:
  provider: ollama
  model: llama3.1
  base_url: http://localhost:11434
crew:
  max_rpm: 0
  rate_limit_wait: 30s
agent:
  max_iterations: 4
output:
  dir: out
tools:
  - name: paper
    kind: textsearch
    options:
      path: paper.txt
      max_results: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("unexpected llm %+v", cfg.LLM)
	}
	if cfg.Crew.MaxRPM != 0 || cfg.Crew.RateLimitWait != 30*time.Second {
		t.Errorf("unexpected crew %+v", cfg.Crew)
	}
	if cfg.Agent.MaxIterations != 4 || cfg.Output.Dir != "out" {
		t.Errorf("unexpected agent/output %+v %+v", cfg.Agent, cfg.Output)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0].Kind != "textsearch" || cfg.Tools[0].Options["path"] != "paper.txt" {
		t.Fatalf("unexpected tools %+v", cfg.Tools)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("REPLICATE_LLM_PROVIDER", "ollama")
	t.Setenv("REPLICATE_CREW_MAX_RPM", "25")
	t.Setenv("REPLICATE_AUDIT_SQLITE_PATH", "/tmp/audit.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("expected provider ollama from env, got %s", cfg.LLM.Provider)
	}
	if cfg.Crew.MaxRPM != 25 {
		t.Errorf("expected max_rpm 25 from env, got %d", cfg.Crew.MaxRPM)
	}
	if cfg.Audit.SQLitePath != "/tmp/audit.db" {
		t.Errorf("expected audit path from env, got %q", cfg.Audit.SQLitePath)
	}
}

func TestOpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected api key from OPENAI_API_KEY")
	}
}

func TestLoadWithProfileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	base := writeConfig(t, dir, "config.yaml", `
llm:
  model: gpt-4o
log:
  level: info
`)
	writeConfig(t, dir, "config.dev.yaml", `
log:
  level: debug
crew:
  cache: false
`)

	tests := []struct {
		name      string
		opts      Options
		wantLevel string
		wantCache bool
		wantRPM   int
	}{
		{"base only", Options{Path: base}, "info", true, 10},
		{"dev profile", Options{Path: base, Profile: "dev"}, "debug", false, 10},
		{"missing profile file is ignored", Options{Path: base, Profile: "prod"}, "info", true, 10},
		{"overrides win", Options{Path: base, Profile: "dev", Set: []string{"log.level=warn", "crew.max_rpm=3"}}, "warn", false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithOptions(tt.opts)
			if err != nil {
				t.Fatalf("LoadWithOptions failed: %v", err)
			}
			if cfg.Log.Level != tt.wantLevel || cfg.Crew.Cache != tt.wantCache || cfg.Crew.MaxRPM != tt.wantRPM {
				t.Fatalf("got level=%s cache=%v rpm=%d", cfg.Log.Level, cfg.Crew.Cache, cfg.Crew.MaxRPM)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		opts Options
	}{
		{"missing file", Options{Path: filepath.Join(dir, "nope.yaml")}},
		{"bad yaml", Options{Path: writeConfig(t, dir, "bad.yaml", "llm: [")}},
		{"bad provider", Options{Set: []string{"llm.provider=anthropic"}}},
		{"bad level", Options{Set: []string{"log.level=loud"}}},
		{"negative rpm", Options{Set: []string{"crew.max_rpm=-1"}}},
		{"bad exporter", Options{Set: []string{"telemetry.exporter=zipkin"}}},
		{"bad override", Options{Set: []string{"novalue"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithOptions(tt.opts)
			if !stderrors.Is(err, errors.ErrConfig) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
		})
	}
}

func TestParseOverride(t *testing.T) {
	tests := []struct {
		in    string
		key   string
		value any
	}{
		{"crew.max_rpm=5", "crew.max_rpm", 5},
		{"crew.memory=false", "crew.memory", false},
		{"llm.model=gpt-4o", "llm.model", "gpt-4o"},
		{"output.dir=", "output.dir", ""},
		{" log.level = debug", "log.level", "debug"},
	}
	for _, tt := range tests {
		key, value, err := ParseOverride(tt.in)
		if err != nil {
			t.Fatalf("%s: %v", tt.in, err)
		}
		if key != tt.key || value != tt.value {
			t.Errorf("%s: got %s=%v (%T)", tt.in, key, value, value)
		}
	}
}

func TestProfileConfigPath(t *testing.T) {
	if got := ProfileConfigPath("/etc/replicate/config.yaml", "dev"); got != "/etc/replicate/config.dev.yaml" {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ProfileConfigPath("config", "prod"); got != "config.prod" {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestTelemetrySDKConfig(t *testing.T) {
	tc := TelemetryConfig{Enabled: true, Exporter: "otlp", OTLPEndpoint: "collector:4317"}.SDK()
	if !tc.Enabled || tc.Exporter != "otlp" || tc.OTLPEndpoint != "collector:4317" {
		t.Fatalf("unexpected telemetry config %+v", tc)
	}
}
