// Package config loads the engine configuration from defaults, an optional
// YAML file, an optional profile overlay, environment variables and
// command-line overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/tools"
)

// EnvPrefix prefixes every environment override, e.g. REPLICATE_CREW_MAX_RPM.
const EnvPrefix = "REPLICATE_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Crew      CrewConfig      `koanf:"crew"`
	Agent     AgentConfig     `koanf:"agent"`
	Output    OutputConfig    `koanf:"output"`
	Audit     AuditConfig     `koanf:"audit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Tools     []tools.Spec    `koanf:"tools"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // openai, ollama
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
}

type CrewConfig struct {
	Process            string        `koanf:"process"`
	Memory             bool          `koanf:"memory"`
	Cache              bool          `koanf:"cache"`
	MaxRPM             int           `koanf:"max_rpm"`
	ShareCrew          bool          `koanf:"share_crew"`
	MemoryBudget       int           `koanf:"memory_budget"`
	MaxDelegationDepth int           `koanf:"max_delegation_depth"`
	RateLimitWait      time.Duration `koanf:"rate_limit_wait"`
	TaskRetry          int           `koanf:"task_retry"`
}

type AgentConfig struct {
	MaxIterations int           `koanf:"max_iterations"`
	LLMRetries    int           `koanf:"llm_retries"`
	LLMTimeout    time.Duration `koanf:"llm_timeout"`
	ToolRetries   int           `koanf:"tool_retries"`
	ToolTimeout   time.Duration `koanf:"tool_timeout"`
}

type OutputConfig struct {
	Dir string `koanf:"dir"`
}

type AuditConfig struct {
	// SQLitePath enables the SQLite audit store when set.
	SQLitePath string `koanf:"sqlite_path"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Options selects the sources Load reads.
type Options struct {
	Path    string
	Profile string
	// Set holds key=value overrides applied last, e.g. "crew.max_rpm=5".
	Set []string
}

var defaults = map[string]any{
	"log.level":                 "info",
	"log.format":                "text",
	"llm.provider":              "openai",
	"llm.model":                 "gpt-4o",
	"llm.temperature":           0.0,
	"llm.base_url":              "",
	"crew.process":              "sequential",
	"crew.memory":               true,
	"crew.cache":                true,
	"crew.max_rpm":              10,
	"crew.share_crew":           false,
	"crew.memory_budget":        8000,
	"crew.max_delegation_depth": 3,
	"crew.rate_limit_wait":      "2m",
	"crew.task_retry":           1,
	"agent.max_iterations":      10,
	"agent.llm_retries":         3,
	"agent.llm_timeout":         "2m",
	"agent.tool_retries":        2,
	"agent.tool_timeout":        "1m",
	"output.dir":                ".",
	"audit.sqlite_path":         "",
	"telemetry.enabled":         false,
	"telemetry.exporter":        "stdout",
	"telemetry.otlp_endpoint":   "localhost:4317",
	"telemetry.otlp_insecure":   true,
}

// Load reads path (optional) plus environment overrides.
func Load(path string) (*Config, error) {
	return LoadWithOptions(Options{Path: path})
}

// LoadWithOptions reads every source named by opts into a validated Config.
func LoadWithOptions(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeConfig, "set default "+key, err)
		}
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeConfig, "load "+opts.Path, err)
		}
		if opts.Profile != "" {
			profilePath := ProfileConfigPath(opts.Path, opts.Profile)
			if _, err := os.Stat(profilePath); err == nil {
				if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
					return nil, errors.New(errors.CodeConfig, "load "+profilePath, err)
				}
			}
		}
	}

	// REPLICATE_CREW_MAX_RPM -> crew.max_rpm: the first underscore separates
	// the section, the rest belong to the key.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.New(errors.CodeConfig, "load environment", err)
	}

	for _, kv := range opts.Set {
		key, value, err := ParseOverride(kv)
		if err != nil {
			return nil, err
		}
		if err := k.Set(key, value); err != nil {
			return nil, errors.New(errors.CodeConfig, "override "+key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeConfig, "decode configuration", err)
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider == "openai" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// ParseOverride splits a key=value override. The value is decoded as YAML so
// numbers, booleans, durations and inline maps keep their types.
func ParseOverride(kv string) (string, any, error) {
	key, raw, ok := strings.Cut(kv, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.Newf(errors.CodeConfig, "invalid override %q, expected key=value", kv)
	}
	var value any
	if err := yamlv3.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}
	return key, value, nil
}

// ProfileConfigPath returns the overlay file for profile next to path:
// config.yaml with profile "dev" becomes config.dev.yaml.
func ProfileConfigPath(path, profile string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case !telemetry.ValidLevel(c.Log.Level):
		return errors.Newf(errors.CodeConfig, "log.level %q is not valid", c.Log.Level)
	case !telemetry.ValidFormat(c.Log.Format):
		return errors.Newf(errors.CodeConfig, "log.format %q is not valid", c.Log.Format)
	case c.LLM.Provider != "openai" && c.LLM.Provider != "ollama":
		return errors.Newf(errors.CodeConfig, "llm.provider %q is not supported (openai, ollama)", c.LLM.Provider)
	case c.LLM.Model == "":
		return errors.Newf(errors.CodeConfig, "llm.model is required")
	case c.Crew.MaxRPM < 0:
		return errors.Newf(errors.CodeConfig, "crew.max_rpm must not be negative")
	case c.Crew.TaskRetry < 0:
		return errors.Newf(errors.CodeConfig, "crew.task_retry must not be negative")
	case c.Agent.MaxIterations < 0:
		return errors.Newf(errors.CodeConfig, "agent.max_iterations must not be negative")
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp", "none":
	default:
		return errors.Newf(errors.CodeConfig, "telemetry.exporter %q is not valid", c.Telemetry.Exporter)
	}
	return nil
}

// TelemetryConfig converts the section into the telemetry package's config.
func (c TelemetryConfig) SDK() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		Exporter:     c.Exporter,
		OTLPEndpoint: c.OTLPEndpoint,
		OTLPInsecure: c.OTLPInsecure,
	}
}

func (c LLMConfig) String() string {
	return fmt.Sprintf("%s/%s", c.Provider, c.Model)
}
