// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package crewfile loads crew definitions (agents, tasks and crew settings)
// from YAML and assembles them into a runnable crew.
package crewfile

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

//go:embed default.yaml
var defaultCrew []byte

// File is the YAML crew definition.
type File struct {
	Crew   Settings    `yaml:"crew"`
	Agents []AgentSpec `yaml:"agents"`
	Tasks  []TaskSpec  `yaml:"tasks"`
}

// Settings override the configured crew defaults when set.
type Settings struct {
	Process   *string `yaml:"process"`
	Memory    *bool   `yaml:"memory"`
	Cache     *bool   `yaml:"cache"`
	MaxRPM    *int    `yaml:"max_rpm"`
	ShareCrew *bool   `yaml:"share_crew"`
}

type AgentSpec struct {
	ID              string   `yaml:"id"`
	Role            string   `yaml:"role"`
	Goal            string   `yaml:"goal"`
	Backstory       string   `yaml:"backstory"`
	Tools           []string `yaml:"tools"`
	AllowDelegation bool     `yaml:"allow_delegation"`
	Memory          *bool    `yaml:"memory"`
	Verbose         bool     `yaml:"verbose"`
	Model           string   `yaml:"model"`
	Temperature     *float64 `yaml:"temperature"`
	MaxIterations   int      `yaml:"max_iterations"`
}

type TaskSpec struct {
	ID             string   `yaml:"id"`
	Agent          string   `yaml:"agent"`
	Description    string   `yaml:"description"`
	ExpectedOutput string   `yaml:"expected_output"`
	Tools          []string `yaml:"tools"`
	Context        []string `yaml:"context"`
	OutputFile     string   `yaml:"output_file"`
	AsyncExecution bool     `yaml:"async_execution"`
	Timeout        string   `yaml:"timeout"`
}

// Default returns the embedded replication crew.
func Default() *File {
	f, err := Parse(defaultCrew)
	if err != nil {
		panic(fmt.Sprintf("embedded crew definition is invalid: %v", err))
	}
	return f
}

// Load reads and parses the crew definition at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "read crew file "+path, err)
	}
	return Parse(data)
}

// Parse decodes a crew definition. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, errors.New(errors.CodeConfig, "parse crew file", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references between agents and tasks.
func (f *File) Validate() error {
	if len(f.Agents) == 0 {
		return errors.Newf(errors.CodeConfig, "crew file defines no agents")
	}
	if len(f.Tasks) == 0 {
		return errors.Newf(errors.CodeConfig, "crew file defines no tasks")
	}
	agents := make(map[string]bool, len(f.Agents))
	for i, a := range f.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return errors.Newf(errors.CodeConfig, "agent #%d has no id", i+1)
		}
		if agents[a.ID] {
			return errors.Newf(errors.CodeConfig, "agent %q defined twice", a.ID)
		}
		agents[a.ID] = true
	}
	tasks := make(map[string]bool, len(f.Tasks))
	for i, t := range f.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return errors.Newf(errors.CodeConfig, "task #%d has no id", i+1)
		}
		if tasks[t.ID] {
			return errors.Newf(errors.CodeConfig, "task %q defined twice", t.ID)
		}
		if !agents[t.Agent] {
			return errors.Newf(errors.CodeConfig, "task %q: unknown agent %q", t.ID, t.Agent).WithTask(t.ID, "")
		}
		for _, dep := range t.Context {
			if !tasks[dep] {
				return errors.Newf(errors.CodeConfig, "task %q: context %q must name an earlier task", t.ID, dep).WithTask(t.ID, "")
			}
		}
		if t.Timeout != "" {
			if d, err := time.ParseDuration(t.Timeout); err != nil || d < 0 {
				return errors.Newf(errors.CodeConfig, "task %q: invalid timeout %q", t.ID, t.Timeout).WithTask(t.ID, "")
			}
		}
		tasks[t.ID] = true
	}
	return nil
}

// ToolNames lists every tool name referenced by agents and tasks, in first-use order.
func (f *File) ToolNames() []string {
	seen := map[string]bool{}
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	for _, a := range f.Agents {
		add(a.Tools)
	}
	for _, t := range f.Tasks {
		add(t.Tools)
	}
	return out
}
