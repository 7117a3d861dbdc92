package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/core"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/crewfile"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/tools"
)

func newValidateCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration, crew definition and inputs without calling any model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate(opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.crewPath, "crew", "", "crew definition (YAML); the built-in replication crew when empty")
	f.StringArrayVarP(&opts.inputs, "input", "i", nil, "kickoff input (name=value), repeatable")
	f.StringVar(&opts.paper, "paper", "", "text file searched by the \"paper\" tool when it is not configured")
	return cmd
}

// validate builds the crew with inert stand-ins for its tools, so no MCP
// server is spawned and no vector store is contacted.
func (a *app) validate(opts runOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	file, err := loadCrew(opts.crewPath)
	if err != nil {
		return err
	}
	inputs, err := parseInputs(opts.inputs)
	if err != nil {
		return err
	}
	specs, err := selectToolSpecs(cfg.Tools, file.ToolNames(), opts.paper)
	if err != nil {
		return err
	}
	kinds := tools.NewRegistry().Kinds()
	standIns := make(map[string][]core.Tool, len(specs))
	for _, spec := range specs {
		if i := sort.SearchStrings(kinds, strings.ToLower(spec.Kind)); i == len(kinds) || kinds[i] != strings.ToLower(spec.Kind) {
			return errors.Newf(errors.CodeConfig, "tool %q: unknown kind %q", spec.Name, spec.Kind)
		}
		standIns[spec.Name] = []core.Tool{inertTool(spec.Name)}
	}

	provider, err := a.newProvider(cfg.LLM)
	if err != nil {
		return err
	}
	c, err := crewfile.Build(file, crewfile.Env{
		Provider: provider,
		LLM:      cfg.LLM,
		Agent:    cfg.Agent,
		Crew:     cfg.Crew,
		Tools:    standIns,
	})
	if err != nil {
		return err
	}

	required := c.RequiredInputs()
	if len(inputs) > 0 || len(required) == 0 {
		if err := c.ValidateInputs(inputs); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.out, "crew ok: %d agents, %d tasks, process %s\n", len(c.Agents()), len(c.Tasks()), c.Process())
	if len(required) > 0 {
		fmt.Fprintf(a.out, "required inputs: %s\n", strings.Join(required, ", "))
	}
	return nil
}

// inertTool stands in for a configured tool during validation.
type inertTool string

func (t inertTool) Name() string        { return string(t) }
func (t inertTool) Description() string { return "validation stand-in for " + string(t) }
func (t inertTool) Call(context.Context, map[string]any) (string, error) {
	return "", errors.ToolUnavailable(string(t), nil)
}
