package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/config"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/crewfile"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/llm"
)

// app holds what commands share; tests replace the writers and the provider.
type app struct {
	out    io.Writer
	errOut io.Writer

	configPath string
	profile    string
	sets       []string

	newProvider func(config.LLMConfig) (llm.Provider, error)
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, newProvider: newProvider}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "replicate",
		Short: "Run agent crews over academic papers",
		Long: `replicate drives a crew of LLM agents through an ordered list of tasks.

The built-in crew reads a paper and writes two markdown artifacts: the steps to
compute a measure (research_design.md) and the data fields it needs
(variable_list.md).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "configuration file (YAML)")
	flags.StringVar(&a.profile, "profile", "", "profile overlay, e.g. dev loads config.dev.yaml")
	flags.StringArrayVar(&a.sets, "set", nil, "override a configuration key (key=value), repeatable")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newAuditCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	return config.LoadWithOptions(config.Options{Path: a.configPath, Profile: a.profile, Set: a.sets})
}

func loadCrew(path string) (*crewfile.File, error) {
	if path == "" {
		return crewfile.Default(), nil
	}
	return crewfile.Load(path)
}

// parseInputs turns repeated key=value flags into kickoff inputs.
func parseInputs(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Newf(errors.CodeConfig, "invalid input %q, expected name=value", kv)
		}
		inputs[key] = value
	}
	return inputs, nil
}

// errTasksFailed reports a run that finished with failed tasks; the summary
// has already been printed.
var errTasksFailed = stderrors.New("one or more tasks did not complete")

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case stderrors.Is(err, errTasksFailed):
		return 1
	case errors.IsConfigError(err), stderrors.Is(err, errors.ErrTemplate):
		fmt.Fprintln(color.Error, color.RedString("error:"), err)
		return 2
	default:
		fmt.Fprintln(color.Error, color.RedString("error:"), err)
		return 1
	}
}
