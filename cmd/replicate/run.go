package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/artifact"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/audit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/crew"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/crewfile"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/task"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/telemetry"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/tools"
)

type runOptions struct {
	crewPath  string
	inputs    []string
	paper     string
	outputDir string
	quiet     bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a crew and write its artifacts",
		Example: `  replicate run --paper jones-1991.txt --input measure="Discretionary Accruals"
  replicate run -c config.yaml --crew crew.yaml -i measure="Abnormal Returns"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.crewPath, "crew", "", "crew definition (YAML); the built-in replication crew when empty")
	f.StringArrayVarP(&opts.inputs, "input", "i", nil, "kickoff input (name=value), repeatable")
	f.StringVar(&opts.paper, "paper", "", "text file searched by the \"paper\" tool when it is not configured")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for task artifacts (overrides output.dir)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print task progress")
	return cmd
}

func (a *app) run(ctx context.Context, opts runOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := telemetry.ConfigureSlog(a.errOut, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("replicate", version, cfg.Telemetry.SDK())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry.shutdown", slog.String("error", err.Error()))
		}
	}()

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

	registry := tools.NewRegistry(tools.WithLogger(logger))
	defer registry.Close()
	built, err := registry.Build(ctx, specs)
	if err != nil {
		return err
	}

	provider, err := a.newProvider(cfg.LLM)
	if err != nil {
		return err
	}

	outDir := cfg.Output.Dir
	if opts.outputDir != "" {
		outDir = opts.outputDir
	}
	crewOpts := []crew.Option{
		crew.WithArtifactWriter(artifact.NewFileWriter(outDir)),
		crew.WithLogger(logger),
	}
	if !opts.quiet {
		crewOpts = append(crewOpts, crew.WithEventEmitter(progressPrinter(a.errOut)))
	}
	if cfg.Audit.SQLitePath != "" {
		store, err := audit.OpenSQLite(cfg.Audit.SQLitePath)
		if err != nil {
			return errors.New(errors.CodeConfig, "open audit store", err)
		}
		defer store.Close()
		crewOpts = append(crewOpts, crew.WithAuditStore(store))
	}

	c, err := crewfile.Build(file, crewfile.Env{
		Provider: provider,
		LLM:      cfg.LLM,
		Agent:    cfg.Agent,
		Crew:     cfg.Crew,
		Tools:    built,
	}, crewOpts...)
	if err != nil {
		return err
	}

	out, err := c.Kickoff(ctx, inputs)
	if out != nil {
		printSummary(a.errOut, out)
		if final := out.String(); final != "" {
			fmt.Fprintln(a.out, final)
		}
	}
	if err != nil {
		return err
	}
	if len(out.Failed()) > 0 {
		return errTasksFailed
	}
	return nil
}

// selectToolSpecs keeps the configured tools the crew references. A missing
// "paper" tool is filled in from the --paper file.
func selectToolSpecs(configured []tools.Spec, referenced []string, paper string) ([]tools.Spec, error) {
	byName := make(map[string]tools.Spec, len(configured))
	for _, spec := range configured {
		byName[spec.Name] = spec
	}
	if _, ok := byName["paper"]; !ok && paper != "" {
		byName["paper"] = tools.Spec{Name: "paper", Kind: tools.KindTextSearch, Options: map[string]any{"path": paper}}
	}

	var (
		out     []tools.Spec
		missing []string
	)
	for _, name := range referenced {
		spec, ok := byName[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out = append(out, spec)
	}
	if len(missing) > 0 {
		return nil, errors.Newf(errors.CodeConfig, "crew uses unconfigured tools: %s (add them under tools: or pass --paper)",
			strings.Join(missing, ", ")).WithContext("missing", missing)
	}
	return out, nil
}

func printSummary(w io.Writer, out *crew.Output) {
	lines := strings.Split(strings.TrimSuffix(out.Summary(), "\n"), "\n")
	fmt.Fprintf(w, "\n%s run %s\n", color.New(color.Bold).Sprint("crew"), out.RunID)
	for i, res := range out.Results {
		marker, attr := "✓", color.FgGreen
		switch {
		case res.Status == task.StatusFailed:
			marker, attr = "✗", color.FgRed
		case !res.OK():
			marker, attr = "-", color.FgYellow
		case res.WriteErr != nil:
			marker, attr = "⚠", color.FgYellow
		}
		color.New(attr).Fprintf(w, "%s %s\n", marker, lines[i])
	}
	usage := out.Usage()
	fmt.Fprintf(w, "tokens: %d prompt, %d completion, %d total; took %s\n\n",
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, out.Duration.Round(time.Millisecond))
}

