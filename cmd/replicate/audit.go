package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/audit"
	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

func newAuditCmd(a *app) *cobra.Command {
	var filter audit.Filter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List task lifecycle events recorded in the SQLite audit store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Audit.SQLitePath == "" {
				return errors.Newf(errors.CodeConfig, "audit.sqlite_path is not set")
			}
			store, err := audit.OpenSQLite(cfg.Audit.SQLitePath)
			if err != nil {
				return errors.New(errors.CodeConfig, "open audit store", err)
			}
			defer store.Close()

			events, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tTASK\tAGENT\tPHASE\tSTATUS\tAT\tDETAIL")
			for _, ev := range events {
				at := ev.StartedAt
				if ev.Phase == audit.PhaseFinished {
					at = ev.FinishedAt
				}
				detail := ev.OutputPath
				if ev.Error != "" {
					detail = ev.ErrorCode + ": " + ev.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					ev.RunID, ev.TaskID, ev.AgentID, ev.Phase, ev.Status, at.Format(time.RFC3339), detail)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&filter.RunID, "run", "", "only events of this run")
	f.StringVar(&filter.TaskID, "task", "", "only events of this task")
	f.IntVar(&filter.Limit, "limit", 100, "maximum number of events")
	return cmd
}
