package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			for _, run := range runs {
				_, _ = fmt.Fprintf(out, "%s  %-8s  %s  %s\n",
					run.ID, run.Status, run.CreatedAt.Local().Format(time.DateTime), trimText(run.UserRequest, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	var withDecisions bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the fact sheet of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() {
				_ = store.Close()
			}()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "run:     %s\nstatus:  %s\nrequest: %s\n", run.ID, run.Status, run.UserRequest)
			if run.LastError != "" {
				_, _ = fmt.Fprintf(out, "error:   %s\n", run.LastError)
			}

			var sheet any
			if err := json.Unmarshal(run.FactSheet, &sheet); err != nil {
				return fmt.Errorf("decode stored fact sheet: %w", err)
			}
			raw, err := json.MarshalIndent(sheet, "", "  ")
			if err != nil {
				return fmt.Errorf("encode fact sheet: %w", err)
			}
			_, _ = fmt.Fprintln(out, string(raw))

			if !withDecisions {
				return nil
			}
			decisions, err := store.ListRunDecisions(cmd.Context(), run.ID, 0)
			if err != nil {
				return err
			}
			for i := len(decisions) - 1; i >= 0; i-- {
				d := decisions[i]
				_, _ = fmt.Fprintf(out, "%s  %-18s %-26s %s\n",
					d.CreatedAt.Local().Format(time.TimeOnly), d.Actor, d.Action, trimText(d.Reason, 80))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withDecisions, "decisions", false, "also print the decision log")
	return cmd
}

func trimText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
