package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/peerlink/internal/config"
	"github.com/nao1215/peerlink/internal/database"
	"github.com/nao1215/peerlink/internal/report"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List or show stored conformance runs",
		Long: `History reads the run history database written by 'peerlink run'.

Without arguments it lists recent runs, newest first. With a run id it
prints that run's report.

Examples:
  # List the last 20 runs
  peerlink history

  # Show which phases fail most often
  peerlink history --failures

  # Print one run as Markdown
  peerlink history --markdown 0b9c7c36-0f0e-4d7e-9f45-5c3c2b8b8f11

  # Remove a run
  peerlink history --delete 0b9c7c36-0f0e-4d7e-9f45-5c3c2b8b8f11`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("db", config.NewConfig().DBDir,
		"Directory of the run history database")
	cmd.Flags().IntP("limit", "l", 20,
		"Maximum number of runs to list (0 for all)")
	cmd.Flags().Bool("failures", false,
		"Count failed phases across all stored runs")
	cmd.Flags().Bool("delete", false,
		"Delete the given run instead of showing it")
	cmd.Flags().BoolP("json", "j", false,
		"Show the run as JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Show the run as Markdown (mutually exclusive with --json)")

	return cmd
}

// runHistoryCmd executes the history command.
func runHistoryCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	dbDir, err := flags.GetString("db")
	if err != nil {
		return err
	}
	limit, err := flags.GetInt("limit")
	if err != nil {
		return err
	}
	failures, err := flags.GetBool("failures")
	if err != nil {
		return err
	}
	deleteRun, err := flags.GetBool("delete")
	if err != nil {
		return err
	}
	jsonOutput, err := flags.GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := flags.GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return config.ErrConflictingReportFormats
	}
	if deleteRun && len(args) == 0 {
		return errors.New("--delete needs a run id")
	}

	// History never creates a database.
	db, err := database.Open(dbDir, database.Options{})
	if err != nil {
		return fmt.Errorf("no run history (run 'peerlink run' first): %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case failures:
		counts, err := db.PhaseFailures(ctx)
		if err != nil {
			return err
		}
		return printFailures(out, counts)
	case deleteRun:
		if err := db.DeleteRun(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted run %s\n", args[0])
		return nil
	case len(args) == 1:
		runReport, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		w, err := report.NewWriter(reportFormat(jsonOutput, markdownOutput), out, getVersion())
		if err != nil {
			return err
		}
		_, err = w.Write(runReport)
		return err
	default:
		runs, err := db.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		return printRuns(out, runs)
	}
}

// printRuns writes the run list as an aligned table.
func printRuns(out io.Writer, runs []database.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(out, "No runs stored")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tNETWORK\tDURATION\tSTATE")
	for _, r := range runs {
		state := r.State
		if r.FailedState != "" {
			state += " (in " + r.FailedState + ")"
		}
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Network, duration, state)
	}
	return tw.Flush()
}

// printFailures writes failed-phase counts, most frequent first.
func printFailures(out io.Writer, counts map[string]int) error {
	if len(counts) == 0 {
		_, err := fmt.Fprintln(out, "No failed phases")
		return err
	}

	names := slices.SortedFunc(maps.Keys(counts), func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tFAILURES")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
	}
	return tw.Flush()
}
