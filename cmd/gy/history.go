package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zulandar/grabyard/internal/config"
	"github.com/zulandar/grabyard/internal/history"
	"github.com/zulandar/grabyard/internal/models"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		requester  string
		outcome    string
		since      time.Duration
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent dispatch outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadHistory(configPath)
			if err != nil {
				return err
			}
			f := history.Filter{Requester: requester, Outcome: outcome, Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			recs, err := store.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), recs)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to grabyard config file")
	cmd.Flags().StringVar(&requester, "requester", "", "only this requester")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only this outcome (e.g. Delivered)")
	cmd.Flags().DurationVar(&since, "since", 0, "only outcomes newer than this (e.g. 24h)")
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "maximum rows")

	cmd.AddCommand(newHistoryStatsCmd(&configPath))
	return cmd
}

func newHistoryStatsCmd(configPath *string) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count outcomes by kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadHistory(*configPath)
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			counts, err := store.Counts(cmd.Context(), from)
			if err != nil {
				return err
			}
			printCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "window to count; 0 counts everything")
	return cmd
}

func loadHistory(configPath string) (*history.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !cfg.History.Enabled() {
		return nil, fmt.Errorf("history is disabled in %s", configPath)
	}
	return openHistory(cfg)
}

func printHistory(out io.Writer, recs []models.OutcomeRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No outcomes recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tOUTCOME\tMODE\tTRIGGER\tITEMS\tTOOK\tREQUESTER\tLINK")
	for _, r := range recs {
		trigger := "user"
		if r.Automatic {
			trigger = "auto"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.Outcome,
			orDash(r.Mode),
			trigger,
			r.Delivered, r.Attempted,
			formatMillis(r.DurationMs),
			r.Requester,
			truncate(r.Link, 60),
		)
	}
	w.Flush()
}

func printCounts(out io.Writer, counts map[string]int64) {
	if len(counts) == 0 {
		fmt.Fprintln(out, "No outcomes recorded.")
		return
	}
	keys := make([]string, 0, len(counts))
	var total int64
	for k, n := range counts {
		keys = append(keys, k)
		total += n
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OUTCOME\tCOUNT")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	w.Flush()
}
