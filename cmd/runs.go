package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/monitoring"
	"github.com/sells-group/enrich-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect enrichment run history",
	Long:  "Commands for listing, viewing, and summarizing journaled enrichment runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrichment runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		dashboard, _ := cmd.Flags().GetString("dashboard")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:    model.JournalStatus(status),
			Dashboard: dashboard,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its stage events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		events, err := st.ListEvents(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Run    *model.EnrichmentRun `json:"run"`
				Events []model.StageEvent   `json:"events"`
			}{run, events})
		}
		formatRunDetail(os.Stdout, run, events)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("lookback-hours")
		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func formatRunsList(w io.Writer, runs []model.EnrichmentRun) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Dashboard", "Status", "Records", "Stages", "Created", "Duration", "Error"})
	for _, r := range runs {
		table.Append([]string{
			shortID(r.ID),
			r.Dashboard,
			string(r.Status),
			fmt.Sprint(r.Records),
			fmt.Sprint(r.Stages),
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String(),
			truncate(r.Error, 40),
		})
	}
	table.Render()
}

func formatRunDetail(w io.Writer, run *model.EnrichmentRun, events []model.StageEvent) {
	fmt.Fprintf(w, "Run:       %s\n", run.ID)
	fmt.Fprintf(w, "Dashboard: %s\n", run.Dashboard)
	fmt.Fprintf(w, "Status:    %s\n", run.Status)
	fmt.Fprintf(w, "Records:   %d x %d stages\n", run.Records, run.Stages)
	fmt.Fprintf(w, "Created:   %s\n", run.CreatedAt.UTC().Format(time.RFC3339))
	if run.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", run.Error)
	}
	fmt.Fprintln(w)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Record", "Stage", "Status", "Kind", "Attempts", "Detail"})
	table.SetAutoWrapText(false)
	for _, ev := range events {
		detail := ev.Message
		if ev.Succeeded() {
			detail = string(ev.Payload)
		}
		table.Append([]string{ev.RecordID, ev.Stage, ev.Status, ev.ErrorKind, fmt.Sprint(ev.Attempts), truncate(detail, 80)})
	}
	table.Render()
}

func formatRunStats(w io.Writer, snap *monitoring.MetricsSnapshot) {
	fmt.Fprintf(w, "Runs (last %dh): %d total, %d complete, %d canceled, %d fetch_failed, %d running\n",
		snap.LookbackHours, snap.RunsTotal, snap.RunsComplete, snap.RunsCanceled, snap.RunsFetchFailed, snap.RunsRunning)
	fmt.Fprintf(w, "Stages: %d succeeded, %d failed (%.1f%%), %d retried\n",
		snap.StageSucceeded, snap.StageFailed, snap.StageFailRate*100, snap.RetriedStages)

	if len(snap.FailuresByKind) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Failure kind", "Count"})
	for _, k := range slices.Sorted(maps.Keys(snap.FailuresByKind)) {
		table.Append([]string{k, fmt.Sprint(snap.FailuresByKind[k])})
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (running, complete, canceled, fetch_failed)")
	runsListCmd.Flags().String("dashboard", "", "filter by dashboard")
	runsListCmd.Flags().Int("limit", 20, "maximum runs to list")
	runsShowCmd.Flags().Bool("json", false, "print as JSON")
	runsStatsCmd.Flags().Int("lookback-hours", 24, "statistics window in hours")
	runsStatsCmd.Flags().Bool("json", false, "print as JSON")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}
