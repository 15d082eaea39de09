package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/exporter/pkg/cli"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/retention"
	"mercator-hq/exporter/pkg/server"
	"mercator-hq/exporter/pkg/telemetry"
)

var jobsFlags struct {
	owner  string
	status string
	kind   string
	format string
	limit  int
	offset int
	maxAge time.Duration
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and maintain export jobs",
	Long: `Inspect and maintain export jobs in the configured job store.

Subcommands:
  list   - List jobs with filters
  show   - Show one job
  stats  - Aggregate the jobs of one user
  prune  - Run a retention sweep now`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List export jobs",
	Long: `List export jobs, newest first.

Examples:
  # Failed exports of one user
  exporter jobs list --owner alice --status failed

  # All batch jobs as CSV
  exporter jobs list --kind batch -o csv`,
	Args: cobra.NoArgs,
	RunE: listJobs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <export-id>",
	Short: "Show one export job",
	Args:  cobra.ExactArgs(1),
	RunE:  showJob,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats <user-id>",
	Short: "Aggregate the export jobs of one user",
	Args:  cobra.ExactArgs(1),
	RunE:  jobStats,
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete jobs older than the retention age",
	Long: `Run one retention sweep: delete jobs older than retention.max_age together
with their artifacts, remove orphaned artifacts and prune old audit events.

Examples:
  # Sweep with the configured age
  exporter jobs prune

  # Sweep everything older than a week
  exporter jobs prune --max-age 168h`,
	Args: cobra.NoArgs,
	RunE: pruneJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsStatsCmd, jobsPruneCmd)

	jobsListCmd.Flags().StringVar(&jobsFlags.owner, "owner", "", "filter by owner user ID")
	jobsListCmd.Flags().StringVar(&jobsFlags.status, "status", "", "filter by status (initiating, processing, completed, failed, cancelled)")
	jobsListCmd.Flags().StringVar(&jobsFlags.kind, "kind", "", "filter by kind (single, batch)")
	jobsListCmd.Flags().StringVar(&jobsFlags.format, "format", "", "filter by format (document, data, tabular)")
	jobsListCmd.Flags().IntVar(&jobsFlags.limit, "limit", 50, "max results")
	jobsListCmd.Flags().IntVar(&jobsFlags.offset, "offset", 0, "pagination offset")

	jobsPruneCmd.Flags().DurationVar(&jobsFlags.maxAge, "max-age", 0, "override retention.max_age")
}

// jobTable renders jobs one per row.
type jobTable struct {
	Jobs  []*export.Job `json:"jobs"`
	Total int           `json:"total"`
}

func (t jobTable) Table() cli.Table {
	table := cli.Table{Headers: []string{"ID", "OWNER", "KIND", "FORMAT", "STATUS", "PROGRESS", "RECORDS", "CREATED"}}
	for _, j := range t.Jobs {
		table.Rows = append(table.Rows, []string{
			j.ID,
			j.OwnerID,
			string(j.Kind),
			string(j.Format),
			string(j.Status),
			strconv.Itoa(j.Progress) + "%",
			strconv.Itoa(len(j.RecordIDs)),
			j.CreatedAt.Format(time.RFC3339),
		})
	}
	return table
}

// jobDetail renders one job as field/value rows.
type jobDetail struct {
	*export.Job
}

func (d jobDetail) Table() cli.Table {
	j := d.Job
	rows := [][]string{
		{"id", j.ID},
		{"owner", j.OwnerID},
		{"kind", string(j.Kind)},
		{"format", string(j.Format)},
		{"status", string(j.Status)},
		{"progress", strconv.Itoa(j.Progress) + "%"},
		{"message", j.Message},
		{"records", fmt.Sprint(j.RecordIDs)},
		{"retries", strconv.Itoa(j.RetryCount)},
		{"created", j.CreatedAt.Format(time.RFC3339)},
		{"updated", j.UpdatedAt.Format(time.RFC3339)},
	}
	if j.ErrorMessage != "" {
		rows = append(rows, []string{"error", j.ErrorMessage})
	}
	if j.Artifact != nil {
		rows = append(rows, []string{"artifact", fmt.Sprintf("%s (%d bytes)", j.Artifact.FileName, j.Artifact.SizeBytes)})
	}
	for i, a := range j.Artifacts {
		rows = append(rows, []string{fmt.Sprintf("file[%d]", i), fmt.Sprintf("%s (%d bytes)", a.FileName, a.SizeBytes)})
	}
	return cli.Table{Headers: []string{"FIELD", "VALUE"}, Rows: rows}
}

// statsTable renders per-dimension counts.
type statsTable struct {
	*export.JobStats
}

func (s statsTable) Table() cli.Table {
	table := cli.Table{Headers: []string{"DIMENSION", "VALUE", "COUNT"}}
	table.Rows = append(table.Rows, []string{"total", "", strconv.Itoa(s.Total)})
	table.Rows = append(table.Rows, countRows("status", s.ByStatus)...)
	table.Rows = append(table.Rows, countRows("format", s.ByFormat)...)
	table.Rows = append(table.Rows, countRows("kind", s.ByKind)...)
	table.Rows = append(table.Rows,
		[]string{"retries", "", strconv.Itoa(s.TotalRetries)},
		[]string{"bytes", "", strconv.FormatInt(s.TotalBytes, 10)},
	)
	return table
}

func countRows[K ~string](dimension string, counts map[K]int) [][]string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{dimension, k, strconv.Itoa(counts[K(k)])})
	}
	return rows
}

// withJobStore runs fn against the configured job store.
func withJobStore(ctx context.Context, fn func(export.Store) error) error {
	cfg, manager, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	store, err := server.OpenJobStore(&cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

func listJobs(cmd *cobra.Command, args []string) error {
	return withJobStore(cmd.Context(), func(store export.Store) error {
		jobs, total, err := store.List(cmd.Context(), &export.JobQuery{
			OwnerID: jobsFlags.owner,
			Status:  export.Status(jobsFlags.status),
			Kind:    export.Kind(jobsFlags.kind),
			Format:  export.Format(jobsFlags.format),
			Limit:   jobsFlags.limit,
			Offset:  jobsFlags.offset,
		})
		if err != nil {
			return cli.NewCommandError("jobs list", err)
		}
		return printResult(cmd, jobTable{Jobs: jobs, Total: total})
	})
}

func showJob(cmd *cobra.Command, args []string) error {
	return withJobStore(cmd.Context(), func(store export.Store) error {
		job, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return cli.NewCommandError("jobs show", err)
		}
		return printResult(cmd, jobDetail{job})
	})
}

func jobStats(cmd *cobra.Command, args []string) error {
	return withJobStore(cmd.Context(), func(store export.Store) error {
		stats, err := store.Stats(cmd.Context(), args[0])
		if err != nil {
			return cli.NewCommandError("jobs stats", err)
		}
		return printResult(cmd, statsTable{stats})
	})
}

// pruneJobs assembles the full server without serving, so deletions go
// through the orchestrator and are audited like API deletions.
func pruneJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, manager, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()
	if jobsFlags.maxAge > 0 {
		cfg.Retention.MaxAge = jobsFlags.maxAge
	}

	tel, err := telemetry.New(&cfg.Telemetry, Version)
	if err != nil {
		return cli.NewConfigError("telemetry", err.Error())
	}
	defer tel.Shutdown(context.Background())

	srv, err := server.New(ctx, cfg, tel, server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate})
	if err != nil {
		return cli.NewCommandError("jobs prune", err)
	}
	defer srv.Shutdown(context.Background())

	result, err := srv.Sweeper().Sweep(ctx)
	if err != nil {
		return cli.NewCommandError("jobs prune", err)
	}
	return printResult(cmd, sweepResult{result})
}

type sweepResult struct {
	*retention.Result
}

func (r sweepResult) Table() cli.Table {
	return cli.Table{
		Headers: []string{"SCANNED", "DELETED", "FAILED", "ORPHANS", "AUDIT PRUNED", "DURATION"},
		Rows: [][]string{{
			strconv.Itoa(r.Scanned),
			strconv.Itoa(r.Deleted),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Orphans),
			strconv.FormatInt(r.AuditPruned, 10),
			r.Duration.Round(time.Millisecond).String(),
		}},
	}
}
