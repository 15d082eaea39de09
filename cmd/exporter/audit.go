package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/exporter/pkg/cli"
	"mercator-hq/exporter/pkg/export"
	"mercator-hq/exporter/pkg/export/audit"
	"mercator-hq/exporter/pkg/server"
)

var auditFlags struct {
	job    string
	owner  string
	actor  string
	types  []string
	since  string
	until  string
	limit  int
	offset int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the export audit trail",
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query audit events",
	Long: `Query audit events, newest first.

Times accept RFC3339 timestamps or durations relative to now.

Examples:
  # Everything that happened to one export
  exporter audit query --job 6f1c2a9e-...

  # Downloads by one user in the last day
  exporter audit query --actor alice --type downloaded --since 24h

  # Export to CSV
  exporter audit query --owner alice -o csv > audit.csv`,
	Args: cobra.NoArgs,
	RunE: queryAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)

	auditQueryCmd.Flags().StringVar(&auditFlags.job, "job", "", "filter by export ID")
	auditQueryCmd.Flags().StringVar(&auditFlags.owner, "owner", "", "filter by export owner")
	auditQueryCmd.Flags().StringVar(&auditFlags.actor, "actor", "", "filter by acting user")
	auditQueryCmd.Flags().StringSliceVar(&auditFlags.types, "type", nil, "filter by event type (repeatable)")
	auditQueryCmd.Flags().StringVar(&auditFlags.since, "since", "", "events at or after (RFC3339 or duration ago)")
	auditQueryCmd.Flags().StringVar(&auditFlags.until, "until", "", "events before (RFC3339 or duration ago)")
	auditQueryCmd.Flags().IntVar(&auditFlags.limit, "limit", 100, "max results")
	auditQueryCmd.Flags().IntVar(&auditFlags.offset, "offset", 0, "pagination offset")
}

type auditTable struct {
	Events []*export.AuditEvent `json:"events"`
	Total  int64                `json:"total"`
}

func (t auditTable) Table() cli.Table {
	table := cli.Table{Headers: []string{"TIME", "TYPE", "EXPORT", "OWNER", "ACTOR", "FORMAT", "DETAIL"}}
	for _, e := range t.Events {
		table.Rows = append(table.Rows, []string{
			e.Timestamp.Format(time.RFC3339),
			string(e.Type),
			e.JobID,
			e.OwnerID,
			e.ActorID,
			string(e.Format),
			formatDetail(e.Detail),
		})
	}
	return table
}

func formatDetail(detail map[string]string) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+detail[k])
	}
	return strings.Join(parts, " ")
}

// parseTime accepts an RFC3339 timestamp or a duration before now.
func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC3339 or a positive duration", s)
	}
	return now.Add(-d), nil
}

func buildAuditQuery(now time.Time) (*audit.Query, error) {
	since, err := parseTime(auditFlags.since, now)
	if err != nil {
		return nil, err
	}
	until, err := parseTime(auditFlags.until, now)
	if err != nil {
		return nil, err
	}

	q := &audit.Query{
		JobID:   auditFlags.job,
		OwnerID: auditFlags.owner,
		ActorID: auditFlags.actor,
		Since:   since,
		Until:   until,
		Limit:   auditFlags.limit,
		Offset:  auditFlags.offset,
	}
	for _, t := range auditFlags.types {
		q.Types = append(q.Types, export.AuditEventType(t))
	}
	return q, nil
}

func queryAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := buildAuditQuery(time.Now())
	if err != nil {
		return err
	}

	cfg, manager, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	store, err := server.OpenAuditStore(&cfg.Audit)
	if err != nil {
		return err
	}
	if store == nil {
		return cli.NewConfigError("audit.enabled", "the audit trail is disabled")
	}
	defer store.Close()

	events, err := store.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	total, err := store.Count(ctx, q)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	return printResult(cmd, auditTable{Events: events, Total: total})
}
