package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/exporter/pkg/export"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	job_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT '',
	detail TEXT,
	timestamp INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_events(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_owner_time ON audit_events(owner_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_events(timestamp);
`

// SQLiteConfig configures the SQLite audit store.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// SQLiteStore implements Store with the pure-Go SQLite driver, in a
// database file separate from the job store.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	insert *sql.Stmt
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the audit database.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, export.NewStorageError("sqlite", "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, export.NewStorageError("sqlite", "create_schema", err)
	}

	insert, err := db.Prepare(`
		INSERT INTO audit_events (id, type, job_id, owner_id, actor_id, format, kind, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, export.NewStorageError("sqlite", "prepare", err)
	}

	s := &SQLiteStore{
		db:     db,
		path:   cfg.Path,
		insert: insert,
		logger: slog.Default().With("component", "export.audit.sqlite"),
	}
	s.logger.Info("SQLite audit store initialized", "path", cfg.Path)
	return s, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, event *export.AuditEvent) error {
	var detail sql.NullString
	if len(event.Detail) > 0 {
		data, err := json.Marshal(event.Detail)
		if err != nil {
			return export.NewStorageError("sqlite", "append", err)
		}
		detail = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.insert.ExecContext(ctx,
		event.ID,
		string(event.Type),
		event.JobID,
		event.OwnerID,
		event.ActorID,
		string(event.Format),
		string(event.Kind),
		detail,
		event.Timestamp.UnixNano(),
	)
	if err != nil {
		return export.NewStorageError("sqlite", "append", err)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, q *Query) ([]*export.AuditEvent, error) {
	where, args := buildWhere(q)
	stmt := `SELECT id, type, job_id, owner_id, actor_id, format, kind, detail, timestamp
		FROM audit_events` + where + ` ORDER BY timestamp DESC, id DESC`

	if q != nil && q.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			stmt += " OFFSET ?"
			args = append(args, q.Offset)
		}
	} else if q != nil && q.Offset > 0 {
		stmt += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, export.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	var events []*export.AuditEvent
	for rows.Next() {
		var (
			e                       export.AuditEvent
			eventType, format, kind string
			detail                  sql.NullString
			ts                      int64
		)
		if err := rows.Scan(&e.ID, &eventType, &e.JobID, &e.OwnerID, &e.ActorID, &format, &kind, &detail, &ts); err != nil {
			return nil, export.NewStorageError("sqlite", "scan", err)
		}
		e.Type = export.AuditEventType(eventType)
		e.Format = export.Format(format)
		e.Kind = export.Kind(kind)
		e.Timestamp = time.Unix(0, ts).UTC()
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, export.NewStorageError("sqlite", "decode_detail", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, export.NewStorageError("sqlite", "query", err)
	}
	return events, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, q *Query) (int64, error) {
	where, args := buildWhere(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_events"+where, args...).Scan(&n); err != nil {
		return 0, export.NewStorageError("sqlite", "count", err)
	}
	return n, nil
}

// DeleteBefore implements Store.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < ?", cutoff.UnixNano())
	if err != nil {
		return 0, export.NewStorageError("sqlite", "delete", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.insert != nil {
		s.insert.Close()
	}
	return s.db.Close()
}

func buildWhere(q *Query) (string, []any) {
	if q == nil {
		return "", nil
	}

	var (
		clauses []string
		args    []any
	)
	if q.JobID != "" {
		clauses = append(clauses, "job_id = ?")
		args = append(args, q.JobID)
	}
	if q.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.ActorID != "" {
		clauses = append(clauses, "actor_id = ?")
		args = append(args, q.ActorID)
	}
	if len(q.Types) > 0 {
		placeholders := make([]string, len(q.Types))
		for i, t := range q.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, q.Until.UnixNano())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
