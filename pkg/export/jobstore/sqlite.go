package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/exporter/pkg/export"
)

// SQLiteConfig contains configuration for the SQLite job store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/jobs.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore implements export.Store using SQLite. Update runs inside an
// immediate transaction, which takes the database write lock up front and
// therefore serializes concurrent writers.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStore opens the database and initializes the schema.
func NewSQLiteStore(config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "export.jobstore.sqlite")

	dsn := buildDSN(config)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, export.NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStore{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite job store initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// buildDSN encodes per-connection pragmas into the DSN so every pooled
// connection gets them.
func buildDSN(config *SQLiteConfig) string {
	params := []string{
		"_txlock=immediate",
		fmt.Sprintf("_busy_timeout=%d", config.BusyTimeout.Milliseconds()),
	}
	if config.WALMode {
		params = append(params, "_journal_mode=WAL")
	}
	return "file:" + config.Path + "?" + strings.Join(params, "&")
}

// initialize creates the schema and verifies its version.
func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return export.NewStorageError("sqlite", "create_schema", err)
	}
	s.logger.Debug("database schema created")

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return export.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return export.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return export.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.logger.Debug("schema version verified", "version", version)
	return nil
}

// Create implements export.Store.
func (s *SQLiteStore) Create(ctx context.Context, job *export.Job) error {
	args, err := jobArgs(job)
	if err != nil {
		return export.NewStorageError("sqlite", "create", err)
	}

	query := `INSERT INTO export_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return export.NewStorageError("sqlite", "create", err)
	}
	return nil
}

// Get implements export.Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*export.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, export.ErrNotFound
	}
	if err != nil {
		return nil, export.NewStorageError("sqlite", "get", err)
	}
	return job, nil
}

// Update implements export.Store.
func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*export.Job) error) (*export.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, export.NewStorageError("sqlite", "begin", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, export.ErrNotFound
	}
	if err != nil {
		return nil, export.NewStorageError("sqlite", "get", err)
	}

	if err := fn(job); err != nil {
		return nil, err
	}
	if job.ID != id {
		return nil, export.NewStorageError("sqlite", "update", fmt.Errorf("job ID changed during update"))
	}

	args, err := jobArgs(job)
	if err != nil {
		return nil, export.NewStorageError("sqlite", "update", err)
	}
	query := `UPDATE export_jobs SET
		id = ?, kind = ?, format = ?, owner_id = ?, record_ids = ?, options = ?, status = ?, progress = ?,
		message = ?, error_message = ?, retry_count = ?, artifact = ?, artifacts = ?,
		created_at = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, append(args, id)...); err != nil {
		return nil, export.NewStorageError("sqlite", "update", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, export.NewStorageError("sqlite", "commit", err)
	}
	return job, nil
}

// Delete implements export.Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE id = ?`, id)
	if err != nil {
		return export.NewStorageError("sqlite", "delete", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return export.NewStorageError("sqlite", "delete", err)
	}
	if n == 0 {
		return export.ErrNotFound
	}
	return nil
}

// List implements export.Store.
func (s *SQLiteStore) List(ctx context.Context, query *export.JobQuery) ([]*export.Job, int, error) {
	if query == nil {
		query = &export.JobQuery{}
	}
	where, args := buildWhereClause(query)

	var total int
	countSQL := "SELECT COUNT(*) FROM export_jobs" + where
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, export.NewStorageError("sqlite", "count", err)
	}

	listSQL := "SELECT " + jobColumns + " FROM export_jobs" + where + " ORDER BY created_at DESC, id DESC"
	if query.Limit > 0 {
		listSQL += fmt.Sprintf(" LIMIT %d", query.Limit)
		if query.Offset > 0 {
			listSQL += fmt.Sprintf(" OFFSET %d", query.Offset)
		}
	} else if query.Offset > 0 {
		listSQL += fmt.Sprintf(" LIMIT -1 OFFSET %d", query.Offset)
	}

	jobs, err := s.queryJobs(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// Stats implements export.Store.
func (s *SQLiteStore) Stats(ctx context.Context, ownerID string) (*export.JobStats, error) {
	jobs, err := s.queryJobs(ctx, "SELECT "+jobColumns+" FROM export_jobs WHERE owner_id = ?", ownerID)
	if err != nil {
		return nil, err
	}
	stats := export.NewJobStats(ownerID)
	for _, job := range jobs {
		stats.Add(job)
	}
	return stats, nil
}

// ListOlderThan implements export.Store.
func (s *SQLiteStore) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*export.Job, error) {
	q := "SELECT " + jobColumns + " FROM export_jobs WHERE created_at < ? ORDER BY created_at ASC, id ASC"
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryJobs(ctx, q, cutoff.UnixNano())
}

// ListActive implements export.Store.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]*export.Job, error) {
	return s.queryJobs(ctx,
		"SELECT "+jobColumns+" FROM export_jobs WHERE status NOT IN (?, ?, ?) ORDER BY created_at ASC",
		string(export.StatusCompleted), string(export.StatusFailed), string(export.StatusCancelled))
}

// CountActive implements export.Store.
func (s *SQLiteStore) CountActive(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM export_jobs WHERE owner_id = ? AND status NOT IN (?, ?, ?)",
		ownerID, string(export.StatusCompleted), string(export.StatusFailed), string(export.StatusCancelled)).Scan(&n)
	if err != nil {
		return 0, export.NewStorageError("sqlite", "count_active", err)
	}
	return n, nil
}

// Ping implements export.Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return export.NewStorageError("sqlite", "ping", err)
	}
	return nil
}

// Close implements export.Store.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return export.NewStorageError("sqlite", "close", err)
	}
	s.logger.Info("SQLite job store closed")
	return nil
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...any) ([]*export.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, export.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	jobs := []*export.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, export.NewStorageError("sqlite", "scan", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, export.NewStorageError("sqlite", "query", err)
	}
	return jobs, nil
}

// buildWhereClause builds a WHERE clause (with leading space) from the query.
func buildWhereClause(query *export.JobQuery) (string, []any) {
	var conditions []string
	var args []any

	if query.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, query.OwnerID)
	}
	if query.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(query.Status))
	}
	if query.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(query.Kind))
	}
	if query.Format != "" {
		conditions = append(conditions, "format = ?")
		args = append(args, string(query.Format))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// jobArgs flattens a job into column values in jobColumns order.
func jobArgs(job *export.Job) ([]any, error) {
	recordIDs, err := json.Marshal(job.RecordIDs)
	if err != nil {
		return nil, err
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return nil, err
	}

	var artifact, artifacts, errorMessage, completedAt any
	if job.Artifact != nil {
		data, err := json.Marshal(job.Artifact)
		if err != nil {
			return nil, err
		}
		artifact = string(data)
	}
	if len(job.Artifacts) > 0 {
		data, err := json.Marshal(job.Artifacts)
		if err != nil {
			return nil, err
		}
		artifacts = string(data)
	}
	if job.ErrorMessage != "" {
		errorMessage = job.ErrorMessage
	}
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UnixNano()
	}

	return []any{
		job.ID, string(job.Kind), string(job.Format), job.OwnerID,
		string(recordIDs), string(options),
		string(job.Status), job.Progress, job.Message, errorMessage, job.RetryCount,
		artifact, artifacts,
		job.CreatedAt.UnixNano(), job.UpdatedAt.UnixNano(), completedAt,
	}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanJob reads one row in jobColumns order.
func scanJob(row scanner) (*export.Job, error) {
	var (
		job                               export.Job
		kind, format, status              string
		recordIDs, options                string
		errorMessage, artifact, artifacts sql.NullString
		createdAt, updatedAt              int64
		completedAt                       sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &kind, &format, &job.OwnerID,
		&recordIDs, &options,
		&status, &job.Progress, &job.Message, &errorMessage, &job.RetryCount,
		&artifact, &artifacts,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = export.Kind(kind)
	job.Format = export.Format(format)
	job.Status = export.Status(status)
	job.ErrorMessage = errorMessage.String
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		job.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(recordIDs), &job.RecordIDs); err != nil {
		return nil, fmt.Errorf("decode record_ids: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if artifact.Valid {
		job.Artifact = &export.Artifact{}
		if err := json.Unmarshal([]byte(artifact.String), job.Artifact); err != nil {
			return nil, fmt.Errorf("decode artifact: %w", err)
		}
	}
	if artifacts.Valid {
		if err := json.Unmarshal([]byte(artifacts.String), &job.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	return &job, nil
}
