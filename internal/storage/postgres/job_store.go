// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "conversion_jobs"

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore keeps conversion jobs in a Postgres table.
type JobStore struct {
	pool  queryExecCloser
	table string
}

// NewJobStore connects to Postgres using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool queryExecCloser, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the pool can reach Postgres.
func (s *JobStore) Ping(ctx context.Context) error {
	pinger, ok := s.pool.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the jobs table when it does not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id              TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	conversion_type TEXT NOT NULL,
	source_name     TEXT NOT NULL,
	input_key       TEXT NOT NULL,
	file_name       TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	checksum        TEXT NOT NULL DEFAULT '',
	error_text      TEXT NOT NULL DEFAULT '',
	submitted_at    TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	finished_at     TIMESTAMPTZ
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job convert.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Status == "" {
		job.Status = convert.StatusPending
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	status,
	conversion_type,
	source_name,
	input_key,
	email,
	submitted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.ConversionType,
		job.SourceName,
		job.InputKey,
		job.Email,
		job.Submitted,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus applies a status change. Started is stamped on the first
// PROCESSING transition and Finished on terminal ones.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, change convert.StatusChange) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	file_name = CASE WHEN $4 = '' THEN file_name ELSE $4 END,
	checksum = CASE WHEN $5 = '' THEN checksum ELSE $5 END,
	started_at = CASE WHEN $2 = 'PROCESSING' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('COMPLETED', 'FAILED') THEN now() ELSE finished_at END
WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		jobID,
		string(change.Status),
		change.ErrorText,
		change.FileName,
		change.Checksum,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %q: %w", jobID, convert.ErrNotFound)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (convert.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, conversion_type, source_name, input_key, file_name, email,
	checksum, error_text, submitted_at, started_at, finished_at
FROM %s
WHERE id = $1`, s.table)

	var (
		job    convert.Job
		status string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&status,
		&job.ConversionType,
		&job.SourceName,
		&job.InputKey,
		&job.FileName,
		&job.Email,
		&job.Checksum,
		&job.ErrorText,
		&job.Submitted,
		&job.Started,
		&job.Finished,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return convert.Job{}, fmt.Errorf("job %q: %w", jobID, convert.ErrNotFound)
		}
		return convert.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = convert.JobStatus(status)
	return job, nil
}
