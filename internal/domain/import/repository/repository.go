// Package repository records import runs in the import_runs table.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RunStatus is the lifecycle state of an import run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

var ErrRunNotFound = errors.New("import run not found")

// ImportRun is one attempt to load a statement file into the ledger.
type ImportRun struct {
	ID           uuid.UUID  `json:"id"`
	Source       string     `json:"source"`
	File         string     `json:"file"`
	Status       RunStatus  `json:"status"`
	RowsTotal    int        `json:"rows_total"`
	RowsInserted int        `json:"rows_inserted"`
	RowsSkipped  int        `json:"rows_skipped"`
	RowsFailed   int        `json:"rows_failed"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// ImportRunRepository defines persistence for import runs.
type ImportRunRepository interface {
	// CreateRun stores a new running import and fills in ID and StartedAt.
	CreateRun(ctx context.Context, run *ImportRun) error
	// FinishRun records the final status and counters of run.
	FinishRun(ctx context.Context, run *ImportRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*ImportRun, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]*ImportRun, error)
}

// DBTX is the subset of pgxpool.Pool used by PostgresImportRunRepository.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
