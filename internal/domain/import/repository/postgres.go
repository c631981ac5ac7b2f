package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
)

// PostgresImportRunRepository implements ImportRunRepository using PostgreSQL
type PostgresImportRunRepository struct {
	db DBTX
}

func NewPostgresImportRunRepository(db DBTX) *PostgresImportRunRepository {
	return &PostgresImportRunRepository{db: db}
}

const runColumns = `id, source, file, status, rows_total, rows_inserted, rows_skipped, rows_failed,
	error_message, started_at, finished_at`

func (r *PostgresImportRunRepository) CreateRun(ctx context.Context, run *ImportRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = RunStatusRunning

	query := `
		INSERT INTO import_runs (id, source, file, status)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at`

	err := r.db.QueryRow(ctx, query, run.ID, run.Source, run.File, run.Status).Scan(&run.StartedAt)
	if err != nil {
		return ledger.Unavailable("failed to create import run", err)
	}
	return nil
}

func (r *PostgresImportRunRepository) FinishRun(ctx context.Context, run *ImportRun) error {
	query := `
		UPDATE import_runs
		SET status = $2, rows_total = $3, rows_inserted = $4, rows_skipped = $5,
			rows_failed = $6, error_message = $7, finished_at = now()
		WHERE id = $1
		RETURNING finished_at`

	err := r.db.QueryRow(ctx, query,
		run.ID, run.Status, run.RowsTotal, run.RowsInserted, run.RowsSkipped,
		run.RowsFailed, run.ErrorMessage,
	).Scan(&run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRunNotFound
	}
	if err != nil {
		return ledger.Unavailable("failed to finish import run", err)
	}
	return nil
}

func (r *PostgresImportRunRepository) GetRun(ctx context.Context, id uuid.UUID) (*ImportRun, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, ledger.Unavailable("failed to get import run", err)
	}
	return run, nil
}

func (r *PostgresImportRunRepository) ListRuns(ctx context.Context, limit int) ([]*ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM import_runs ORDER BY started_at DESC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, ledger.Unavailable("failed to list import runs", err)
	}
	defer rows.Close()

	var runs []*ImportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, ledger.Unavailable("failed to scan import run", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable("failed to list import runs", err)
	}
	return runs, nil
}

func scanRun(row pgx.Row) (*ImportRun, error) {
	var run ImportRun
	err := row.Scan(
		&run.ID, &run.Source, &run.File, &run.Status,
		&run.RowsTotal, &run.RowsInserted, &run.RowsSkipped, &run.RowsFailed,
		&run.ErrorMessage, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}
