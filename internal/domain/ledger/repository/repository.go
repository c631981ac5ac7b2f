// Package repository provides ledger store implementations backed by
// PostgreSQL and by process memory.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
)

// LedgerRepository opens transaction-scoped stores and serves the
// downstream full-table read.
type LedgerRepository interface {
	// WithinTx runs fn inside one store transaction. The transaction commits
	// only when fn returns nil.
	WithinTx(ctx context.Context, fn func(Store) error) error

	// ListAll returns every persisted record ordered by date then identifier.
	ListAll(ctx context.Context) ([]ledger.PersistedRecord, error)

	// Count returns the number of persisted records.
	Count(ctx context.Context) (int, error)
}

// Store is the read-then-write surface used by the merge engine inside a
// single transaction.
type Store interface {
	// LockWriters serialises merges against the same store until the
	// surrounding transaction ends.
	LockWriters(ctx context.Context) error

	// ExistingIdentifiers returns the subset of ids already persisted.
	ExistingIdentifiers(ctx context.Context, ids []string) (map[string]struct{}, error)

	// AppendRows writes rows atomically and returns the exact number written.
	// Rows rejected by the uniqueness constraint are not counted.
	AppendRows(ctx context.Context, rows []ledger.TransactionRow) (int, error)
}

// DBTX is the subset of pgxpool.Pool used by the postgres repositories.
// pgxmock pools satisfy it as well.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
