package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
)

// WriterLockKey is the advisory lock key taken by every merge transaction.
const WriterLockKey int64 = 0x6c6564676572

const uniqueViolation = "23505"

// PostgresLedgerRepository implements LedgerRepository on the all_spending table.
type PostgresLedgerRepository struct {
	db DBTX
}

// NewPostgresLedgerRepository creates a new PostgreSQL ledger repository
func NewPostgresLedgerRepository(db DBTX) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

// WithinTx runs fn in a transaction and commits when fn succeeds.
func (r *PostgresLedgerRepository) WithinTx(ctx context.Context, fn func(Store) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return ledger.Unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("failed to commit transaction", err)
	}
	return nil
}

// ListAll returns every persisted record.
func (r *PostgresLedgerRepository) ListAll(ctx context.Context) ([]ledger.PersistedRecord, error) {
	query := `
		SELECT row_id, date, description, subdescription, amount::text, source, file,
			balance::text, category, created_at
		FROM all_spending
		ORDER BY date, row_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, ledger.Unavailable("failed to list records", err)
	}
	defer rows.Close()

	var records []ledger.PersistedRecord
	for rows.Next() {
		var (
			rec     ledger.PersistedRecord
			amount  string
			balance *string
		)
		err := rows.Scan(
			&rec.Identifier, &rec.Date, &rec.Description, &rec.Subdescription,
			&amount, &rec.Source, &rec.File, &balance, &rec.Category, &rec.CreatedAt,
		)
		if err != nil {
			return nil, ledger.Unavailable("failed to scan record", err)
		}

		rec.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount of %s: %w", rec.Identifier, err)
		}
		if balance != nil {
			b, err := decimal.NewFromString(*balance)
			if err != nil {
				return nil, fmt.Errorf("failed to parse balance of %s: %w", rec.Identifier, err)
			}
			rec.Balance = decimal.NewNullDecimal(b)
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable("failed to iterate records", err)
	}

	return records, nil
}

// Count returns the number of persisted records.
func (r *PostgresLedgerRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM all_spending`).Scan(&n); err != nil {
		return 0, ledger.Unavailable("failed to count records", err)
	}
	return n, nil
}

type postgresStore struct {
	tx pgx.Tx
}

func (s *postgresStore) LockWriters(ctx context.Context) error {
	if _, err := s.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, WriterLockKey); err != nil {
		return ledger.Unavailable("failed to acquire writer lock", err)
	}
	return nil
}

func (s *postgresStore) ExistingIdentifiers(ctx context.Context, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	rows, err := s.tx.Query(ctx, `SELECT row_id FROM all_spending WHERE row_id = ANY($1)`, ids)
	if err != nil {
		return nil, ledger.Unavailable("failed to read existing identifiers", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ledger.Unavailable("failed to scan identifier", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.Unavailable("failed to read existing identifiers", err)
	}

	return existing, nil
}

// AppendRows inserts all rows with one statement. Conflicting identifiers are
// skipped by the database, so RowsAffected is the exact number written.
func (s *postgresStore) AppendRows(ctx context.Context, rows []ledger.TransactionRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO all_spending (row_id, date, description, subdescription, amount, source, file, balance, category)
		SELECT t.row_id, t.date::date, t.description, t.subdescription, t.amount::numeric,
			t.source, t.file, t.balance::numeric, t.category
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[],
			$6::text[], $7::text[], $8::text[], $9::text[])
			AS t(row_id, date, description, subdescription, amount, source, file, balance, category)
		ON CONFLICT (row_id) DO NOTHING`

	cols := columnsOf(rows)
	tag, err := s.tx.Exec(ctx, query,
		cols.ids, cols.dates, cols.descriptions, cols.subdescriptions, cols.amounts,
		cols.sources, cols.files, cols.balances, cols.categories,
	)
	if err != nil {
		return 0, classify("failed to append rows", err)
	}

	return int(tag.RowsAffected()), nil
}

// classify maps a write error onto the ledger errors by SQLSTATE class.
// Data exceptions (22) and integrity violations (23) other than a unique
// violation are permanent. Anything else, connection loss (08), resource
// exhaustion (53), operator intervention (57) and transaction rollback (40)
// included, is an infrastructure failure.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ledger.Unavailable(op, err)
	}
	switch {
	case pgErr.Code == uniqueViolation:
		return fmt.Errorf("%w: %s", ledger.ErrIdentifierCollision, pgErr.Detail)
	case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
		return fmt.Errorf("%s: %w: %w", op, ledger.ErrRowRejected, err)
	default:
		return ledger.Unavailable(op, err)
	}
}

type rowColumns struct {
	ids             []string
	dates           []string
	descriptions    []string
	subdescriptions []*string
	amounts         []string
	sources         []string
	files           []string
	balances        []*string
	categories      []*string
}

// columnsOf transposes rows into the column arrays fed to unnest.
func columnsOf(rows []ledger.TransactionRow) rowColumns {
	n := len(rows)
	c := rowColumns{
		ids:             make([]string, n),
		dates:           make([]string, n),
		descriptions:    make([]string, n),
		subdescriptions: make([]*string, n),
		amounts:         make([]string, n),
		sources:         make([]string, n),
		files:           make([]string, n),
		balances:        make([]*string, n),
		categories:      make([]*string, n),
	}
	for i, r := range rows {
		c.ids[i] = r.Identifier
		c.dates[i] = r.Date.Format("2006-01-02")
		c.descriptions[i] = r.Description
		c.subdescriptions[i] = r.Subdescription
		c.amounts[i] = ledger.FormatAmount(r.Amount)
		c.sources[i] = r.Source
		c.files[i] = r.File
		if r.Balance.Valid {
			b := ledger.FormatAmount(r.Balance.Decimal)
			c.balances[i] = &b
		}
		c.categories[i] = r.Category
	}
	return c
}
