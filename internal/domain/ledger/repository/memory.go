package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
)

// MemoryLedgerRepository implements LedgerRepository in process memory.
// Transactions are serialised by a mutex and staged until commit. Appends
// follow plain INSERT semantics: a batch containing an already persisted
// identifier is rejected with ledger.ErrIdentifierCollision.
type MemoryLedgerRepository struct {
	mu      sync.Mutex
	records map[string]ledger.PersistedRecord
	now     func() time.Time

	readErr  error
	writeErr error
}

// NewMemoryLedgerRepository creates an empty in-memory ledger.
func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{
		records: make(map[string]ledger.PersistedRecord),
		now:     time.Now,
	}
}

// FailReads makes subsequent identifier reads fail with err. Nil clears it.
func (r *MemoryLedgerRepository) FailReads(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErr = err
}

// FailWrites makes subsequent appends fail with err. Nil clears it.
func (r *MemoryLedgerRepository) FailWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

// Insert persists rows directly, outside any merge. It stands in for a
// concurrent writer.
func (r *MemoryLedgerRepository) Insert(rows ...ledger.TransactionRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		r.records[row.Identifier] = ledger.PersistedRecord{TransactionRow: row, CreatedAt: r.now()}
	}
}

// WithinTx runs fn with exclusive access and applies staged rows on success.
func (r *MemoryLedgerRepository) WithinTx(ctx context.Context, fn func(Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return ledger.Unavailable("failed to begin transaction", err)
	}

	st := &memoryStore{repo: r, staged: make(map[string]ledger.TransactionRow)}
	if err := fn(st); err != nil {
		return err
	}

	now := r.now()
	for id, row := range st.staged {
		r.records[id] = ledger.PersistedRecord{TransactionRow: row, CreatedAt: now}
	}
	return nil
}

// ListAll returns every record ordered by date then identifier.
func (r *MemoryLedgerRepository) ListAll(ctx context.Context) ([]ledger.PersistedRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.readErr != nil {
		return nil, ledger.Unavailable("failed to list records", r.readErr)
	}

	out := make([]ledger.PersistedRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out, nil
}

// Count returns the number of persisted records.
func (r *MemoryLedgerRepository) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records), nil
}

// memoryStore runs with repo.mu held by WithinTx.
type memoryStore struct {
	repo   *MemoryLedgerRepository
	staged map[string]ledger.TransactionRow
}

func (s *memoryStore) LockWriters(ctx context.Context) error {
	return nil
}

func (s *memoryStore) ExistingIdentifiers(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if s.repo.readErr != nil {
		return nil, ledger.Unavailable("failed to read existing identifiers", s.repo.readErr)
	}

	existing := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := s.repo.records[id]; ok {
			existing[id] = struct{}{}
		} else if _, ok := s.staged[id]; ok {
			existing[id] = struct{}{}
		}
	}
	return existing, nil
}

func (s *memoryStore) AppendRows(ctx context.Context, rows []ledger.TransactionRow) (int, error) {
	if s.repo.writeErr != nil {
		return 0, ledger.Unavailable("failed to append rows", s.repo.writeErr)
	}

	batch := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		_, persisted := s.repo.records[row.Identifier]
		_, staged := s.staged[row.Identifier]
		_, repeated := batch[row.Identifier]
		if persisted || staged || repeated {
			return 0, fmt.Errorf("%w: %s", ledger.ErrIdentifierCollision, row.Identifier)
		}
		batch[row.Identifier] = struct{}{}
	}

	for _, row := range rows {
		s.staged[row.Identifier] = row
	}
	return len(rows), nil
}
