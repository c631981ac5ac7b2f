package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
)

func TestMemoryLedgerRepository_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLedgerRepository()
	rows := sampleRows()

	err := repo.WithinTx(ctx, func(st Store) error {
		n, err := st.AppendRows(ctx, rows[:1])
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "aborted transaction must not persist rows")

	err = repo.WithinTx(ctx, func(st Store) error {
		_, err := st.AppendRows(ctx, rows)
		return err
	})
	require.NoError(t, err)

	records, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1de1af03532d6c2ad0dd", records[0].Identifier)
	assert.False(t, records[0].CreatedAt.IsZero())
}

func TestMemoryLedgerRepository_ExistingIdentifiers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLedgerRepository()
	rows := sampleRows()
	repo.Insert(rows[0])

	err := repo.WithinTx(ctx, func(st Store) error {
		existing, err := st.ExistingIdentifiers(ctx, []string{rows[0].Identifier, rows[1].Identifier})
		require.NoError(t, err)
		assert.Len(t, existing, 1)
		assert.Contains(t, existing, rows[0].Identifier)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryLedgerRepository_AppendCollision(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLedgerRepository()
	rows := sampleRows()
	repo.Insert(rows[1])

	err := repo.WithinTx(ctx, func(st Store) error {
		_, err := st.AppendRows(ctx, rows)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrIdentifierCollision)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "rejected batch must not be partially written")
}

func TestMemoryLedgerRepository_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryLedgerRepository()
	cause := errors.New("disk full")

	repo.FailReads(cause)
	err := repo.WithinTx(ctx, func(st Store) error {
		_, err := st.ExistingIdentifiers(ctx, []string{"x"})
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)

	_, err = repo.ListAll(ctx)
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	repo.FailReads(nil)

	repo.FailWrites(cause)
	err = repo.WithinTx(ctx, func(st Store) error {
		_, err := st.AppendRows(ctx, sampleRows())
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
}

func TestMemoryLedgerRepository_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := NewMemoryLedgerRepository()
	err := repo.WithinTx(ctx, func(Store) error { return nil })
	assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}
