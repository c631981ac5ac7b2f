package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/spending-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
	ledgerrepo "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/repository"
	ledgerservice "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/service"
	"github.com/FACorreiaa/spending-ledger/pkg/lock"
	"github.com/FACorreiaa/spending-ledger/pkg/metrics"
	"github.com/FACorreiaa/spending-ledger/pkg/storage"
)

const janStatement = `Date,Description,Amount
2024-01-05,Coffee Shop,-4.50
2024-01-05,Coffee Shop,-4.50
2024-01-06,Salary,1500.00
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	ledger  *ledgerrepo.MemoryLedgerRepository
	runs    *repository.MemoryImportRunRepository
	metrics *metrics.Metrics
	svc     *ImportService
}

func newFixture(merger func(Merger) Merger) *fixture {
	f := &fixture{
		ledger:  ledgerrepo.NewMemoryLedgerRepository(),
		runs:    repository.NewMemoryImportRunRepository(),
		metrics: metrics.NewNop(),
	}
	var m Merger = ledgerservice.NewMergeService(f.ledger, testLogger())
	if merger != nil {
		m = merger(m)
	}
	f.svc = NewImportService(f.runs, m, nil, testLogger()).
		WithMetrics(f.metrics).
		WithRetry(3, time.Millisecond)
	return f
}

// flakyMerger fails the first failures calls with err before delegating.
type flakyMerger struct {
	next     Merger
	failures int
	err      error
	calls    int
}

func (m *flakyMerger) Merge(ctx context.Context, rows []ledger.TransactionRow) (*ledgerservice.MergeResult, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, m.err
	}
	return m.next.Merge(ctx, rows)
}

func TestImportFile_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	in := FileInput{Source: "Visa", Name: "statements/jan.csv", Data: []byte(janStatement)}

	first, err := f.svc.ImportFile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "jan.csv", first.File)
	assert.Equal(t, 3, first.RowsTotal)
	assert.Equal(t, 3, first.RowsParsed)
	assert.Equal(t, 3, first.RowsInserted)
	assert.Equal(t, 0, first.RowsSkipped)

	second, err := f.svc.ImportFile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 0, second.RowsInserted)
	assert.Equal(t, 3, second.RowsSkipped)
	assert.NotEqual(t, first.RunID, second.RunID)

	count, err := f.ledger.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	records, err := f.ledger.ListAll(ctx)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, "Visa", r.Source)
		assert.Equal(t, "jan.csv", r.File)
		assert.Len(t, r.Identifier, 20)
	}

	run, err := f.runs.GetRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunStatusSucceeded, run.Status)
	assert.Equal(t, 3, run.RowsInserted)
	assert.Equal(t, "Visa", run.Source)
	require.NotNil(t, run.FinishedAt)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ImportRuns.WithLabelValues("succeeded")))
}

func TestImportFile_ReportsRejectedRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	data := `Date,Description,Amount
2024-01-05,Coffee Shop,-4.50
not-a-date,Bakery,-2.10
2024-01-07,,-1.00
2024-01-08,Books,abc
`

	res, err := f.svc.ImportFile(ctx, FileInput{Source: "Visa", Name: "jan.csv", Data: []byte(data)})
	require.NoError(t, err)
	assert.Equal(t, 4, res.RowsTotal)
	assert.Equal(t, 1, res.RowsInserted)
	assert.Equal(t, 3, res.RowsFailed)
	require.Len(t, res.Errors, 3)
	assert.Contains(t, res.Errors[0], "row 3")

	run, err := f.runs.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.RowsFailed)
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.RowsRejected))
}

func TestImportFile_CapsReportedErrors(t *testing.T) {
	var b strings.Builder
	b.WriteString("Date,Description,Amount\n")
	for i := 0; i < maxReportedErrors+5; i++ {
		fmt.Fprintf(&b, "bad,Row %d,-1.00\n", i)
	}

	f := newFixture(nil)
	res, err := f.svc.ImportFile(context.Background(), FileInput{Source: "Visa", Name: "bad.csv", Data: []byte(b.String())})
	require.NoError(t, err)
	assert.Equal(t, maxReportedErrors+5, res.RowsFailed)
	require.Len(t, res.Errors, maxReportedErrors+1)
	assert.Equal(t, "... and 5 more", res.Errors[maxReportedErrors])
}

func TestImportFile_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input FileInput
		field string
	}{
		{"missing source", FileInput{Source: "  ", Name: "jan.csv", Data: []byte(janStatement)}, "source"},
		{"missing name", FileInput{Source: "Visa", Name: "", Data: []byte(janStatement)}, "file"},
		{"unsupported format", FileInput{Source: "Visa", Name: "jan.pdf", Data: []byte("%PDF")}, "file"},
		{"empty file", FileInput{Source: "Visa", Name: "jan.csv", Data: []byte("\n  \n")}, "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			_, err := f.svc.ImportFile(context.Background(), tt.input)
			require.ErrorIs(t, err, ledger.ErrValidation)

			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			runs, err := f.runs.ListRuns(context.Background(), 10)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestImportFile_RetriesUnavailableStore(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyMerger
	f := newFixture(func(next Merger) Merger {
		flaky = &flakyMerger{next: next, failures: 2, err: ledger.Unavailable("failed to begin transaction", errors.New("connection refused"))}
		return flaky
	})

	res, err := f.svc.ImportFile(ctx, FileInput{Source: "Visa", Name: "jan.csv", Data: []byte(janStatement)})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 3, res.RowsInserted)
}

func TestImportFile_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyMerger
	f := newFixture(func(next Merger) Merger {
		flaky = &flakyMerger{next: next, failures: 10, err: ledger.Unavailable("failed to begin transaction", errors.New("connection refused"))}
		return flaky
	})

	res, err := f.svc.ImportFile(ctx, FileInput{Source: "Visa", Name: "jan.csv", Data: []byte(janStatement)})
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, 3, flaky.calls)

	run, err := f.runs.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "connection refused")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ImportRuns.WithLabelValues("failed")))

	count, err := f.ledger.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestImportFile_DoesNotRetryOtherErrors(t *testing.T) {
	var flaky *flakyMerger
	f := newFixture(func(next Merger) Merger {
		flaky = &flakyMerger{next: next, failures: 1, err: errors.New("boom")}
		return flaky
	})

	_, err := f.svc.ImportFile(context.Background(), FileInput{Source: "Visa", Name: "jan.csv", Data: []byte(janStatement)})
	require.Error(t, err)
	assert.Equal(t, 1, flaky.calls)
}

func TestImportFile_WaitsForWriterLock(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewMemoryLocker()
	f := newFixture(nil)
	f.svc.WithLocker(locker).WithLockWait(50 * time.Millisecond)

	release, err := locker.TryAcquire(ctx, WriterLockKey)
	require.NoError(t, err)

	res, err := f.svc.ImportFile(ctx, FileInput{Source: "Visa", Name: "jan.csv", Data: []byte(janStatement)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, lock.ErrNotAcquired)

	run, err := f.runs.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, repository.RunStatusFailed, run.Status)

	require.NoError(t, release(ctx))
	res, err = f.svc.ImportFile(ctx, FileInput{Source: "Visa", Name: "jan.csv", Data: []byte(janStatement)})
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsInserted)

	// the lock is free again after a successful import
	again, err := locker.TryAcquire(ctx, WriterLockKey)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestImportFile_RandomStatementsStayIdempotent(t *testing.T) {
	faker := gofakeit.New(42)
	var b strings.Builder
	b.WriteString("Date,Description,Amount\n")
	for i := 0; i < 50; i++ {
		date := faker.DateRange(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC))
		company := strings.NewReplacer(",", "", "\"", "").Replace(faker.Company())
		fmt.Fprintf(&b, "%s,%s,%.2f\n", date.Format("2006-01-02"), company, faker.Price(-500, 500))
	}
	data := []byte(b.String())

	ctx := context.Background()
	f := newFixture(nil)

	first, err := f.svc.ImportFile(ctx, FileInput{Source: "Checking", Name: "2024.csv", Data: data})
	require.NoError(t, err)
	require.Zero(t, first.RowsFailed, first.Errors)

	second, err := f.svc.ImportFile(ctx, FileInput{Source: "Checking", Name: "2024.csv", Data: data})
	require.NoError(t, err)
	assert.Zero(t, second.RowsInserted)
	assert.Equal(t, first.RowsInserted, second.RowsSkipped)

	count, err := f.ledger.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.RowsInserted, count)
}

func TestAnalyzeFile(t *testing.T) {
	data := "Bank export\nAccount;PT50 0000\n\nData Mov.;Descrição;Valor;Saldo\n05/01/2024;Café;-4,50;1.000,00\n06/01/2024;Salário;1.500,00;2.500,00\n"
	f := newFixture(nil)

	res, err := f.svc.AnalyzeFile(context.Background(), FileInput{Source: "Millennium", Name: "jan.csv", Data: []byte(data)})
	require.NoError(t, err)
	require.NotNil(t, res.FileConfig)
	assert.Equal(t, ';', res.FileConfig.Delimiter)
	assert.Equal(t, 3, res.FileConfig.SkipLines)
	require.NotNil(t, res.FileConfig.Dialect)
	assert.True(t, res.FileConfig.Dialect.IsEuropeanFormat)
	assert.Equal(t, 2, res.ColumnSuggestions.AmountCol)

	assert.Equal(t, 2, res.RowsTotal)
	require.Len(t, res.Preview, 2)
	assert.Equal(t, "1500", res.Preview[1].Amount.String())
	assert.Len(t, res.Preview[0].Identifier, 20)

	count, err := f.ledger.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestImportInbox(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	write("visa/jan.csv", janStatement)
	write("visa/readme.pdf", "%PDF")
	write("amex/q1.xlsx", "not a workbook")

	inbox, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	ctx := context.Background()
	f := newFixture(nil)

	res, err := f.svc.ImportInbox(ctx, inbox)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amex/q1.xlsx")
	assert.Equal(t, 3, res.Files)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Ignored)

	assert.FileExists(t, filepath.Join(root, ".processed", "visa", "jan.csv"))
	assert.FileExists(t, filepath.Join(root, ".failed", "amex", "q1.xlsx"))
	assert.FileExists(t, filepath.Join(root, "visa", "readme.pdf"))

	count, err := f.ledger.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// a second pass finds only the unsupported file
	res, err = f.svc.ImportInbox(ctx, inbox)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Ignored)
	assert.Zero(t, res.Imported)
}

func TestImportInbox_LeavesFilesDuringOutage(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "visa"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visa", "jan.csv"), []byte(janStatement), 0644))

	inbox, err := storage.NewLocalStorage(root)
	require.NoError(t, err)

	f := newFixture(nil)
	f.ledger.FailReads(errors.New("connection reset"))

	res, err := f.svc.ImportInbox(context.Background(), inbox)
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, 1, res.Failed)
	assert.FileExists(t, filepath.Join(root, "visa", "jan.csv"))
}

// unreachableRuns fails to record runs as if the database were down.
type unreachableRuns struct {
	*repository.MemoryImportRunRepository
}

func (r unreachableRuns) CreateRun(ctx context.Context, run *repository.ImportRun) error {
	return ledger.Unavailable("failed to create import run", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
}

func newPendingInbox(t *testing.T) (string, *storage.LocalStorage) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "visa"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "visa", "jan.csv"), []byte(janStatement), 0644))

	inbox, err := storage.NewLocalStorage(root)
	require.NoError(t, err)
	return root, inbox
}

func TestImportInbox_LeavesFilesWhenRunsUnavailable(t *testing.T) {
	root, inbox := newPendingInbox(t)

	ledgerRepo := ledgerrepo.NewMemoryLedgerRepository()
	runs := unreachableRuns{repository.NewMemoryImportRunRepository()}
	svc := NewImportService(runs, ledgerservice.NewMergeService(ledgerRepo, testLogger()), nil, testLogger())

	res, err := svc.ImportInbox(context.Background(), inbox)
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, 1, res.Failed)
	assert.FileExists(t, filepath.Join(root, "visa", "jan.csv"))
	assert.NoDirExists(t, filepath.Join(root, ".failed"))
}

func TestImportInbox_LeavesFilesWhileWriterBusy(t *testing.T) {
	ctx := context.Background()
	root, inbox := newPendingInbox(t)

	locker := lock.NewMemoryLocker()
	f := newFixture(nil)
	f.svc.WithLocker(locker).WithLockWait(50 * time.Millisecond)

	release, err := locker.TryAcquire(ctx, WriterLockKey)
	require.NoError(t, err)

	res, err := f.svc.ImportInbox(ctx, inbox)
	require.ErrorIs(t, err, lock.ErrNotAcquired)
	assert.Equal(t, 1, res.Failed)
	assert.FileExists(t, filepath.Join(root, "visa", "jan.csv"))
	assert.NoDirExists(t, filepath.Join(root, ".failed"))

	// the next pass picks the file up once the writer is done
	require.NoError(t, release(ctx))
	res, err = f.svc.ImportInbox(ctx, inbox)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.FileExists(t, filepath.Join(root, ".processed", "visa", "jan.csv"))
}

func TestImportInbox_RejectsRowsTheStoreRefuses(t *testing.T) {
	root, inbox := newPendingInbox(t)

	f := newFixture(func(next Merger) Merger {
		return &flakyMerger{next: next, failures: 1, err: fmt.Errorf("failed to append rows: %w", ledger.ErrRowRejected)}
	})

	res, err := f.svc.ImportInbox(context.Background(), inbox)
	require.ErrorIs(t, err, ledger.ErrRowRejected)
	assert.Equal(t, 1, res.Failed)
	assert.FileExists(t, filepath.Join(root, ".failed", "visa", "jan.csv"))
}
