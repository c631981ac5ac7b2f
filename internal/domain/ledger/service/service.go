// Package service provides the idempotent merge of identified rows into the
// ledger store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger/repository"
	"github.com/FACorreiaa/spending-ledger/pkg/metrics"
)

const (
	tracerName = "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/service"

	// maxMergeAttempts bounds re-runs after the uniqueness backstop fires.
	maxMergeAttempts = 3
)

// MergeResult reports what one Merge call did.
type MergeResult struct {
	Candidates int // distinct identifiers offered
	Duplicates int // rows dropped because their identifier repeated in the call
	Inserted   int // rows newly written, exact
	Skipped    int // candidates already persisted
	Collisions int // candidates persisted by another writer after our read

	// Inserted + Skipped + Collisions == Candidates
}

// MergeService merges identified rows into the ledger store.
type MergeService struct {
	repo    repository.LedgerRepository
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewMergeService creates a new merge service
func NewMergeService(repo repository.LedgerRepository, logger *slog.Logger) *MergeService {
	return &MergeService{
		repo:    repo,
		metrics: metrics.NewNop(),
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
	}
}

// WithMetrics records merge outcomes on m.
func (s *MergeService) WithMetrics(m *metrics.Metrics) *MergeService {
	s.metrics = m
	return s
}

// Merge writes the rows whose identifier is not yet persisted and reports the
// exact number written. Re-running Merge with rows already merged writes
// nothing. Store failures leave the store unchanged and match
// ledger.ErrStoreUnavailable; the whole call can be retried.
func (s *MergeService) Merge(ctx context.Context, rows []ledger.TransactionRow) (*MergeResult, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Merge", trace.WithAttributes(attribute.Int("ledger.rows", len(rows))))
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.MergeDuration.Observe(time.Since(start).Seconds()) }()

	candidates, duplicates, err := distinctCandidates(rows)
	if err != nil {
		span.SetStatus(codes.Error, "invalid batch")
		return nil, err
	}

	result := &MergeResult{Candidates: len(candidates), Duplicates: duplicates}
	if len(candidates) == 0 {
		return result, nil
	}

	// skipped is taken from the first read so that rows raced in by another
	// writer count as collisions only.
	skipped := -1
	for attempt := 1; ; attempt++ {
		out, err := s.mergeOnce(ctx, candidates)
		if errors.Is(err, ledger.ErrIdentifierCollision) {
			if skipped < 0 {
				skipped = out.skipped
			}
			if attempt < maxMergeAttempts {
				s.logger.Warn("identifier collision during merge, re-reading store",
					slog.Int("attempt", attempt),
					slog.Any("error", err),
				)
				continue
			}
			// the attempt rolled back, every unwritten candidate is held by
			// another writer
			s.logger.Warn("identifier collision persisted, counting rows as present",
				slog.Int("attempts", attempt),
				slog.Any("error", err),
			)
			out.written, err = 0, nil
		}
		if err != nil {
			s.metrics.MergeFailures.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "merge failed")
			return nil, fmt.Errorf("failed to merge batch: %w", err)
		}
		if skipped < 0 {
			skipped = out.skipped
		}

		result.Inserted = out.written
		result.Skipped = skipped
		result.Collisions = len(candidates) - skipped - out.written
		break
	}

	s.metrics.RowsInserted.Add(float64(result.Inserted))
	s.metrics.RowsSkipped.Add(float64(result.Skipped))
	s.metrics.Collisions.Add(float64(result.Collisions))
	span.SetAttributes(
		attribute.Int("ledger.inserted", result.Inserted),
		attribute.Int("ledger.skipped", result.Skipped),
	)

	s.logger.Info("merged batch",
		slog.Int("inserted", result.Inserted),
		slog.Int("skipped", result.Skipped),
		slog.Int("collisions", result.Collisions),
		slog.Int("duplicates", result.Duplicates),
	)

	return result, nil
}

type mergeAttempt struct {
	skipped   int
	attempted int
	written   int
}

// mergeOnce runs lock, read, partition and append inside one transaction.
func (s *MergeService) mergeOnce(ctx context.Context, candidates []ledger.TransactionRow) (mergeAttempt, error) {
	var out mergeAttempt

	err := s.repo.WithinTx(ctx, func(st repository.Store) error {
		if err := st.LockWriters(ctx); err != nil {
			return err
		}

		existing, err := st.ExistingIdentifiers(ctx, ledger.Batch(candidates).Identifiers())
		if err != nil {
			return err
		}

		toWrite := make([]ledger.TransactionRow, 0, len(candidates)-len(existing))
		for _, row := range candidates {
			if _, ok := existing[row.Identifier]; !ok {
				toWrite = append(toWrite, row)
			}
		}
		out.skipped = len(candidates) - len(toWrite)
		out.attempted = len(toWrite)

		if len(toWrite) == 0 {
			return nil
		}

		out.written, err = st.AppendRows(ctx, toWrite)
		return err
	})

	return out, err
}

// distinctCandidates keeps the first row of every identifier and rejects rows
// without one.
func distinctCandidates(rows []ledger.TransactionRow) ([]ledger.TransactionRow, int, error) {
	var errs []error
	seen := make(map[string]struct{}, len(rows))
	out := make([]ledger.TransactionRow, 0, len(rows))
	duplicates := 0

	for i, row := range rows {
		if row.Identifier == "" {
			errs = append(errs, &ledger.ValidationError{Index: i, Field: "identifier", Reason: "identifier not assigned"})
			continue
		}
		if _, ok := seen[row.Identifier]; ok {
			duplicates++
			continue
		}
		seen[row.Identifier] = struct{}{}
		out = append(out, row)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, 0, err
	}
	return out, duplicates, nil
}

// ListTransactions returns every persisted record.
func (s *MergeService) ListTransactions(ctx context.Context) ([]ledger.PersistedRecord, error) {
	records, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return records, nil
}

// CountTransactions returns the number of persisted records.
func (s *MergeService) CountTransactions(ctx context.Context) (int, error) {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}
