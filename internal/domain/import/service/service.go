// Package service provides the import orchestration logic: statements are
// parsed, identified and merged into the ledger while an import run records
// the outcome.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/spending-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/spending-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/spending-ledger/internal/domain/import/sniffer"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger/identity"
	ledgerservice "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/service"
	"github.com/FACorreiaa/spending-ledger/pkg/lock"
	"github.com/FACorreiaa/spending-ledger/pkg/metrics"
	"github.com/FACorreiaa/spending-ledger/pkg/storage"
)

const (
	tracerName = "github.com/FACorreiaa/spending-ledger/internal/domain/import/service"

	// WriterLockKey serializes writers across processes sharing the store.
	WriterLockKey = "ledger:writer"

	defaultMergeAttempts = 3
	defaultRetryBase     = 200 * time.Millisecond
	defaultLockWait      = 2 * time.Minute

	// maxReportedErrors caps the row errors kept on a run.
	maxReportedErrors = 20
)

// Merger writes identified rows into the ledger.
type Merger interface {
	Merge(ctx context.Context, rows []ledger.TransactionRow) (*ledgerservice.MergeResult, error)
}

// FileInput is one statement to import.
type FileInput struct {
	Source string
	Name   string
	Data   []byte
}

// ImportResult contains the result of an import operation
type ImportResult struct {
	RunID        uuid.UUID `json:"run_id"`
	Source       string    `json:"source"`
	File         string    `json:"file"`
	RowsTotal    int       `json:"rows_total"`
	RowsParsed   int       `json:"rows_parsed"`
	RowsFailed   int       `json:"rows_failed"`
	RowsInserted int       `json:"rows_inserted"`
	RowsSkipped  int       `json:"rows_skipped"`
	Errors       []string  `json:"errors,omitempty"`
}

// InboxResult aggregates one pass over the inbox.
type InboxResult struct {
	Files    int             `json:"files"`
	Imported int             `json:"imported"`
	Failed   int             `json:"failed"`
	Ignored  int             `json:"ignored"`
	Results  []*ImportResult `json:"results"`
}

// AnalyzeResult is the layout detected in a statement without importing it.
type AnalyzeResult struct {
	FileConfig        *sniffer.FileConfig        `json:"file_config"`
	ColumnSuggestions *sniffer.ColumnSuggestions `json:"column_suggestions"`
	Preview           []ledger.TransactionRow    `json:"-"`
	RowsTotal         int                        `json:"rows_total"`
	RowsFailed        int                        `json:"rows_failed"`
}

// ImportService handles statement imports
type ImportService struct {
	runs         repository.ImportRunRepository
	merger       Merger
	generator    *identity.Generator
	locker       lock.Locker
	metrics      *metrics.Metrics
	parserConfig parser.ParserConfig
	attempts     uint64
	retryBase    time.Duration
	lockWait     time.Duration
	tracer       trace.Tracer
	logger       *slog.Logger
}

// NewImportService creates a new import service. Without WithLocker, writers
// are serialized only inside this process.
func NewImportService(
	runs repository.ImportRunRepository,
	merger Merger,
	generator *identity.Generator,
	logger *slog.Logger,
) *ImportService {
	if generator == nil {
		generator = identity.Default
	}
	return &ImportService{
		runs:         runs,
		merger:       merger,
		generator:    generator,
		locker:       lock.NewMemoryLocker(),
		metrics:      metrics.NewNop(),
		parserConfig: parser.DefaultConfig(),
		attempts:     defaultMergeAttempts,
		retryBase:    defaultRetryBase,
		lockWait:     defaultLockWait,
		tracer:       otel.Tracer(tracerName),
		logger:       logger,
	}
}

func (s *ImportService) WithLocker(l lock.Locker) *ImportService {
	s.locker = l
	return s
}

func (s *ImportService) WithMetrics(m *metrics.Metrics) *ImportService {
	s.metrics = m
	return s
}

func (s *ImportService) WithParserConfig(cfg parser.ParserConfig) *ImportService {
	s.parserConfig = cfg
	return s
}

// WithRetry sets how many times a merge is tried when the store is
// unavailable, backing off exponentially from base.
func (s *ImportService) WithRetry(attempts int, base time.Duration) *ImportService {
	if attempts < 1 {
		attempts = 1
	}
	s.attempts = uint64(attempts)
	if base > 0 {
		s.retryBase = base
	}
	return s
}

// WithLockWait bounds how long an import waits for the writer lock.
func (s *ImportService) WithLockWait(d time.Duration) *ImportService {
	s.lockWait = d
	return s
}

// AnalyzeFile detects the layout of a statement and previews its first rows.
// Nothing is written.
func (s *ImportService) AnalyzeFile(ctx context.Context, in FileInput) (*AnalyzeResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	result := &AnalyzeResult{}
	name := filepath.Base(strings.TrimSpace(in.Name))
	if ext := strings.ToLower(filepath.Ext(name)); ext != ".xlsx" && ext != ".xlsm" {
		cfg, err := sniffer.DetectConfig(in.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to analyze %s: %w", name, err)
		}
		result.FileConfig = cfg
		result.ColumnSuggestions = sniffer.SuggestColumns(cfg.Headers)
	}

	parsed, err := parser.ParseFile(name, in.Data, s.parserConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	result.RowsTotal = parsed.TotalRows
	result.RowsFailed = len(parsed.Errors)

	rows := toRows(parsed.Transactions, strings.TrimSpace(in.Source), name)
	if len(rows) > 5 {
		rows = rows[:5]
	}
	identified, err := s.generator.AssignIdentifiers(rows)
	if err != nil {
		return nil, err
	}
	result.Preview = identified

	s.logger.DebugContext(ctx, "analyzed statement", slog.String("file", name), slog.Int("rows", result.RowsTotal))
	return result, nil
}

// ImportFile parses a statement and merges its rows into the ledger. Rows the
// parser rejects are reported on the result and the run; the remaining rows
// are still merged. Re-importing the same file writes nothing new.
func (s *ImportService) ImportFile(ctx context.Context, in FileInput) (*ImportResult, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	source := strings.TrimSpace(in.Source)
	name := filepath.Base(strings.TrimSpace(in.Name))

	ctx, span := s.tracer.Start(ctx, "import.ImportFile", trace.WithAttributes(
		attribute.String("import.source", source),
		attribute.String("import.file", name),
	))
	defer span.End()

	run := &repository.ImportRun{Source: source, File: name}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create import run: %w", err)
	}
	logger := s.logger.With(slog.String("run_id", run.ID.String()), slog.String("source", source), slog.String("file", name))

	result := &ImportResult{RunID: run.ID, Source: source, File: name}
	err := s.importRows(ctx, in.Data, result, logger)
	s.finish(ctx, result, err, logger)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "import failed")
		return result, err
	}
	span.SetAttributes(
		attribute.Int("import.inserted", result.RowsInserted),
		attribute.Int("import.skipped", result.RowsSkipped),
	)
	return result, nil
}

func (s *ImportService) importRows(ctx context.Context, data []byte, result *ImportResult, logger *slog.Logger) error {
	parsed, err := parser.ParseFile(result.File, data, s.parserConfig)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", result.File, err)
	}

	result.RowsTotal = parsed.TotalRows
	result.RowsParsed = parsed.ParsedRows
	result.RowsFailed = len(parsed.Errors)
	for i, pe := range parsed.Errors {
		if i == maxReportedErrors {
			result.Errors = append(result.Errors, fmt.Sprintf("... and %d more", len(parsed.Errors)-i))
			break
		}
		result.Errors = append(result.Errors, pe.Error())
	}
	if result.RowsFailed > 0 {
		s.metrics.RowsRejected.Add(float64(result.RowsFailed))
		logger.Warn("rows rejected by parser", slog.Int("count", result.RowsFailed))
	}

	rows := toRows(parsed.Transactions, result.Source, result.File)
	if len(rows) == 0 {
		return nil
	}

	identified, err := s.generator.AssignIdentifiers(rows)
	if err != nil {
		return err
	}

	merged, err := s.merge(ctx, identified, logger)
	if err != nil {
		return err
	}
	result.RowsInserted = merged.Inserted
	result.RowsSkipped = merged.Skipped + merged.Collisions
	return nil
}

// merge holds the writer lock for the whole merge and retries it while the
// store is unavailable.
func (s *ImportService) merge(ctx context.Context, rows []ledger.TransactionRow, logger *slog.Logger) (*ledgerservice.MergeResult, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	release, err := lock.Acquire(lockCtx, s.locker, WriterLockKey, lock.DefaultPollInterval)
	cancel()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release writer lock", slog.Any("error", err))
		}
	}()

	backoff := retry.WithMaxRetries(s.attempts-1, retry.NewExponential(s.retryBase))
	var merged *ledgerservice.MergeResult
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		res, err := s.merger.Merge(ctx, rows)
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			logger.Warn("ledger store unavailable, retrying merge", slog.Int("attempt", attempt), slog.Any("error", err))
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		merged = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *ImportService) finish(ctx context.Context, result *ImportResult, importErr error, logger *slog.Logger) {
	status := repository.RunStatusSucceeded
	var message *string
	if importErr != nil {
		status = repository.RunStatusFailed
		msg := importErr.Error()
		message = &msg
	}

	run := &repository.ImportRun{
		ID:           result.RunID,
		Source:       result.Source,
		File:         result.File,
		Status:       status,
		RowsTotal:    result.RowsTotal,
		RowsInserted: result.RowsInserted,
		RowsSkipped:  result.RowsSkipped,
		RowsFailed:   result.RowsFailed,
		ErrorMessage: message,
	}
	if err := s.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record import run", slog.Any("error", err))
	}
	s.metrics.ImportRuns.WithLabelValues(string(status)).Inc()

	if importErr != nil {
		logger.Error("import failed", slog.Any("error", importErr))
		return
	}
	logger.Info("import finished",
		slog.Int("total", result.RowsTotal),
		slog.Int("inserted", result.RowsInserted),
		slog.Int("skipped", result.RowsSkipped),
		slog.Int("failed", result.RowsFailed),
	)
}

// ImportInbox imports every pending statement in inbox. Imported files are
// archived, files that fail are rejected so the next pass does not pick them
// up again, and unsupported files are left alone.
func (s *ImportService) ImportInbox(ctx context.Context, inbox storage.Storage) (*InboxResult, error) {
	files, err := inbox.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}

	out := &InboxResult{Files: len(files)}
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !parser.Supported(f.Name) {
			out.Ignored++
			s.logger.Debug("ignoring unsupported inbox file", slog.String("path", f.Path))
			continue
		}

		res, err := s.importInboxFile(ctx, inbox, f)
		if res != nil {
			out.Results = append(out.Results, res)
		}
		if err != nil {
			out.Failed++
			errs = append(errs, fmt.Errorf("%s/%s: %w", f.Source, f.Name, err))
			continue
		}
		out.Imported++
	}

	return out, errors.Join(errs...)
}

func (s *ImportService) importInboxFile(ctx context.Context, inbox storage.Storage, f *storage.FileInfo) (*ImportResult, error) {
	data, err := inbox.Read(ctx, f)
	if err != nil {
		return nil, err
	}

	res, err := s.ImportFile(ctx, FileInput{Source: f.Source, Name: f.Name, Data: data})
	if err != nil {
		if !transient(err) {
			if rerr := inbox.Reject(ctx, f); rerr != nil {
				s.logger.Warn("failed to reject inbox file", slog.String("path", f.Path), slog.Any("error", rerr))
			}
		}
		return res, err
	}

	if err := inbox.Archive(ctx, f); err != nil {
		return res, fmt.Errorf("failed to archive: %w", err)
	}
	return res, nil
}

// transient reports whether err may clear by itself. Such files stay in the
// inbox for the next pass.
func transient(err error) bool {
	return errors.Is(err, ledger.ErrStoreUnavailable) || errors.Is(err, lock.ErrNotAcquired)
}

// ListRuns returns the most recent import runs.
func (s *ImportService) ListRuns(ctx context.Context, limit int) ([]*repository.ImportRun, error) {
	return s.runs.ListRuns(ctx, limit)
}

// GetRun returns one import run.
func (s *ImportService) GetRun(ctx context.Context, id uuid.UUID) (*repository.ImportRun, error) {
	return s.runs.GetRun(ctx, id)
}

func validateInput(in FileInput) error {
	var errs []error
	if strings.TrimSpace(in.Source) == "" {
		errs = append(errs, &ledger.ValidationError{Index: -1, Field: "source", Reason: "missing source"})
	}
	name := filepath.Base(strings.TrimSpace(in.Name))
	if name == "" || name == "." || name == "/" {
		errs = append(errs, &ledger.ValidationError{Index: -1, Field: "file", Reason: "missing file name"})
	} else if !parser.Supported(name) {
		errs = append(errs, &ledger.ValidationError{Index: -1, Field: "file", Reason: fmt.Sprintf("unsupported format %q", filepath.Ext(name))})
	}
	if len(bytes.TrimSpace(in.Data)) == 0 {
		errs = append(errs, &ledger.ValidationError{Index: -1, Field: "file", Reason: "empty file"})
	}
	return errors.Join(errs...)
}

// toRows converts parsed statement lines into ledger rows tagged with their
// provenance.
func toRows(txs []parser.ParsedTransaction, source, file string) []ledger.TransactionRow {
	rows := make([]ledger.TransactionRow, 0, len(txs))
	for _, tx := range txs {
		row := ledger.TransactionRow{
			Date:        tx.Date,
			Description: tx.Description,
			Amount:      tx.Amount,
			Source:      source,
			File:        file,
			Balance:     tx.Balance,
		}
		if tx.Subdescription != "" {
			sub := tx.Subdescription
			row.Subdescription = &sub
		}
		if tx.Category != "" {
			cat := tx.Category
			row.Category = &cat
		}
		rows = append(rows, row)
	}
	return rows
}
