// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	importservice "github.com/FACorreiaa/spending-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/spending-ledger/pkg/storage"
)

// DefaultInboxSchedule polls the inbox every fifteen minutes.
const DefaultInboxSchedule = "*/15 * * * *"

const inboxTimeout = 30 * time.Minute

// InboxImporter imports every pending statement of an inbox.
type InboxImporter interface {
	ImportInbox(ctx context.Context, inbox storage.Storage) (*importservice.InboxResult, error)
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	importer InboxImporter
	inbox    storage.Storage
	logger   *slog.Logger
}

// NewScheduler creates a new job scheduler. A pass that is still running
// when the next one is due is not overlapped.
func NewScheduler(importer InboxImporter, inbox storage.Storage, logger *slog.Logger) *Scheduler {
	cronLogger := cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:     c,
		importer: importer,
		inbox:    inbox,
		logger:   logger,
	}
}

// Start schedules the inbox import with a standard five-field spec. An empty
// spec uses DefaultInboxSchedule.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultInboxSchedule
	}
	if _, err := s.cron.AddFunc(spec, s.importInbox); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("schedule", spec),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers an inbox import outside the schedule.
func (s *Scheduler) RunNow() {
	go s.importInbox()
}

func (s *Scheduler) importInbox() {
	ctx, cancel := context.WithTimeout(context.Background(), inboxTimeout)
	defer cancel()

	s.logger.Debug("scanning statement inbox")

	result, err := s.importer.ImportInbox(ctx, s.inbox)
	if result == nil {
		s.logger.Error("failed to scan inbox", slog.Any("error", err))
		return
	}
	if err != nil {
		s.logger.Warn("some inbox files failed to import", slog.Any("error", err))
	}

	if result.Files == 0 {
		return
	}

	inserted := 0
	for _, r := range result.Results {
		inserted += r.RowsInserted
	}
	s.logger.Info("inbox import completed",
		slog.Int("files_imported", result.Imported),
		slog.Int("files_failed", result.Failed),
		slog.Int("files_ignored", result.Ignored),
		slog.Int("rows_inserted", inserted),
	)
}
