package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	importhandler "github.com/FACorreiaa/spending-ledger/internal/domain/import/handler"
	importrepo "github.com/FACorreiaa/spending-ledger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/spending-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/spending-ledger/internal/domain/import/parser"
	ledgerhandler "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/handler"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger/identity"
	ledgerrepo "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/repository"
	ledgerservice "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/service"
	"github.com/FACorreiaa/spending-ledger/pkg/config"
	"github.com/FACorreiaa/spending-ledger/pkg/cron"
	"github.com/FACorreiaa/spending-ledger/pkg/db"
	"github.com/FACorreiaa/spending-ledger/pkg/lock"
	"github.com/FACorreiaa/spending-ledger/pkg/metrics"
	"github.com/FACorreiaa/spending-ledger/pkg/money"
	"github.com/FACorreiaa/spending-ledger/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	DB      *db.DB
	Redis   *redis.Client
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// Repositories
	LedgerRepo    ledgerrepo.LedgerRepository
	ImportRunRepo importrepo.ImportRunRepository

	// Services
	MergeService  *ledgerservice.MergeService
	ImportService *importservice.ImportService
	Locker        lock.Locker
	Inbox         storage.Storage
	Scheduler     *cron.Scheduler

	// Handlers
	LedgerHandler *ledgerhandler.LedgerHandler
	ImportHandler *importhandler.ImportHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics()

	if err := deps.initDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	deps.initRepositories()

	if err := deps.initLocker(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init writer lock: %w", err)
	}

	if err := deps.initServices(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

func (d *Dependencies) initMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.Metrics = metrics.New(reg)
}

// initDatabase connects, migrates the schema and refreshes the views
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.Bootstrap(ctx, d.Config.Ingest.ViewsDir); err != nil {
		d.DB.Close()
		return err
	}

	d.Logger.Info("database connected and schema bootstrapped")
	return nil
}

func (d *Dependencies) initRepositories() {
	d.LedgerRepo = ledgerrepo.NewPostgresLedgerRepository(d.DB.Pool)
	d.ImportRunRepo = importrepo.NewPostgresImportRunRepository(d.DB.Pool)

	d.Logger.Info("repositories initialized")
}

// initLocker uses Redis when configured so that several API or CLI
// processes share one writer lock.
func (d *Dependencies) initLocker(ctx context.Context) error {
	if d.Config.Lock.RedisAddr == "" {
		d.Locker = lock.NewMemoryLocker()
		d.Logger.Info("using in-process writer lock")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     d.Config.Lock.RedisAddr,
		Password: d.Config.Lock.RedisPassword,
		DB:       d.Config.Lock.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to reach redis at %s: %w", d.Config.Lock.RedisAddr, err)
	}

	d.Redis = client
	d.Locker = lock.NewRedisLocker(client, d.Config.Lock.TTL)
	d.Logger.Info("using redis writer lock", slog.String("addr", d.Config.Lock.RedisAddr))
	return nil
}

func (d *Dependencies) initServices() error {
	generator, err := identity.New(d.Config.Ingest.IdentifierLength)
	if err != nil {
		return err
	}

	parserCfg := parser.DefaultConfig()
	if d.Config.Ingest.EuropeanAmounts {
		parserCfg.IsEuropeanFormat = true
		parserCfg.AutoDialect = false
	}

	d.MergeService = ledgerservice.NewMergeService(d.LedgerRepo, d.Logger).WithMetrics(d.Metrics)
	d.ImportService = importservice.NewImportService(d.ImportRunRepo, d.MergeService, generator, d.Logger).
		WithLocker(d.Locker).
		WithMetrics(d.Metrics).
		WithParserConfig(parserCfg).
		WithRetry(d.Config.Ingest.MergeRetries, 0)

	if d.Config.Ingest.InboxSchedule != "" {
		inbox, err := storage.NewLocalStorage(d.Config.Ingest.InboxDir)
		if err != nil {
			return err
		}
		d.Inbox = inbox
		d.Scheduler = cron.NewScheduler(d.ImportService, inbox, d.Logger)
	}

	d.Logger.Info("services initialized")
	return nil
}

func (d *Dependencies) initHandlers() {
	d.LedgerHandler = ledgerhandler.NewLedgerHandler(d.MergeService, money.DefaultCurrency, d.Logger)
	d.ImportHandler = importhandler.NewImportHandler(d.ImportService, d.Logger).
		WithMaxUploadBytes(d.Config.Server.MaxUploadBytes)

	d.Logger.Info("handlers initialized")
}

// MetricsServer serves /metrics on its own port so it is never exposed
// through the public API listener.
func (d *Dependencies) MetricsServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.Metrics.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", d.Config.Observability.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Close releases the store and lock connections.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn("failed to close redis client", slog.Any("error", err))
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
