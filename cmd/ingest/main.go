// Command ingest imports bank statements into the spending ledger from the
// command line.
//
//	ingest -source visa -file statements/jan.csv
//	ingest -inbox ./inbox
//	ingest -source visa -file jan.csv -dry-run
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	importrepo "github.com/FACorreiaa/spending-ledger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/spending-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/spending-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/spending-ledger/internal/domain/ledger/identity"
	ledgerrepo "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/repository"
	ledgerservice "github.com/FACorreiaa/spending-ledger/internal/domain/ledger/service"
	"github.com/FACorreiaa/spending-ledger/pkg/config"
	"github.com/FACorreiaa/spending-ledger/pkg/db"
	"github.com/FACorreiaa/spending-ledger/pkg/lock"
	"github.com/FACorreiaa/spending-ledger/pkg/storage"
)

type options struct {
	file     string
	source   string
	inbox    string
	views    string
	dryRun   bool
	initOnly bool
	timeout  time.Duration
}

// newLogger logs JSON to w. Stdout is kept for the result.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.file, "file", "", "statement to import (csv, tsv, txt, md, xlsx)")
	fs.StringVar(&opts.source, "source", "", "account tag stored with every row of -file")
	fs.StringVar(&opts.inbox, "inbox", "", "import every <inbox>/<source>/<file> instead of -file")
	fs.StringVar(&opts.views, "views", "", "directory of view definitions, overrides VIEWS_DIR")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "merge into an in-memory ledger and print the result")
	fs.BoolVar(&opts.initOnly, "init", false, "only create the schema and refresh the views")
	fs.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "give up after this long")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	switch {
	case opts.initOnly:
		if opts.dryRun {
			return opts, errors.New("-init cannot be combined with -dry-run")
		}
	case opts.dryRun && opts.inbox != "":
		return opts, errors.New("-dry-run works with -file only, an inbox pass moves files")
	case opts.file != "" && opts.inbox != "":
		return opts, errors.New("use either -file or -inbox")
	case opts.file != "" && opts.source == "":
		return opts, errors.New("-source is required with -file")
	case opts.file == "" && opts.inbox == "":
		return opts, errors.New("one of -file, -inbox or -init is required")
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "ingest:", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stderr, cfg.Observability.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := run(ctx, opts, cfg, logger, os.Stdout); err != nil {
		logger.Error("ingestion failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	var (
		ledgerRepo ledgerrepo.LedgerRepository
		runs       importrepo.ImportRunRepository
		locker     lock.Locker = lock.NewMemoryLocker()
	)

	if opts.dryRun {
		ledgerRepo = ledgerrepo.NewMemoryLedgerRepository()
		runs = importrepo.NewMemoryImportRunRepository()
	} else {
		database, err := db.New(db.Config{DSN: cfg.Database.DSN(), MaxConns: 4}, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		viewsDir := cfg.Ingest.ViewsDir
		if opts.views != "" {
			viewsDir = opts.views
		}
		if err := database.Bootstrap(ctx, viewsDir); err != nil {
			return err
		}
		if opts.initOnly {
			logger.Info("schema and views are up to date")
			return nil
		}

		ledgerRepo = ledgerrepo.NewPostgresLedgerRepository(database.Pool)
		runs = importrepo.NewPostgresImportRunRepository(database.Pool)

		if cfg.Lock.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Lock.RedisAddr,
				Password: cfg.Lock.RedisPassword,
				DB:       cfg.Lock.RedisDB,
			})
			defer client.Close()
			locker = lock.NewRedisLocker(client, cfg.Lock.TTL)
		}
	}

	generator, err := identity.New(cfg.Ingest.IdentifierLength)
	if err != nil {
		return err
	}
	parserCfg := parser.DefaultConfig()
	if cfg.Ingest.EuropeanAmounts {
		parserCfg.IsEuropeanFormat = true
		parserCfg.AutoDialect = false
	}

	svc := importservice.NewImportService(runs, ledgerservice.NewMergeService(ledgerRepo, logger), generator, logger).
		WithLocker(locker).
		WithParserConfig(parserCfg).
		WithRetry(cfg.Ingest.MergeRetries, 0)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if opts.inbox != "" {
		inbox, err := storage.NewLocalStorage(opts.inbox)
		if err != nil {
			return err
		}
		result, err := svc.ImportInbox(ctx, inbox)
		if result != nil {
			if eerr := enc.Encode(result); eerr != nil {
				return eerr
			}
		}
		return err
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.file, err)
	}
	result, err := svc.ImportFile(ctx, importservice.FileInput{Source: opts.source, Name: opts.file, Data: data})
	if err != nil {
		return err
	}
	return enc.Encode(result)
}
