package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	analyticsapp "meterbook/internal/analytics/application"
	"meterbook/internal/config"
	ledgerapp "meterbook/internal/ledger/application"
	ledger "meterbook/internal/ledger/domain"
	"meterbook/internal/ledger/infrastructure/csvfile"
	"meterbook/internal/ledger/infrastructure/postgres"
	"meterbook/internal/ledger/interfaces"
	ledgerhttp "meterbook/internal/ledger/interfaces/http"
	"meterbook/internal/logging"
	"meterbook/internal/observability/metrics"
)

// Execute runs the meterbook command tree.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	book       string
}

// NewRootCommand builds the command tree. Each call returns fresh flag state.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "meterbook",
		Short:        "Shared electricity meter recharge ledger",
		SilenceUsage: true,
		Long: `meterbook keeps an append-only ledger of sub-meter readings and
prepaid recharges for tenants sharing one meter. Each recharge is split
across tenants by the consumption measured after it.`,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to YAML config (defaults to $METERBOOK_CONFIG)")
	root.PersistentFlags().StringVarP(&opts.book, "book", "b", "", "Ledger book to operate on (defaults to config default_book)")

	root.AddCommand(
		newServeCmd(opts),
		newRecordCmd(opts),
		newStatusCmd(opts),
		newHistoryCmd(opts),
		newRevertCmd(opts),
		newMetricsCmd(opts),
		newReportCmd(opts),
		newBooksCmd(opts),
		newSyncCmd(opts),
	)
	return root
}

// app holds the wired services for one command run.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	book     string
	stores   ledger.StoreFactory
	importer ledgerhttp.BookImporter
	ledger   *ledgerapp.Service
	usage    *analyticsapp.UsageService
	exporter *interfaces.Exporter
	db       *sql.DB
}

func newApp(ctx context.Context, opts *rootOptions, service string) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logger, cfg.Application+"-"+service)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	tenants, err := cfg.TenantSet()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, book: cfg.DefaultBook}
	if b := strings.TrimSpace(opts.book); b != "" {
		a.book = b
	}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		factory, err := postgres.NewFactory(db, tenants, postgres.WithTable(cfg.Store.Table))
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := factory.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		metrics.Init(db, logger)
		a.db, a.stores, a.importer = db, factory, factory
	default:
		factory, err := csvfile.NewFactory(cfg.DataDir, tenants)
		if err != nil {
			return nil, err
		}
		metrics.Init(nil, logger)
		a.stores, a.importer = factory, factory
	}

	if a.ledger, err = ledgerapp.NewService(a.stores, tenants, ledgerapp.WithLogger(logger)); err != nil {
		a.Close()
		return nil, err
	}
	if a.usage, err = analyticsapp.NewUsageService(a.ledger, logger); err != nil {
		a.Close()
		return nil, err
	}
	if a.exporter, err = interfaces.NewExporter(a.ledger, a.usage, logger); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the database handle and flushes the logger.
func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// withApp wires the services and runs fn with them.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts, cmd.Name())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
