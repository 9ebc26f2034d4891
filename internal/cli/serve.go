package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"meterbook/internal/gitsync"
	ledgerhttp "meterbook/internal/ledger/interfaces/http"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(cmd, opts, func(_ context.Context, a *app) error {
				if addr != "" {
					a.cfg.HTTP.Addr = addr
				}
				return serve(ctx, a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides http.addr)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	handlerOpts := []ledgerhttp.HandlerOption{
		ledgerhttp.WithLogger(a.logger),
		ledgerhttp.WithImporter(a.importer),
	}
	if a.cfg.Sync.Enabled {
		poller := gitsync.NewPoller(gitsync.NewClient(a.cfg.Sync.RepoDir), a.cfg.Sync.Interval, a.cfg.Sync.Fetch, a.logger)
		poller.Start(ctx)
		handlerOpts = append(handlerOpts, ledgerhttp.WithSyncStatus(poller))
	}

	handler, err := ledgerhttp.NewHandler(a.ledger, a.usage, a.exporter, a.book, handlerOpts...)
	if err != nil {
		return err
	}
	server := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: handler.Routes()}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http listening", zap.String("addr", a.cfg.HTTP.Addr), zap.String("book", a.book), zap.String("backend", a.cfg.Store.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	a.logger.Info("http shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
