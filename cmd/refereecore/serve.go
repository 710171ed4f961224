package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"refereecore/internal/adapters/admin"
	"refereecore/internal/adapters/reconciler"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation scheduler and the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts, cmd)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions, cmd *cobra.Command) error {
	a, err := loadApp(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.Error("close store", "error", err)
		}
	}()

	sched := reconciler.NewScheduler(a.svc,
		reconciler.WithInitialDelay(a.cfg.Reconcile.InitialDelay),
		reconciler.WithInterval(a.cfg.Reconcile.Interval),
		reconciler.WithLogger(a.logger),
	)
	mux := http.NewServeMux()
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics)
	}
	mux.Handle("/", admin.NewHandler(a.svc, sched))
	srv := &http.Server{Addr: a.cfg.HTTP.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	sched.Start()
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("admin api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("admin api: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown", "error", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.logger.Error("scheduler stop", "error", err)
	}
	return runErr
}
