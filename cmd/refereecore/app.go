package main

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"refereecore/internal/blob"
	"refereecore/internal/config"
	"refereecore/internal/core"
	"refereecore/internal/journal"
)

// app holds the wired collaborators shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	svc     *core.Service
	metrics http.Handler
	closers []func() error
}

func loadApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	store, closeStore, err := core.OpenPersistentStore(cfg.StorageConfig(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	a.closers = append(a.closers, closeStore)

	blobs, err := blob.Open(ctx, cfg.BlobConfig())
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open %s blob store: %w", cfg.Blob.Driver, err)
	}

	svcOpts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithJournal(journal.New(blobs)),
		core.WithReconcileLookback(cfg.Reconcile.Lookback),
	}
	switch cfg.Metrics.Exporter {
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		svcOpts = append(svcOpts, core.WithMetricsRecorder(recorder))
		a.metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	case "expvar":
		svcOpts = append(svcOpts, core.WithMetricsRecorder(core.NewExpvarMetricsRecorder("refereecore_operations")))
		a.metrics = expvar.Handler()
	}
	a.svc = core.NewService(store, svcOpts...)
	logger.Debug("application wired",
		"storage", cfg.Storage.Driver, "blob", cfg.Blob.Driver, "metrics", cfg.Metrics.Exporter)
	return a, nil
}

// Close releases the store handles.
func (a *app) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		errs = append(errs, closeFn())
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.LogConfig, out io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
