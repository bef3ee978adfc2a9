package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/roach88/compsearch/internal/catalog"
	"github.com/roach88/compsearch/internal/config"
	"github.com/roach88/compsearch/internal/metrics"
	"github.com/roach88/compsearch/internal/progress"
	"github.com/roach88/compsearch/internal/retry"
	"github.com/roach88/compsearch/internal/store"
	"github.com/roach88/compsearch/internal/store/badger"
	"github.com/roach88/compsearch/internal/store/memory"
	"github.com/roach88/compsearch/internal/store/postgres"
	"github.com/roach88/compsearch/internal/store/sqlite"
)

// app holds everything a command needs, built once from the layered
// configuration and torn down by Close.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	cat      *catalog.Catalog
	store    store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	reporter progress.Reporter
	tracing  trace.TracerProvider

	cancel  context.CancelFunc
	closers []func(context.Context) error
}

// openApp loads the configuration and catalog, then opens the store and the
// optional metrics endpoint, tracer and progress publisher.
func openApp(ctx context.Context, opts *RootOptions, stderr io.Writer) (*app, error) {
	a, err := loadApp(opts, stderr)
	if err != nil {
		return nil, err
	}
	if err := a.open(ctx, stderr); err != nil {
		return nil, err
	}
	return a, nil
}

// open acquires the store, metrics endpoint, tracer and progress publisher.
// On error everything acquired so far is released.
func (a *app) open(ctx context.Context, stderr io.Writer) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return err
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	if addr := a.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, a.registry, a.logger); err != nil {
				a.logger.Error("metrics endpoint failed", "addr", addr, "error", err)
			}
		}()
	}

	a.tracing = noop.NewTracerProvider()
	if a.cfg.Tracing.Stdout {
		tp, err := newStdoutTracer(stderr)
		if err != nil {
			a.Close()
			return WrapExitError(ExitCommandError, "failed to start tracing", err)
		}
		otel.SetTracerProvider(tp)
		a.tracing = tp
		a.closers = append(a.closers, tp.Shutdown)
	}

	reporters := progress.Multi{progress.NewLogReporter(a.logger)}
	if addr := a.cfg.Progress.RedisAddr; addr != "" {
		rr, err := progress.NewRedisReporter(ctx, addr, a.cfg.Progress.Channel, a.logger)
		if err != nil {
			a.Close()
			return WrapExitError(ExitFailure, "failed to connect progress publisher", err)
		}
		reporters = append(reporters, rr)
		a.closers = append(a.closers, func(context.Context) error { return rr.Close() })
	}
	a.reporter = reporters

	return nil
}

// openReader is openApp for commands that only read the store.
func openReader(ctx context.Context, opts *RootOptions, stderr io.Writer) (*app, error) {
	a, err := loadApp(opts, stderr)
	if err != nil {
		return nil, err
	}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openStore opens the configured backend and binds the catalog to it, so
// no command reads or writes a store built from another catalog.
func (a *app) openStore(ctx context.Context) error {
	st, err := openStore(ctx, a.cfg.Store, a.logger)
	if err != nil {
		return wrapRunError("failed to open store", err)
	}
	a.store = st
	a.closers = append(a.closers, func(context.Context) error { return st.Close() })

	if err := st.BindCatalog(ctx, a.cat.Fingerprint()); err != nil {
		var mismatch *store.CatalogMismatchError
		if errors.As(err, &mismatch) {
			return WrapExitError(ExitCommandError, "catalog does not match store", err)
		}
		return wrapRunError("failed to bind catalog", err)
	}
	return nil
}

// loadApp loads the configuration, logger and catalog without opening the store.
func loadApp(opts *RootOptions, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.Viper)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(cfg.Logging, opts.Verbose, stderr)

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	logger.Debug("catalog loaded",
		"path", cfg.Catalog.Path,
		"entities", cat.NumEntities(),
		"traits", len(cat.Traits()),
		"fingerprint", cat.Fingerprint(),
	)

	return &app{cfg: cfg, logger: logger, cat: cat, cancel: func() {}}, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	a.cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// retryPolicy builds the store retry policy from configuration.
func (a *app) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     a.cfg.Retry.MaxAttempts,
		InitialInterval: a.cfg.Retry.InitialInterval,
		MaxInterval:     a.cfg.Retry.MaxInterval,
		CallTimeout:     a.cfg.Store.Timeout,
	}
}

func newLogger(c config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if c.Format == "json" {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h)
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	return catalog.LoadFile(path)
}

// openStore builds the backend selected by cfg.Backend.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil

	case config.BackendSQLite:
		path := cfg.Path
		if cfg.InMemory {
			path = sqlite.MemoryPath
		}
		return sqlite.Open(path)

	case config.BackendPostgres:
		popts := postgres.DefaultOptions()
		popts.MaxOpenConns = cfg.MaxConns
		popts.MaxIdleConns = max(cfg.MaxConns/2, 1)
		return postgres.Open(ctx, cfg.DSN, popts)

	case config.BackendBadger:
		bcfg := badger.DefaultConfig(cfg.Path)
		bcfg.InMemory = cfg.InMemory
		bcfg.SyncWrites = cfg.SyncWrites
		bcfg.Logger = logger.With("component", "badger")
		if cfg.InMemory {
			bcfg.GCInterval = 0
		}
		return badger.Open(bcfg)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func newStdoutTracer(w io.Writer) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)), nil
}
