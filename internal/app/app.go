// Package app wires the sync engine together and drives it on a timer.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"

	"github.com/dmitrijs2005/medsync/internal/adapters"
	"github.com/dmitrijs2005/medsync/internal/config"
	"github.com/dmitrijs2005/medsync/internal/logging"
	"github.com/dmitrijs2005/medsync/internal/metrics"
	"github.com/dmitrijs2005/medsync/internal/reconcile"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/remote/formpost"
	"github.com/dmitrijs2005/medsync/internal/remote/grpcapi"
	"github.com/dmitrijs2005/medsync/internal/store"
	"github.com/dmitrijs2005/medsync/internal/syncer"
	"github.com/dmitrijs2005/medsync/internal/upload"
)

// Remote is what the engine needs from the server connection.
type Remote interface {
	Records() remote.RecordsAPI
	Cases() remote.CasesAPI
	Close() error
}

type grpcRemote struct{ *grpcapi.Client }

func (r grpcRemote) Records() remote.RecordsAPI { return r.Client.Records() }

func (r grpcRemote) Cases() remote.CasesAPI { return r.Client.Cases() }

type App struct {
	cfg    *config.Config
	log    logging.Logger
	logOut io.Closer
	reg    *prometheus.Registry

	store  *store.Store
	remote Remote

	recordSync *syncer.Records
	caseSync   *syncer.Cases
	records    *reconcile.RecordService
	cases      *reconcile.CaseService
}

// NewApp opens the store and connects to the server described by cfg.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, closer, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	httpc := &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	conn, err := grpcapi.New(cfg.ServerAddr,
		grpcapi.WithTokenSource(grpcapi.NewBearerToken(cfg.AccessToken)),
		grpcapi.WithFileSubmitter(formpost.New(httpc)),
		grpcapi.WithTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		_ = closer.Close()
		return nil, fmt.Errorf("remote init error: %w", err)
	}

	a, err := newApp(ctx, cfg, logger, grpcRemote{conn}, httpc)
	if err != nil {
		_ = conn.Close()
		_ = closer.Close()
		return nil, err
	}
	a.logOut = closer
	return a, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger, rem Remote, httpc *http.Client) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := store.Open(ctx, cfg.DatabasePath,
		store.WithLogger(logger),
		store.WithMetrics(m),
		store.WithCacheSize(cfg.CacheSize),
	)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	thumbs, err := adapters.NewHTTPThumbnails(httpc, cfg.ThumbnailDir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("thumbnail cache init error: %w", err)
	}
	conv := adapters.NewConverter(thumbs, logger, cfg.UploadConcurrency)

	syncOpts := []syncer.Option{syncer.WithLogger(logger), syncer.WithMetrics(m)}
	recOpts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(m),
		reconcile.WithConcurrency(cfg.ReconcileConcurrency),
	}
	uploads := upload.New(rem.Records(),
		upload.WithLogger(logger),
		upload.WithMetrics(m),
		upload.WithConcurrency(cfg.UploadConcurrency),
	)

	return &App{
		cfg:        cfg,
		log:        logger,
		reg:        reg,
		store:      st,
		remote:     rem,
		recordSync: syncer.NewRecords(st, rem.Records(), conv, syncOpts...),
		caseSync:   syncer.NewCases(st, rem.Cases(), syncOpts...),
		records:    reconcile.NewRecordService(st, rem.Records(), uploads, recOpts...),
		cases:      reconcile.NewCaseService(st, rem.Cases(), recOpts...),
	}, nil
}

func (a *App) Store() *store.Store { return a.store }

func (a *App) Records() *reconcile.RecordService { return a.records }

func (a *App) Cases() *reconcile.CaseService { return a.cases }

// Round runs one full cycle: cases are fetched before records so record
// case ids resolve, then local changes are pushed, then the change log is
// pruned.
func (a *App) Round(ctx context.Context) error {
	orgs := a.cfg.Orgs
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"sync cases", func(ctx context.Context) error { return a.caseSync.FetchFromServer(ctx, orgs...) }},
		{"sync records", func(ctx context.Context) error { return a.recordSync.FetchFromServer(ctx, orgs...) }},
		{"reconcile cases", a.cases.SyncUnsynced},
		{"reconcile records", a.records.SyncUnsynced},
		{"prune change log", func(ctx context.Context) error {
			n, err := a.store.PruneChangeLog(ctx)
			if n > 0 {
				a.log.Debug(ctx, "change log pruned", "entries", n)
			}
			return err
		}},
	}

	var errs error
	for _, s := range steps {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		if err := s.run(ctx); err != nil {
			a.log.Warn(ctx, "round step failed", "step", s.name, "err", err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errs
}

func (a *App) initSignalHandler(ctx context.Context, cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
}

func (a *App) startMetricsServer(ctx context.Context) *http.Server {
	if a.cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(ctx, "metrics server stopped", "err", err)
		}
	}()
	return srv
}

// Run syncs every SyncInterval until ctx ends or the process is signalled,
// then releases everything NewApp acquired.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.initSignalHandler(ctx, cancel)

	a.log.Info(ctx, "starting medsyncd", "server", a.cfg.ServerAddr, "orgs", a.cfg.Orgs)
	srv := a.startMetricsServer(ctx)

	ticker := time.NewTicker(a.cfg.SyncInterval)
	defer ticker.Stop()
	for {
		if err := a.Round(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn(ctx, "sync round finished with errors", "err", err)
		}
		select {
		case <-ctx.Done():
			a.log.Info(context.Background(), "stopping medsyncd")
			return a.shutdown(srv)
		case <-ticker.C:
		}
	}
}

func (a *App) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if srv != nil {
		err = multierr.Append(err, srv.Shutdown(ctx))
	}
	a.records.Wait()
	a.cases.Wait()
	return multierr.Combine(err, a.Close())
}

// Close releases the store, the server connection and the log sink.
func (a *App) Close() error {
	err := multierr.Combine(a.store.Close(), a.remote.Close())
	if a.logOut != nil {
		err = multierr.Append(err, a.logOut.Close())
	}
	return err
}
