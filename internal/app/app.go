// Package app wires every engine component into one running process
// (spec.md section 4.10): load configuration, stand up logging/metrics/
// health, construct the queue backend for the configured mode, register
// caller-supplied actions and services, build and initialize the
// ServiceContainer, start the HTTP control surface, start the optional
// registry heartbeat, and start the worker loop. Once the worker loop has
// stopped, Shutdown stops the HTTP server, the heartbeat, the services
// and the queue backend, in that order, and is idempotent.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jobengine/worker-core/internal/actions"
	"github.com/jobengine/worker-core/internal/config"
	"github.com/jobengine/worker-core/internal/container"
	"github.com/jobengine/worker-core/internal/health"
	"github.com/jobengine/worker-core/internal/httpapi"
	"github.com/jobengine/worker-core/internal/metrics"
	"github.com/jobengine/worker-core/internal/obslog"
	"github.com/jobengine/worker-core/internal/queue"
	"github.com/jobengine/worker-core/internal/registry"
	"github.com/jobengine/worker-core/internal/worker"
	"go.uber.org/zap"
)

// Options supplies everything specific to one deployment of the engine:
// the caller's action definitions and any long-lived services the
// ServiceContainer should own. The engine itself is domain-agnostic.
type Options struct {
	ConfigPath string
	Actions    []actions.Definition
	Services   []container.Descriptor
}

// Application owns every process-wide component for one engine run.
type Application struct {
	cfg     *config.Config
	log     *zap.Logger
	checks  *health.Registry
	metrics *metrics.Collector
	actions *actions.Registry
	svcs    *container.Container
	q       queue.Queue
	hb      registry.Heartbeater
	hbStop  context.CancelFunc
	wrk     *worker.Worker
	httpSrv *http.Server

	closeOnce sync.Once
}

// New loads configuration and constructs every component, registering
// the caller's actions and services, but does not start anything yet
// (see Run).
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("app: load config: %w", err)
	}

	log, err := obslog.New(obslog.Config{ConsoleJSON: cfg.Logging.ConsoleJSON, Debug: cfg.Logging.Debug})
	if err != nil {
		return nil, fmt.Errorf("app: init logging: %w", err)
	}

	checks := health.NewRegistry()
	collector := metrics.New()

	actionsReg := actions.NewRegistry()
	for _, def := range opts.Actions {
		if err := actionsReg.Register(def); err != nil {
			return nil, fmt.Errorf("app: register action %q: %w", def.Name, err)
		}
	}

	var q queue.Queue
	if cfg.DevMode {
		q = queue.NewMemQueue()
	} else {
		sq, err := queue.OpenSQLQueue(context.Background(), cfg.Queue.OracleDSN, cfg.Queue.OracleTable)
		if err != nil {
			return nil, fmt.Errorf("app: open queue backend: %w", err)
		}
		q = sq
	}

	svcs := container.New(checks)
	for _, d := range opts.Services {
		svcs.Register(d)
	}

	hb, err := registry.New(cfg.Registry, log)
	if err != nil {
		return nil, fmt.Errorf("app: init registry heartbeat: %w", err)
	}

	w := worker.New(
		worker.Config{
			PollInterval:      cfg.PollingInterval,
			MaxConcurrentJobs: cfg.MaxConcurrentJobs,
			JobTimeout:        cfg.JobTimeout,
			ShutdownTimeout:   cfg.ShutdownTimeout,
		},
		q, actionsReg, svcs, checks, collector, log, cfg.MicroserviceName,
	)

	mux := httpapi.NewMux(httpapi.Config{DevMode: cfg.DevMode, DevJobTimeout: cfg.JobTimeout}, checks, collector, q, log)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: mux,
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		checks:  checks,
		metrics: collector,
		actions: actionsReg,
		svcs:    svcs,
		q:       q,
		hb:      hb,
		wrk:     w,
		httpSrv: httpSrv,
	}, nil
}

// Run brings the ServiceContainer up, starts the HTTP server, the
// heartbeat (if configured), and the worker loop, then blocks until ctx
// is cancelled. It always attempts Shutdown before returning, even on a
// startup failure partway through.
func (a *Application) Run(ctx context.Context) error {
	if err := a.svcs.Initialize(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return fmt.Errorf("app: initialize services: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	ln := make(chan error, 1)
	go func() {
		a.log.Info("http server starting", obslog.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ln <- err
			return
		}
		ln <- nil
	}()

	hbCtx, hbCancel := context.WithCancel(context.Background())
	a.hbStop = hbCancel
	go func() {
		if err := a.hb.Start(hbCtx, a.cfg.MicroserviceName); err != nil {
			a.log.Warn("heartbeat loop exited", obslog.Err(err))
		}
	}()

	workerErr := make(chan error, 1)
	go func() { workerErr <- a.wrk.Run(runCtx) }()

	select {
	case err := <-ln:
		if err != nil {
			a.log.Error("http server failed", obslog.Err(err))
		}
		cancelRun()
		<-workerErr
	case err := <-workerErr:
		if err != nil {
			a.log.Warn("worker loop exited", obslog.Err(err))
		}
		cancelRun()
	case <-ctx.Done():
		cancelRun()
		<-workerErr
	}

	return a.Shutdown(context.Background())
}

// Shutdown tears every component down: the HTTP server, then the
// heartbeat, then the ServiceContainer's services, then the queue
// backend. It is idempotent and safe to call more than once (e.g. from Run's own defer
// path and again from a caller's signal handler).
func (a *Application) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.closeOnce.Do(func() {
		httpCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.httpSrv.Shutdown(httpCtx); err != nil {
			a.log.Warn("http server shutdown error", obslog.Err(err))
		}

		if a.hbStop != nil {
			a.hbStop()
		}
		hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.hb.Close(hbCtx); err != nil {
			a.log.Warn("heartbeat close error", obslog.Err(err))
		}

		for _, err := range a.svcs.Teardown(ctx) {
			a.log.Warn("service teardown error", obslog.Err(err))
		}

		if err := a.q.Shutdown(ctx); err != nil {
			a.log.Warn("queue shutdown error", obslog.Err(err))
		}

		_ = a.log.Sync()
		shutdownErr = nil
	})
	return shutdownErr
}
