// Package app wires the Agent Run Engine's components into one process
// context, in the init order: Persistent Store, then Checkpoint Store,
// then Job Queue, then Lock Manager, then Graph Runtime, then Run Engine.
// Shutdown reverses that order.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ShadewG/autobot-engine/internal/casegraph"
	"github.com/ShadewG/autobot-engine/internal/collaborator/dryrun"
	"github.com/ShadewG/autobot-engine/internal/config"
	gstore "github.com/ShadewG/autobot-engine/internal/graph/store"
	"github.com/ShadewG/autobot-engine/internal/lock"
	"github.com/ShadewG/autobot-engine/internal/queue"
	"github.com/ShadewG/autobot-engine/internal/runengine"
	"github.com/ShadewG/autobot-engine/internal/schedule"
	"github.com/ShadewG/autobot-engine/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riverqueue/river"
	"go.uber.org/zap"
)

// App bundles every long-lived component a running process needs, plus
// the pool they all share.
type App struct {
	Pool *pgxpool.Pool

	Store      *store.Store
	Checkpoint *gstore.PostgresStore
	Queue      *queue.Queue
	Locks      *lock.Manager
	RunEngine  *runengine.Engine
	Scheduler  *runengine.Scheduler

	metricsAddr string
	metricsSrv  *http.Server
	logger      *zap.Logger
}

// advisoryLockAdapter rewraps *store.Store.AcquireAdvisoryLock's concrete
// *store.AdvisoryLock return as a lock.Releasable. Go does not treat a
// differing concrete return type as satisfying an interface method, so
// *store.Store can't implement lock.AdvisoryLocker directly even though
// every method body already does the right thing.
type advisoryLockAdapter struct {
	store *store.Store
}

func (a advisoryLockAdapter) AcquireAdvisoryLock(ctx context.Context, name string) (lock.Releasable, error) {
	held, err := a.store.AcquireAdvisoryLock(ctx, name)
	if err != nil {
		return nil, err
	}
	return held, nil
}

// New connects to Postgres once and shares the pool across the
// Persistent Store, Checkpoint Store and Job Queue, then builds the
// graphs and the Run Engine on top.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: connect to postgres: %w", err)
	}

	persistent := store.New(pool, logger)
	if err := persistent.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: ensure persistent schema: %w", err)
	}

	checkpoints := gstore.NewPostgresStore(pool)
	if err := checkpoints.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: ensure checkpoint schema: %w", err)
	}

	workers := river.NewWorkers()
	q, err := queue.New(pool, workers, persistent, logger, cfg.QueueWorkers)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: build queue: %w", err)
	}

	locks := lock.New(persistent, advisoryLockAdapter{store: persistent}, logger, cfg.Lock)

	svc := &casegraph.Services{
		Store:       persistent,
		Classifier:  dryrun.NewClassifier(),
		Drafter:     dryrun.NewDrafter(),
		Email:       dryrun.NewEmailExecutor(),
		Portal:      dryrun.NewPortalExecutor(),
		Notifier:    dryrun.NewNotifier(),
		IDGenerator: func() string { return uuid.NewString() },
		Schedule:    schedule.Policy{},
	}
	requestGraph, err := svc.BuildInitialRequest(checkpoints, cfg.Graph)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: build initial-request graph: %w", err)
	}
	inboundGraph, err := svc.BuildInboundResponse(checkpoints, cfg.Graph)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: build inbound-response graph: %w", err)
	}

	engine := runengine.New(locks, persistent, requestGraph, inboundGraph, svc.Notifier, logger, cfg.RunEngine)
	if err := runengine.RegisterWorkers(workers, engine); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: register run engine workers: %w", err)
	}

	scheduler := runengine.NewScheduler(persistent, q, func() string { return uuid.NewString() }, cfg.SchedulerInterval, logger)

	return &App{
		Pool:        pool,
		Store:       persistent,
		Checkpoint:  checkpoints,
		Queue:       q,
		Locks:       locks,
		RunEngine:   engine,
		Scheduler:   scheduler,
		metricsAddr: cfg.MetricsAddr,
		logger:      logger.With(zap.String("component", "app")),
	}, nil
}

// Start begins the Job Queue's River client and, if cfg.MetricsAddr was
// set, a Prometheus scrape listener over the Run Engine's registry. The
// Lock Manager's reaper, the follow-up scheduler and the dead-letter depth
// poller run as separate goroutines started by cmd/engine, since each
// takes its own context for independent cancellation during shutdown.
func (a *App) Start(ctx context.Context) error {
	if a.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.RunEngine.MetricsRegistry(), promhttp.HandlerOpts{}))
		a.metricsSrv = &http.Server{Addr: a.metricsAddr, Handler: mux}
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}
	return a.Queue.Start(ctx)
}

// Stop reverses New's init order: the metrics listener and Job Queue
// first, then the pool backing both the Checkpoint Store and Persistent
// Store.
func (a *App) Stop(ctx context.Context) error {
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Error("metrics listener shutdown failed", zap.Error(err))
		}
	}
	if err := a.Queue.Stop(ctx); err != nil {
		a.logger.Error("queue stop failed", zap.Error(err))
	}
	a.Pool.Close()
	return nil
}
