package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"entityid/internal/governor"
	"entityid/internal/identity"
	"entityid/internal/platform/config"
	"entityid/internal/platform/httpserver"
	"entityid/internal/platform/jwt"
	"entityid/internal/platform/logger"
	"entityid/internal/platform/metrics"
	"entityid/internal/platform/schedule"
	"entityid/internal/recovery"
	"entityid/internal/sequence"
	httptransport "entityid/internal/transport/http"
	"entityid/pkg/requestcontext"
)

// main wires the stores, the lifecycle services, the periodic sweeps and the
// HTTP surface, then runs them until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps, err := openBackends(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer deps.close(log)

	gov := governor.New(deps.store, deps.auditor,
		governor.WithLogger(log),
		governor.WithMetrics(m),
		governor.WithArchive(deps.archive),
		governor.WithDefaultRetentionDays(cfg.Sweep.DefaultRetentionDays),
		governor.WithConflictRetentionDays(cfg.Sweep.ConflictRetentionDays),
		governor.WithAdminRole(cfg.Auth.AdminRole),
	)
	if err := gov.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate lifecycle state: %w", err)
	}

	alloc := sequence.New(deps.counter, sequence.WithLogger(log), sequence.WithMetrics(m))
	ids := identity.NewService(deps.store, alloc, gov, deps.auditor,
		identity.WithLogger(log),
		identity.WithMetrics(m),
		identity.WithMaxBatchSize(cfg.Sweep.MaxBatchSize),
	)
	rec := recovery.NewService(deps.store, alloc, gov, deps.auditor,
		recovery.WithLogger(log),
		recovery.WithMetrics(m),
		recovery.WithArchive(deps.archive),
		recovery.WithKinds(cfg.Sweep.RecoveryKinds...),
		recovery.WithMaxAttempts(cfg.Sweep.QuarantineThreshold),
	)

	tokens := jwt.NewService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer)
	router := httptransport.NewRouter(httptransport.New(ids, gov, rec, log), httptransport.RouterConfig{
		Validator: tokens,
		AdminRole: cfg.Auth.AdminRole,
		Gatherer:  reg,
		Logger:    log,
		Metrics:   m,
		Timeout:   cfg.Server.WriteTimeout,
		Checks:    deps.checks,
	})
	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	sweepCtx := requestcontext.WithRoles(requestcontext.WithActor(gctx, "system:scheduler"), cfg.Auth.AdminRole)

	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	g.Go(func() error {
		return schedule.Every(sweepCtx, "lifecycle", cfg.Sweep.GovernorInterval, gov.Sweep, log)
	})
	g.Go(func() error {
		return schedule.Every(sweepCtx, "recovery", cfg.Sweep.RecoveryInterval, func(ctx context.Context) error {
			_, err := rec.Sweep(ctx)
			return err
		}, log)
	})
	g.Go(func() error {
		return schedule.Every(sweepCtx, "backup", cfg.Sweep.BackupInterval, func(ctx context.Context) error {
			_, err := rec.Backup(ctx)
			return err
		}, log)
	})

	log.Info("entityid started",
		"store", cfg.Store.Driver,
		"sequence", cfg.Sequence.Backend,
		"audit", cfg.Audit.Sink,
		"blob", cfg.Blob.Driver,
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("entityid stopped")
	return nil
}
