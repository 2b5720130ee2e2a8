package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver for the audit sink
	"github.com/prometheus/client_golang/prometheus"

	"entityid/internal/blob"
	"entityid/internal/docstore"
	"entityid/internal/docstore/memory"
	pgstore "entityid/internal/docstore/postgres"
	"entityid/internal/docstore/sqlite"
	"entityid/internal/platform/config"
	"entityid/internal/platform/postgres"
	"entityid/internal/platform/redis"
	"entityid/internal/sequence"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/audit/publisher"
	kafkastore "entityid/pkg/platform/audit/store/kafka"
	auditmemory "entityid/pkg/platform/audit/store/memory"
	auditpg "entityid/pkg/platform/audit/store/postgres"
)

// backends holds the opened infrastructure and how to release it.
type backends struct {
	store   docstore.Store
	counter sequence.Counter
	auditor *publisher.Publisher
	archive *blob.Archive
	grace   time.Duration
	closers []func() error
	checks  map[string]func(context.Context) error
}

func openBackends(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, log *slog.Logger) (_ *backends, err error) {
	b := &backends{
		grace:  cfg.Sweep.ShutdownGracePeriod,
		checks: make(map[string]func(context.Context) error),
	}
	defer func() {
		if err != nil {
			b.close(log)
		}
	}()

	switch cfg.Store.Driver {
	case config.StorePostgres:
		if err := postgres.Migrate(ctx, cfg.Store.DSN); err != nil {
			return nil, fmt.Errorf("migrate document store: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		b.checks["postgres"] = pool.Ping
		b.store = pgstore.New(pool)
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		b.store = s
	default:
		log.Warn("using in-memory document store; state is lost on restart")
		b.store = memory.New()
	}

	switch cfg.Sequence.Backend {
	case config.SequenceRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.checks["redis"] = client.Ready
		b.counter = sequence.NewRedisCounter(client.Client)
	default:
		b.counter = sequence.NewDocstoreCounter(b.store)
	}

	sink, err := openAuditSink(ctx, cfg.Audit, b)
	if err != nil {
		return nil, err
	}
	b.auditor = publisher.NewPublisher(sink,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithCircuitBreaker(publisher.NewCircuitBreaker(cfg.Audit.BreakerThreshold, cfg.Audit.BreakerCooldown)),
	)

	var objects blob.Store
	switch cfg.Blob.Driver {
	case config.BlobS3:
		objects, err = blob.NewS3(ctx, cfg.Blob)
		if err != nil {
			return nil, err
		}
	default:
		objects = blob.NewMemory()
	}
	b.archive = blob.NewArchive(objects, cfg.Blob.Prefix)
	return b, nil
}

func openAuditSink(ctx context.Context, cfg config.AuditConfig, b *backends) (audit.Store, error) {
	switch cfg.Sink {
	case config.AuditPostgres:
		if err := postgres.Migrate(ctx, cfg.PostgresDSN); err != nil {
			return nil, fmt.Errorf("migrate audit sink: %w", err)
		}
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.checks["audit"] = db.PingContext
		return auditpg.New(db), nil
	case config.AuditKafka:
		s, err := kafkastore.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("open audit producer: %w", err)
		}
		b.closers = append(b.closers, func() error { s.Close(); return nil })
		return s, nil
	default:
		return auditmemory.NewInMemoryStore(), nil
	}
}

// close drains the audit publisher within the grace period, then releases
// the backends in reverse order.
func (b *backends) close(log *slog.Logger) {
	if b.auditor != nil {
		done := make(chan struct{})
		go func() {
			_ = b.auditor.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(b.grace):
			log.Warn("audit publisher did not drain before the grace period", "grace", b.grace)
		}
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("closing backend failed", "error", err)
		}
	}
}
