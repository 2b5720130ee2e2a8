// Package publisher is the audit sink used by the lifecycle components.
//
// LogAction is fire-and-forget: callers never see sink failures, which are
// logged locally and counted. By default events are written synchronously;
// WithAsyncBuffer moves persistence onto a background worker and drops events
// when the buffer is full.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	audit "entityid/pkg/platform/audit"
	"entityid/pkg/platform/audit/worker"
	"entityid/pkg/requestcontext"
)

var (
	ErrBufferFull  = errors.New("audit buffer full")
	ErrCircuitOpen = errors.New("audit circuit open")
	ErrClosed      = errors.New("audit publisher closed")
)

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	metrics *Metrics
	breaker *CircuitBreaker

	bufferSize int
	inbox      chan audit.Event
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for local failure reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithAsyncBuffer enables buffered delivery through a background worker.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.bufferSize = size
	}
}

// WithCircuitBreaker stops hammering an unhealthy store.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(p *Publisher) {
		p.breaker = cb
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(storeFunc(p.persist), p.inbox, worker.WithLogger(p.logger))
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// LogAction records an event without ever failing the caller.
func (p *Publisher) LogAction(ctx context.Context, event audit.Event) {
	_ = p.Emit(ctx, event)
}

// Emit enriches and delivers an event. In async mode a nil return only means
// the event was queued. Failures are already logged when Emit returns.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	event = p.enrich(ctx, event)

	if p.inbox == nil {
		return p.persist(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(ctx, event, "closed")
		return ErrClosed
	}
	select {
	case p.inbox <- event:
		return nil
	default:
		p.drop(ctx, event, "buffer_full")
		return ErrBufferFull
	}
}

// Close stops accepting events and waits for buffered ones to be written.
func (p *Publisher) Close() error {
	if p.inbox == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.inbox)
	p.mu.Unlock()

	<-p.done
	return nil
}

func (p *Publisher) enrich(ctx context.Context, event audit.Event) audit.Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.UserID == "" {
		event.UserID = requestcontext.Actor(ctx)
	}
	return event
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if p.breaker != nil && !p.breaker.Allow() {
		p.drop(ctx, event, "circuit_open")
		return ErrCircuitOpen
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.breaker != nil {
			p.breaker.RecordFailure()
			p.metrics.setCircuitOpen(p.breaker.IsOpen())
		}
		p.metrics.incPersistFailures()
		p.logger.ErrorContext(ctx, "audit sink write failed",
			"action", event.Action,
			"entity_id", event.EntityID,
			"error", err,
		)
		return err
	}

	if p.breaker != nil {
		p.breaker.RecordSuccess()
		p.metrics.setCircuitOpen(false)
	}
	p.metrics.incEmitted(event.Category)
	return nil
}

func (p *Publisher) drop(ctx context.Context, event audit.Event, reason string) {
	p.metrics.incDropped(reason)
	p.logger.WarnContext(ctx, "audit event dropped",
		"action", event.Action,
		"entity_id", event.EntityID,
		"reason", reason,
	)
}

type storeFunc func(context.Context, audit.Event) error

func (f storeFunc) Append(ctx context.Context, event audit.Event) error {
	return f(ctx, event)
}
