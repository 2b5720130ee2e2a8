// Package sequence hands out per-namespace sequence numbers.
//
// Every number is persisted through the Counter before it is returned; the
// in-memory cache only saves the Load on the next call. The allocator assumes
// it is the only writer for its keys (one authoritative process per store).
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"entityid/internal/platform/keylock"
	"entityid/internal/platform/metrics"
	"entityid/pkg/euid"
	"entityid/pkg/platform/sentinel"
)

// Counter persists the last issued value per key.
type Counter interface {
	// Load returns the last persisted value, or 0 when the key is new.
	Load(ctx context.Context, key string) (int, error)
	// Advance persists value as the last issued value for key.
	Advance(ctx context.Context, key string, value int) error
}

type Allocator struct {
	counter Counter
	locks   keylock.Locker
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	cache map[string]int
}

type Option func(*Allocator)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Allocator) {
		a.metrics = m
	}
}

func New(counter Counter, opts ...Option) *Allocator {
	a := &Allocator{
		counter: counter,
		cache:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Key names the namespace for a type code and optional jurisdiction.
func Key(typeCode, jurisdiction string) string {
	if jurisdiction == "" {
		return typeCode
	}
	return typeCode + ":" + jurisdiction
}

// Next returns the next number for key. It fails with sentinel.ErrExhausted
// past euid.MaxSequence and returns the store error, without advancing, when
// the write fails.
func (a *Allocator) Next(ctx context.Context, key string) (int, error) {
	unlock := a.locks.Lock(key)
	defer unlock()

	current, err := a.current(ctx, key)
	if err != nil {
		a.metrics.IncSequenceAllocation("error")
		return 0, err
	}
	next := current + 1
	if next > euid.MaxSequence {
		a.metrics.IncSequenceAllocation("exhausted")
		return 0, fmt.Errorf("sequence %s: %w", key, sentinel.ErrExhausted)
	}
	if err := a.counter.Advance(ctx, key, next); err != nil {
		a.forget(key)
		a.metrics.IncSequenceAllocation("error")
		a.logger.ErrorContext(ctx, "sequence write failed", "key", key, "value", next, "error", err)
		return 0, fmt.Errorf("persist sequence %s: %w", key, err)
	}

	a.mu.Lock()
	a.cache[key] = next
	a.mu.Unlock()
	a.metrics.IncSequenceAllocation("ok")
	return next, nil
}

// Raise moves key forward to at least value. Used when a number was consumed
// outside Next, for example by conflict resolution.
func (a *Allocator) Raise(ctx context.Context, key string, value int) error {
	unlock := a.locks.Lock(key)
	defer unlock()

	current, err := a.current(ctx, key)
	if err != nil {
		return err
	}
	if value <= current {
		return nil
	}
	if err := a.counter.Advance(ctx, key, value); err != nil {
		a.forget(key)
		return fmt.Errorf("persist sequence %s: %w", key, err)
	}
	a.mu.Lock()
	a.cache[key] = value
	a.mu.Unlock()
	return nil
}

// Current returns the last issued value for key.
func (a *Allocator) Current(ctx context.Context, key string) (int, error) {
	unlock := a.locks.Lock(key)
	defer unlock()
	return a.current(ctx, key)
}

// current must be called with the key lock held.
func (a *Allocator) current(ctx context.Context, key string) (int, error) {
	a.mu.Lock()
	v, ok := a.cache[key]
	a.mu.Unlock()
	if ok {
		return v, nil
	}
	v, err := a.counter.Load(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("load sequence %s: %w", key, err)
	}
	a.mu.Lock()
	a.cache[key] = v
	a.mu.Unlock()
	return v, nil
}

func (a *Allocator) forget(key string) {
	a.mu.Lock()
	delete(a.cache, key)
	a.mu.Unlock()
}
