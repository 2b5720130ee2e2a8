package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "entityid/pkg/platform/audit"
	"entityid/pkg/platform/audit/store/memory"
	"entityid/pkg/requestcontext"
)

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(context.Context, audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("sink unavailable")
}

func (f *failingStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	pub.LogAction(context.Background(), audit.Event{
		Action:   string(audit.EventEUIDCreated),
		EntityID: "C00001",
	})

	events, err := store.ListByEntity(context.Background(), "C00001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.NotEmpty(t, events[0].ID)
}

func TestPublisher_EnrichesFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithRequestID(ctx, "req-1")
	ctx = requestcontext.WithActor(ctx, "u1")

	pub.LogAction(ctx, audit.Event{Action: string(audit.EventManualOverride), EntityID: "C00005"})

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_PreservesExplicitFields(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithActor(context.Background(), "ctx-user")
	pub.LogAction(ctx, audit.Event{
		Action:    string(audit.EventEUIDCreated),
		EntityID:  "C00001",
		UserID:    "explicit",
		Timestamp: custom,
	})

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, custom, events[0].Timestamp)
	assert.Equal(t, "explicit", events[0].UserID)
}

func TestPublisher_SinkFailureIsSwallowed(t *testing.T) {
	metrics := NewMetrics(nil)
	pub := NewPublisher(&failingStore{}, WithMetrics(metrics))

	assert.NotPanics(t, func() {
		pub.LogAction(context.Background(), audit.Event{Action: string(audit.EventEUIDCreated)})
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PersistFailures))
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			Action:   string(audit.EventEUIDCreated),
			EntityID: "C00001",
		}))
	}

	require.NoError(t, pub.Close())

	events, err := store.ListByEntity(context.Background(), "C00001")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_AsyncAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventEUIDCreated)})
	require.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_BufferFull_DropsAndCounts(t *testing.T) {
	metrics := NewMetrics(nil)
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1), WithMetrics(metrics))
	defer pub.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	dropped := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(pub.Emit(context.Background(), audit.Event{Action: string(audit.EventEUIDCreated)}), ErrBufferFull) {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(dropped), testutil.ToFloat64(metrics.Dropped.WithLabelValues("buffer_full")))
}

func TestPublisher_CircuitBreakerStopsWrites(t *testing.T) {
	store := &failingStore{}
	cb := NewCircuitBreaker(2, time.Hour)
	metrics := NewMetrics(nil)
	pub := NewPublisher(store, WithCircuitBreaker(cb), WithMetrics(metrics))

	for range 5 {
		pub.LogAction(context.Background(), audit.Event{Action: string(audit.EventEUIDCreated)})
	}

	assert.Equal(t, 2, store.Calls(), "writes stop once the circuit opens")
	assert.True(t, cb.IsOpen())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Dropped.WithLabelValues("circuit_open")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CircuitOpen))
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	require.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow(), "one attempt after cooldown")

	cb.RecordFailure()
	assert.False(t, cb.Allow(), "a failed trial call reopens immediately")

	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
}
