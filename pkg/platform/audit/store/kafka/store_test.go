package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "entityid/pkg/platform/audit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if f.err == nil {
			f.records = append(f.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func (f *fakeProducer) Close() { f.closed = true }

func TestStore_Append(t *testing.T) {
	t.Run("keys records by entity id", func(t *testing.T) {
		producer := &fakeProducer{}
		store := NewWithProducer(producer)

		err := store.Append(context.Background(), audit.Event{
			ID:        "evt-1",
			Category:  audit.CategoryCompliance,
			Action:    string(audit.EventEUIDCreated),
			EntityID:  "C00001",
			UserID:    "u1",
			Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		})
		require.NoError(t, err)
		require.Len(t, producer.records, 1)

		rec := producer.records[0]
		assert.Equal(t, []byte("C00001"), rec.Key)

		var msg message
		require.NoError(t, json.Unmarshal(rec.Value, &msg))
		assert.Equal(t, "euid_created", msg.Action)
		assert.Equal(t, "2026-01-02T03:04:05Z", msg.Timestamp)
		assert.Contains(t, rec.Headers, kgo.RecordHeader{Key: "action", Value: []byte("euid_created")})
	})

	t.Run("surfaces produce failures", func(t *testing.T) {
		producer := &fakeProducer{err: errors.New("broker down")}
		store := NewWithProducer(producer)

		err := store.Append(context.Background(), audit.Event{Action: "euid_created", EntityID: "C00001"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	})

	t.Run("close releases the producer", func(t *testing.T) {
		producer := &fakeProducer{}
		NewWithProducer(producer).Close()
		assert.True(t, producer.closed)
	})
}
