package sequence

import (
	"context"
	"errors"
	"fmt"

	"entityid/internal/docstore"
	"entityid/pkg/platform/sentinel"
)

const counterActor = "system:sequence"

type counterPayload struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
}

// DocstoreCounter keeps one euid_sequence record per key.
type DocstoreCounter struct {
	store docstore.Store
}

func NewDocstoreCounter(store docstore.Store) *DocstoreCounter {
	return &DocstoreCounter{store: store}
}

func counterID(key string) string {
	return "sequence:" + key
}

func (c *DocstoreCounter) Load(ctx context.Context, key string) (int, error) {
	p, err := docstore.Get[counterPayload](ctx, c.store, counterID(key))
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return p.Value, nil
}

func (c *DocstoreCounter) Advance(ctx context.Context, key string, value int) error {
	_, err := c.store.Update(ctx, counterID(key), map[string]any{"value": value}, counterActor)
	if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}
	payload, err := docstore.Encode(counterPayload{Key: key, Value: value})
	if err != nil {
		return err
	}
	if _, err := c.store.Create(ctx, docstore.Record{
		ID:        counterID(key),
		Kind:      docstore.KindSequence,
		Payload:   payload,
		CreatedBy: counterActor,
	}); err != nil {
		return fmt.Errorf("create sequence %s: %w", key, err)
	}
	return nil
}
