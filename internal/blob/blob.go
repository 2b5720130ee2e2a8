// Package blob stores archived tombstone snapshots and quarantined payloads
// outside the document store.
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/klauspost/compress/zstd"
)

// Store is a flat key/value object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns sentinel.ErrNotFound for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
}

const archiveContentType = "application/zstd"

// Shared across calls; both are safe for concurrent EncodeAll/DecodeAll.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Archive writes JSON documents as zstd-compressed objects under a key prefix.
type Archive struct {
	store  Store
	prefix string
}

func NewArchive(store Store, prefix string) *Archive {
	return &Archive{store: store, prefix: prefix}
}

// Key returns the object key for a collection/name pair.
func (a *Archive) Key(collection, name string) string {
	return a.prefix + path.Join(collection, name+".json.zst")
}

// PutJSON encodes v, compresses it and stores it. It returns the object key.
func (a *Archive) PutJSON(ctx context.Context, collection, name string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode archive %s/%s: %w", collection, name, err)
	}
	key := a.Key(collection, name)
	if err := a.store.Put(ctx, key, encoder.EncodeAll(raw, nil), archiveContentType); err != nil {
		return "", fmt.Errorf("store archive %s: %w", key, err)
	}
	return key, nil
}

// GetJSON loads and decompresses the object at key into out.
func (a *Archive) GetJSON(ctx context.Context, key string, out any) error {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load archive %s: %w", key, err)
	}
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress archive %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode archive %s: %w", key, err)
	}
	return nil
}
