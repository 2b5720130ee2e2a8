// Package docstore is the generic document store the lifecycle components
// persist into. Records carry an opaque kind and a raw JSON payload; payload
// bytes are kept exactly as written so unreadable data stays observable.
package docstore

//go:generate mockgen -source=docstore.go -destination=mocks/mock_store.go -package=mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entityid/pkg/platform/sentinel"
)

// Record kinds persisted by the lifecycle components.
const (
	KindEUID          = "euid"
	KindDeletedEUID   = "deleted_euid"
	KindReservedEUID  = "reserved_euid"
	KindPrefix        = "euid_prefix"
	KindRetentionRule = "retention_rule"
	KindConflict      = "euid_conflict"
	KindSequence      = "euid_sequence"
	KindDoeIdentity   = "doe_identity"
	KindCorrupted     = "corrupted_record"
	KindQuarantine    = "quarantine"
	KindBackup        = "backup"
)

// Record is one stored document.
type Record struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	CreatedBy string          `json:"createdBy,omitempty"`
	UpdatedBy string          `json:"updatedBy,omitempty"`
}

// SortField orders query results by a dotted payload path. The pseudo paths
// "_createdAt" and "_updatedAt" sort by record timestamps.
type SortField struct {
	Path string
	Desc bool
}

// Query selects records. Zero values mean "any kind", "no filter", "no limit".
type Query struct {
	Kind   string
	Filter Filter
	Sort   []SortField
	Limit  int
	Offset int
}

// Store is the document store contract.
//
// Create fails with sentinel.ErrConflict when the id exists. Read and Update
// fail with sentinel.ErrNotFound for a missing id. Update merges patch into the
// top-level payload object.
type Store interface {
	Create(ctx context.Context, rec Record) (Record, error)
	Read(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, id string, patch map[string]any, actor string) (Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, q Query) ([]Record, error)
}

// Encode marshals a typed payload.
func Encode(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// Decode unmarshals a record payload into T.
func Decode[T any](rec Record) (T, error) {
	var out T
	if err := json.Unmarshal(rec.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s %s: %w", rec.Kind, rec.ID, err)
	}
	return out, nil
}

// MergePatch applies patch to the top-level keys of payload.
func MergePatch(payload json.RawMessage, patch map[string]any) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("%w: payload is not a JSON object: %v", sentinel.ErrInvalidState, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}
	for k, v := range patch {
		doc[k] = v
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode merged payload: %w", err)
	}
	return out, nil
}

// Get reads id and decodes it into T.
func Get[T any](ctx context.Context, s Store, id string) (T, error) {
	rec, err := s.Read(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](rec)
}
