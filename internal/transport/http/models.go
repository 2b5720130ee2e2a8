package httptransport

import (
	"fmt"
	"strings"
	"time"

	"entityid/internal/governor"
	"entityid/internal/identity"
	"entityid/pkg/euid"
	"entityid/pkg/platform/sentinel"
)

type GenerateRequest struct {
	EntityType       string   `json:"entityType"`
	AccessLevel      string   `json:"accessLevel,omitempty"`
	Jurisdiction     string   `json:"jurisdiction,omitempty"`
	ExternalRef      string   `json:"externalRef,omitempty"`
	RelatedTo        []string `json:"relatedTo,omitempty"`
	RelationshipType string   `json:"relationshipType,omitempty"`
}

func (r GenerateRequest) toService(requestor string) identity.GenerateRequest {
	return identity.GenerateRequest{
		EntityType:   euid.EntityType(strings.ToUpper(strings.TrimSpace(r.EntityType))),
		AccessLevel:  euid.AccessLevel(strings.ToUpper(strings.TrimSpace(r.AccessLevel))),
		Jurisdiction: strings.TrimSpace(r.Jurisdiction),
		ExternalRef:  r.ExternalRef,
		Requestor:    requestor,
	}
}

func (r GenerateRequest) edges() []identity.Relationship {
	out := make([]identity.Relationship, 0, len(r.RelatedTo))
	for _, target := range r.RelatedTo {
		out = append(out, identity.Relationship{TargetEUID: target, RelationshipType: r.RelationshipType})
	}
	return out
}

// GenerateResponse is the issued identity. Composite is set when the
// request named related identifiers.
type GenerateResponse struct {
	identity.Identity
	Composite string `json:"composite,omitempty"`
}

// StatusRequest changes an identifier's status. Cascade defaults to true.
type StatusRequest struct {
	Status  euid.Status `json:"status"`
	Cascade *bool       `json:"cascade,omitempty"`
}

func (r StatusRequest) cascade() bool {
	return r.Cascade == nil || *r.Cascade
}

type RelationshipsRequest struct {
	Relationships []identity.Relationship `json:"relationships"`
}

type VersionResponse struct {
	EUID string `json:"euid"`
}

type BatchRequest struct {
	EntityType  string `json:"entityType"`
	Count       int    `json:"count"`
	AccessLevel string `json:"accessLevel,omitempty"`
	BatchID     string `json:"batchId,omitempty"`
}

type OverrideRequest struct {
	Op     governor.OverrideOp `json:"op"`
	EUID   string              `json:"euid"`
	Reason string              `json:"reason"`
}

type PrefixRequest struct {
	TypeName    string               `json:"typeName"`
	Description string               `json:"description,omitempty"`
	AutoRetire  *governor.AutoRetire `json:"autoRetire,omitempty"`
}

type ReserveRequest struct {
	EUID   string `json:"euid"`
	Reason string `json:"reason"`
}

type RetentionRuleRequest struct {
	RetentionPeriodDays int                     `json:"retentionPeriodDays"`
	Action              governor.RetentionAction `json:"action"`
}

// ListResponse wraps a page of results.
type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// TombstoneResponse omits the snapshot; snapshots are read one at a time.
type TombstoneResponse struct {
	EUID           string          `json:"euid"`
	EntityType     euid.EntityType `json:"entityType,omitempty"`
	DeletedAt      time.Time       `json:"deletedAt"`
	DeletedBy      string          `json:"deletedBy"`
	Reason         string          `json:"reason,omitempty"`
	RetentionUntil string          `json:"retentionUntil"`
	SnapshotState  string          `json:"snapshotState"`
	CrossReference string          `json:"crossReference,omitempty"`
}

func tombstoneResponse(t governor.Tombstone) TombstoneResponse {
	return TombstoneResponse{
		EUID:           t.EUID,
		EntityType:     t.EntityType,
		DeletedAt:      t.DeletedAt,
		DeletedBy:      t.DeletedBy,
		Reason:         t.Reason,
		RetentionUntil: t.RetentionUntil.String(),
		SnapshotState:  t.SnapshotState,
		CrossReference: t.CrossReference,
	}
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required: %w", field, sentinel.ErrInvalidInput)
	}
	return nil
}
