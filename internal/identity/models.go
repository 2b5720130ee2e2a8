package identity

import (
	"time"

	"entityid/pkg/euid"
)

// Identity is the stored form of an issued identifier. The record id is Base.
type Identity struct {
	EUID          string           `json:"euid"`
	Base          string           `json:"base"`
	EntityType    euid.EntityType  `json:"entityType"`
	TypeCode      string           `json:"typeCode"`
	Sequence      int              `json:"sequence"`
	AccessLevel   euid.AccessLevel `json:"accessLevel,omitempty"`
	Jurisdiction  string           `json:"jurisdiction,omitempty"`
	Status        euid.Status      `json:"status"`
	Version       int              `json:"version"`
	Relationships []Relationship   `json:"relationships"`
	Metadata      Metadata         `json:"metadata"`
	BatchID       string           `json:"batchId,omitempty"`
}

// Relationship is a directed edge to another identifier. Edges are never
// deduplicated.
type Relationship struct {
	TargetEUID       string     `json:"targetEuid"`
	RelationshipType string     `json:"relationshipType"`
	StartDate        time.Time  `json:"startDate"`
	EndDate          *time.Time `json:"endDate,omitempty"`
}

type Metadata struct {
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy"`
	ModifiedAt  time.Time `json:"modifiedAt"`
	ModifiedBy  string    `json:"modifiedBy"`
	ExternalRef string    `json:"externalRef,omitempty"`
}

type GenerateRequest struct {
	EntityType   euid.EntityType
	Requestor    string
	AccessLevel  euid.AccessLevel
	ExternalRef  string
	Jurisdiction string
}

type BatchRequest struct {
	EntityType  euid.EntityType
	Count       int
	Requestor   string
	AccessLevel euid.AccessLevel
	// BatchID reuses an existing BATCH identifier instead of creating one.
	BatchID string
}

type BatchResult struct {
	BatchID string   `json:"batchId"`
	EUIDs   []string `json:"euids"`
}

// Relationship types written by the service itself.
const (
	RelationshipRelatedTo     = "related_to"
	RelationshipMemberOfBatch = "member_of_batch"
)
