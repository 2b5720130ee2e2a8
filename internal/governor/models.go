package governor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"entityid/pkg/euid"
)

// ConflictKind is why a candidate identifier could not be issued.
type ConflictKind string

const (
	ConflictDuplicate ConflictKind = "duplicate"
	ConflictReserved  ConflictKind = "reserved"
	ConflictDeleted   ConflictKind = "deleted"
)

// RetentionAction decides what happens to a tombstone snapshot once its
// retention period ends.
type RetentionAction string

const (
	RetentionArchive   RetentionAction = "archive"
	RetentionPurge     RetentionAction = "purge"
	RetentionPermanent RetentionAction = "permanent"
)

func (a RetentionAction) Valid() bool {
	switch a {
	case RetentionArchive, RetentionPurge, RetentionPermanent:
		return true
	}
	return false
}

// ForeverDays as a retention period keeps snapshots permanently.
const ForeverDays = -1

// RetentionRule is the per-type retention policy.
type RetentionRule struct {
	EntityType          euid.EntityType `json:"entityType"`
	RetentionPeriodDays int             `json:"retentionPeriodDays"`
	Action              RetentionAction `json:"action"`
}

func (r RetentionRule) permanent() bool {
	return r.Action == RetentionPermanent || r.RetentionPeriodDays < 0
}

// RetentionUntil is either a point in time or "permanent" on the wire.
type RetentionUntil struct {
	Time      time.Time
	Permanent bool
}

const permanentLiteral = "permanent"

// Expired reports whether the retention window has closed at now.
func (r RetentionUntil) Expired(now time.Time) bool {
	return !r.Permanent && !r.Time.After(now)
}

func (r RetentionUntil) MarshalJSON() ([]byte, error) {
	if r.Permanent {
		return json.Marshal(permanentLiteral)
	}
	return json.Marshal(r.Time.UTC().Format(time.RFC3339Nano))
}

func (r *RetentionUntil) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == permanentLiteral {
		*r = RetentionUntil{Permanent: true}
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("retentionUntil: %w", err)
	}
	*r = RetentionUntil{Time: t}
	return nil
}

func (r RetentionUntil) String() string {
	if r.Permanent {
		return permanentLiteral
	}
	return r.Time.UTC().Format(time.RFC3339)
}

// Snapshot states of a tombstone.
const (
	SnapshotRetained = "retained"
	SnapshotPurged   = "purged"
	SnapshotArchived = "archived"
)

// Tombstone records that an identifier was deleted. Its existence alone makes
// the identifier unavailable; the snapshot may be purged or archived later.
type Tombstone struct {
	EUID           string          `json:"euid"`
	EntityType     euid.EntityType `json:"entityType"`
	DeletedAt      time.Time       `json:"deletedAt"`
	DeletedBy      string          `json:"deletedBy"`
	Reason         string          `json:"reason"`
	Snapshot       json.RawMessage `json:"originalDataSnapshot,omitempty"`
	RetentionUntil RetentionUntil  `json:"retentionUntil"`
	IsPermanent    bool            `json:"isPermanent"`
	SnapshotState  string          `json:"snapshotState"`
	ArchiveKey     string          `json:"archiveKey,omitempty"`
	CrossReference string          `json:"crossReference,omitempty"`
}

// HasSnapshot reports whether the original data is still held inline.
func (t Tombstone) HasSnapshot() bool {
	return len(t.Snapshot) > 0 && !bytes.Equal(t.Snapshot, []byte("null"))
}

// Reservation is a releasable hold on an identifier.
type Reservation struct {
	EUID       string    `json:"euid"`
	ReservedAt time.Time `json:"reservedAt"`
	ReservedBy string    `json:"reservedBy"`
	Reason     string    `json:"reason"`
}

// AutoRetire lists the conditions under which a custom prefix retires itself.
// Zero values disable a condition.
type AutoRetire struct {
	InactivityDays int        `json:"inactivityDays,omitempty"`
	MaxEntityCount int        `json:"maxEntityCount,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// PrefixDefinition describes a type code.
type PrefixDefinition struct {
	Prefix         string      `json:"prefix"`
	EntityTypeName string      `json:"entityTypeName"`
	Description    string      `json:"description"`
	IsActive       bool        `json:"isActive"`
	IsSystemPrefix bool        `json:"isSystemPrefix"`
	AutoRetire     *AutoRetire `json:"autoRetire,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	CreatedBy      string      `json:"createdBy"`
	LastUsedAt     *time.Time  `json:"lastUsedAt,omitempty"`
	EntityCount    int         `json:"entityCount"`
	RetiredAt      *time.Time  `json:"retiredAt,omitempty"`
	RetiredReason  string      `json:"retiredReason,omitempty"`
}

// ConflictRecord logs one resolved conflict.
type ConflictRecord struct {
	AttemptedEUID string       `json:"attemptedEuid"`
	ConflictType  ConflictKind `json:"conflictType"`
	ResolvedEUID  string       `json:"resolvedEuid"`
	Timestamp     time.Time    `json:"timestamp"`
}

// ConflictStats summarises the conflict log.
type ConflictStats struct {
	Total      int                  `json:"total"`
	ByType     map[ConflictKind]int `json:"byType"`
	Last24h    int                  `json:"last24h"`
	MostRecent []ConflictRecord     `json:"mostRecent"`
}

// OverrideOp names a privileged manual override.
type OverrideOp string

const (
	OverrideUndelete    OverrideOp = "undelete"
	OverrideUnreserve   OverrideOp = "unreserve"
	OverrideForceRetire OverrideOp = "forceRetire"
)

// DeleteRequest describes an identifier being tombstoned.
type DeleteRequest struct {
	EUID       string
	EntityType euid.EntityType
	Requestor  string
	Reason     string
	Snapshot   any
	// CrossReference links the tombstone to a placeholder identity.
	CrossReference string
}

func tombstoneID(base string) string   { return "deleted:" + base }
func reservationID(base string) string { return "reserved:" + base }
func prefixID(code string) string      { return "prefix:" + code }
func ruleID(t euid.EntityType) string  { return "retention:" + string(t) }
