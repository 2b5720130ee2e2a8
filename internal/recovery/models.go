package recovery

import (
	"encoding/json"
	"time"

	"entityid/pkg/euid"
)

// CorruptionType says how a record was found to be damaged.
type CorruptionType string

const (
	CorruptionUnparseable   CorruptionType = "unparseable"
	CorruptionMissingFields CorruptionType = "missing_fields"
	CorruptionSignature     CorruptionType = "signature"
)

// EntityKind is the coarse classification that picks the Doe namespace.
type EntityKind string

const (
	KindOrganization EntityKind = "organization"
	KindIndividual   EntityKind = "individual"
)

func (k EntityKind) doeType() euid.EntityType {
	if k == KindOrganization {
		return euid.TypeDoeOrganization
	}
	return euid.TypeDoeIndividual
}

func (k EntityKind) doeCode() string {
	if k == KindOrganization {
		return euid.CodeDoeOrganization
	}
	return euid.CodeDoeIndividual
}

type EntryStatus string

const (
	StatusCorrupted          EntryStatus = "corrupted"
	StatusPartiallyRecovered EntryStatus = "partially_recovered"
	StatusQuarantined        EntryStatus = "quarantined"
)

// DoeIdentity is the placeholder identity given to a corrupted record.
type DoeIdentity struct {
	DoeID      string          `json:"doeId"`
	Type       euid.EntityType `json:"type"`
	AssignedTo string          `json:"assignedTo,omitempty"`
	AssignedAt time.Time       `json:"assignedAt"`
	Reason     string          `json:"reason"`
	EntryKey   string          `json:"entryKey"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// CorruptedRecord tracks one damaged record through recovery.
type CorruptedRecord struct {
	Key              string         `json:"key"`
	OriginalID       string         `json:"originalId,omitempty"`
	SourceKind       string         `json:"sourceKind"`
	SourceID         string         `json:"sourceId"`
	AssignedDoeID    string         `json:"assignedDoeId"`
	EntityKind       EntityKind     `json:"entityKind"`
	DetectedAt       time.Time      `json:"corruptionDetectedAt"`
	CorruptionType   CorruptionType `json:"corruptionType"`
	RecoveryAttempts int            `json:"recoveryAttempts"`
	OriginalData     []byte         `json:"originalData"`
	RecoveredData    map[string]any `json:"recoveredData,omitempty"`
	RecoveredBy      []string       `json:"recoveredBy,omitempty"`
	Status           EntryStatus    `json:"status"`
	TombstonePending bool           `json:"tombstonePending"`
	LastAttemptAt    *time.Time     `json:"lastAttemptAt,omitempty"`
}

// Quarantine is the separate record written for data recovery gave up on.
type Quarantine struct {
	Key           string    `json:"key"`
	OriginalID    string    `json:"originalId,omitempty"`
	DoeID         string    `json:"doeId"`
	SourceKind    string    `json:"sourceKind"`
	RawData       []byte    `json:"rawData"`
	Attempts      int       `json:"attempts"`
	QuarantinedAt time.Time `json:"quarantinedAt"`
	ArchiveKey    string    `json:"archiveKey,omitempty"`
}

// Backup is a point-in-time copy of a readable record.
type Backup struct {
	OriginalID string          `json:"originalId"`
	TakenAt    time.Time       `json:"takenAt"`
	Data       json.RawMessage `json:"data"`
}

type DoeStatistics struct {
	Total              int `json:"total"`
	Organizations      int `json:"organizations"`
	Individuals        int `json:"individuals"`
	Corrupted          int `json:"corrupted"`
	PartiallyRecovered int `json:"partiallyRecovered"`
	Quarantined        int `json:"quarantined"`
	PendingTombstones  int `json:"pendingTombstones"`
}

// SweepReport counts what one scan did.
type SweepReport struct {
	Scanned     int `json:"scanned"`
	Corrupted   int `json:"corrupted"`
	Assigned    int `json:"assigned"`
	Recovered   int `json:"recovered"`
	Quarantined int `json:"quarantined"`
}

func entryID(key string) string      { return "corrupted:" + key }
func doeRecordID(doeID string) string { return "doe:" + doeID }
func quarantineID(key string) string { return "quarantine:" + key }
