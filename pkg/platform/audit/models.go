package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance:
	// identifier issuance and deletion, corruption handling.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers privileged actions that break normal invariants.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         string
	Category   EventCategory
	Action     string
	EntityID   string
	EntityType string
	UserID     string
	Details    map[string]any
	Timestamp  time.Time
	RequestID  string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Identifier lifecycle
	EventEUIDCreated          AuditEvent = "euid_created"
	EventEUIDDeleted          AuditEvent = "euid_deleted"
	EventEUIDReserved         AuditEvent = "euid_reserved"
	EventEUIDReleased         AuditEvent = "euid_released"
	EventConflictResolved     AuditEvent = "euid_conflict_resolved"
	EventStatusChanged        AuditEvent = "euid_status_changed"
	EventRelationshipsAdded   AuditEvent = "euid_relationships_added"
	EventVersionCreated       AuditEvent = "euid_version_created"
	EventBatchCreated         AuditEvent = "euid_batch_created"
	EventRetentionPurged      AuditEvent = "retention_purged"
	EventRetentionArchived    AuditEvent = "retention_archived"
	EventRetentionRuleChanged AuditEvent = "retention_rule_changed"

	// Prefix registry
	EventPrefixCreated     AuditEvent = "prefix_created"
	EventPrefixRetired     AuditEvent = "prefix_retired"
	EventPrefixAutoRetired AuditEvent = "prefix_auto_retired"

	// Privileged
	EventManualOverride AuditEvent = "manual_override"

	// Corruption handling
	EventDoeIdentityAssigned AuditEvent = "doe_identity_assigned"
	EventRecordRecovered     AuditEvent = "record_recovered"
	EventRecordQuarantined   AuditEvent = "record_quarantined"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventEUIDCreated:         CategoryCompliance,
	EventEUIDDeleted:         CategoryCompliance,
	EventStatusChanged:       CategoryCompliance,
	EventRetentionPurged:     CategoryCompliance,
	EventRetentionArchived:   CategoryCompliance,
	EventDoeIdentityAssigned: CategoryCompliance,
	EventRecordQuarantined:   CategoryCompliance,

	EventManualOverride:       CategorySecurity,
	EventRetentionRuleChanged: CategorySecurity,
	EventPrefixRetired:        CategorySecurity,

	EventEUIDReserved:       CategoryOperations,
	EventEUIDReleased:       CategoryOperations,
	EventConflictResolved:   CategoryOperations,
	EventRelationshipsAdded: CategoryOperations,
	EventVersionCreated:     CategoryOperations,
	EventBatchCreated:       CategoryOperations,
	EventPrefixCreated:      CategoryOperations,
	EventPrefixAutoRetired:  CategoryOperations,
	EventRecordRecovered:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
