package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "entityid/pkg/platform/audit"
)

// Store implements audit.Store on the audit_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts an audit event. Duplicate ids are ignored so redelivery is harmless.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := event.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, category, action, entity_id, entity_type,
			user_id, details, timestamp, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		eventID,
		string(category),
		event.Action,
		event.EntityID,
		event.EntityType,
		event.UserID,
		details,
		event.Timestamp,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByEntities returns events touching any of the given entity ids, newest first.
func (s *Store) ListByEntities(ctx context.Context, entityIDs []string) ([]audit.Event, error) {
	query := `
		SELECT id, category, action, entity_id, entity_type,
			   user_id, details, timestamp, request_id
		FROM audit_events
		WHERE entity_id = ANY($1)
		ORDER BY timestamp DESC
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(entityIDs))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `
		SELECT id, category, action, entity_id, entity_type,
			   user_id, details, timestamp, request_id
		FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return s.scanEvents(rows)
}

func (s *Store) scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			event    audit.Event
			category string
			details  []byte
		)
		err := rows.Scan(
			&event.ID,
			&category,
			&event.Action,
			&event.EntityID,
			&event.EntityType,
			&event.UserID,
			&details,
			&event.Timestamp,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
