// Package governor owns identifier lifecycle state: tombstones, reservations,
// retention rules, custom prefixes and the conflict log.
//
// Tombstone and reservation sets live in memory for fast availability checks
// and are written through to the document store on every mutation. A
// tombstone is never removed by a sweep; only ManualOverride can undelete.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"entityid/internal/blob"
	"entityid/internal/docstore"
	"entityid/internal/platform/keylock"
	"entityid/internal/platform/metrics"
	"entityid/pkg/euid"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

const (
	defaultRetentionDays         = 3650
	defaultConflictRetentionDays = 90
	defaultAdminRole             = "euid-admin"
	systemActor                  = "system:governor"
)

// AuditPublisher is the subset of the audit publisher the governor needs.
type AuditPublisher interface {
	LogAction(ctx context.Context, event audit.Event)
}

type Governor struct {
	store   docstore.Store
	auditor AuditPublisher
	archive *blob.Archive
	logger  *slog.Logger
	metrics *metrics.Metrics

	retentionDays         int
	conflictRetentionDays int
	adminRole             string

	locks    keylock.Locker
	prefixMu sync.Mutex
	sweeping atomic.Bool
	grammar  atomic.Pointer[euid.Grammar]

	mu           sync.RWMutex
	tombstones   map[string]struct{}
	reservations map[string]struct{}
	rules        map[euid.EntityType]RetentionRule
	prefixes     map[string]PrefixDefinition
}

type Option func(*Governor)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Governor) {
		g.metrics = m
	}
}

// WithArchive moves expired snapshots of "archive" rules into a.
func WithArchive(a *blob.Archive) Option {
	return func(g *Governor) {
		g.archive = a
	}
}

// WithDefaultRetentionDays sets the period used for types without a rule.
func WithDefaultRetentionDays(days int) Option {
	return func(g *Governor) {
		g.retentionDays = days
	}
}

// WithConflictRetentionDays sets how long conflict records are kept.
func WithConflictRetentionDays(days int) Option {
	return func(g *Governor) {
		if days > 0 {
			g.conflictRetentionDays = days
		}
	}
}

// WithAdminRole sets the role ManualOverride requires.
func WithAdminRole(role string) Option {
	return func(g *Governor) {
		if role != "" {
			g.adminRole = role
		}
	}
}

func New(store docstore.Store, auditor AuditPublisher, opts ...Option) *Governor {
	g := &Governor{
		store:                 store,
		auditor:               auditor,
		retentionDays:         defaultRetentionDays,
		conflictRetentionDays: defaultConflictRetentionDays,
		adminRole:             defaultAdminRole,
		tombstones:            make(map[string]struct{}),
		reservations:          make(map[string]struct{}),
		rules:                 make(map[euid.EntityType]RetentionRule),
		prefixes:              make(map[string]PrefixDefinition),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	g.grammar.Store(euid.Default())
	return g
}

// Hydrate loads lifecycle state from the store. It must run before the
// governor serves availability checks.
func (g *Governor) Hydrate(ctx context.Context) error {
	tombs, err := g.store.Query(ctx, docstore.Query{Kind: docstore.KindDeletedEUID})
	if err != nil {
		return fmt.Errorf("load tombstones: %w", err)
	}
	reserved, err := g.store.Query(ctx, docstore.Query{Kind: docstore.KindReservedEUID})
	if err != nil {
		return fmt.Errorf("load reservations: %w", err)
	}
	ruleRecs, err := g.store.Query(ctx, docstore.Query{Kind: docstore.KindRetentionRule})
	if err != nil {
		return fmt.Errorf("load retention rules: %w", err)
	}
	prefixRecs, err := g.store.Query(ctx, docstore.Query{Kind: docstore.KindPrefix})
	if err != nil {
		return fmt.Errorf("load prefixes: %w", err)
	}

	tombstones := make(map[string]struct{}, len(tombs))
	for _, rec := range tombs {
		// An unreadable tombstone still blocks its identifier.
		tombstones[idFromRecord(rec, "deleted:")] = struct{}{}
	}
	reservations := make(map[string]struct{}, len(reserved))
	for _, rec := range reserved {
		reservations[idFromRecord(rec, "reserved:")] = struct{}{}
	}

	rules := make(map[euid.EntityType]RetentionRule, len(ruleRecs))
	for _, rec := range ruleRecs {
		rule, err := docstore.Decode[RetentionRule](rec)
		if err != nil {
			g.logger.WarnContext(ctx, "skipping unreadable retention rule", "id", rec.ID, "error", err)
			continue
		}
		rules[rule.EntityType] = rule
	}

	prefixes := make(map[string]PrefixDefinition, len(prefixRecs))
	custom := make(map[string]euid.EntityType, len(prefixRecs))
	for _, rec := range prefixRecs {
		def, err := docstore.Decode[PrefixDefinition](rec)
		if err != nil {
			g.logger.WarnContext(ctx, "skipping unreadable prefix", "id", rec.ID, "error", err)
			continue
		}
		prefixes[def.Prefix] = def
		custom[def.Prefix] = euid.EntityType(def.EntityTypeName)
	}
	grammar, err := euid.NewGrammar(custom)
	if err != nil {
		return fmt.Errorf("build grammar: %w", err)
	}

	g.mu.Lock()
	g.tombstones = tombstones
	g.reservations = reservations
	g.rules = rules
	g.prefixes = prefixes
	g.mu.Unlock()
	g.grammar.Store(grammar)

	g.logger.InfoContext(ctx, "lifecycle state loaded",
		"tombstones", len(tombstones),
		"reservations", len(reservations),
		"retention_rules", len(rules),
		"custom_prefixes", len(prefixes),
	)
	return nil
}

func idFromRecord(rec docstore.Record, prefix string) string {
	return euid.Normalize(strings.TrimPrefix(rec.ID, prefix))
}

// Grammar returns the current grammar including every registered prefix.
func (g *Governor) Grammar() *euid.Grammar {
	return g.grammar.Load()
}

// IsAvailable reports whether id is neither tombstoned nor reserved. It does
// not consult the store for live records; see Availability.
func (g *Governor) IsAvailable(id string) bool {
	_, ok := g.blocked(euid.Normalize(id))
	return !ok
}

func (g *Governor) blocked(base string) (ConflictKind, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.tombstones[base]; ok {
		return ConflictDeleted, true
	}
	if _, ok := g.reservations[base]; ok {
		return ConflictReserved, true
	}
	return "", false
}

// Availability reports whether id may be issued. When it may not, the
// returned kind says why.
func (g *Governor) Availability(ctx context.Context, id string) (ConflictKind, bool, error) {
	base := euid.Normalize(id)
	if kind, ok := g.blocked(base); ok {
		return kind, false, nil
	}
	_, err := g.store.Read(ctx, base)
	switch {
	case err == nil:
		return ConflictDuplicate, false, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return "", true, nil
	default:
		return "", false, fmt.Errorf("check %s: %w", base, err)
	}
}

// Claim runs persist for id while holding the identifier's lifecycle lock.
// When id is unavailable persist is skipped and the conflict kind is returned.
func (g *Governor) Claim(ctx context.Context, id string, persist func(context.Context) error) (ConflictKind, bool, error) {
	base := euid.Normalize(id)
	unlock := g.locks.Lock(base)
	defer unlock()

	kind, ok, err := g.Availability(ctx, base)
	if err != nil || !ok {
		return kind, false, err
	}
	if err := persist(ctx); err != nil {
		return "", false, err
	}
	return "", true, nil
}

// IsTombstoned reports whether id has been deleted.
func (g *Governor) IsTombstoned(id string) bool {
	kind, ok := g.blocked(euid.Normalize(id))
	return ok && kind == ConflictDeleted
}

// RegisterDeleted tombstones an identifier. Registering the same identifier
// twice returns the existing tombstone.
func (g *Governor) RegisterDeleted(ctx context.Context, req DeleteRequest) (Tombstone, error) {
	base := euid.Normalize(strings.TrimSpace(req.EUID))
	if base == "" {
		return Tombstone{}, fmt.Errorf("tombstone: empty identifier: %w", sentinel.ErrInvalidInput)
	}
	unlock := g.locks.Lock(base)
	defer unlock()

	if g.IsTombstoned(base) {
		existing, err := g.Tombstone(ctx, base)
		if err != nil {
			return Tombstone{EUID: base}, nil
		}
		return existing, nil
	}

	now := requestcontext.Now(ctx)
	rule := g.RetentionRuleFor(req.EntityType)
	tomb := Tombstone{
		EUID:           base,
		EntityType:     req.EntityType,
		DeletedAt:      now,
		DeletedBy:      req.Requestor,
		Reason:         req.Reason,
		SnapshotState:  SnapshotRetained,
		CrossReference: req.CrossReference,
	}
	if rule.permanent() {
		tomb.IsPermanent = true
		tomb.RetentionUntil = RetentionUntil{Permanent: true}
	} else {
		tomb.RetentionUntil = RetentionUntil{Time: now.AddDate(0, 0, rule.RetentionPeriodDays)}
	}
	if req.Snapshot != nil {
		raw, err := docstore.Encode(req.Snapshot)
		if err != nil {
			return Tombstone{}, fmt.Errorf("tombstone %s snapshot: %w", base, err)
		}
		tomb.Snapshot = raw
	}

	payload, err := docstore.Encode(tomb)
	if err != nil {
		return Tombstone{}, fmt.Errorf("encode tombstone %s: %w", base, err)
	}
	_, err = g.store.Create(ctx, docstore.Record{
		ID:        tombstoneID(base),
		Kind:      docstore.KindDeletedEUID,
		Payload:   payload,
		CreatedBy: req.Requestor,
	})
	if err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return Tombstone{}, fmt.Errorf("persist tombstone %s: %w", base, err)
	}

	g.mu.Lock()
	g.tombstones[base] = struct{}{}
	g.mu.Unlock()

	if errors.Is(err, sentinel.ErrConflict) {
		// Persisted by an earlier run that never reached memory.
		if existing, readErr := g.Tombstone(ctx, base); readErr == nil {
			return existing, nil
		}
		return tomb, nil
	}

	g.metrics.IncTombstone()
	g.audit(ctx, audit.EventEUIDDeleted, base, string(req.EntityType), req.Requestor, map[string]any{
		"reason":          req.Reason,
		"retention_until": tomb.RetentionUntil.String(),
		"retention":       string(rule.Action),
		"cross_reference": req.CrossReference,
	})
	return tomb, nil
}

// Tombstone returns the stored tombstone for id.
func (g *Governor) Tombstone(ctx context.Context, id string) (Tombstone, error) {
	return docstore.Get[Tombstone](ctx, g.store, tombstoneID(euid.Normalize(id)))
}

// ListTombstones pages through tombstones, newest first.
func (g *Governor) ListTombstones(ctx context.Context, limit, offset int) ([]Tombstone, error) {
	recs, err := g.store.Query(ctx, docstore.Query{
		Kind:   docstore.KindDeletedEUID,
		Sort:   []docstore.SortField{{Path: "_createdAt", Desc: true}},
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list tombstones: %w", err)
	}
	out := make([]Tombstone, 0, len(recs))
	for _, rec := range recs {
		t, err := docstore.Decode[Tombstone](rec)
		if err != nil {
			g.logger.WarnContext(ctx, "unreadable tombstone", "id", rec.ID, "error", err)
			t = Tombstone{EUID: idFromRecord(rec, "deleted:"), DeletedAt: rec.CreatedAt}
		}
		out = append(out, t)
	}
	return out, nil
}

// Reserve holds id so it cannot be issued until released.
func (g *Governor) Reserve(ctx context.Context, id, requestor, reason string) (Reservation, error) {
	res := g.Grammar().Validate(id)
	if !res.Valid {
		return Reservation{}, fmt.Errorf("reserve %q: %s: %w", id, strings.Join(res.Errors, "; "), sentinel.ErrInvalidInput)
	}
	base := euid.Normalize(id)
	unlock := g.locks.Lock(base)
	defer unlock()

	if kind, blocked := g.blocked(base); blocked {
		if kind == ConflictDeleted {
			return Reservation{}, fmt.Errorf("reserve %s: identifier was deleted: %w", base, sentinel.ErrInvalidState)
		}
		return Reservation{}, fmt.Errorf("reserve %s: already reserved: %w", base, sentinel.ErrConflict)
	}
	switch _, err := g.store.Read(ctx, base); {
	case err == nil:
		return Reservation{}, fmt.Errorf("reserve %s: already issued: %w", base, sentinel.ErrConflict)
	case !errors.Is(err, sentinel.ErrNotFound):
		return Reservation{}, fmt.Errorf("reserve %s: %w", base, err)
	}

	r := Reservation{
		EUID:       base,
		ReservedAt: requestcontext.Now(ctx),
		ReservedBy: requestor,
		Reason:     reason,
	}
	payload, err := docstore.Encode(r)
	if err != nil {
		return Reservation{}, fmt.Errorf("encode reservation %s: %w", base, err)
	}
	if _, err := g.store.Create(ctx, docstore.Record{
		ID:        reservationID(base),
		Kind:      docstore.KindReservedEUID,
		Payload:   payload,
		CreatedBy: requestor,
	}); err != nil {
		return Reservation{}, fmt.Errorf("persist reservation %s: %w", base, err)
	}

	g.mu.Lock()
	g.reservations[base] = struct{}{}
	g.mu.Unlock()

	g.audit(ctx, audit.EventEUIDReserved, base, "", requestor, map[string]any{"reason": reason})
	return r, nil
}

// Release drops a reservation. It reports false when id was not reserved.
func (g *Governor) Release(ctx context.Context, id, requestor string) (bool, error) {
	base := euid.Normalize(id)
	unlock := g.locks.Lock(base)
	defer unlock()
	return g.release(ctx, base, requestor)
}

func (g *Governor) release(ctx context.Context, base, requestor string) (bool, error) {
	g.mu.RLock()
	_, reserved := g.reservations[base]
	g.mu.RUnlock()
	if !reserved {
		return false, nil
	}
	if _, err := g.store.Delete(ctx, reservationID(base)); err != nil {
		return false, fmt.Errorf("release %s: %w", base, err)
	}

	g.mu.Lock()
	delete(g.reservations, base)
	g.mu.Unlock()

	g.audit(ctx, audit.EventEUIDReleased, base, "", requestor, nil)
	return true, nil
}

// ResolveConflict finds the next available identifier after attempted, in the
// same namespace, and logs the conflict. Only the base form is returned.
func (g *Governor) ResolveConflict(ctx context.Context, attempted string, kind ConflictKind) (string, error) {
	res := g.Grammar().Validate(attempted)
	if !res.Valid {
		return "", fmt.Errorf("resolve conflict for %q: %s: %w", attempted, strings.Join(res.Errors, "; "), sentinel.ErrInvalidInput)
	}
	p := *res.Parsed
	p.Related = nil
	p.Status = euid.StatusActive

	for seq := p.Sequence + 1; seq <= euid.MaxSequence; seq++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p.Sequence = seq
		candidate := p.Base()
		_, ok, err := g.Availability(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if err := g.recordConflict(ctx, euid.Normalize(attempted), candidate, kind); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", fmt.Errorf("resolve conflict for %s: no free sequence after %d: %w", attempted, res.Parsed.Sequence, sentinel.ErrExhausted)
}

func (g *Governor) recordConflict(ctx context.Context, attempted, resolved string, kind ConflictKind) error {
	rec := ConflictRecord{
		AttemptedEUID: attempted,
		ConflictType:  kind,
		ResolvedEUID:  resolved,
		Timestamp:     requestcontext.Now(ctx),
	}
	payload, err := docstore.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode conflict: %w", err)
	}
	if _, err := g.store.Create(ctx, docstore.Record{
		Kind:      docstore.KindConflict,
		Payload:   payload,
		CreatedBy: systemActor,
	}); err != nil {
		return fmt.Errorf("log conflict %s: %w", attempted, err)
	}

	g.metrics.IncConflict(string(kind))
	g.logger.InfoContext(ctx, "identifier conflict resolved",
		"attempted", attempted,
		"resolved", resolved,
		"kind", kind,
	)
	g.audit(ctx, audit.EventConflictResolved, resolved, "", systemActor, map[string]any{
		"attempted": attempted,
		"kind":      string(kind),
	})
	return nil
}

func (g *Governor) audit(ctx context.Context, event audit.AuditEvent, entityID, entityType, actor string, details map[string]any) {
	if g.auditor == nil {
		return
	}
	g.auditor.LogAction(ctx, audit.Event{
		Action:     string(event),
		EntityID:   entityID,
		EntityType: entityType,
		UserID:     actor,
		Details:    details,
	})
}
