// Package identity issues identifiers and owns their mutation: relationships,
// versions and status changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"entityid/internal/docstore"
	"entityid/internal/governor"
	"entityid/internal/platform/keylock"
	"entityid/internal/platform/metrics"
	"entityid/internal/sequence"
	"entityid/pkg/euid"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

const DefaultMaxBatchSize = 1000

// Lifecycle is the governor surface the service depends on.
type Lifecycle interface {
	Grammar() *euid.Grammar
	PrefixActive(code string) bool
	TouchPrefix(ctx context.Context, code string) error
	Claim(ctx context.Context, id string, persist func(context.Context) error) (governor.ConflictKind, bool, error)
	ResolveConflict(ctx context.Context, attempted string, kind governor.ConflictKind) (string, error)
	RegisterDeleted(ctx context.Context, req governor.DeleteRequest) (governor.Tombstone, error)
}

// Sequencer hands out sequence numbers per namespace key.
type Sequencer interface {
	Next(ctx context.Context, key string) (int, error)
	Raise(ctx context.Context, key string, value int) error
}

type AuditPublisher interface {
	LogAction(ctx context.Context, event audit.Event)
}

type Service struct {
	store     docstore.Store
	sequences Sequencer
	lifecycle Lifecycle
	auditor   AuditPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	maxBatch  int

	// namespaces serialises allocate-check-persist per sequence key;
	// records serialises read-modify-write per identifier.
	namespaces keylock.Locker
	records    keylock.Locker
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithMaxBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

func NewService(store docstore.Store, sequences Sequencer, lifecycle Lifecycle, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{
		store:     store,
		sequences: sequences,
		lifecycle: lifecycle,
		auditor:   auditor,
		maxBatch:  DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("entityid/identity")
	}
	return s
}

// Generate issues a new identifier of the requested type.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (Identity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Generate",
		trace.WithAttributes(attribute.String("entity_type", string(req.EntityType))))
	defer span.End()

	ident, err := s.generate(ctx, req, nil, "")
	if err != nil {
		fail(span, err)
		return Identity{}, err
	}
	span.SetAttributes(attribute.String("euid", ident.EUID))
	return ident, nil
}

// GenerateRelated issues an identifier with edges attached. The second return
// value is a display composite of the new id and the first target; only the
// base id is persisted.
func (s *Service) GenerateRelated(ctx context.Context, req GenerateRequest, edges []Relationship) (Identity, string, error) {
	ctx, span := s.tracer.Start(ctx, "identity.GenerateRelated",
		trace.WithAttributes(attribute.String("entity_type", string(req.EntityType))))
	defer span.End()

	rels, err := s.edges(ctx, edges)
	if err != nil {
		fail(span, err)
		return Identity{}, "", err
	}
	ident, err := s.generate(ctx, req, rels, "")
	if err != nil {
		fail(span, err)
		return Identity{}, "", err
	}
	composite := ident.Base
	if len(rels) > 0 {
		composite += "-" + rels[0].TargetEUID
	}
	return ident, composite, nil
}

func (s *Service) generate(ctx context.Context, req GenerateRequest, edges []Relationship, batchID string) (Identity, error) {
	requestor := req.Requestor
	if requestor == "" {
		requestor = requestcontext.Actor(ctx)
	}
	if requestor == "" {
		return Identity{}, fmt.Errorf("generate: requestor is required: %w", sentinel.ErrInvalidInput)
	}
	grammar := s.lifecycle.Grammar()
	code, ok := grammar.CodeOf(req.EntityType)
	if !ok {
		return Identity{}, fmt.Errorf("generate: unknown entity type %q: %w", req.EntityType, sentinel.ErrInvalidInput)
	}
	if !s.lifecycle.PrefixActive(code) {
		return Identity{}, fmt.Errorf("generate: prefix %s is retired: %w", code, sentinel.ErrInvalidState)
	}
	if !req.AccessLevel.Valid() {
		return Identity{}, fmt.Errorf("generate: unknown access level %q: %w", req.AccessLevel, sentinel.ErrInvalidInput)
	}
	juris := strings.ToUpper(strings.TrimSpace(req.Jurisdiction))
	if juris != "" && (code != euid.CodeGovernment || !validJurisdiction(juris)) {
		return Identity{}, fmt.Errorf("generate: jurisdiction %q not allowed for %s: %w", req.Jurisdiction, req.EntityType, sentinel.ErrInvalidInput)
	}

	key := sequence.Key(code, juris)
	unlock := s.namespaces.Lock(key)
	defer unlock()

	seq, err := s.sequences.Next(ctx, key)
	if err != nil {
		return Identity{}, fmt.Errorf("generate %s: %w", req.EntityType, err)
	}
	id, err := grammar.Compose(code, seq, req.AccessLevel, juris)
	if err != nil {
		return Identity{}, fmt.Errorf("generate %s: %v: %w", req.EntityType, err, sentinel.ErrInvalidInput)
	}

	now := requestcontext.Now(ctx)
	if edges == nil {
		edges = []Relationship{}
	}
	var ident Identity
	create := func(id string, seq int) func(context.Context) error {
		return func(ctx context.Context) error {
			ident = Identity{
				EUID:          id,
				Base:          id,
				EntityType:    req.EntityType,
				TypeCode:      code,
				Sequence:      seq,
				AccessLevel:   req.AccessLevel,
				Jurisdiction:  juris,
				Status:        euid.StatusActive,
				Version:       1,
				Relationships: edges,
				BatchID:       batchID,
				Metadata: Metadata{
					CreatedAt:   now,
					CreatedBy:   requestor,
					ModifiedAt:  now,
					ModifiedBy:  requestor,
					ExternalRef: req.ExternalRef,
				},
			}
			payload, err := docstore.Encode(ident)
			if err != nil {
				return fmt.Errorf("encode %s: %w", id, err)
			}
			if _, err := s.store.Create(ctx, docstore.Record{
				ID:        id,
				Kind:      docstore.KindEUID,
				Payload:   payload,
				CreatedBy: requestor,
			}); err != nil {
				return fmt.Errorf("persist %s: %w", id, err)
			}
			return nil
		}
	}

	// Only single-letter, non-jurisdictional types are checked against the
	// lifecycle sets.
	if len(code) == 1 && juris == "" {
		err = s.claim(ctx, key, id, seq, create)
	} else {
		err = create(id, seq)(ctx)
	}
	if err != nil {
		return Identity{}, err
	}
	id = ident.EUID

	if !euid.IsStaticCode(code) {
		if err := s.lifecycle.TouchPrefix(ctx, code); err != nil {
			s.logger.WarnContext(ctx, "prefix usage not recorded", "prefix", code, "error", err)
		}
	}
	s.metrics.IncGenerated(string(req.EntityType))
	s.audit(ctx, audit.EventEUIDCreated, ident, requestor, map[string]any{
		"access_level": string(req.AccessLevel),
		"jurisdiction": juris,
		"external_ref": req.ExternalRef,
		"batch_id":     batchID,
		"edges":        len(edges),
	})
	s.logger.InfoContext(ctx, "euid generated", "euid", id, "entity_type", req.EntityType)
	return ident, nil
}

// claim persists the candidate under the governor's lock, moving to the next
// free identifier and raising the namespace counter past it while the
// candidate is blocked.
func (s *Service) claim(ctx context.Context, key, id string, seq int, create func(string, int) func(context.Context) error) error {
	for {
		kind, ok, err := s.lifecycle.Claim(ctx, id, create(id, seq))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		resolved, err := s.lifecycle.ResolveConflict(ctx, id, kind)
		if err != nil {
			return fmt.Errorf("resolve %s conflict on %s: %w", kind, id, err)
		}
		res := s.lifecycle.Grammar().Validate(resolved)
		if !res.Valid {
			return fmt.Errorf("resolved identifier %q is invalid: %w", resolved, sentinel.ErrInvalidState)
		}
		if err := s.sequences.Raise(ctx, key, res.Parsed.Sequence); err != nil {
			return fmt.Errorf("advance %s past %s: %w", key, resolved, err)
		}
		id, seq = resolved, res.Parsed.Sequence
	}
}

func validJurisdiction(j string) bool {
	if len(j) < 2 || len(j) > 3 {
		return false
	}
	for i := 0; i < len(j); i++ {
		if j[i] < 'A' || j[i] > 'Z' {
			return false
		}
	}
	return true
}

// edges validates targets syntactically and stores them in base form.
func (s *Service) edges(ctx context.Context, in []Relationship) ([]Relationship, error) {
	grammar := s.lifecycle.Grammar()
	now := requestcontext.Now(ctx)
	out := make([]Relationship, 0, len(in))
	for _, e := range in {
		res := grammar.Validate(strings.TrimSpace(e.TargetEUID))
		if !res.Valid {
			return nil, fmt.Errorf("relationship target %q: %s: %w", e.TargetEUID, strings.Join(res.Errors, "; "), sentinel.ErrInvalidInput)
		}
		if e.RelationshipType == "" {
			e.RelationshipType = RelationshipRelatedTo
		}
		if e.StartDate.IsZero() {
			e.StartDate = now
		}
		e.TargetEUID = euid.Normalize(strings.TrimSpace(e.TargetEUID))
		out = append(out, e)
	}
	return out, nil
}

// base resolves any accepted spelling of an identifier to its record id.
func (s *Service) base(id string) (string, error) {
	res := s.lifecycle.Grammar().Validate(strings.TrimSpace(id))
	if !res.Valid {
		return "", fmt.Errorf("%q: %s: %w", id, strings.Join(res.Errors, "; "), sentinel.ErrInvalidInput)
	}
	return res.Parsed.Base(), nil
}

func (s *Service) load(ctx context.Context, base string) (Identity, error) {
	rec, err := s.store.Read(ctx, base)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Identity{}, fmt.Errorf("euid %s: %w", base, sentinel.ErrNotFound)
		}
		return Identity{}, fmt.Errorf("load %s: %w", base, err)
	}
	ident, err := docstore.Decode[Identity](rec)
	if err != nil {
		return Identity{}, fmt.Errorf("euid %s is unreadable: %v: %w", base, err, sentinel.ErrInvalidState)
	}
	return ident, nil
}

// Get loads the identity for any spelling of id.
func (s *Service) Get(ctx context.Context, id string) (Identity, error) {
	base, err := s.base(id)
	if err != nil {
		return Identity{}, err
	}
	return s.load(ctx, base)
}

// Parse validates s and loads its record. Invalid syntax, a missing record
// and an unreadable record all yield nil without an error.
func (s *Service) Parse(ctx context.Context, id string) (*Identity, error) {
	res := s.lifecycle.Grammar().Validate(strings.TrimSpace(id))
	if !res.Valid {
		return nil, nil
	}
	ident, err := s.load(ctx, res.Parsed.Base())
	switch {
	case err == nil:
		return &ident, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, nil
	case errors.Is(err, sentinel.ErrInvalidState):
		s.logger.WarnContext(ctx, "unreadable identity record", "euid", res.Parsed.Base(), "error", err)
		return nil, nil
	default:
		return nil, err
	}
}

// GenerateVersion bumps the version counter of id and returns "base-vN".
func (s *Service) GenerateVersion(ctx context.Context, id, requestor string) (string, error) {
	base, err := s.base(id)
	if err != nil {
		return "", err
	}
	unlock := s.records.Lock(base)
	defer unlock()

	ident, err := s.load(ctx, base)
	if err != nil {
		return "", err
	}
	version := ident.Version + 1
	if _, err := s.store.Update(ctx, base, map[string]any{
		"version":  version,
		"metadata": s.touched(ctx, ident.Metadata, requestor),
	}, requestor); err != nil {
		return "", fmt.Errorf("version %s: %w", base, err)
	}
	ident.Version = version

	s.audit(ctx, audit.EventVersionCreated, ident, requestor, map[string]any{"version": version})
	return fmt.Sprintf("%s-v%d", base, version), nil
}

// AddRelationships appends edges to id. Duplicate edges are kept.
func (s *Service) AddRelationships(ctx context.Context, id string, edges []Relationship, requestor string) (Identity, error) {
	base, err := s.base(id)
	if err != nil {
		return Identity{}, err
	}
	rels, err := s.edges(ctx, edges)
	if err != nil {
		return Identity{}, err
	}
	unlock := s.records.Lock(base)
	defer unlock()

	ident, err := s.load(ctx, base)
	if err != nil {
		return Identity{}, err
	}
	ident.Relationships = append(ident.Relationships, rels...)
	ident.Metadata = s.touched(ctx, ident.Metadata, requestor)
	if _, err := s.store.Update(ctx, base, map[string]any{
		"relationships": ident.Relationships,
		"metadata":      ident.Metadata,
	}, requestor); err != nil {
		return Identity{}, fmt.Errorf("add relationships to %s: %w", base, err)
	}

	targets := make([]string, len(rels))
	for i, r := range rels {
		targets[i] = r.TargetEUID
	}
	s.audit(ctx, audit.EventRelationshipsAdded, ident, requestor, map[string]any{
		"count":   len(rels),
		"targets": targets,
	})
	return ident, nil
}

// Delete tombstones id with the current record as snapshot and removes the
// live record.
func (s *Service) Delete(ctx context.Context, id, requestor, reason string) (governor.Tombstone, error) {
	base, err := s.base(id)
	if err != nil {
		return governor.Tombstone{}, err
	}
	unlock := s.records.Lock(base)
	defer unlock()

	ident, err := s.load(ctx, base)
	if err != nil {
		return governor.Tombstone{}, err
	}
	tomb, err := s.lifecycle.RegisterDeleted(ctx, governor.DeleteRequest{
		EUID:       base,
		EntityType: ident.EntityType,
		Requestor:  requestor,
		Reason:     reason,
		Snapshot:   ident,
	})
	if err != nil {
		return governor.Tombstone{}, err
	}
	if _, err := s.store.Delete(ctx, base); err != nil {
		return governor.Tombstone{}, fmt.Errorf("remove %s: %w", base, err)
	}
	return tomb, nil
}

func (s *Service) touched(ctx context.Context, m Metadata, requestor string) Metadata {
	m.ModifiedAt = requestcontext.Now(ctx)
	m.ModifiedBy = requestor
	return m
}

func (s *Service) audit(ctx context.Context, event audit.AuditEvent, ident Identity, actor string, details map[string]any) {
	if s.auditor == nil {
		return
	}
	s.auditor.LogAction(ctx, audit.Event{
		Action:     string(event),
		EntityID:   ident.Base,
		EntityType: string(ident.EntityType),
		UserID:     actor,
		Details:    details,
	})
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
