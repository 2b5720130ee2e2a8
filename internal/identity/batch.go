package identity

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"entityid/pkg/euid"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

// BatchGenerate issues Count identifiers of one type, each linked to a BATCH
// identifier. A failure part-way returns the identifiers issued so far.
func (s *Service) BatchGenerate(ctx context.Context, req BatchRequest) (BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.BatchGenerate",
		trace.WithAttributes(
			attribute.String("entity_type", string(req.EntityType)),
			attribute.Int("count", req.Count),
		))
	defer span.End()

	result, err := s.batchGenerate(ctx, req)
	if err != nil {
		fail(span, err)
	}
	return result, err
}

func (s *Service) batchGenerate(ctx context.Context, req BatchRequest) (BatchResult, error) {
	if req.Count < 1 || req.Count > s.maxBatch {
		return BatchResult{}, fmt.Errorf("batch size %d outside 1..%d: %w", req.Count, s.maxBatch, sentinel.ErrInvalidInput)
	}
	if req.EntityType == euid.TypeBatch {
		return BatchResult{}, fmt.Errorf("batches cannot contain batches: %w", sentinel.ErrInvalidInput)
	}

	batch, reused, err := s.batchFor(ctx, req)
	if err != nil {
		return BatchResult{}, err
	}
	result := BatchResult{BatchID: batch.Base, EUIDs: make([]string, 0, req.Count)}

	for range req.Count {
		edge := []Relationship{{
			TargetEUID:       batch.Base,
			RelationshipType: RelationshipMemberOfBatch,
			StartDate:        requestcontext.Now(ctx),
		}}
		ident, err := s.generate(ctx, GenerateRequest{
			EntityType:  req.EntityType,
			Requestor:   req.Requestor,
			AccessLevel: req.AccessLevel,
		}, edge, batch.Base)
		if err != nil {
			return result, fmt.Errorf("batch %s after %d of %d: %w", batch.Base, len(result.EUIDs), req.Count, err)
		}
		result.EUIDs = append(result.EUIDs, ident.EUID)
	}

	s.audit(ctx, audit.EventBatchCreated, batch, req.Requestor, map[string]any{
		"count":       req.Count,
		"entity_type": string(req.EntityType),
		"reused":      reused,
	})
	return result, nil
}

func (s *Service) batchFor(ctx context.Context, req BatchRequest) (Identity, bool, error) {
	if req.BatchID == "" {
		batch, err := s.generate(ctx, GenerateRequest{
			EntityType:  euid.TypeBatch,
			Requestor:   req.Requestor,
			AccessLevel: req.AccessLevel,
		}, nil, "")
		return batch, false, err
	}
	base, err := s.base(req.BatchID)
	if err != nil {
		return Identity{}, false, err
	}
	batch, err := s.load(ctx, base)
	if err != nil {
		return Identity{}, false, err
	}
	if batch.EntityType != euid.TypeBatch {
		return Identity{}, false, fmt.Errorf("%s is a %s, not a batch: %w", base, batch.EntityType, sentinel.ErrInvalidInput)
	}
	return batch, true, nil
}
