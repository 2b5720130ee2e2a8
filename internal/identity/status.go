package identity

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"entityid/internal/docstore"
	"entityid/pkg/euid"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/sentinel"
)

// UpdateStatus moves id to status. Any transition between the three states is
// accepted. With cascade set, dependants are updated one hop deep:
//
//   - a retired COMPANY retires every historical entity with an edge to it
//   - a retired INDIVIDUAL makes every active entity it created historical
//
// The returned error reports cascade failures; the primary change is kept.
func (s *Service) UpdateStatus(ctx context.Context, id string, status euid.Status, requestor string, cascade bool) (Identity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.UpdateStatus",
		trace.WithAttributes(
			attribute.String("euid", id),
			attribute.String("status", string(status)),
		))
	defer span.End()

	if !status.Valid() {
		err := fmt.Errorf("status %q: %w", status, sentinel.ErrInvalidInput)
		fail(span, err)
		return Identity{}, err
	}
	base, err := s.base(id)
	if err != nil {
		fail(span, err)
		return Identity{}, err
	}
	ident, err := s.setStatus(ctx, base, status, requestor, false)
	if err != nil {
		fail(span, err)
		return Identity{}, err
	}
	if !cascade {
		return ident, nil
	}
	if err := s.cascade(ctx, ident, requestor); err != nil {
		fail(span, err)
		return ident, err
	}
	return ident, nil
}

func (s *Service) setStatus(ctx context.Context, base string, status euid.Status, requestor string, cascaded bool) (Identity, error) {
	unlock := s.records.Lock(base)
	defer unlock()

	ident, err := s.load(ctx, base)
	if err != nil {
		return Identity{}, err
	}
	old := ident.Status
	if old == status {
		return ident, nil
	}
	ident.Status = status
	ident.EUID = euid.WithStatus(base, status)
	ident.Metadata = s.touched(ctx, ident.Metadata, requestor)
	if _, err := s.store.Update(ctx, base, map[string]any{
		"status":   status,
		"euid":     ident.EUID,
		"metadata": ident.Metadata,
	}, requestor); err != nil {
		return Identity{}, fmt.Errorf("status of %s: %w", base, err)
	}

	s.metrics.IncStatusChange(string(status), cascaded)
	s.audit(ctx, audit.EventStatusChanged, ident, requestor, map[string]any{
		"old_status": string(old),
		"new_status": string(status),
		"cascaded":   cascaded,
	})
	return ident, nil
}

func (s *Service) cascade(ctx context.Context, ident Identity, requestor string) error {
	var (
		filter docstore.Filter
		target euid.Status
	)
	switch {
	case ident.EntityType == euid.TypeCompany && ident.Status == euid.StatusRetired:
		filter = docstore.Filter{
			"relationships": docstore.ElemMatch(docstore.Filter{"targetEuid": ident.Base}),
			"status":        euid.StatusHistorical,
		}
		target = euid.StatusRetired
	case ident.EntityType == euid.TypeIndividual && ident.Status == euid.StatusRetired:
		filter = docstore.Filter{
			"metadata.createdBy": ident.Base,
			"status":             euid.StatusActive,
		}
		target = euid.StatusHistorical
	default:
		return nil
	}

	recs, err := s.store.Query(ctx, docstore.Query{Kind: docstore.KindEUID, Filter: filter})
	if err != nil {
		return fmt.Errorf("cascade from %s: %w", ident.Base, err)
	}
	var errs []error
	for _, rec := range recs {
		if rec.ID == ident.Base {
			continue
		}
		if _, err := s.setStatus(ctx, rec.ID, target, requestor, true); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cascade from %s: %w", ident.Base, errors.Join(errs...))
	}
	if len(recs) > 0 {
		s.logger.InfoContext(ctx, "status cascaded",
			"euid", ident.Base,
			"status", target,
			"affected", len(recs),
		)
	}
	return nil
}
