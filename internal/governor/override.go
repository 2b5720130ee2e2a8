package governor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"entityid/internal/docstore"
	"entityid/pkg/euid"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

// OverrideRequest is a privileged correction of lifecycle state.
type OverrideRequest struct {
	Op        OverrideOp
	EUID      string
	Requestor string
	Reason    string
}

// ManualOverride applies an administrative correction. The caller must carry
// the admin role in ctx. Every attempt is audited, including refused ones.
func (g *Governor) ManualOverride(ctx context.Context, req OverrideRequest) error {
	base := euid.Normalize(strings.TrimSpace(req.EUID))
	err := g.override(ctx, base, req)

	outcome := "applied"
	if err != nil {
		outcome = "refused"
	}
	g.audit(ctx, audit.EventManualOverride, base, "", req.Requestor, map[string]any{
		"operation": string(req.Op),
		"reason":    req.Reason,
		"outcome":   outcome,
	})
	if err != nil {
		g.logger.WarnContext(ctx, "manual override refused",
			"operation", req.Op,
			"euid", base,
			"requestor", req.Requestor,
			"error", err,
		)
	}
	return err
}

func (g *Governor) override(ctx context.Context, base string, req OverrideRequest) error {
	if !requestcontext.HasRole(ctx, g.adminRole) {
		return fmt.Errorf("manual override %s: role %s required: %w", req.Op, g.adminRole, sentinel.ErrForbidden)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return fmt.Errorf("manual override %s: reason is required: %w", req.Op, sentinel.ErrInvalidInput)
	}
	if base == "" {
		return fmt.Errorf("manual override %s: identifier is required: %w", req.Op, sentinel.ErrInvalidInput)
	}

	unlock := g.locks.Lock(base)
	defer unlock()

	switch req.Op {
	case OverrideUndelete:
		if !g.IsTombstoned(base) {
			return fmt.Errorf("undelete %s: no tombstone: %w", base, sentinel.ErrNotFound)
		}
		if _, err := g.store.Delete(ctx, tombstoneID(base)); err != nil {
			return fmt.Errorf("undelete %s: %w", base, err)
		}
		g.mu.Lock()
		delete(g.tombstones, base)
		g.mu.Unlock()
		return nil

	case OverrideUnreserve:
		released, err := g.release(ctx, base, req.Requestor)
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("unreserve %s: no reservation: %w", base, sentinel.ErrNotFound)
		}
		return nil

	case OverrideForceRetire:
		return g.forceRetire(ctx, base, req)

	default:
		return fmt.Errorf("manual override: unknown operation %q: %w", req.Op, sentinel.ErrInvalidInput)
	}
}

// forceRetire makes base permanently unavailable, dropping any reservation.
func (g *Governor) forceRetire(ctx context.Context, base string, req OverrideRequest) error {
	if _, err := g.release(ctx, base, req.Requestor); err != nil {
		return err
	}
	if g.IsTombstoned(base) {
		if _, err := g.store.Update(ctx, tombstoneID(base), map[string]any{
			"isPermanent":    true,
			"retentionUntil": RetentionUntil{Permanent: true},
		}, req.Requestor); err != nil {
			return fmt.Errorf("force retire %s: %w", base, err)
		}
		return nil
	}

	var entityType euid.EntityType
	if res := g.Grammar().Validate(base); res.Valid {
		entityType = res.Parsed.EntityType
	}
	tomb := Tombstone{
		EUID:           base,
		EntityType:     entityType,
		DeletedAt:      requestcontext.Now(ctx),
		DeletedBy:      req.Requestor,
		Reason:         req.Reason,
		RetentionUntil: RetentionUntil{Permanent: true},
		IsPermanent:    true,
		SnapshotState:  SnapshotRetained,
	}
	payload, err := docstore.Encode(tomb)
	if err != nil {
		return fmt.Errorf("encode tombstone %s: %w", base, err)
	}
	if _, err := g.store.Create(ctx, docstore.Record{
		ID:        tombstoneID(base),
		Kind:      docstore.KindDeletedEUID,
		Payload:   payload,
		CreatedBy: req.Requestor,
	}); err != nil {
		return fmt.Errorf("force retire %s: %w", base, err)
	}
	g.mu.Lock()
	g.tombstones[base] = struct{}{}
	g.mu.Unlock()
	g.metrics.IncTombstone()
	return nil
}

const recentConflicts = 10

// ConflictStats summarises the conflict log.
func (g *Governor) ConflictStats(ctx context.Context) (ConflictStats, error) {
	recs, err := g.store.Query(ctx, docstore.Query{Kind: docstore.KindConflict})
	if err != nil {
		return ConflictStats{}, fmt.Errorf("load conflicts: %w", err)
	}
	stats := ConflictStats{ByType: make(map[ConflictKind]int)}
	dayAgo := requestcontext.Now(ctx).Add(-24 * time.Hour)

	records := make([]ConflictRecord, 0, len(recs))
	for _, rec := range recs {
		c, err := docstore.Decode[ConflictRecord](rec)
		if err != nil {
			continue
		}
		records = append(records, c)
		stats.Total++
		stats.ByType[c.ConflictType]++
		if c.Timestamp.After(dayAgo) {
			stats.Last24h++
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if len(records) > recentConflicts {
		records = records[:recentConflicts]
	}
	stats.MostRecent = records
	return stats, nil
}
