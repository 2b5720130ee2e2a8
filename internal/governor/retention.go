package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"entityid/internal/docstore"
	"entityid/pkg/euid"
	"entityid/pkg/platform/audit"
	"entityid/pkg/platform/sentinel"
	"entityid/pkg/requestcontext"
)

const (
	sweepName         = "lifecycle"
	archiveCollection = "tombstones"
)

// RetentionRuleFor returns the rule for t, or the default archive rule.
func (g *Governor) RetentionRuleFor(t euid.EntityType) RetentionRule {
	g.mu.RLock()
	rule, ok := g.rules[t]
	g.mu.RUnlock()
	if ok {
		return rule
	}
	return RetentionRule{EntityType: t, RetentionPeriodDays: g.retentionDays, Action: RetentionArchive}
}

// RetentionRules lists the explicitly configured rules.
func (g *Governor) RetentionRules() []RetentionRule {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]RetentionRule, 0, len(g.rules))
	for _, r := range g.rules {
		out = append(out, r)
	}
	return out
}

// SetRetentionRule stores a rule for one entity type. It only affects
// tombstones swept from now on; retention dates already set are kept.
func (g *Governor) SetRetentionRule(ctx context.Context, rule RetentionRule, requestor string) (RetentionRule, error) {
	if rule.EntityType == "" {
		return RetentionRule{}, fmt.Errorf("retention rule: entity type is required: %w", sentinel.ErrInvalidInput)
	}
	if rule.RetentionPeriodDays < ForeverDays {
		return RetentionRule{}, fmt.Errorf("retention rule: period %d: %w", rule.RetentionPeriodDays, sentinel.ErrInvalidInput)
	}
	if rule.RetentionPeriodDays == ForeverDays {
		rule.Action = RetentionPermanent
	}
	if !rule.Action.Valid() {
		return RetentionRule{}, fmt.Errorf("retention rule: unknown action %q: %w", rule.Action, sentinel.ErrInvalidInput)
	}

	unlock := g.locks.Lock(ruleID(rule.EntityType))
	defer unlock()

	payload, err := docstore.Encode(rule)
	if err != nil {
		return RetentionRule{}, fmt.Errorf("encode retention rule: %w", err)
	}
	_, err = g.store.Update(ctx, ruleID(rule.EntityType), map[string]any{
		"entityType":          rule.EntityType,
		"retentionPeriodDays": rule.RetentionPeriodDays,
		"action":              rule.Action,
	}, requestor)
	if errors.Is(err, sentinel.ErrNotFound) {
		_, err = g.store.Create(ctx, docstore.Record{
			ID:        ruleID(rule.EntityType),
			Kind:      docstore.KindRetentionRule,
			Payload:   payload,
			CreatedBy: requestor,
		})
	}
	if err != nil {
		return RetentionRule{}, fmt.Errorf("persist retention rule %s: %w", rule.EntityType, err)
	}

	g.mu.Lock()
	g.rules[rule.EntityType] = rule
	g.mu.Unlock()

	g.audit(ctx, audit.EventRetentionRuleChanged, string(rule.EntityType), string(rule.EntityType), requestor, map[string]any{
		"retention_period_days": rule.RetentionPeriodDays,
		"action":                string(rule.Action),
	})
	return rule, nil
}

// Sweep runs the periodic lifecycle maintenance: expired tombstone snapshots,
// prefix auto-retirement and conflict log pruning. A sweep that starts while
// another is running returns immediately. Tombstones themselves always stay.
func (g *Governor) Sweep(ctx context.Context) error {
	if !g.sweeping.CompareAndSwap(false, true) {
		g.metrics.IncSweepSkipped(sweepName)
		g.logger.DebugContext(ctx, "lifecycle sweep already running")
		return nil
	}
	defer g.sweeping.Store(false)

	started := time.Now()
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))

	err := errors.Join(
		g.sweepRetention(ctx),
		g.sweepPrefixes(ctx),
		g.pruneConflicts(ctx),
	)
	g.metrics.ObserveSweep(sweepName, started, err)
	if err != nil {
		g.logger.ErrorContext(ctx, "lifecycle sweep finished with errors", "error", err)
	}
	return err
}

func (g *Governor) sweepRetention(ctx context.Context) error {
	now := requestcontext.Now(ctx)
	recs, err := g.store.Query(ctx, docstore.Query{
		Kind: docstore.KindDeletedEUID,
		Filter: docstore.Filter{
			"isPermanent":    false,
			"snapshotState":  SnapshotRetained,
			"retentionUntil": docstore.Lte(now),
		},
	})
	if err != nil {
		return fmt.Errorf("query expired tombstones: %w", err)
	}

	var errs []error
	for _, rec := range recs {
		tomb, err := docstore.Decode[Tombstone](rec)
		if err != nil {
			g.logger.WarnContext(ctx, "skipping unreadable tombstone", "id", rec.ID, "error", err)
			continue
		}
		if err := g.expire(ctx, tomb.EUID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Governor) expire(ctx context.Context, base string) error {
	unlock := g.locks.Lock(base)
	defer unlock()

	// Re-read under the lock: an override may have changed it since the scan.
	id := tombstoneID(base)
	tomb, err := docstore.Get[Tombstone](ctx, g.store, id)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("reload tombstone %s: %w", base, err)
	}
	if tomb.IsPermanent || tomb.SnapshotState != SnapshotRetained || !tomb.RetentionUntil.Expired(requestcontext.Now(ctx)) {
		return nil
	}
	rule := g.RetentionRuleFor(tomb.EntityType)

	switch {
	case rule.permanent():
		_, err := g.store.Update(ctx, id, map[string]any{
			"isPermanent":    true,
			"retentionUntil": RetentionUntil{Permanent: true},
		}, systemActor)
		if err != nil {
			return fmt.Errorf("mark %s permanent: %w", tomb.EUID, err)
		}
		return nil

	case rule.Action == RetentionPurge:
		if _, err := g.store.Update(ctx, id, map[string]any{
			"originalDataSnapshot": nil,
			"snapshotState":        SnapshotPurged,
		}, systemActor); err != nil {
			return fmt.Errorf("purge %s: %w", tomb.EUID, err)
		}
		g.audit(ctx, audit.EventRetentionPurged, tomb.EUID, string(tomb.EntityType), systemActor, nil)
		return nil

	default:
		patch := map[string]any{"snapshotState": SnapshotArchived}
		if g.archive != nil && tomb.HasSnapshot() {
			key, err := g.archive.PutJSON(ctx, archiveCollection, tomb.EUID, tomb)
			if err != nil {
				return fmt.Errorf("archive %s: %w", tomb.EUID, err)
			}
			patch["archiveKey"] = key
			patch["originalDataSnapshot"] = nil
		}
		if _, err := g.store.Update(ctx, id, patch, systemActor); err != nil {
			return fmt.Errorf("archive %s: %w", tomb.EUID, err)
		}
		g.audit(ctx, audit.EventRetentionArchived, tomb.EUID, string(tomb.EntityType), systemActor, map[string]any{
			"archive_key": patch["archiveKey"],
		})
		return nil
	}
}

// ArchivedSnapshot loads the snapshot a sweep moved into the blob archive.
func (g *Governor) ArchivedSnapshot(ctx context.Context, id string) (Tombstone, error) {
	tomb, err := g.Tombstone(ctx, id)
	if err != nil {
		return Tombstone{}, err
	}
	if tomb.ArchiveKey == "" || g.archive == nil {
		return tomb, nil
	}
	var archived Tombstone
	if err := g.archive.GetJSON(ctx, tomb.ArchiveKey, &archived); err != nil {
		return Tombstone{}, fmt.Errorf("load archived %s: %w", tomb.EUID, err)
	}
	return archived, nil
}

func (g *Governor) pruneConflicts(ctx context.Context) error {
	cutoff := requestcontext.Now(ctx).AddDate(0, 0, -g.conflictRetentionDays)
	recs, err := g.store.Query(ctx, docstore.Query{
		Kind:   docstore.KindConflict,
		Filter: docstore.Filter{"timestamp": docstore.Lte(cutoff)},
	})
	if err != nil {
		return fmt.Errorf("query old conflicts: %w", err)
	}
	var errs []error
	for _, rec := range recs {
		if _, err := g.store.Delete(ctx, rec.ID); err != nil {
			errs = append(errs, fmt.Errorf("prune conflict %s: %w", rec.ID, err))
		}
	}
	if len(recs) > 0 {
		g.logger.InfoContext(ctx, "conflict log pruned", "removed", len(recs)-len(errs))
	}
	return errors.Join(errs...)
}
