// Package recovery turns unreadable records into placeholder (Doe)
// identities and tries to rebuild their data.
//
// Every damaged record gets exactly one Doe identity, keyed by its original
// identifier or a payload fingerprint. The original identifier and the Doe
// identifier are both tombstoned through the governor so neither is issued
// again.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"entityid/internal/blob"
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

const (
	DefaultMaxAttempts = 5
	systemActor        = "system:recovery"
	sweepName          = "recovery"
	quarantineArchive  = "quarantine"
)

// DefaultKinds are the record kinds a sweep scans.
var DefaultKinds = []string{
	docstore.KindEUID,
	docstore.KindReservedEUID,
	docstore.KindPrefix,
	docstore.KindRetentionRule,
}

// Tombstoner is the governor surface recovery depends on.
type Tombstoner interface {
	Grammar() *euid.Grammar
	RegisterDeleted(ctx context.Context, req governor.DeleteRequest) (governor.Tombstone, error)
	IsTombstoned(id string) bool
}

type Sequencer interface {
	Next(ctx context.Context, key string) (int, error)
}

type AuditPublisher interface {
	LogAction(ctx context.Context, event audit.Event)
}

type Service struct {
	store      docstore.Store
	sequences  Sequencer
	tombstones Tombstoner
	auditor    AuditPublisher
	archive    *blob.Archive
	logger     *slog.Logger
	metrics    *metrics.Metrics

	kinds       []string
	maxAttempts int
	maxBackups  int

	locks    keylock.Locker
	sweeping atomic.Bool
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

// WithArchive also stores quarantined payloads in a.
func WithArchive(a *blob.Archive) Option {
	return func(s *Service) {
		s.archive = a
	}
}

func WithKinds(kinds ...string) Option {
	return func(s *Service) {
		s.kinds = kinds
	}
}

// WithMaxAttempts sets how many failed recoveries lead to quarantine.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewService(store docstore.Store, sequences Sequencer, tombstones Tombstoner, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{
		store:       store,
		sequences:   sequences,
		tombstones:  tombstones,
		auditor:     auditor,
		kinds:       DefaultKinds,
		maxAttempts: DefaultMaxAttempts,
		maxBackups:  3,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// AssignDoeIdentity gives rec a placeholder identity. Calling it again for
// the same record returns the identity assigned the first time.
func (s *Service) AssignDoeIdentity(ctx context.Context, rec docstore.Record, reason string) (DoeIdentity, error) {
	grammar := s.tombstones.Grammar()
	key := entryKey(grammar, rec)
	unlock := s.locks.Lock(key)
	defer unlock()

	entry, err := docstore.Get[CorruptedRecord](ctx, s.store, entryID(key))
	switch {
	case err == nil:
		if entry.TombstonePending {
			if err := s.complete(ctx, entry); err != nil {
				s.logger.WarnContext(ctx, "tombstone still pending", "doe_id", entry.AssignedDoeID, "error", err)
			}
		}
		return s.doe(ctx, entry.AssignedDoeID)
	case !errors.Is(err, sentinel.ErrNotFound):
		return DoeIdentity{}, fmt.Errorf("load corruption entry %s: %w", key, err)
	}

	corruption, _ := Detect(rec.Kind, rec.Payload)
	doc, _ := parseObject(rec.Payload)
	orig := originalID(grammar, rec)
	kind := Classify(grammar, doc, orig, rec.Payload)

	seq, err := s.sequences.Next(ctx, sequence.Key(kind.doeCode(), ""))
	if err != nil {
		return DoeIdentity{}, fmt.Errorf("allocate doe identity: %w", err)
	}
	doeID, err := grammar.Compose(kind.doeCode(), seq, euid.AccessPublic, "")
	if err != nil {
		return DoeIdentity{}, fmt.Errorf("compose doe identity: %w", err)
	}

	now := requestcontext.Now(ctx)
	entry = CorruptedRecord{
		Key:              key,
		OriginalID:       orig,
		SourceKind:       rec.Kind,
		SourceID:         rec.ID,
		AssignedDoeID:    doeID,
		EntityKind:       kind,
		DetectedAt:       now,
		CorruptionType:   corruption,
		OriginalData:     rec.Payload,
		Status:           StatusCorrupted,
		TombstonePending: true,
	}
	payload, err := docstore.Encode(entry)
	if err != nil {
		return DoeIdentity{}, fmt.Errorf("encode corruption entry %s: %w", key, err)
	}
	// The entry goes first: a crash after this point is finished by complete
	// on the next sweep.
	if _, err := s.store.Create(ctx, docstore.Record{
		ID:        entryID(key),
		Kind:      docstore.KindCorrupted,
		Payload:   payload,
		CreatedBy: systemActor,
	}); err != nil {
		return DoeIdentity{}, fmt.Errorf("persist corruption entry %s: %w", key, err)
	}

	doe := DoeIdentity{
		DoeID:      doeID,
		Type:       kind.doeType(),
		AssignedTo: orig,
		AssignedAt: now,
		Reason:     reason,
		EntryKey:   key,
		Metadata: map[string]any{
			"sourceKind":     rec.Kind,
			"sourceId":       rec.ID,
			"corruptionType": string(corruption),
		},
	}
	if err := s.complete(ctx, entry, doe); err != nil {
		s.logger.WarnContext(ctx, "doe identity assigned, tombstone pending",
			"doe_id", doeID,
			"original_id", orig,
			"error", err,
		)
	}

	s.metrics.IncDoeIdentity(string(kind))
	s.audit(ctx, audit.EventDoeIdentityAssigned, doeID, string(kind.doeType()), map[string]any{
		"original_id":     orig,
		"source_kind":     rec.Kind,
		"corruption_type": string(corruption),
		"reason":          reason,
	})
	s.logger.InfoContext(ctx, "doe identity assigned",
		"doe_id", doeID,
		"original_id", orig,
		"corruption_type", corruption,
	)
	return doe, nil
}

// complete writes the Doe identity record and both tombstones, then clears
// the pending flag. Every step tolerates having run before.
func (s *Service) complete(ctx context.Context, entry CorruptedRecord, doe ...DoeIdentity) error {
	d := DoeIdentity{
		DoeID:      entry.AssignedDoeID,
		Type:       entry.EntityKind.doeType(),
		AssignedTo: entry.OriginalID,
		AssignedAt: entry.DetectedAt,
		Reason:     "corrupted record",
		EntryKey:   entry.Key,
	}
	if len(doe) > 0 {
		d = doe[0]
	}
	payload, err := docstore.Encode(d)
	if err != nil {
		return fmt.Errorf("encode doe identity %s: %w", d.DoeID, err)
	}
	if _, err := s.store.Create(ctx, docstore.Record{
		ID:        doeRecordID(d.DoeID),
		Kind:      docstore.KindDoeIdentity,
		Payload:   payload,
		CreatedBy: systemActor,
	}); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return fmt.Errorf("persist doe identity %s: %w", d.DoeID, err)
	}

	if _, err := s.tombstones.RegisterDeleted(ctx, governor.DeleteRequest{
		EUID:           d.DoeID,
		EntityType:     d.Type,
		Requestor:      systemActor,
		Reason:         "placeholder identity",
		CrossReference: entry.OriginalID,
	}); err != nil {
		return fmt.Errorf("tombstone %s: %w", d.DoeID, err)
	}
	if entry.OriginalID != "" {
		var entityType euid.EntityType
		if res := s.tombstones.Grammar().Validate(entry.OriginalID); res.Valid {
			entityType = res.Parsed.EntityType
		}
		if _, err := s.tombstones.RegisterDeleted(ctx, governor.DeleteRequest{
			EUID:           entry.OriginalID,
			EntityType:     entityType,
			Requestor:      systemActor,
			Reason:         "record corrupted",
			Snapshot:       map[string]any{"doeId": d.DoeID, "corruptionType": entry.CorruptionType},
			CrossReference: d.DoeID,
		}); err != nil {
			return fmt.Errorf("tombstone %s: %w", entry.OriginalID, err)
		}
	}

	if _, err := s.store.Update(ctx, entryID(entry.Key), map[string]any{"tombstonePending": false}, systemActor); err != nil {
		return fmt.Errorf("clear pending flag on %s: %w", entry.Key, err)
	}
	return nil
}

func (s *Service) doe(ctx context.Context, doeID string) (DoeIdentity, error) {
	d, err := docstore.Get[DoeIdentity](ctx, s.store, doeRecordID(doeID))
	if err != nil {
		return DoeIdentity{}, fmt.Errorf("doe identity %s: %w", doeID, err)
	}
	return d, nil
}

// Entry returns the corruption entry behind a Doe identifier.
func (s *Service) Entry(ctx context.Context, doeID string) (CorruptedRecord, error) {
	d, err := s.doe(ctx, doeID)
	if err != nil {
		return CorruptedRecord{}, err
	}
	return docstore.Get[CorruptedRecord](ctx, s.store, entryID(d.EntryKey))
}

// AttemptRecovery runs the strategies once for the record behind doeID.
// Quarantined entries are refused; recovered ones are returned unchanged.
func (s *Service) AttemptRecovery(ctx context.Context, doeID string) (CorruptedRecord, error) {
	d, err := s.doe(ctx, doeID)
	if err != nil {
		return CorruptedRecord{}, err
	}
	unlock := s.locks.Lock(d.EntryKey)
	defer unlock()

	entry, err := docstore.Get[CorruptedRecord](ctx, s.store, entryID(d.EntryKey))
	if err != nil {
		return CorruptedRecord{}, fmt.Errorf("corruption entry for %s: %w", doeID, err)
	}
	switch entry.Status {
	case StatusQuarantined:
		return entry, fmt.Errorf("%s is quarantined: %w", doeID, sentinel.ErrInvalidState)
	case StatusPartiallyRecovered:
		return entry, nil
	}
	return s.attempt(ctx, entry)
}

func (s *Service) attempt(ctx context.Context, entry CorruptedRecord) (CorruptedRecord, error) {
	now := requestcontext.Now(ctx)
	entry.RecoveryAttempts++
	entry.LastAttemptAt = &now

	recovered, by := s.runStrategies(ctx, entry)
	patch := map[string]any{
		"recoveryAttempts": entry.RecoveryAttempts,
		"lastAttemptAt":    now,
	}

	var event audit.AuditEvent
	switch {
	case recovered != nil:
		if entry.RecoveredData == nil {
			entry.RecoveredData = make(map[string]any, len(recovered))
		}
		for k, v := range recovered {
			if _, ok := entry.RecoveredData[k]; !ok {
				entry.RecoveredData[k] = v
			}
		}
		entry.RecoveredBy = append(entry.RecoveredBy, by)
		entry.Status = StatusPartiallyRecovered
		patch["recoveredData"] = entry.RecoveredData
		patch["recoveredBy"] = entry.RecoveredBy
		patch["status"] = entry.Status
		event = audit.EventRecordRecovered
		s.metrics.IncRecoveryAttempt("recovered")

	case entry.RecoveryAttempts >= s.maxAttempts:
		if err := s.quarantine(ctx, entry); err != nil {
			return entry, err
		}
		entry.Status = StatusQuarantined
		patch["status"] = entry.Status
		event = audit.EventRecordQuarantined
		s.metrics.IncRecoveryAttempt("quarantined")
		s.metrics.IncQuarantined()

	default:
		s.metrics.IncRecoveryAttempt("failed")
	}

	if _, err := s.store.Update(ctx, entryID(entry.Key), patch, systemActor); err != nil {
		return entry, fmt.Errorf("save recovery attempt for %s: %w", entry.AssignedDoeID, err)
	}
	if event != "" {
		s.audit(ctx, event, entry.AssignedDoeID, string(entry.EntityKind.doeType()), map[string]any{
			"original_id": entry.OriginalID,
			"attempts":    entry.RecoveryAttempts,
			"strategy":    by,
		})
	}
	return entry, nil
}

// runStrategies returns the first non-empty result and the strategy name.
func (s *Service) runStrategies(ctx context.Context, entry CorruptedRecord) (map[string]any, string) {
	for _, st := range s.strategies() {
		out, err := s.safeRun(ctx, st, entry)
		if err != nil {
			s.logger.WarnContext(ctx, "recovery strategy failed",
				"strategy", st.name,
				"doe_id", entry.AssignedDoeID,
				"error", err,
			)
			continue
		}
		if len(out) > 0 {
			return out, st.name
		}
	}
	return nil, ""
}

func (s *Service) safeRun(ctx context.Context, st strategy, entry CorruptedRecord) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("strategy %s panicked: %v", st.name, r)
		}
	}()
	return st.run(ctx, entry)
}

func (s *Service) quarantine(ctx context.Context, entry CorruptedRecord) error {
	q := Quarantine{
		Key:           entry.Key,
		OriginalID:    entry.OriginalID,
		DoeID:         entry.AssignedDoeID,
		SourceKind:    entry.SourceKind,
		RawData:       entry.OriginalData,
		Attempts:      entry.RecoveryAttempts,
		QuarantinedAt: requestcontext.Now(ctx),
	}
	if s.archive != nil {
		key, err := s.archive.PutJSON(ctx, quarantineArchive, entry.Key, q)
		if err != nil {
			return fmt.Errorf("archive quarantined %s: %w", entry.Key, err)
		}
		q.ArchiveKey = key
	}
	payload, err := docstore.Encode(q)
	if err != nil {
		return fmt.Errorf("encode quarantine %s: %w", entry.Key, err)
	}
	if _, err := s.store.Create(ctx, docstore.Record{
		ID:        quarantineID(entry.Key),
		Kind:      docstore.KindQuarantine,
		Payload:   payload,
		CreatedBy: systemActor,
	}); err != nil && !errors.Is(err, sentinel.ErrConflict) {
		return fmt.Errorf("persist quarantine %s: %w", entry.Key, err)
	}
	s.logger.WarnContext(ctx, "record quarantined",
		"doe_id", entry.AssignedDoeID,
		"original_id", entry.OriginalID,
		"attempts", entry.RecoveryAttempts,
	)
	return nil
}

// Sweep scans every configured kind for damaged records, assigns Doe
// identities to new ones and retries recovery on known ones. Quarantined and
// recovered entries are left alone. A sweep that starts while another is
// running returns an empty report.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !s.sweeping.CompareAndSwap(false, true) {
		s.metrics.IncSweepSkipped(sweepName)
		return report, nil
	}
	defer s.sweeping.Store(false)

	started := time.Now()
	ctx = requestcontext.WithTime(ctx, requestcontext.Now(ctx))
	var errs []error

	if err := s.retryPending(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, kind := range s.kinds {
		recs, err := s.store.Query(ctx, docstore.Query{Kind: kind})
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %s: %w", kind, err))
			continue
		}
		for _, rec := range recs {
			report.Scanned++
			if _, bad := Detect(kind, rec.Payload); !bad {
				continue
			}
			report.Corrupted++
			if err := s.handle(ctx, rec, &report); err != nil {
				errs = append(errs, err)
			}
		}
	}

	err := errors.Join(errs...)
	s.metrics.ObserveSweep(sweepName, started, err)
	s.logger.InfoContext(ctx, "corruption sweep finished",
		"scanned", report.Scanned,
		"corrupted", report.Corrupted,
		"assigned", report.Assigned,
		"recovered", report.Recovered,
		"quarantined", report.Quarantined,
	)
	return report, err
}

func (s *Service) handle(ctx context.Context, rec docstore.Record, report *SweepReport) error {
	grammar := s.tombstones.Grammar()
	key := entryKey(grammar, rec)
	_, err := docstore.Get[CorruptedRecord](ctx, s.store, entryID(key))
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		if orig := originalID(grammar, rec); orig != "" && s.tombstones.IsTombstoned(orig) {
			return nil
		}
		if _, err := s.AssignDoeIdentity(ctx, rec, "detected by sweep"); err != nil {
			return err
		}
		report.Assigned++
	case err != nil:
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()
	// Re-read under the lock: a concurrent AttemptRecovery may have moved it on.
	entry, err := docstore.Get[CorruptedRecord](ctx, s.store, entryID(key))
	if err != nil {
		return fmt.Errorf("corruption entry %s: %w", key, err)
	}
	if entry.Status != StatusCorrupted {
		return nil
	}
	updated, err := s.attempt(ctx, entry)
	if err != nil {
		return err
	}
	switch updated.Status {
	case StatusPartiallyRecovered:
		report.Recovered++
	case StatusQuarantined:
		report.Quarantined++
	}
	return nil
}

func (s *Service) retryPending(ctx context.Context) error {
	recs, err := s.store.Query(ctx, docstore.Query{
		Kind:   docstore.KindCorrupted,
		Filter: docstore.Filter{"tombstonePending": true},
	})
	if err != nil {
		return fmt.Errorf("load pending tombstones: %w", err)
	}
	var errs []error
	for _, rec := range recs {
		entry, err := docstore.Decode[CorruptedRecord](rec)
		if err != nil {
			continue
		}
		unlock := s.locks.Lock(entry.Key)
		err = s.complete(ctx, entry)
		unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DoeStatistics counts Doe identities and corruption entries by state.
func (s *Service) DoeStatistics(ctx context.Context) (DoeStatistics, error) {
	var stats DoeStatistics
	does, err := s.store.Query(ctx, docstore.Query{Kind: docstore.KindDoeIdentity})
	if err != nil {
		return stats, fmt.Errorf("load doe identities: %w", err)
	}
	for _, rec := range does {
		d, err := docstore.Decode[DoeIdentity](rec)
		if err != nil {
			continue
		}
		stats.Total++
		if d.Type == euid.TypeDoeOrganization {
			stats.Organizations++
		} else {
			stats.Individuals++
		}
	}

	entries, err := s.store.Query(ctx, docstore.Query{Kind: docstore.KindCorrupted})
	if err != nil {
		return stats, fmt.Errorf("load corruption entries: %w", err)
	}
	for _, rec := range entries {
		e, err := docstore.Decode[CorruptedRecord](rec)
		if err != nil {
			continue
		}
		switch e.Status {
		case StatusCorrupted:
			stats.Corrupted++
		case StatusPartiallyRecovered:
			stats.PartiallyRecovered++
		case StatusQuarantined:
			stats.Quarantined++
		}
		if e.TombstonePending {
			stats.PendingTombstones++
		}
	}
	return stats, nil
}

// DoeIdentities pages through every Doe identity in assignment order.
func (s *Service) DoeIdentities(ctx context.Context, limit, offset int) ([]DoeIdentity, error) {
	recs, err := s.store.Query(ctx, docstore.Query{
		Kind:   docstore.KindDoeIdentity,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("load doe identities: %w", err)
	}
	out := make([]DoeIdentity, 0, len(recs))
	for _, rec := range recs {
		d, err := docstore.Decode[DoeIdentity](rec)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, event audit.AuditEvent, entityID, entityType string, details map[string]any) {
	if s.auditor == nil {
		return
	}
	s.auditor.LogAction(ctx, audit.Event{
		Action:     string(event),
		EntityID:   entityID,
		EntityType: entityType,
		UserID:     systemActor,
		Details:    details,
	})
}
