package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"entityid/internal/docstore"
	"entityid/pkg/requestcontext"
)

const backupActor = "system:backup"

// WithMaxBackups sets how many snapshots are kept per record.
func WithMaxBackups(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBackups = n
		}
	}
}

// Backup snapshots every readable identity record and prunes older
// snapshots beyond the configured depth. It returns how many snapshots were
// written.
func (s *Service) Backup(ctx context.Context) (int, error) {
	recs, err := s.store.Query(ctx, docstore.Query{Kind: docstore.KindEUID})
	if err != nil {
		return 0, fmt.Errorf("load records for backup: %w", err)
	}
	now := requestcontext.Now(ctx)
	stamp := strconv.FormatInt(now.UnixNano(), 10)

	var (
		written int
		errs    []error
	)
	for _, rec := range recs {
		if _, bad := Detect(rec.Kind, rec.Payload); bad {
			continue
		}
		payload, err := docstore.Encode(Backup{OriginalID: rec.ID, TakenAt: now, Data: rec.Payload})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := s.store.Create(ctx, docstore.Record{
			ID:        "backup:" + rec.ID + ":" + stamp,
			Kind:      docstore.KindBackup,
			Payload:   payload,
			CreatedBy: backupActor,
		}); err != nil {
			errs = append(errs, fmt.Errorf("backup %s: %w", rec.ID, err))
			continue
		}
		written++
	}

	if err := s.pruneBackups(ctx); err != nil {
		errs = append(errs, err)
	}
	s.logger.InfoContext(ctx, "backup finished", "written", written)
	return written, errors.Join(errs...)
}

func (s *Service) pruneBackups(ctx context.Context) error {
	recs, err := s.store.Query(ctx, docstore.Query{Kind: docstore.KindBackup})
	if err != nil {
		return fmt.Errorf("load backups: %w", err)
	}
	byID := map[string][]docstore.Record{}
	for _, rec := range recs {
		b, err := docstore.Decode[Backup](rec)
		if err != nil {
			continue
		}
		byID[b.OriginalID] = append(byID[b.OriginalID], rec)
	}

	var errs []error
	for _, list := range byID {
		if len(list) <= s.maxBackups {
			continue
		}
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		})
		for _, old := range list[s.maxBackups:] {
			if _, err := s.store.Delete(ctx, old.ID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
