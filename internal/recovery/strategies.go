package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"entityid/internal/docstore"
)

// strategy tries to rebuild data for a damaged record. A nil map means no
// result.
type strategy struct {
	name string
	run  func(ctx context.Context, entry CorruptedRecord) (map[string]any, error)
}

func (s *Service) strategies() []strategy {
	return []strategy{
		{name: "json_repair", run: s.repairJSON},
		{name: "partial_reconstruction", run: s.partialReconstruction},
		{name: "backup", run: s.fromBackup},
		{name: "relationships", run: s.fromRelationships},
	}
}

var (
	bareKey       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// repair applies the textual fixes: NUL removal, quote normalisation, bare
// key quoting and trailing comma removal.
func repair(raw []byte) []byte {
	s := strings.ReplaceAll(string(raw), "\x00", "")
	if !strings.Contains(s, `"`) {
		s = strings.ReplaceAll(s, "'", `"`)
	}
	s = strings.NewReplacer("“", `"`, "”", `"`).Replace(s)
	s = bareKey.ReplaceAllString(s, `$1"$2":`)
	s = trailingComma.ReplaceAllString(s, "$1")
	return []byte(s)
}

func (s *Service) repairJSON(_ context.Context, entry CorruptedRecord) (map[string]any, error) {
	fixed := repair(entry.OriginalData)
	if _, bad := Detect(entry.SourceKind, fixed); bad {
		return nil, nil
	}
	doc, _ := parseObject(fixed)
	return doc, nil
}

func (s *Service) partialReconstruction(_ context.Context, entry CorruptedRecord) (map[string]any, error) {
	doc, ok := parseObject(entry.OriginalData)
	if !ok {
		if doc, ok = parseObject(repair(entry.OriginalData)); !ok {
			return nil, nil
		}
	}
	kept := make(map[string]any, len(doc))
	for k, v := range doc {
		if v == nil || containsSignature(v) {
			continue
		}
		kept[k] = v
	}
	if len(kept) == 0 {
		return nil, nil
	}
	return kept, nil
}

func (s *Service) fromBackup(ctx context.Context, entry CorruptedRecord) (map[string]any, error) {
	if entry.OriginalID == "" {
		return nil, nil
	}
	recs, err := s.store.Query(ctx, docstore.Query{
		Kind:   docstore.KindBackup,
		Filter: docstore.Filter{"originalId": entry.OriginalID},
		Sort: []docstore.SortField{
			{Path: "takenAt", Desc: true},
			{Path: "_createdAt", Desc: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("load backups of %s: %w", entry.OriginalID, err)
	}
	for _, rec := range recs {
		b, err := docstore.Decode[Backup](rec)
		if err != nil {
			continue
		}
		if _, bad := Detect(entry.SourceKind, b.Data); bad {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(b.Data, &doc); err == nil {
			return doc, nil
		}
	}
	return nil, nil
}

func (s *Service) fromRelationships(ctx context.Context, entry CorruptedRecord) (map[string]any, error) {
	if entry.OriginalID == "" {
		return nil, nil
	}
	recs, err := s.store.Query(ctx, docstore.Query{
		Kind: docstore.KindEUID,
		Filter: docstore.Filter{
			"relationships": docstore.ElemMatch(docstore.Filter{"targetEuid": entry.OriginalID}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("find references to %s: %w", entry.OriginalID, err)
	}
	if len(recs) == 0 {
		return nil, nil
	}

	referencedBy := make([]any, 0, len(recs))
	for _, rec := range recs {
		referencedBy = append(referencedBy, rec.ID)
	}
	stub := map[string]any{
		"euid":          entry.OriginalID,
		"referencedBy":  referencedBy,
		"reconstructed": true,
	}
	if res := s.tombstones.Grammar().Validate(entry.OriginalID); res.Valid {
		stub["entityType"] = string(res.Parsed.EntityType)
	}
	return stub, nil
}
