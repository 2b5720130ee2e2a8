package recovery

import (
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"

	"entityid/internal/docstore"
	"entityid/pkg/euid"
)

var individualTypes = map[euid.EntityType]bool{
	euid.TypeIndividual:      true,
	euid.TypePublicServant:   true,
	euid.TypeElectedOfficial: true,
	euid.TypeDoeIndividual:   true,
}

var organizationWords = regexp.MustCompile(`(?i)\b(company|corporation|corp|inc|llc|ltd|plc|gmbh|organi[sz]ation|agency|department|ministry|foundation|association|registrationnumber|taxid|vat)\b`)

// Classify picks the Doe namespace for a damaged record: an explicit type
// field wins, then the type code of the original id under g, then keywords.
// Anything undecided is treated as an individual.
func Classify(g *euid.Grammar, doc map[string]any, originalID string, raw []byte) EntityKind {
	for _, field := range []string{"entityType", "type"} {
		if s, ok := doc[field].(string); ok {
			t := euid.EntityType(strings.ToUpper(strings.TrimSpace(s)))
			if t.IsOrganizationLike() {
				return KindOrganization
			}
			if individualTypes[t] {
				return KindIndividual
			}
		}
	}
	if originalID != "" {
		if res := g.Validate(originalID); res.Valid {
			if res.Parsed.EntityType.IsOrganizationLike() {
				return KindOrganization
			}
			if individualTypes[res.Parsed.EntityType] {
				return KindIndividual
			}
		}
	}
	if organizationWords.Match(raw) {
		return KindOrganization
	}
	return KindIndividual
}

// originalID extracts the identifier a record belongs to, if it has one.
// Lifecycle records carry it after a "kind:" id prefix.
func originalID(g *euid.Grammar, rec docstore.Record) string {
	id := rec.ID
	if rec.Kind != docstore.KindEUID {
		if _, rest, ok := strings.Cut(id, ":"); ok {
			id = rest
		}
	}
	if res := g.Validate(id); res.Valid {
		return res.Parsed.Base()
	}
	return ""
}

// entryKey is the stable key of a damaged record: its original id when
// known, else a fingerprint of where it lives and what it holds.
func entryKey(g *euid.Grammar, rec docstore.Record) string {
	if id := originalID(g, rec); id != "" {
		return id
	}
	return "fp-" + fingerprint(rec)
}

func fingerprint(rec docstore.Record) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(rec.Kind))
	h.Write([]byte{0})
	h.Write([]byte(rec.ID))
	h.Write([]byte{0})
	h.Write(rec.Payload)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

