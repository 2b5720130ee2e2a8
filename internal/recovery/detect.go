package recovery

import (
	"encoding/json"
	"strings"
	"unicode"

	"entityid/internal/docstore"
)

// requiredFields lists the payload keys each scanned kind cannot lack.
var requiredFields = map[string][]string{
	docstore.KindEUID:          {"euid", "entityType", "status"},
	docstore.KindReservedEUID:  {"euid"},
	docstore.KindPrefix:        {"prefix", "entityTypeName"},
	docstore.KindRetentionRule: {"entityType", "action"},
}

var signatureLiterals = []string{"undefined", "NaN", "[object Object]"}

// Detect reports whether payload of the given kind is corrupted and how.
func Detect(kind string, payload []byte) (CorruptionType, bool) {
	doc, ok := parseObject(payload)
	if !ok {
		return CorruptionUnparseable, true
	}
	if !roundTrips(doc) {
		return CorruptionUnparseable, true
	}
	for _, field := range requiredFields[kind] {
		if missing(doc, field) {
			return CorruptionMissingFields, true
		}
	}
	if containsSignature(doc) {
		return CorruptionSignature, true
	}
	return "", false
}

func parseObject(payload []byte) (map[string]any, bool) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil || doc == nil {
		return nil, false
	}
	return doc, true
}

func roundTrips(doc map[string]any) bool {
	b, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	var again map[string]any
	return json.Unmarshal(b, &again) == nil
}

func missing(doc map[string]any, field string) bool {
	v, ok := doc[field]
	if !ok || v == nil {
		return true
	}
	s, isString := v.(string)
	return isString && strings.TrimSpace(s) == ""
}

func containsSignature(v any) bool {
	switch t := v.(type) {
	case string:
		return isSignature(t)
	case map[string]any:
		for _, item := range t {
			if containsSignature(item) {
				return true
			}
		}
	case []any:
		for _, item := range t {
			if containsSignature(item) {
				return true
			}
		}
	}
	return false
}

// isSignature matches strings typical of damaged writes: runs of NUL bytes,
// text with no printable character, and serialised placeholder values.
func isSignature(s string) bool {
	if strings.Contains(s, "\x00\x00") {
		return true
	}
	for _, lit := range signatureLiterals {
		if s == lit || (lit == "[object Object]" && strings.Contains(s, lit)) {
			return true
		}
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsPrint(r) && r != unicode.ReplacementChar {
			return false
		}
	}
	return true
}
