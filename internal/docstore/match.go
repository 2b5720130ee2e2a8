package docstore

import (
	"cmp"
	"encoding/json"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Filter maps dotted payload paths to either a value (equality) or an Operator.
// A scalar compared against an array field matches when any element is equal.
type Filter map[string]any

// Operator is a non-equality predicate on one path.
type Operator interface {
	match(value any, found bool) bool
}

type elemMatch struct{ filter Filter }

// ElemMatch matches an array field with at least one object element matching f.
func ElemMatch(f Filter) Operator { return elemMatch{filter: f} }

func (o elemMatch) match(value any, found bool) bool {
	items, ok := value.([]any)
	if !found || !ok {
		return false
	}
	for _, item := range items {
		if doc, ok := item.(map[string]any); ok && o.filter.matchDoc(doc) {
			return true
		}
	}
	return false
}

type regexOp struct{ re *regexp.Regexp }

// Regex matches string fields against pattern. An invalid pattern matches nothing.
func Regex(pattern string) Operator {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return regexOp{}
	}
	return regexOp{re: re}
}

func (o regexOp) match(value any, found bool) bool {
	s, ok := value.(string)
	return found && ok && o.re != nil && o.re.MatchString(s)
}

type lteOp struct{ value any }

// Lte matches numbers, timestamps and strings less than or equal to v.
func Lte(v any) Operator { return lteOp{value: normalize(v)} }

func (o lteOp) match(value any, found bool) bool {
	if !found {
		return false
	}
	c, ok := compareValues(value, o.value)
	return ok && c <= 0
}

// Matches reports whether a raw payload satisfies f. An empty filter matches
// everything; a payload that is not a JSON object never matches a non-empty one.
func (f Filter) Matches(payload []byte) bool {
	if len(f) == 0 {
		return true
	}
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return false
	}
	for path, want := range f {
		res := gjson.GetBytes(payload, jsonPath(path))
		if !matchValue(res.Value(), res.Exists(), want) {
			return false
		}
	}
	return true
}

func (f Filter) matchDoc(doc map[string]any) bool {
	for path, want := range f {
		got, found := lookup(doc, path)
		if !matchValue(got, found, want) {
			return false
		}
	}
	return true
}

func matchValue(got any, found bool, want any) bool {
	if op, ok := want.(Operator); ok {
		return op.match(got, found)
	}
	return equalsOrContains(got, found, normalize(want))
}

// jsonPath turns a dotted filter path into a gjson path whose components are
// taken literally.
func jsonPath(path string) string {
	var b strings.Builder
	for i, part := range strings.Split(path, ".") {
		if i > 0 {
			b.WriteByte('.')
		}
		for _, r := range part {
			if strings.ContainsRune(`\*?|#@!=<>%,()[]{}"`, r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func equalsOrContains(got any, found bool, want any) bool {
	if !found {
		return want == nil
	}
	if reflect.DeepEqual(got, want) {
		return true
	}
	if items, ok := got.([]any); ok {
		if _, wantList := want.([]any); !wantList {
			return slices.ContainsFunc(items, func(item any) bool {
				return reflect.DeepEqual(item, want)
			})
		}
	}
	return false
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalize converts a Go value into the shape encoding/json decodes into, so
// named string types, integers and timestamps compare against payload values.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		return cmp.Compare(av, bv), true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		at, aerr := time.Parse(time.RFC3339Nano, av)
		bt, berr := time.Parse(time.RFC3339Nano, bv)
		if aerr == nil && berr == nil {
			return at.Compare(bt), true
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// Apply runs q against recs in memory: kind, filter, sort, then offset and limit.
func Apply(recs []Record, q Query) []Record {
	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if q.Kind != "" && rec.Kind != q.Kind {
			continue
		}
		if !q.Filter.Matches(rec.Payload) {
			continue
		}
		out = append(out, rec)
	}
	SortRecords(out, q.Sort)
	return Page(out, q.Offset, q.Limit)
}

// Page slices recs by offset and limit. A non-positive limit means no limit.
func Page(recs []Record, offset, limit int) []Record {
	if offset > 0 {
		if offset >= len(recs) {
			return []Record{}
		}
		recs = recs[offset:]
	}
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

// SortRecords orders recs by fields, falling back to creation time then id.
// Records missing a sort path come last.
func SortRecords(recs []Record, fields []SortField) {
	slices.SortStableFunc(recs, func(a, b Record) int {
		for _, f := range fields {
			av, aok := sortValue(a, f.Path)
			bv, bok := sortValue(b, f.Path)
			switch {
			case !aok && !bok:
				continue
			case !aok:
				return 1
			case !bok:
				return -1
			}
			c, ok := compareValues(av, bv)
			if !ok || c == 0 {
				continue
			}
			if f.Desc {
				return -c
			}
			return c
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func sortValue(rec Record, path string) (any, bool) {
	switch path {
	case "_createdAt":
		return rec.CreatedAt.Format(time.RFC3339Nano), true
	case "_updatedAt":
		return rec.UpdatedAt.Format(time.RFC3339Nano), true
	case "_id":
		return rec.ID, true
	}
	res := gjson.GetBytes(rec.Payload, jsonPath(path))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}
