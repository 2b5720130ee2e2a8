package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type status string

func TestFilter_Matches(t *testing.T) {
	payload := []byte(`{
		"euid": "I00001H",
		"status": "historical",
		"version": 2,
		"metadata": {"createdBy": "I00002", "createdAt": "2026-01-10T00:00:00Z"},
		"relationships": [
			{"targetEuid": "C00001", "type": "employee"},
			{"targetEuid": "C00002", "type": "board"}
		],
		"tags": ["a", "b"]
	}`)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", nil, true},
		{"equality", Filter{"status": "historical"}, true},
		{"named string type", Filter{"status": status("historical")}, true},
		{"integer equality", Filter{"version": 2}, true},
		{"nested path", Filter{"metadata.createdBy": "I00002"}, true},
		{"nested mismatch", Filter{"metadata.createdBy": "I00003"}, false},
		{"missing path", Filter{"metadata.nope": "x"}, false},
		{"nil matches missing", Filter{"metadata.nope": nil}, true},
		{"scalar against array", Filter{"tags": "b"}, true},
		{"elemMatch hit", Filter{"relationships": ElemMatch(Filter{"targetEuid": "C00002", "type": "board"})}, true},
		{"elemMatch needs one element matching all keys", Filter{"relationships": ElemMatch(Filter{"targetEuid": "C00001", "type": "board"})}, false},
		{"elemMatch on scalar", Filter{"status": ElemMatch(Filter{"x": 1})}, false},
		{"regex", Filter{"euid": Regex(`^I\d{5}H$`)}, true},
		{"regex miss", Filter{"euid": Regex(`^C`)}, false},
		{"invalid regex", Filter{"euid": Regex(`(`)}, false},
		{"lte number", Filter{"version": Lte(2)}, true},
		{"lte number miss", Filter{"version": Lte(1)}, false},
		{"lte time", Filter{"metadata.createdAt": Lte(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))}, true},
		{"lte time miss", Filter{"metadata.createdAt": Lte(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))}, false},
		{"lte missing", Filter{"nope": Lte(5)}, false},
		{"all keys must match", Filter{"status": "historical", "version": 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(payload))
		})
	}
}

func TestFilter_UnreadablePayload(t *testing.T) {
	assert.True(t, Filter{}.Matches([]byte("{not json")))
	assert.False(t, Filter{"status": "active"}.Matches([]byte("{not json")))
	assert.False(t, Filter{"status": "active"}.Matches([]byte(`[1,2]`)))
}

func TestFilter_PathsAreLiteral(t *testing.T) {
	payload := []byte(`{"a*": 1, "ab": 2, "a": {"b#": 3}}`)

	assert.True(t, Filter{"a*": 1}.Matches(payload))
	assert.False(t, Filter{"a?": 2}.Matches(payload))
	assert.True(t, Filter{"a.b#": 3}.Matches(payload))
	assert.Equal(t, `a\*.b\#`, jsonPath("a*.b#"))
}

func TestApply(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []Record{
		{ID: "c", Kind: "euid", Payload: []byte(`{"seq": 3}`), CreatedAt: base.Add(3 * time.Second)},
		{ID: "a", Kind: "euid", Payload: []byte(`{"seq": 1}`), CreatedAt: base.Add(1 * time.Second)},
		{ID: "x", Kind: "other", Payload: []byte(`{"seq": 9}`), CreatedAt: base},
		{ID: "b", Kind: "euid", Payload: []byte(`{}`), CreatedAt: base.Add(2 * time.Second)},
	}

	t.Run("default order is creation time", func(t *testing.T) {
		got := Apply(recs, Query{Kind: "euid"})
		assert.Equal(t, []string{"a", "b", "c"}, ids(got))
	})

	t.Run("sort by payload path, missing last", func(t *testing.T) {
		got := Apply(recs, Query{Kind: "euid", Sort: []SortField{{Path: "seq", Desc: true}}})
		assert.Equal(t, []string{"c", "a", "b"}, ids(got))
	})

	t.Run("offset and limit", func(t *testing.T) {
		got := Apply(recs, Query{Kind: "euid", Offset: 1, Limit: 1})
		assert.Equal(t, []string{"b"}, ids(got))
		assert.Empty(t, Apply(recs, Query{Kind: "euid", Offset: 10}))
	})
}

func TestMergePatch(t *testing.T) {
	out, err := MergePatch([]byte(`{"a":1,"b":{"c":2}}`), map[string]any{"b": "x", "d": true})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":"x","d":true}`, string(out))

	_, err = MergePatch([]byte(`garbage`), map[string]any{"a": 1})
	assert.Error(t, err)
}

func ids(recs []Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
