package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityid/internal/docstore"
	"entityid/pkg/euid"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		payload string
		want    CorruptionType
		bad     bool
	}{
		{name: "clean record", kind: docstore.KindEUID, payload: `{"euid":"C00001","entityType":"COMPANY","status":"active"}`},
		{name: "truncated json", kind: docstore.KindEUID, payload: `{"euid":"C000`, want: CorruptionUnparseable, bad: true},
		{name: "array is not a record", kind: docstore.KindEUID, payload: `[1,2]`, want: CorruptionUnparseable, bad: true},
		{name: "json null", kind: docstore.KindEUID, payload: `null`, want: CorruptionUnparseable, bad: true},
		{name: "missing status", kind: docstore.KindEUID, payload: `{"euid":"C00001","entityType":"COMPANY"}`, want: CorruptionMissingFields, bad: true},
		{name: "blank required field", kind: docstore.KindEUID, payload: `{"euid":" ","entityType":"COMPANY","status":"active"}`, want: CorruptionMissingFields, bad: true},
		{name: "undefined literal", kind: docstore.KindEUID, payload: `{"euid":"C00001","entityType":"COMPANY","status":"undefined"}`, want: CorruptionSignature, bad: true},
		{name: "nested object dump", kind: docstore.KindEUID, payload: `{"euid":"C00001","entityType":"COMPANY","status":"active","meta":{"x":["[object Object]"]}}`, want: CorruptionSignature, bad: true},
		{name: "prefix record", kind: docstore.KindPrefix, payload: `{"prefix":"VES","entityTypeName":"VESSEL"}`},
		{name: "unknown kind only needs an object", kind: "other", payload: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, bad := Detect(tt.kind, []byte(tt.payload))
			assert.Equal(t, tt.bad, bad)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		doc        map[string]any
		originalID string
		raw        string
		want       EntityKind
	}{
		{name: "type field wins", doc: map[string]any{"entityType": "government"}, originalID: "I00001", want: KindOrganization},
		{name: "legacy type field", doc: map[string]any{"type": "INDIVIDUAL"}, want: KindIndividual},
		{name: "original id", originalID: "F00003", want: KindOrganization},
		{name: "keywords", raw: `{"legalName":"Acme Inc","taxId":"1"}`, want: KindOrganization},
		{name: "default", raw: `{"firstName":"Jane"}`, want: KindIndividual},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(euid.Default(), tt.doc, tt.originalID, []byte(tt.raw)))
		})
	}
}

func TestEntryKey(t *testing.T) {
	a := docstore.Record{ID: "x1", Kind: docstore.KindEUID, Payload: []byte("{")}
	b := docstore.Record{ID: "x2", Kind: docstore.KindEUID, Payload: []byte("{")}

	g := euid.Default()
	assert.Equal(t, entryKey(g, a), entryKey(g, a))
	assert.NotEqual(t, entryKey(g, a), entryKey(g, b))
	assert.Equal(t, "SC00001", entryKey(g, docstore.Record{ID: "SC00001", Kind: docstore.KindEUID}))
	assert.Equal(t, "C00002", entryKey(g, docstore.Record{ID: "reserved:C00002", Kind: docstore.KindReservedEUID}))
	assert.Equal(t, "fp-", entryKey(g, docstore.Record{ID: "ABC00001", Kind: docstore.KindEUID})[:3])

	custom, err := g.With("ABC", "ABC_ENTITY")
	require.NoError(t, err)
	assert.Equal(t, "ABC00001", entryKey(custom, docstore.Record{ID: "ABC00001", Kind: docstore.KindEUID}))
}

func TestRepair(t *testing.T) {
	assert.JSONEq(t, `{"a":"b","c":[1,2]}`, string(repair([]byte("{a:'b',c:[1,2,],}"))))
	assert.JSONEq(t, `{"a":"b"}`, string(repair([]byte("{\x00\"a\":“b”}"))))
}
