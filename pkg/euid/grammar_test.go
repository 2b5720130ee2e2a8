package euid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsGrammar(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   Parsed
		status Status
	}{
		{
			name:  "plain company",
			input: "C00001",
			want:  Parsed{TypeCode: "C", EntityType: TypeCompany, Sequence: 1, Status: StatusActive},
		},
		{
			name:  "historical suffix",
			input: "I00042H",
			want:  Parsed{TypeCode: "I", EntityType: TypeIndividual, Sequence: 42, Status: StatusHistorical},
		},
		{
			name:  "retired suffix",
			input: "D99999R",
			want:  Parsed{TypeCode: "D", EntityType: TypeDocument, Sequence: 99999, Status: StatusRetired},
		},
		{
			name:  "access level prefix",
			input: "SC00001",
			want:  Parsed{AccessLevel: AccessSecret, TypeCode: "C", EntityType: TypeCompany, Sequence: 1, Status: StatusActive},
		},
		{
			name:  "access level before multi-letter code",
			input: "SAI00003",
			want:  Parsed{AccessLevel: AccessSecret, TypeCode: "AI", EntityType: TypeAIAgent, Sequence: 3, Status: StatusActive},
		},
		{
			name:  "longest code wins",
			input: "API00007",
			want:  Parsed{TypeCode: "API", EntityType: TypeAPIClient, Sequence: 7, Status: StatusActive},
		},
		{
			name:  "government with jurisdiction",
			input: "GUS00042",
			want:  Parsed{TypeCode: "G", EntityType: TypeGovernment, Jurisdiction: "US", Sequence: 42, Status: StatusActive},
		},
		{
			name:  "doe organization",
			input: "JAD00003",
			want:  Parsed{TypeCode: "JAD", EntityType: TypeDoeOrganization, Sequence: 3, Status: StatusActive},
		},
		{
			name:  "related chain is accepted without recursion",
			input: "C00001-I00002",
			want:  Parsed{TypeCode: "C", EntityType: TypeCompany, Sequence: 1, Related: []string{"I00002"}, Status: StatusActive},
		},
		{
			name:  "version tag",
			input: "C00001-v2",
			want:  Parsed{TypeCode: "C", EntityType: TypeCompany, Sequence: 1, Related: []string{"v2"}, Status: StatusActive},
		},
		{
			name:  "related segment ending in a status letter keeps it",
			input: "C00001-TECH",
			want:  Parsed{TypeCode: "C", EntityType: TypeCompany, Sequence: 1, Related: []string{"TECH"}, Status: StatusActive},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(tt.input)
			require.True(t, res.Valid, "errors: %v", res.Errors)
			require.NotNil(t, res.Parsed)
			assert.Equal(t, tt.want, *res.Parsed)
			assert.Equal(t, tt.input, res.Parsed.String(), "components must recompose to the input")
		})
	}
}

func TestValidate_RejectsWithStructuredErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{name: "empty", input: "", message: "identifier is empty"},
		{name: "garbage", input: "garbage123", message: `"garbage123" does not match the EUID grammar`},
		{name: "short sequence", input: "C0001", message: `"C0001" does not match the EUID grammar`},
		{name: "lowercase", input: "c00001", message: `"c00001" does not match the EUID grammar`},
		{name: "reserved code", input: "Y00001", message: `type code "Y" is reserved`},
		{name: "unknown code", input: "Q00001", message: `unknown type code "Q"`},
		{name: "unknown multi-letter code", input: "ACME00001", message: `unknown type code "ACME"`},
		{name: "jurisdiction on non-government", input: "CUS00001", message: `jurisdiction "US" is only allowed on government identifiers`},
		{name: "zero sequence", input: "C00000", message: "sequence number must be between 00001 and 99999"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() { res = Validate(tt.input) })
			assert.False(t, res.Valid)
			assert.Nil(t, res.Parsed)
			assert.Contains(t, res.Errors, tt.message)
		})
	}
}

func TestGrammar_CustomCodes(t *testing.T) {
	g, err := Default().With("ACME", EntityType("ACME_PARTNER"))
	require.NoError(t, err)

	t.Run("custom grammar recognises the code", func(t *testing.T) {
		res := g.Validate("ACME00001")
		require.True(t, res.Valid, "errors: %v", res.Errors)
		assert.Equal(t, EntityType("ACME_PARTNER"), res.Parsed.EntityType)
		assert.Equal(t, "Acme Partner #00001", Format(*res.Parsed))
	})

	t.Run("default grammar is untouched", func(t *testing.T) {
		assert.False(t, Validate("ACME00001").Valid)
		assert.False(t, Default().HasCode("ACME"))
	})

	t.Run("rejects collisions and bad shapes", func(t *testing.T) {
		_, err := g.With("ACME", "OTHER")
		require.ErrorIs(t, err, ErrCodeTaken)

		_, err = Default().With("PS", "OTHER")
		require.ErrorIs(t, err, ErrCodeTaken)

		_, err = Default().With("C", "OTHER")
		require.ErrorIs(t, err, ErrCodeFormat)

		_, err = Default().With("TOOLONG", "OTHER")
		require.ErrorIs(t, err, ErrCodeFormat)

		for _, code := range []string{"SX", "KAB", "GOV", "YY", "ZAP"} {
			_, err = Default().With(code, "OTHER")
			require.ErrorIs(t, err, ErrCodeReserved, code)
		}
	})

	t.Run("NewGrammar applies every custom code", func(t *testing.T) {
		g2, err := NewGrammar(map[string]EntityType{"ACME": "ACME_PARTNER", "BOT": "BOT"})
		require.NoError(t, err)
		assert.True(t, g2.Validate("BOT00009").Valid)
		code, ok := g2.CodeOf("BOT")
		require.True(t, ok)
		assert.Equal(t, "BOT", code)
	})
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"C00001", "Company #00001"},
		{"SC00001H", "[SECRET] Company #00001 (historical)"},
		{"GUS00042", "Government (US) #00042"},
		{"NAI00002R", "[INTERNAL] AI Agent #00002 (retired)"},
		{"C00001-I00002", "Company #00001 -> I00002"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatString(tt.input))
		})
	}

	t.Run("invalid input is returned as-is", func(t *testing.T) {
		assert.Equal(t, "garbage123", FormatString("garbage123"))
	})
}

func TestStatusHelpers(t *testing.T) {
	assert.Equal(t, "C00005", Normalize("C00005H"))
	assert.Equal(t, "C00005", Normalize("C00005R"))
	assert.Equal(t, "C00005", Normalize("C00005"))
	assert.Equal(t, "C00005R", WithStatus("C00005H", StatusRetired))
	assert.Equal(t, "C00005", WithStatus("C00005R", StatusActive))
}

func TestCompose(t *testing.T) {
	t.Run("builds validated identifiers", func(t *testing.T) {
		id, err := Default().Compose("C", 12, AccessSecret, "")
		require.NoError(t, err)
		assert.Equal(t, "SC00012", id)

		id, err = Default().Compose("G", 1, AccessPublic, "USA")
		require.NoError(t, err)
		assert.Equal(t, "GUSA00001", id)
	})

	t.Run("rejects out of range sequences", func(t *testing.T) {
		_, err := Default().Compose("C", 0, AccessPublic, "")
		require.Error(t, err)
		_, err = Default().Compose("C", MaxSequence+1, AccessPublic, "")
		require.Error(t, err)
	})

	t.Run("rejects jurisdiction outside government", func(t *testing.T) {
		_, err := Default().Compose("C", 1, AccessPublic, "US")
		require.Error(t, err)
	})
}
