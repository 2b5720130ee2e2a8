package euid

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	SequenceDigits = 5
	MaxSequence    = 99999
)

var (
	ErrCodeFormat   = errors.New("custom code must be 2-4 uppercase letters")
	ErrCodeReserved = errors.New("custom code uses a reserved leading letter")
	ErrCodeTaken    = errors.New("code already defined")
)

// Grammar is an immutable code table plus the compiled pattern that matches it.
// Extending the table with a custom code yields a new Grammar.
type Grammar struct {
	codes   map[string]EntityType
	pattern *regexp.Regexp
}

var defaultGrammar = mustGrammar(StaticCodes())

// Default returns the grammar made of the built-in codes only.
func Default() *Grammar {
	return defaultGrammar
}

func mustGrammar(codes map[string]EntityType) *Grammar {
	g, err := compile(codes)
	if err != nil {
		panic(err)
	}
	return g
}

// NewGrammar builds a grammar from the built-in codes plus custom.
func NewGrammar(custom map[string]EntityType) (*Grammar, error) {
	g := defaultGrammar
	// deterministic order so the first offending code is always the same one
	keys := make([]string, 0, len(custom))
	for code := range custom {
		keys = append(keys, code)
	}
	sort.Strings(keys)
	for _, code := range keys {
		next, err := g.With(code, custom[code])
		if err != nil {
			return nil, err
		}
		g = next
	}
	return g, nil
}

// With returns a copy of g that also recognises code as t.
func (g *Grammar) With(code string, t EntityType) (*Grammar, error) {
	if err := CheckCustomCode(code); err != nil {
		return nil, err
	}
	if g.HasCode(code) {
		return nil, fmt.Errorf("%w: %s", ErrCodeTaken, code)
	}
	codes := make(map[string]EntityType, len(g.codes)+1)
	for c, v := range g.codes {
		codes[c] = v
	}
	codes[code] = t
	return compile(codes)
}

// HasCode reports whether code is known or reserved.
func (g *Grammar) HasCode(code string) bool {
	if _, ok := g.codes[code]; ok {
		return true
	}
	_, ok := reservedCodes[code]
	return ok
}

// TypeOf returns the entity type registered under code.
func (g *Grammar) TypeOf(code string) (EntityType, bool) {
	t, ok := g.codes[code]
	return t, ok
}

// CodeOf returns the code registered for t.
func (g *Grammar) CodeOf(t EntityType) (string, bool) {
	if code, ok := CodeFor(t); ok {
		return code, true
	}
	for code, candidate := range g.codes {
		if candidate == t {
			return code, true
		}
	}
	return "", false
}

// CheckCustomCode enforces the shape rules for a user-defined prefix. It does
// not check for collisions.
func CheckCustomCode(code string) error {
	if len(code) < 2 || len(code) > 4 {
		return fmt.Errorf("%w: %q", ErrCodeFormat, code)
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return fmt.Errorf("%w: %q", ErrCodeFormat, code)
		}
	}
	lead := code[0]
	if isAccessCode(lead) || lead == 'G' || lead == 'Y' || lead == 'Z' {
		return fmt.Errorf("%w: %q", ErrCodeReserved, code)
	}
	return nil
}

func compile(codes map[string]EntityType) (*Grammar, error) {
	multi := make([]string, 0, len(codes))
	for code := range codes {
		if len(code) > 1 {
			multi = append(multi, regexp.QuoteMeta(code))
		}
	}
	// longest first so API wins over AI and custom codes win over letter+jurisdiction
	sort.Slice(multi, func(i, j int) bool {
		if len(multi[i]) != len(multi[j]) {
			return len(multi[i]) > len(multi[j])
		}
		return multi[i] < multi[j]
	})
	alternatives := append(multi, "[A-Z]")
	expr := `^([NKXS])?(` + strings.Join(alternatives, "|") + `)([A-Z]{2,3})?([0-9]{5})((?:-[A-Za-z0-9]+)*)$`
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile euid grammar: %w", err)
	}
	return &Grammar{codes: codes, pattern: pattern}, nil
}

// Parsed is the component view of a valid identifier.
type Parsed struct {
	AccessLevel  AccessLevel `json:"accessLevel,omitempty"`
	TypeCode     string      `json:"typeCode"`
	EntityType   EntityType  `json:"entityType"`
	Jurisdiction string      `json:"jurisdiction,omitempty"`
	Sequence     int         `json:"sequence"`
	Related      []string    `json:"related,omitempty"`
	Status       Status      `json:"status"`
}

// Result is what Validate returns. It never carries a Go error: malformed
// input produces Valid=false and a list of human-readable problems.
type Result struct {
	Valid  bool     `json:"isValid"`
	Errors []string `json:"errors,omitempty"`
	Parsed *Parsed  `json:"parsed,omitempty"`
}

// Validate checks s against the built-in grammar.
func Validate(s string) Result {
	return defaultGrammar.Validate(s)
}

// Validate checks s against g.
func (g *Grammar) Validate(s string) Result {
	if s == "" {
		return invalid("identifier is empty")
	}
	body, status := StripStatus(s)

	m := g.pattern.FindStringSubmatch(body)
	if m == nil {
		return invalid(fmt.Sprintf("%q does not match the EUID grammar", s))
	}
	accessCode, typeCode, juris, digits, chain := m[1], m[2], m[3], m[4], m[5]

	var errs []string
	entityType, known := g.codes[typeCode]
	switch {
	case isReserved(typeCode):
		errs = append(errs, fmt.Sprintf("type code %q is reserved", typeCode))
	case !known && juris != "":
		errs = append(errs, fmt.Sprintf("unknown type code %q", typeCode+juris))
	case !known:
		errs = append(errs, fmt.Sprintf("unknown type code %q", typeCode))
	case juris != "" && typeCode != CodeGovernment:
		errs = append(errs, fmt.Sprintf("jurisdiction %q is only allowed on government identifiers", juris))
	}

	seq, _ := strconv.Atoi(digits)
	if seq < 1 {
		errs = append(errs, "sequence number must be between 00001 and 99999")
	}
	if len(errs) > 0 {
		return Result{Valid: false, Errors: errs}
	}

	access, _ := AccessLevelFromCode(accessCode)
	var related []string
	if chain != "" {
		related = strings.Split(strings.TrimPrefix(chain, "-"), "-")
	}
	return Result{
		Valid: true,
		Parsed: &Parsed{
			AccessLevel:  access,
			TypeCode:     typeCode,
			EntityType:   entityType,
			Jurisdiction: juris,
			Sequence:     seq,
			Related:      related,
			Status:       status,
		},
	}
}

func invalid(msg string) Result {
	return Result{Valid: false, Errors: []string{msg}}
}

func isReserved(code string) bool {
	_, ok := reservedCodes[code]
	return ok
}

// StripStatus removes a trailing status suffix. The suffix is only recognised
// directly after a digit, so related segments ending in H or R stay intact.
func StripStatus(s string) (string, Status) {
	n := len(s)
	if n < 2 {
		return s, StatusActive
	}
	status, ok := statusFromSuffix(s[n-1])
	if !ok || s[n-2] < '0' || s[n-2] > '9' {
		return s, StatusActive
	}
	return s[:n-1], status
}

// Normalize returns the identity form of s used for availability checks:
// the status suffix is dropped, everything else is kept.
func Normalize(s string) string {
	base, _ := StripStatus(s)
	return base
}

// WithStatus rewrites the status suffix of s.
func WithStatus(s string, status Status) string {
	return Normalize(s) + status.Suffix()
}

// String composes the full identifier from its parts.
func (p Parsed) String() string {
	var b strings.Builder
	b.WriteString(p.Base())
	for _, r := range p.Related {
		b.WriteByte('-')
		b.WriteString(r)
	}
	b.WriteString(p.Status.Suffix())
	return b.String()
}

// Base composes the identifier without related segments or status suffix.
func (p Parsed) Base() string {
	return p.AccessLevel.Code() + p.TypeCode + p.Jurisdiction + FormatSequence(p.Sequence)
}

// FormatSequence zero-pads n to the fixed sequence width.
func FormatSequence(n int) string {
	return fmt.Sprintf("%0*d", SequenceDigits, n)
}

// Compose builds a base identifier and validates the result against g.
func (g *Grammar) Compose(typeCode string, seq int, access AccessLevel, jurisdiction string) (string, error) {
	if seq < 1 || seq > MaxSequence {
		return "", fmt.Errorf("sequence %d out of range", seq)
	}
	if !access.Valid() {
		return "", fmt.Errorf("unknown access level %q", access)
	}
	p := Parsed{AccessLevel: access, TypeCode: typeCode, Jurisdiction: jurisdiction, Sequence: seq}
	id := p.Base()
	if res := g.Validate(id); !res.Valid {
		return "", fmt.Errorf("invalid identifier %q: %s", id, strings.Join(res.Errors, "; "))
	}
	return id, nil
}
