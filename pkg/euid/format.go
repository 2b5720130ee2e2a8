package euid

import (
	"fmt"
	"strings"
)

// Format renders p for humans, e.g. "[SECRET] Company #00001 (historical)".
func Format(p Parsed) string {
	var b strings.Builder
	if p.AccessLevel != AccessPublic {
		fmt.Fprintf(&b, "[%s] ", p.AccessLevel)
	}
	name := p.EntityType.HumanName()
	if name == "" {
		name = p.TypeCode
	}
	b.WriteString(name)
	if p.Jurisdiction != "" {
		fmt.Fprintf(&b, " (%s)", p.Jurisdiction)
	}
	fmt.Fprintf(&b, " #%s", FormatSequence(p.Sequence))
	if len(p.Related) > 0 {
		fmt.Fprintf(&b, " -> %s", strings.Join(p.Related, " -> "))
	}
	if p.Status != "" && p.Status != StatusActive {
		fmt.Fprintf(&b, " (%s)", p.Status)
	}
	return b.String()
}

// FormatString validates s and formats it, returning s unchanged when invalid.
func FormatString(s string) string {
	res := Validate(s)
	if !res.Valid {
		return s
	}
	return Format(*res.Parsed)
}
