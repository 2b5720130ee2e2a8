package euid

import "testing"

// FuzzValidate checks that Validate never panics and that every accepted
// identifier recomposes to exactly the input.
func FuzzValidate(f *testing.F) {
	f.Add("")
	f.Add("C00001")
	f.Add("SC00001H")
	f.Add("GUS00042R")
	f.Add("C00001-I00002-v3")
	f.Add("garbage123")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		res := Validate(input)
		if res.Valid != (res.Parsed != nil) {
			t.Fatalf("valid=%v but parsed=%v", res.Valid, res.Parsed)
		}
		if !res.Valid {
			if len(res.Errors) == 0 {
				t.Fatal("invalid result without errors")
			}
			return
		}
		if got := res.Parsed.String(); got != input {
			t.Errorf("round-trip changed identifier: %q -> %q", input, got)
		}
	})
}
