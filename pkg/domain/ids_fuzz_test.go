package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseUnitID checks that parsing never panics on arbitrary input and
// that an accepted id round-trips verbatim.
func FuzzParseUnitID(f *testing.F) {
	f.Add("")
	f.Add("77:01:0001001:101")
	f.Add("50:21:0120345:2")
	f.Add("77:01:0001001")
	f.Add("квартира 15")
	f.Add(":::")
	f.Add("77:01:0001001:101\x00")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseUnitID(input)
		if err != nil {
			if id != "" {
				t.Errorf("error with non-empty id %q", id)
			}
			return
		}
		if !utf8.ValidString(id.String()) {
			t.Errorf("accepted id is not valid UTF-8: %q", id)
		}
		if !IsUnitID(id.String()) {
			t.Errorf("accepted id %q fails the strict pattern", id)
		}
		// Parsing its own output must be stable.
		again, err := ParseUnitID(id.String())
		if err != nil || again != id {
			t.Errorf("re-parse of %q changed the value", id)
		}
	})
}

// FuzzParseSubjectID checks that uuid parsing never panics and never accepts
// the nil uuid.
func FuzzParseSubjectID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSubjectID(input)
		if err != nil {
			return
		}
		if id.IsZero() {
			t.Error("nil uuid accepted")
		}
	})
}
