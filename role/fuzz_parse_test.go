package role

import "testing"

// FuzzParse checks that every accepted name round-trips through MarshalText.
func FuzzParse(f *testing.F) {
	for _, r := range All() {
		f.Add(r.String())
	}
	f.Add("")
	f.Add("Admin")
	f.Add("super admin")
	f.Add("root")

	f.Fuzz(func(t *testing.T, s string) {
		r, err := Parse(s)
		if err != nil {
			return
		}
		if !r.Valid() {
			t.Fatalf("Parse(%q) returned invalid role %d", s, r)
		}
		text, err := r.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		back, err := Parse(string(text))
		if err != nil || back != r {
			t.Fatalf("round trip %q -> %q -> %v, %v", s, text, back, err)
		}
	})
}
