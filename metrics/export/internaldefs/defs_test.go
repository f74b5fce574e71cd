package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterDefsUnique(t *testing.T) {
	names := map[string]bool{}
	ids := map[uint16]bool{}
	for _, d := range CounterDefs {
		if !strings.HasPrefix(d.Name, "cmsauth_") || !strings.HasSuffix(d.Name, "_total") {
			t.Errorf("bad counter name %q", d.Name)
		}
		if names[d.Name] || ids[uint16(d.ID)] {
			t.Errorf("duplicate counter %q", d.Name)
		}
		names[d.Name] = true
		ids[uint16(d.ID)] = true
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 0, 3}))
	want := [8]uint64{1, 3, 3, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(HistogramBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatal("bounds and suffixes disagree")
	}
}
