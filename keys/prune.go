package keys

import (
	"slices"
	"time"
)

// pruneCandidates selects every entry beyond the newest retainCount versions.
// A negative retainCount is treated as zero.
func pruneCandidates(entries []PublicKey, retainCount int) []PublicKey {
	if retainCount < 0 {
		retainCount = 0
	}
	if len(entries) <= retainCount {
		return nil
	}
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b PublicKey) int {
		switch {
		case a.Version > b.Version:
			return -1
		case a.Version < b.Version:
			return 1
		}
		return 0
	})
	out := sorted[retainCount:]
	slices.Reverse(out)
	return out
}

// olderThan keeps only entries created at least minAge before now.
func olderThan(entries []PublicKey, now time.Time, minAge time.Duration) []PublicKey {
	out := entries[:0:0]
	for _, e := range entries {
		if now.Sub(e.CreatedAt) >= minAge {
			out = append(out, e)
		}
	}
	return out
}

// withoutVersion drops the entry for version, used to protect the current key.
func withoutVersion(entries []PublicKey, version uint32) []PublicKey {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Version != version {
			out = append(out, e)
		}
	}
	return out
}

// selectPrunable composes the three steps over a manifest.
func selectPrunable(m Manifest, now time.Time, retainCount int, minAge time.Duration) []uint32 {
	candidates := pruneCandidates(m.Keys, retainCount)
	candidates = olderThan(candidates, now, minAge)
	candidates = withoutVersion(candidates, m.Current)

	versions := make([]uint32, 0, len(candidates))
	for _, c := range candidates {
		versions = append(versions, c.Version)
	}
	slices.Sort(versions)
	return versions
}
