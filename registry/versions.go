package registry

import (
	"sort"
	"time"

	"github.com/Masterminds/semver"

	"github.com/dephealth/watchtower"
)

// PreviousVersions selects up to n already-published versions for
// backfill analysis, newest first by publish time. Stable releases are
// preferred; prereleases pad the list only when fewer than n stable
// releases exist. Versions in exclude and versions that do not parse
// are skipped.
func PreviousVersions(pk *Packument, exclude []string, n int) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, v := range exclude {
		skip[v] = struct{}{}
	}
	type release struct {
		version string
		sv      *semver.Version
		stable  bool
		at      time.Time
	}
	rels := make([]release, 0, len(pk.Versions))
	for ver := range pk.Versions {
		if _, ok := skip[ver]; ok {
			continue
		}
		sv, err := watchtower.ParseVersion(ver)
		if err != nil {
			continue
		}
		r := release{version: ver, sv: sv, stable: sv.Prerelease() == ""}
		if ts, ok := pk.Time[ver]; ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				r.at = t
			}
		}
		rels = append(rels, r)
	}
	// Publish time descending; versions missing a timestamp sort last,
	// by version descending for determinism.
	sort.Slice(rels, func(i, j int) bool {
		if !rels[i].at.Equal(rels[j].at) {
			return rels[i].at.After(rels[j].at)
		}
		return rels[i].sv.GreaterThan(rels[j].sv)
	})
	out := make([]string, 0, n)
	for _, r := range rels {
		if r.stable {
			out = append(out, r.version)
			if len(out) == n {
				return out
			}
		}
	}
	for _, r := range rels {
		if !r.stable {
			out = append(out, r.version)
			if len(out) == n {
				break
			}
		}
	}
	return out
}
