package watchtower

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver"
)

// Vulnerability is a stored advisory for a dependency, reduced to the
// shape auto-bump needs: which versions the advisory covers and which
// versions carry the fix. The advisory fetcher owns the rows; the
// worker only reads them.
type Vulnerability struct {
	ID           string            `json:"id"`
	DependencyID string            `json:"dependency_id"`
	OSVID        string            `json:"osv_id"`
	Affected     *AffectedVersions `json:"affected_versions"`
	Fixed        []string          `json:"fixed_versions"`
}

// Vulnerable reports whether version is affected by this advisory and
// not yet fixed.
func (v *Vulnerability) Vulnerable(version string) bool {
	return VersionAffected(version, v.Affected) && !VersionFixed(version, v.Fixed)
}

// AffectedVersions is the OSV-shaped affected value. The stored JSON
// may be null, a single entry object, or a list of entries; null is
// represented by a nil *AffectedVersions and means the advisory
// applies to every version.
type AffectedVersions struct {
	Entries []AffectedEntry
}

// AffectedEntry holds an explicit version list, version ranges, or
// both.
type AffectedEntry struct {
	Versions []string       `json:"versions,omitempty"`
	Ranges   []VersionRange `json:"ranges,omitempty"`
}

// VersionRange is an ordered list of boundary events.
type VersionRange struct {
	Events []RangeEvent `json:"events"`
}

// RangeEvent is one range boundary. OSV emits exactly one of the two
// fields per event; both are honored if present.
type RangeEvent struct {
	Introduced string `json:"introduced,omitempty"`
	Fixed      string `json:"fixed,omitempty"`
}

// UnmarshalJSON implements [json.Unmarshaler].
//
// Both a bare entry object and a list of entries are accepted; older
// advisory rows stored the former.
func (a *AffectedVersions) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		a.Entries = nil
		return nil
	}
	var list []AffectedEntry
	if err := json.Unmarshal(b, &list); err == nil {
		a.Entries = list
		return nil
	}
	var one AffectedEntry
	if err := json.Unmarshal(b, &one); err != nil {
		return fmt.Errorf("watchtower: unrecognized affected_versions shape: %w", err)
	}
	a.Entries = []AffectedEntry{one}
	return nil
}

// MarshalJSON implements [json.Marshaler].
func (a AffectedVersions) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Entries)
}

// VersionAffected reports whether version falls in the advisory's
// affected set. A nil affected value applies universally. Explicit
// version lists match by exact string; ranges match by semver
// comparison and are skipped when the candidate does not parse.
func VersionAffected(version string, affected *AffectedVersions) bool {
	if affected == nil {
		return true
	}
	v, verr := ParseVersion(version)
	for _, e := range affected.Entries {
		for _, lit := range e.Versions {
			if lit == version {
				return true
			}
		}
		if verr != nil {
			continue
		}
		for i := range e.Ranges {
			if e.Ranges[i].matches(v) {
				return true
			}
		}
	}
	return false
}

// matches scans events left-to-right, latching the most recent
// introduced and fixed boundaries, then tests introduced <= v and, if a
// fixed boundary latched, v < fixed. A missing introduced boundary is
// the beginning of time, matching OSV's "0" convention.
func (r *VersionRange) matches(v *semver.Version) bool {
	var intro, fixed *semver.Version
	for _, ev := range r.Events {
		if ev.Introduced != "" {
			if p, err := ParseVersion(ev.Introduced); err == nil {
				intro = p
			}
		}
		if ev.Fixed != "" {
			if p, err := ParseVersion(ev.Fixed); err == nil {
				fixed = p
			}
		}
	}
	if intro != nil && v.Compare(intro) < 0 {
		return false
	}
	if fixed != nil && v.Compare(fixed) >= 0 {
		return false
	}
	return true
}

// VersionFixed reports whether any listed fixed version f satisfies
// f <= version. Unparseable entries are skipped; an unparseable
// candidate is never considered fixed.
func VersionFixed(version string, fixed []string) bool {
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	for _, f := range fixed {
		fv, err := ParseVersion(f)
		if err != nil {
			continue
		}
		if v.Compare(fv) >= 0 {
			return true
		}
	}
	return false
}
