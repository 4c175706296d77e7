package watchtower

import "time"

// Watchlist is the per-(organization, dependency) record gating
// auto-bump. Presence of a row means the org has the package under
// watch; absence means transparent auto-bump is allowed.
type Watchlist struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	DependencyID   string `json:"dependency_id"`
	// QuarantineNextRelease is a one-shot flag: the next release gets
	// quarantined instead of bumped.
	QuarantineNextRelease bool `json:"quarantine_next_release"`
	// CurrentQuarantined marks an active quarantine on the current
	// release.
	CurrentQuarantined bool       `json:"is_current_version_quarantined"`
	QuarantineUntil    *time.Time `json:"quarantine_until,omitempty"`
	// LatestAllowedVersion is the newest version auto-bump has cleared
	// for this org.
	LatestAllowedVersion string `json:"latest_allowed_version,omitempty"`
}

// QuarantineExpired reports whether an active quarantine has lapsed at
// now. A nil QuarantineUntil counts as expired, and so does a deadline
// exactly equal to now.
func (w *Watchlist) QuarantineExpired(now time.Time) bool {
	return w.QuarantineUntil == nil || !w.QuarantineUntil.After(now)
}
