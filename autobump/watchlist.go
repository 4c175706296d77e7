package autobump

import (
	"time"

	"github.com/dephealth/watchtower"
)

// watchlistState classifies a watchlist row at a point in time.
type watchlistState int

const (
	// stateTransparent: no row, the organization does not watch the
	// dependency.
	stateTransparent watchlistState = iota
	// stateQuarantineNext: the one-shot quarantine-next-release flag
	// is armed.
	stateQuarantineNext
	// stateQuarantineActive: a quarantine is running and its deadline
	// is in the future.
	stateQuarantineActive
	// stateQuarantineExpired: a quarantine is marked but its deadline
	// has passed (or was never set).
	stateQuarantineExpired
	// stateNormal: a row with no quarantine in any form.
	stateNormal
)

func (s watchlistState) String() string {
	switch s {
	case stateTransparent:
		return "transparent"
	case stateQuarantineNext:
		return "quarantine_next"
	case stateQuarantineActive:
		return "quarantine_active"
	case stateQuarantineExpired:
		return "quarantine_expired"
	case stateNormal:
		return "normal"
	}
	return "invalid"
}

// evalWatchlist reduces a row to its state. The one-shot flag wins
// over an active quarantine; a deadline exactly equal to now counts
// as expired.
func evalWatchlist(w *watchtower.Watchlist, now time.Time) watchlistState {
	switch {
	case w == nil:
		return stateTransparent
	case w.QuarantineNextRelease:
		return stateQuarantineNext
	case w.CurrentQuarantined && !w.QuarantineExpired(now):
		return stateQuarantineActive
	case w.CurrentQuarantined:
		return stateQuarantineExpired
	}
	return stateNormal
}

// mutation is the single watchlist write a candidate may trigger.
type mutation int

const (
	mutNone mutation = iota
	// mutArmQuarantine converts the one-shot flag into an active
	// quarantine with a deadline.
	mutArmQuarantine
	// mutClearQuarantine lifts an expired quarantine and records the
	// target as latest allowed.
	mutClearQuarantine
	// mutSetLatestAllowed records the target as latest allowed.
	mutSetLatestAllowed
)

// decide maps a state to the row mutation to perform and whether a
// bump PR is dispatched. At most one mutation per candidate.
func decide(s watchlistState) (mutation, bool) {
	switch s {
	case stateQuarantineNext:
		return mutArmQuarantine, false
	case stateQuarantineActive:
		return mutNone, false
	case stateQuarantineExpired:
		return mutClearQuarantine, true
	case stateNormal:
		return mutSetLatestAllowed, true
	}
	return mutNone, true
}
