package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dephealth/watchtower"
)

var (
	watchlistRowCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "watchlistrow_total",
			Help:      "Total number of database queries issued in the WatchlistRow method.",
		},
		[]string{"query"},
	)

	watchlistRowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "watchlistrow_duration_seconds",
			Help:      "The duration of all queries issued in the WatchlistRow method",
		},
		[]string{"query"},
	)

	updateWatchlistCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "updatewatchlist_total",
			Help:      "Total number of database queries issued in the watchlist update methods.",
		},
		[]string{"query"},
	)

	updateWatchlistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "updatewatchlist_duration_seconds",
			Help:      "The duration of all queries issued in the watchlist update methods",
		},
		[]string{"query"},
	)
)

// WatchlistRow fetches the watchlist entry for (organization,
// dependency). Both returns are nil when the organization does not
// watch the dependency.
func (s *Store) WatchlistRow(ctx context.Context, orgID, depID string) (*watchtower.Watchlist, error) {
	const query = `
SELECT
	id,
	organization_id,
	dependency_id,
	quarantine_next_release,
	is_current_version_quarantined,
	quarantine_until,
	latest_allowed_version
FROM
	watchlists
WHERE
	organization_id = $1
	AND dependency_id = $2;
`
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	var (
		w      watchtower.Watchlist
		latest *string
	)
	err := s.pool.QueryRow(ctx, query, orgID, depID).Scan(
		&w.ID,
		&w.OrganizationID,
		&w.DependencyID,
		&w.QuarantineNextRelease,
		&w.CurrentQuarantined,
		&w.QuarantineUntil,
		&latest,
	)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to query watchlist: %w", err)
	}
	watchlistRowCounter.WithLabelValues("query").Add(1)
	watchlistRowDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	if latest != nil {
		w.LatestAllowedVersion = *latest
	}
	return &w, nil
}

// SetWatchlistQuarantineNextRelease converts the one-shot
// quarantine-next-release flag into an active quarantine running until
// the deadline.
func (s *Store) SetWatchlistQuarantineNextRelease(ctx context.Context, id string, until time.Time) error {
	const query = `
UPDATE
	watchlists
SET
	quarantine_next_release = false,
	is_current_version_quarantined = true,
	quarantine_until = $2,
	updated_at = now()
WHERE
	id = $1;
`
	return s.updateWatchlist(ctx, "quarantine_next_release", query, id, until)
}

// ClearWatchlistQuarantine lifts an expired quarantine and records
// version as the latest allowed.
func (s *Store) ClearWatchlistQuarantine(ctx context.Context, id, version string) error {
	const query = `
UPDATE
	watchlists
SET
	is_current_version_quarantined = false,
	quarantine_until = NULL,
	latest_allowed_version = $2,
	updated_at = now()
WHERE
	id = $1;
`
	return s.updateWatchlist(ctx, "clear_quarantine", query, id, version)
}

// SetWatchlistLatestAllowed records version as the latest allowed
// without touching quarantine state.
func (s *Store) SetWatchlistLatestAllowed(ctx context.Context, id, version string) error {
	const query = `
UPDATE
	watchlists
SET
	latest_allowed_version = $2,
	updated_at = now()
WHERE
	id = $1;
`
	return s.updateWatchlist(ctx, "latest_allowed", query, id, version)
}

func (s *Store) updateWatchlist(ctx context.Context, label, query string, args ...any) error {
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update watchlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no watchlist row with id %q", args[0])
	}
	updateWatchlistCounter.WithLabelValues(label).Add(1)
	updateWatchlistDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	return nil
}
