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
	setWatchedPackageStatusCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setwatchedpackagestatus_total",
			Help:      "Total number of database queries issued in the SetWatchedPackageStatus method.",
		},
		[]string{"query"},
	)

	setWatchedPackageStatusDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setwatchedpackagestatus_duration_seconds",
			Help:      "The duration of all queries issued in the SetWatchedPackageStatus method",
		},
		[]string{"query"},
	)

	setWatchedPackageResultsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setwatchedpackageresults_total",
			Help:      "Total number of database queries issued in the SetWatchedPackageResults method.",
		},
		[]string{"query"},
	)

	setWatchedPackageResultsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setwatchedpackageresults_duration_seconds",
			Help:      "The duration of all queries issued in the SetWatchedPackageResults method",
		},
		[]string{"query"},
	)

	watchedPackageDependencyIDCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "watchedpackagedependencyid_total",
			Help:      "Total number of database queries issued in the WatchedPackageDependencyID method.",
		},
		[]string{"query"},
	)

	watchedPackageDependencyIDDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "watchedpackagedependencyid_duration_seconds",
			Help:      "The duration of all queries issued in the WatchedPackageDependencyID method",
		},
		[]string{"query"},
	)
)

func (s *Store) SetWatchedPackageStatus(ctx context.Context, id string, status watchtower.PackageStatus, errMsg string) error {
	const query = `
UPDATE
	watched_packages
SET
	status = $2,
	error_message = CASE WHEN $2 = 'error' THEN $3 ELSE NULL END,
	updated_at = now()
WHERE
	id = $1;
`
	if !status.Valid() {
		return fmt.Errorf("refusing to set unknown status %q", status)
	}

	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update package status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no watched package with id %q", id)
	}
	setWatchedPackageStatusCounter.WithLabelValues("query").Add(1)
	setWatchedPackageStatusDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return nil
}

func (s *Store) SetWatchedPackageResults(ctx context.Context, id string, latestVersion string, report *watchtower.VersionReport) error {
	const query = `
UPDATE
	watched_packages
SET
	status = 'ready',
	error_message = NULL,
	latest_version = $2,
	registry_status = $3,
	registry_reason = $4,
	scripts_status = $5,
	scripts_reason = $6,
	entropy_status = $7,
	entropy_reason = $8,
	analysis_data = $9::jsonb,
	last_analyzed_at = now(),
	updated_at = now()
WHERE
	id = $1;
`
	data, err := jsonb(report)
	if err != nil {
		return err
	}

	ctx, done := context.WithTimeout(ctx, 15*time.Second)
	defer done()
	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, id, latestVersion,
		report.Integrity.Status, deriveReason("registry", report.Integrity.Status, report.Integrity.Reason),
		report.Scripts.Status, deriveReason("install scripts", report.Scripts.Status, report.Scripts.Reason),
		report.Entropy.Status, deriveReason("entropy", report.Entropy.Status, report.Entropy.Reason),
		data)
	if err != nil {
		return fmt.Errorf("failed to record package results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no watched package with id %q", id)
	}
	setWatchedPackageResultsCounter.WithLabelValues("query").Add(1)
	setWatchedPackageResultsDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return nil
}

func (s *Store) WatchedPackageDependencyID(ctx context.Context, id string) (string, error) {
	const query = `
SELECT
	dependency_id
FROM
	watched_packages
WHERE
	id = $1;
`
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	var depID *string
	err := s.pool.QueryRow(ctx, query, id).Scan(&depID)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("no watched package with id %q: %w", id, err)
	default:
		return "", fmt.Errorf("failed to query watched package: %w", err)
	}
	watchedPackageDependencyIDCounter.WithLabelValues("query").Add(1)
	watchedPackageDependencyIDDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	if depID == nil {
		return "", nil
	}
	return *depID, nil
}
