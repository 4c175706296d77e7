package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	setProjectDependencyVersionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setprojectdependencyversion_total",
			Help:      "Total number of database queries issued in the SetProjectDependencyVersion method.",
		},
		[]string{"query"},
	)

	setProjectDependencyVersionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setprojectdependencyversion_duration_seconds",
			Help:      "The duration of all queries issued in the SetProjectDependencyVersion method",
		},
		[]string{"query"},
	)

	dependencyLatestVersionCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "dependencylatestversion_total",
			Help:      "Total number of database queries issued in the DependencyLatestVersion method.",
		},
		[]string{"query"},
	)

	dependencyLatestVersionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "dependencylatestversion_duration_seconds",
			Help:      "The duration of all queries issued in the DependencyLatestVersion method",
		},
		[]string{"query"},
	)

	dependencyLatestReleaseDateCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "dependencylatestreleasedate_total",
			Help:      "Total number of database queries issued in the DependencyLatestReleaseDate method.",
		},
		[]string{"query"},
	)

	dependencyLatestReleaseDateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "dependencylatestreleasedate_duration_seconds",
			Help:      "The duration of all queries issued in the DependencyLatestReleaseDate method",
		},
		[]string{"query"},
	)
)

func (s *Store) SetProjectDependencyVersion(ctx context.Context, projectDepID, versionRowID string) error {
	const query = `
UPDATE
	project_dependencies
SET
	dependency_version_id = $2,
	updated_at = now()
WHERE
	id = $1;
`
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, projectDepID, versionRowID)
	if err != nil {
		return fmt.Errorf("failed to link project dependency version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no project dependency with id %q", projectDepID)
	}
	setProjectDependencyVersionCounter.WithLabelValues("query").Add(1)
	setProjectDependencyVersionDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return nil
}

func (s *Store) DependencyLatestVersion(ctx context.Context, depID string) (string, error) {
	const query = `
SELECT
	latest_version
FROM
	dependencies
WHERE
	id = $1;
`
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	var latest *string
	err := s.pool.QueryRow(ctx, query, depID).Scan(&latest)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("no dependency with id %q: %w", depID, err)
	default:
		return "", fmt.Errorf("failed to query dependency: %w", err)
	}
	dependencyLatestVersionCounter.WithLabelValues("query").Add(1)
	dependencyLatestVersionDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	if latest == nil {
		return "", nil
	}
	return *latest, nil
}

// DependencyLatestReleaseDate reports when the dependency's latest
// version was published. Both a missing row and a NULL column read as
// unknown.
func (s *Store) DependencyLatestReleaseDate(ctx context.Context, depID string) (*time.Time, error) {
	const query = `
SELECT
	latest_release_date
FROM
	dependencies
WHERE
	id = $1;
`
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	var at *time.Time
	err := s.pool.QueryRow(ctx, query, depID).Scan(&at)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to query dependency release date: %w", err)
	}
	dependencyLatestReleaseDateCounter.WithLabelValues("query").Add(1)
	dependencyLatestReleaseDateDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return at, nil
}
