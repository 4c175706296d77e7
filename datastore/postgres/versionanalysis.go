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
	setVersionAnalysisErrorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setversionanalysiserror_total",
			Help:      "Total number of database queries issued in the SetVersionAnalysisError method.",
		},
		[]string{"query"},
	)

	setVersionAnalysisErrorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "setversionanalysiserror_duration_seconds",
			Help:      "The duration of all queries issued in the SetVersionAnalysisError method",
		},
		[]string{"query"},
	)

	versionsWithAnalysisCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "versionswithanalysis_total",
			Help:      "Total number of database queries issued in the VersionsWithAnalysis method.",
		},
		[]string{"query"},
	)

	versionsWithAnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "versionswithanalysis_duration_seconds",
			Help:      "The duration of all queries issued in the VersionsWithAnalysis method",
		},
		[]string{"query"},
	)

	versionRowIDCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "versionrowid_total",
			Help:      "Total number of database queries issued in the VersionRowID method.",
		},
		[]string{"query"},
	)

	versionRowIDDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "versionrowid_duration_seconds",
			Help:      "The duration of all queries issued in the VersionRowID method",
		},
		[]string{"query"},
	)
)

func (s *Store) SetVersionAnalysisError(ctx context.Context, depID, version, msg string) error {
	const query = `
INSERT
INTO
	dependency_versions (dependency_id, version, error_message, analyzed_at)
VALUES
	($1, $2, $3, now())
ON CONFLICT
	(dependency_id, version)
DO
	UPDATE
	SET
		error_message = excluded.error_message,
		analyzed_at = now(),
		updated_at = now();
`
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	_, err := s.pool.Exec(ctx, query, depID, version, msg)
	if err != nil {
		return fmt.Errorf("failed to record version analysis error: %w", err)
	}
	setVersionAnalysisErrorCounter.WithLabelValues("query").Add(1)
	setVersionAnalysisErrorDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return nil
}

// VersionsWithAnalysis reports which of versions already carry a
// completed analysis. Rows recording an error do not count; those
// versions are retried.
func (s *Store) VersionsWithAnalysis(ctx context.Context, depID string, versions []string) (map[string]struct{}, error) {
	const query = `
SELECT
	version
FROM
	dependency_versions
WHERE
	dependency_id = $1
	AND version = ANY ($2)
	AND analyzed_at IS NOT NULL
	AND error_message IS NULL;
`
	if len(versions) == 0 {
		return map[string]struct{}{}, nil
	}

	ctx, done := context.WithTimeout(ctx, 10*time.Second)
	defer done()
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, depID, versions)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyzed versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{}, len(versions))
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read analyzed versions: %w", err)
	}
	versionsWithAnalysisCounter.WithLabelValues("query").Add(1)
	versionsWithAnalysisDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return out, nil
}

func (s *Store) VersionRowID(ctx context.Context, depID, version string) (string, error) {
	const query = `
SELECT
	id
FROM
	dependency_versions
WHERE
	dependency_id = $1
	AND version = $2;
`
	ctx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()
	start := time.Now()
	var id string
	err := s.pool.QueryRow(ctx, query, depID, version).Scan(&id)
	switch {
	case errors.Is(err, nil):
	case errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("no analysis row for version %q: %w", version, err)
	default:
		return "", fmt.Errorf("failed to query version row: %w", err)
	}
	versionRowIDCounter.WithLabelValues("query").Add(1)
	versionRowIDDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return id, nil
}
