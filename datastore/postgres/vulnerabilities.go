package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dephealth/watchtower"
)

var (
	dependencyVulnerabilitiesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "dependencyvulnerabilities_total",
			Help:      "Total number of database queries issued in the DependencyVulnerabilities method.",
		},
		[]string{"query"},
	)

	dependencyVulnerabilitiesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "dependencyvulnerabilities_duration_seconds",
			Help:      "The duration of all queries issued in the DependencyVulnerabilities method",
		},
		[]string{"query"},
	)
)

func (s *Store) DependencyVulnerabilities(ctx context.Context, depID string) ([]watchtower.Vulnerability, error) {
	const query = `
SELECT
	id,
	dependency_id,
	osv_id,
	affected_versions,
	fixed_versions
FROM
	vulnerabilities
WHERE
	dependency_id = $1;
`
	ctx, done := context.WithTimeout(ctx, 10*time.Second)
	defer done()
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, depID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vulnerabilities: %w", err)
	}
	defer rows.Close()

	var out []watchtower.Vulnerability
	for rows.Next() {
		var (
			v     watchtower.Vulnerability
			osvID *string
		)
		err := rows.Scan(&v.ID, &v.DependencyID, &osvID, &v.Affected, &v.Fixed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vulnerability: %w", err)
		}
		if osvID != nil {
			v.OSVID = *osvID
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read vulnerabilities: %w", err)
	}
	dependencyVulnerabilitiesCounter.WithLabelValues("query").Add(1)
	dependencyVulnerabilitiesDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	return out, nil
}
