package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
)

var (
	candidateProjectsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "candidateprojects_total",
			Help:      "Total number of database queries issued in the CandidateProjects method.",
		},
		[]string{"query"},
	)

	candidateProjectsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "candidateprojects_duration_seconds",
			Help:      "The duration of all queries issued in the CandidateProjects method",
		},
		[]string{"query"},
	)
)

// buildCandidateQuery creates a query string selecting the project
// dependencies eligible for an automated bump. Keyed by dependency id
// when byName is false, by package name otherwise.
func buildCandidateQuery(key string, byName bool) (string, error) {
	if key == "" {
		return "", fmt.Errorf("candidate query must provide a key")
	}
	psql := goqu.Dialect("postgres")
	exps := []goqu.Expression{}

	if byName {
		exps = append(exps, goqu.Ex{"name": key})
	} else {
		exps = append(exps, goqu.Ex{"dependency_id": key})
	}
	exps = append(exps,
		goqu.Ex{"is_direct": true},
		goqu.C("source").In(watchtower.SourceDependencies, watchtower.SourceDevDependencies),
		goqu.C("files_importing_count").Gt(0),
		goqu.Or(
			goqu.Ex{"auto_bump": true},
			goqu.C("auto_bump").IsNull(),
		),
		// an open remove PR means the project is dropping the
		// dependency, not bumping it
		goqu.L("NOT EXISTS (SELECT 1 FROM dependency_prs pr WHERE pr.project_dependency_id = project_dependencies.id AND pr.kind = ? AND pr.status = 'open')", watchtower.PRKindRemove),
	)

	query := psql.Select(
		"project_id",
		"organization_id",
		"current_version",
	).From("project_dependencies").Where(exps...)

	sql, _, err := query.ToSQL()
	if err != nil {
		return "", err
	}
	return sql, nil
}

// CandidateProjects selects the projects eligible for an automated
// bump of the dependency. Rows are matched by dependency id first;
// when none link to it, the package name is tried so that rows
// predating the dependency link still bump.
func (s *Store) CandidateProjects(ctx context.Context, depID, name string) ([]watchtower.BumpCandidate, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/candidateProjects")

	var out []watchtower.BumpCandidate
	if depID != "" {
		candidates, err := s.selectCandidates(ctx, depID, false, "query")
		if err != nil {
			return nil, err
		}
		out = candidates
	}
	if len(out) == 0 && name != "" {
		candidates, err := s.selectCandidates(ctx, name, true, "fallback")
		if err != nil {
			return nil, err
		}
		if len(candidates) > 0 {
			zlog.Debug(ctx).
				Str("package", name).
				Int("candidates", len(candidates)).
				Msg("candidates matched by name only")
		}
		out = candidates
	}
	return out, nil
}

func (s *Store) selectCandidates(ctx context.Context, key string, byName bool, label string) ([]watchtower.BumpCandidate, error) {
	query, err := buildCandidateQuery(key, byName)
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate query: %w", err)
	}

	ctx, done := context.WithTimeout(ctx, 10*time.Second)
	defer done()
	start := time.Now()
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []watchtower.BumpCandidate
	for rows.Next() {
		var c watchtower.BumpCandidate
		var current *string
		if err := rows.Scan(&c.ProjectID, &c.OrganizationID, &current); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if current != nil {
			c.CurrentVersion = *current
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	candidateProjectsCounter.WithLabelValues(label).Add(1)
	candidateProjectsDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	return out, nil
}
