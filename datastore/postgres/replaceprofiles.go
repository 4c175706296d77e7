package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
)

var (
	replaceContributorProfilesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "replacecontributorprofiles_total",
			Help:      "Total number of database queries issued in the ReplaceContributorProfiles method.",
		},
		[]string{"query"},
	)

	replaceContributorProfilesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "replacecontributorprofiles_duration_seconds",
			Help:      "The duration of all queries issued in the ReplaceContributorProfiles method",
		},
		[]string{"query"},
	)
)

// ReplaceContributorProfiles replaces the stored profiles for a
// watched package. Anomaly rows pointing at the old profiles cascade
// away with them.
func (s *Store) ReplaceContributorProfiles(ctx context.Context, watchedID string, profiles []*watchtower.ContributorProfile) (map[string]string, error) {
	const (
		deleteQuery = `
DELETE FROM
	contributor_profiles
WHERE
	watched_package_id = $1;
`
		insertQuery = `
INSERT
INTO
	contributor_profiles (
		watched_package_id,
		author_email,
		author_name,
		commit_count,
		profile_data,
		first_commit_at,
		last_commit_at
	)
VALUES
	($1, $2, $3, $4, $5::jsonb, $6, $7)
RETURNING
	id;
`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/replaceContributorProfiles")

	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	tx, err := s.pool.Begin(tctx)
	done()
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	start := time.Now()
	tctx, done = context.WithTimeout(ctx, 10*time.Second)
	_, err = tx.Exec(tctx, deleteQuery, watchedID)
	done()
	if err != nil {
		return nil, fmt.Errorf("failed to delete stored profiles: %w", err)
	}
	replaceContributorProfilesCounter.WithLabelValues("delete").Add(1)
	replaceContributorProfilesDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	ids := make(map[string]string, len(profiles))
	start = time.Now()
	for _, p := range profiles {
		data, err := jsonb(p)
		if err != nil {
			return nil, err
		}
		var first, last any
		if !p.FirstCommitAt.IsZero() {
			first = p.FirstCommitAt
		}
		if !p.LastCommitAt.IsZero() {
			last = p.LastCommitAt
		}
		var id string
		err = tx.QueryRow(ctx, insertQuery,
			watchedID, p.AuthorEmail, p.AuthorName, p.CommitCount,
			data, first, last).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to insert profile for %q: %w", p.AuthorEmail, err)
		}
		ids[p.AuthorEmail] = id
	}
	replaceContributorProfilesCounter.WithLabelValues("insert").Add(1)
	replaceContributorProfilesDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())

	tctx, done = context.WithTimeout(ctx, 15*time.Second)
	err = tx.Commit(tctx)
	done()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zlog.Debug(ctx).
		Str("watched_package", watchedID).
		Int("profiles", len(profiles)).
		Msg("contributor profiles replaced")
	return ids, nil
}
