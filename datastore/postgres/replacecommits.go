package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
	"github.com/dephealth/watchtower/internal/microbatch"
)

var (
	replacePackageCommitsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "replacepackagecommits_total",
			Help:      "Total number of database queries issued in the ReplacePackageCommits method.",
		},
		[]string{"query"},
	)

	replacePackageCommitsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "replacepackagecommits_duration_seconds",
			Help:      "The duration of all queries issued in the ReplacePackageCommits method",
		},
		[]string{"query"},
	)
)

func (s *Store) ReplacePackageCommits(ctx context.Context, watchedID string, commits []*watchtower.Commit) error {
	const (
		deleteQuery = `
DELETE FROM
	package_commits
WHERE
	watched_package_id = $1;
`
		insertQuery = `
INSERT
INTO
	package_commits (
		watched_package_id,
		sha,
		author_name,
		author_email,
		committed_at,
		message,
		lines_added,
		lines_deleted,
		files_changed,
		diff_data
	)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
ON CONFLICT
	(watched_package_id, sha)
DO
	NOTHING;
`
		updateQuery = `
UPDATE
	watched_packages
SET
	last_known_commit_sha = $2,
	updated_at = now()
WHERE
	id = $1;
`
	)
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/replacePackageCommits")

	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	tx, err := s.pool.Begin(tctx)
	done()
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	start := time.Now()
	tctx, done = context.WithTimeout(ctx, 10*time.Second)
	_, err = tx.Exec(tctx, deleteQuery, watchedID)
	done()
	if err != nil {
		return fmt.Errorf("failed to delete stored commits: %w", err)
	}
	replacePackageCommitsCounter.WithLabelValues("delete").Add(1)
	replacePackageCommitsDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())

	tctx, done = context.WithTimeout(ctx, 5*time.Second)
	insertStmt, err := tx.Prepare(tctx, "insertCommitStmt", insertQuery)
	done()
	if err != nil {
		return fmt.Errorf("failed to create statement: %w", err)
	}

	start = time.Now()
	mBatcher := microbatch.NewInsert(tx, 500, time.Minute)
	for _, c := range commits {
		diff, err := jsonb(c.Diff)
		if err != nil {
			return err
		}
		// invalid timestamps are stored as NULL
		var committedAt any
		if c.TimestampValid() {
			committedAt = c.CommittedAt
		}
		err = mBatcher.Queue(
			ctx,
			insertStmt.SQL,
			watchedID,
			c.SHA,
			c.AuthorName,
			c.AuthorEmail,
			committedAt,
			c.Message,
			c.LinesAdded,
			c.LinesDeleted,
			c.FilesChanged,
			diff,
		)
		if err != nil {
			return fmt.Errorf("batch insert failed for commit %q: %w", c.SHA, err)
		}
	}
	if err := mBatcher.Done(ctx); err != nil {
		return fmt.Errorf("final batch insert failed: %w", err)
	}
	replacePackageCommitsCounter.WithLabelValues("query_batch").Add(1)
	replacePackageCommitsDuration.WithLabelValues("query_batch").Observe(time.Since(start).Seconds())

	// commits arrive newest first
	if len(commits) > 0 {
		start = time.Now()
		tctx, done = context.WithTimeout(ctx, 5*time.Second)
		_, err = tx.Exec(tctx, updateQuery, watchedID, commits[0].SHA)
		done()
		if err != nil {
			return fmt.Errorf("failed to advance last known commit: %w", err)
		}
		replacePackageCommitsCounter.WithLabelValues("update").Add(1)
		replacePackageCommitsDuration.WithLabelValues("update").Observe(time.Since(start).Seconds())
	}

	tctx, done = context.WithTimeout(ctx, 15*time.Second)
	err = tx.Commit(tctx)
	done()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zlog.Debug(ctx).
		Str("watched_package", watchedID).
		Int("commits", len(commits)).
		Msg("package commits replaced")
	return nil
}
