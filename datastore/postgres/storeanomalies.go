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
	storeAnomaliesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "storeanomalies_total",
			Help:      "Total number of database queries issued in the StoreAnomalies method.",
		},
		[]string{"query"},
	)

	storeAnomaliesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "storeanomalies_duration_seconds",
			Help:      "The duration of all queries issued in the StoreAnomalies method",
		},
		[]string{"query"},
	)
)

// StoreAnomalies records scored anomalies against profile rows.
// Anomalies whose author email has no entry in contributorIDs are
// dropped with a warning.
func (s *Store) StoreAnomalies(ctx context.Context, watchedID string, anomalies []*watchtower.Anomaly, contributorIDs map[string]string) error {
	const query = `
INSERT
INTO
	commit_anomalies (
		watched_package_id,
		contributor_profile_id,
		commit_sha,
		anomaly_score,
		factors
	)
VALUES
	($1, $2, $3, $4, $5::jsonb);
`
	ctx = zlog.ContextWithValues(ctx, "component", "datastore/postgres/storeAnomalies")

	if len(anomalies) == 0 {
		return nil
	}

	tctx, done := context.WithTimeout(ctx, 5*time.Second)
	tx, err := s.pool.Begin(tctx)
	done()
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tctx, done = context.WithTimeout(ctx, 5*time.Second)
	insertStmt, err := tx.Prepare(tctx, "insertAnomalyStmt", query)
	done()
	if err != nil {
		return fmt.Errorf("failed to create statement: %w", err)
	}

	start := time.Now()
	mBatcher := microbatch.NewInsert(tx, 500, time.Minute)
	for _, a := range anomalies {
		id, ok := contributorIDs[a.AuthorEmail]
		if !ok {
			zlog.Warn(ctx).
				Str("author", a.AuthorEmail).
				Str("commit", a.CommitSHA).
				Msg("anomaly author has no profile row, dropping")
			continue
		}
		factors, err := jsonb(a.Factors)
		if err != nil {
			return err
		}
		err = mBatcher.Queue(
			ctx,
			insertStmt.SQL,
			watchedID,
			id,
			a.CommitSHA,
			a.Score,
			factors,
		)
		if err != nil {
			return fmt.Errorf("batch insert failed for anomaly %q: %w", a.CommitSHA, err)
		}
	}
	if err := mBatcher.Done(ctx); err != nil {
		return fmt.Errorf("final batch insert failed: %w", err)
	}
	storeAnomaliesCounter.WithLabelValues("query_batch").Add(1)
	storeAnomaliesDuration.WithLabelValues("query_batch").Observe(time.Since(start).Seconds())

	tctx, done = context.WithTimeout(ctx, 15*time.Second)
	err = tx.Commit(tctx)
	done()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
