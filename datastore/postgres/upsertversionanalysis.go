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
	upsertVersionAnalysisCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "upsertversionanalysis_total",
			Help:      "Total number of database queries issued in the UpsertVersionAnalysis method.",
		},
		[]string{"query"},
	)

	upsertVersionAnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "datastore",
			Name:      "upsertversionanalysis_duration_seconds",
			Help:      "The duration of all queries issued in the UpsertVersionAnalysis method",
		},
		[]string{"query"},
	)
)

// deriveReason fills in a reason for non-pass verdicts that arrived
// without one, so result rows always explain themselves.
func deriveReason(check string, status watchtower.CheckStatus, reason string) any {
	if reason != "" {
		return reason
	}
	switch status {
	case watchtower.CheckWarning, watchtower.CheckFail:
		return fmt.Sprintf("%s check reported %s", check, status)
	}
	return nil
}

func (s *Store) UpsertVersionAnalysis(ctx context.Context, depID, version string, report *watchtower.VersionReport) error {
	const query = `
INSERT
INTO
	dependency_versions (
		dependency_id,
		version,
		registry_status,
		registry_reason,
		scripts_status,
		scripts_reason,
		entropy_status,
		entropy_reason,
		analysis_data,
		analyzed_at
	)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, now())
ON CONFLICT
	(dependency_id, version)
DO
	UPDATE
	SET
		registry_status = excluded.registry_status,
		registry_reason = excluded.registry_reason,
		scripts_status = excluded.scripts_status,
		scripts_reason = excluded.scripts_reason,
		entropy_status = excluded.entropy_status,
		entropy_reason = excluded.entropy_reason,
		error_message = NULL,
		analysis_data = excluded.analysis_data,
		analyzed_at = now(),
		updated_at = now();
`
	data, err := jsonb(report)
	if err != nil {
		return err
	}

	ctx, done := context.WithTimeout(ctx, 15*time.Second)
	defer done()
	start := time.Now()
	_, err = s.pool.Exec(ctx, query, depID, version,
		report.Integrity.Status, deriveReason("registry", report.Integrity.Status, report.Integrity.Reason),
		report.Scripts.Status, deriveReason("install scripts", report.Scripts.Status, report.Scripts.Reason),
		report.Entropy.Status, deriveReason("entropy", report.Entropy.Status, report.Entropy.Reason),
		data)
	if err != nil {
		return fmt.Errorf("failed to upsert version analysis: %w", err)
	}
	upsertVersionAnalysisCounter.WithLabelValues("query").Add(1)
	upsertVersionAnalysisDuration.WithLabelValues("query").Observe(time.Since(start).Seconds())

	if s.inv != nil && report.Package != "" {
		if err := s.inv.InvalidatePackage(ctx, report.Package); err != nil {
			zlog.Warn(ctx).
				Str("package", report.Package).
				Err(err).
				Msg("failed to invalidate package cache")
		}
	}

	return nil
}
