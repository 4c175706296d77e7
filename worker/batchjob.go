package worker

import (
	"context"
	"fmt"
	"runtime/trace"

	"github.com/quay/zlog"

	"github.com/dephealth/watchtower/queue"
)

// runBatch backfills analyses for a list of versions. Versions with a
// completed row are skipped; per-version failures are recorded and do
// not abort the batch.
func (w *Worker) runBatch(ctx context.Context, m *queue.Message) error {
	job, err := queue.DecodeBatch(m.Body)
	if err != nil {
		return err
	}
	ctx = zlog.ContextWithValues(ctx,
		"package", job.PackageName,
		"dependency", job.DependencyID)

	done, err := w.Store.VersionsWithAnalysis(ctx, job.DependencyID, job.Versions)
	if err != nil {
		return fmt.Errorf("worker: analyzed versions lookup: %w", err)
	}
	var analyzed, skipped, failed int
	for _, v := range job.Versions {
		if _, ok := done[v]; ok {
			skipped++
			continue
		}
		if err := w.batchVersion(ctx, job, v); err != nil {
			zlog.Warn(ctx).
				Str("version", v).
				Err(err).
				Msg("version analysis failed")
			failed++
			continue
		}
		analyzed++
	}
	zlog.Info(ctx).
		Int("analyzed", analyzed).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("batch finished")
	return nil
}

// batchVersion analyzes one version with its own workspace cleanup.
func (w *Worker) batchVersion(ctx context.Context, job *queue.BatchJob, version string) error {
	defer trace.StartRegion(ctx, "worker/batchVersion").End()
	res, err := w.Analyzer.AnalyzeVersion(ctx, job.PackageName, version)
	if res.WorkDir != "" {
		defer w.Analyzer.CleanupWorkdir(ctx, res.WorkDir)
	}
	if err != nil {
		if serr := w.Store.SetVersionAnalysisError(ctx, job.DependencyID, version, err.Error()); serr != nil {
			zlog.Warn(ctx).Err(serr).Msg("failed to record analysis error")
		}
		return err
	}
	return w.Store.UpsertVersionAnalysis(ctx, job.DependencyID, version, res.Report)
}
