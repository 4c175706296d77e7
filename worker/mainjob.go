package worker

import (
	"context"
	"fmt"

	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
	"github.com/dephealth/watchtower/analyzer"
	"github.com/dephealth/watchtower/profiler"
	"github.com/dephealth/watchtower/queue"
	"github.com/dephealth/watchtower/registry"
)

// maxBatchVersions caps how many previous versions one main job
// schedules for backfill.
const maxBatchVersions = 20

// runMain executes the full package lifecycle. Any failure after
// decoding moves the watched package to the error status.
func (w *Worker) runMain(ctx context.Context, m *queue.Message) error {
	job, err := queue.DecodePackageJob(m.Body)
	if err != nil {
		return err
	}
	ctx = zlog.ContextWithValues(ctx,
		"package", job.PackageName,
		"watched_package", job.WatchedPackageID)
	if err := w.analyzeWatched(ctx, job); err != nil {
		if serr := w.Store.SetWatchedPackageStatus(ctx, job.WatchedPackageID, watchtower.StatusError, err.Error()); serr != nil {
			zlog.Warn(ctx).Err(serr).Msg("failed to record package error")
		}
		return err
	}
	return nil
}

func (w *Worker) analyzeWatched(ctx context.Context, job *queue.PackageJob) error {
	if err := w.Store.SetWatchedPackageStatus(ctx, job.WatchedPackageID, watchtower.StatusAnalyzing, ""); err != nil {
		return fmt.Errorf("worker: set status: %w", err)
	}

	res, err := w.Analyzer.AnalyzePackage(ctx, job.PackageName)
	if res.WorkDir != "" {
		defer w.Analyzer.CleanupWorkdir(ctx, res.WorkDir)
	}
	if err != nil {
		return fmt.Errorf("worker: package analysis: %w", err)
	}

	if err := w.Store.SetWatchedPackageResults(ctx, job.WatchedPackageID, res.Version, res.Report); err != nil {
		return fmt.Errorf("worker: persist results: %w", err)
	}
	depID, err := w.Store.WatchedPackageDependencyID(ctx, job.WatchedPackageID)
	if err != nil {
		return fmt.Errorf("worker: dependency lookup: %w", err)
	}
	if depID == "" {
		zlog.Debug(ctx).Msg("watched package has no dependency link, skipping version rows")
	} else {
		if err := w.Store.UpsertVersionAnalysis(ctx, depID, res.Version, res.Report); err != nil {
			return fmt.Errorf("worker: persist version analysis: %w", err)
		}
	}

	if err := w.storeActivity(ctx, job.WatchedPackageID, res.Commits); err != nil {
		return err
	}

	if depID != "" {
		if err := w.analyzeCurrent(ctx, job, depID, res.Version); err != nil {
			return err
		}
		w.enqueuePrevious(ctx, job, depID, &res)
	}
	return nil
}

// storeActivity persists extracted history: contributor profiles
// first for the email to row id map, then commits, then scored
// anomalies joined through that map.
func (w *Worker) storeActivity(ctx context.Context, watchedID string, commits []*watchtower.Commit) error {
	if len(commits) == 0 {
		return nil
	}
	profiles, err := profiler.Build(ctx, commits)
	if err != nil {
		return fmt.Errorf("worker: build profiles: %w", err)
	}
	ids, err := w.Store.ReplaceContributorProfiles(ctx, watchedID, profiles)
	if err != nil {
		return fmt.Errorf("worker: persist profiles: %w", err)
	}
	if err := w.Store.ReplacePackageCommits(ctx, watchedID, commits); err != nil {
		return fmt.Errorf("worker: persist commits: %w", err)
	}
	anomalies := profiler.Score(ctx, commits, profiles)
	if err := w.Store.StoreAnomalies(ctx, watchedID, anomalies, ids); err != nil {
		return fmt.Errorf("worker: persist anomalies: %w", err)
	}
	return nil
}

// analyzeCurrent runs the second, version-scoped analysis for the
// project's declared version and points the project dependency at the
// resulting row. Skipped when the project already runs the latest
// version.
func (w *Worker) analyzeCurrent(ctx context.Context, job *queue.PackageJob, depID, latest string) error {
	if job.CurrentVersion == "" || job.CurrentVersion == latest {
		return nil
	}
	ctx = zlog.ContextWithValues(ctx, "version", job.CurrentVersion)
	res, err := w.Analyzer.AnalyzeVersion(ctx, job.PackageName, job.CurrentVersion)
	if res.WorkDir != "" {
		defer w.Analyzer.CleanupWorkdir(ctx, res.WorkDir)
	}
	if err != nil {
		return fmt.Errorf("worker: current version analysis: %w", err)
	}
	if err := w.Store.UpsertVersionAnalysis(ctx, depID, job.CurrentVersion, res.Report); err != nil {
		return fmt.Errorf("worker: persist current version: %w", err)
	}
	rowID, err := w.Store.VersionRowID(ctx, depID, job.CurrentVersion)
	if err != nil {
		return fmt.Errorf("worker: version row lookup: %w", err)
	}
	if err := w.Store.SetProjectDependencyVersion(ctx, job.ProjectDependencyID, rowID); err != nil {
		return fmt.Errorf("worker: link project dependency: %w", err)
	}
	return nil
}

// enqueuePrevious schedules backfill analyses for earlier releases.
// Backfill is best effort: enqueue failures log a warning and the job
// still succeeds.
func (w *Worker) enqueuePrevious(ctx context.Context, job *queue.PackageJob, depID string, res *analyzer.PackageResult) {
	if res.Packument == nil {
		return
	}
	prev := registry.PreviousVersions(res.Packument, []string{res.Version, job.CurrentVersion}, maxBatchVersions)
	if len(prev) == 0 {
		return
	}
	err := w.Queues.Push(ctx, w.Names.Batch, queue.BatchJob{
		DependencyID: depID,
		PackageName:  job.PackageName,
		Versions:     prev,
	})
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("failed to enqueue batch job")
		return
	}
	zlog.Info(ctx).Int("versions", len(prev)).Msg("previous versions enqueued")
}
