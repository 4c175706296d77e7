// Package datastore holds the storage interfaces the worker runs
// against. The postgres subpackage is the production implementation.
package datastore

import (
	"context"
	"time"

	"github.com/dephealth/watchtower"
)

// Store aggregates all interface types.
type Store interface {
	PackageStore
	VersionStore
	ActivityStore
	AutoBumpStore
}

// PackageStore exports the methods for updating a watched package's
// lifecycle row.
type PackageStore interface {
	// SetWatchedPackageStatus moves a watched package to status,
	// recording errMsg when the status is error and clearing it
	// otherwise.
	SetWatchedPackageStatus(ctx context.Context, id string, status watchtower.PackageStatus, errMsg string) error
	// SetWatchedPackageResults records a completed analysis: latest
	// version, the check verdict, status ready.
	SetWatchedPackageResults(ctx context.Context, id string, latestVersion string, report *watchtower.VersionReport) error
	// WatchedPackageDependencyID resolves the dependency row linked to
	// a watched package, if any.
	WatchedPackageDependencyID(ctx context.Context, id string) (string, error)
}

// VersionStore exports the methods for per-version analysis rows.
type VersionStore interface {
	// UpsertVersionAnalysis stores a version's check results, keyed by
	// (dependency, version). Re-running an analysis overwrites the
	// previous row.
	UpsertVersionAnalysis(ctx context.Context, depID, version string, report *watchtower.VersionReport) error
	// SetVersionAnalysisError marks a version's analysis as failed.
	SetVersionAnalysisError(ctx context.Context, depID, version, msg string) error
	// VersionsWithAnalysis reports which of versions already have a
	// completed analysis row, so batch jobs can skip them.
	VersionsWithAnalysis(ctx context.Context, depID string, versions []string) (map[string]struct{}, error)
	// VersionRowID returns the analysis row id for (dependency,
	// version).
	VersionRowID(ctx context.Context, depID, version string) (string, error)
	// SetProjectDependencyVersion points a project dependency at an
	// analysis row.
	SetProjectDependencyVersion(ctx context.Context, projectDepID, versionRowID string) error
	// DependencyLatestVersion reports the latest known version of a
	// dependency.
	DependencyLatestVersion(ctx context.Context, depID string) (string, error)
	// DependencyLatestReleaseDate reports when the latest version was
	// published, nil when unknown.
	DependencyLatestReleaseDate(ctx context.Context, depID string) (*time.Time, error)
}

// ActivityStore exports the methods for storing extracted repository
// activity: commits, contributor profiles, anomalies.
type ActivityStore interface {
	// ReplacePackageCommits replaces the stored commit set for a
	// watched package and advances last_known_commit_sha to the newest
	// commit.
	ReplacePackageCommits(ctx context.Context, watchedID string, commits []*watchtower.Commit) error
	// ReplaceContributorProfiles replaces the stored profiles for a
	// watched package. The returned map resolves author email to the
	// new profile row id.
	ReplaceContributorProfiles(ctx context.Context, watchedID string, profiles []*watchtower.ContributorProfile) (map[string]string, error)
	// StoreAnomalies records scored anomalies, joining authors to
	// profile rows through contributorIDs. Anomalies whose author has
	// no id are dropped.
	StoreAnomalies(ctx context.Context, watchedID string, anomalies []*watchtower.Anomaly, contributorIDs map[string]string) error
}

// AutoBumpStore exports the methods the auto-bump orchestrator needs.
type AutoBumpStore interface {
	// CandidateProjects selects the project dependencies eligible for
	// an automated bump of the dependency. The name is the fallback
	// key for legacy rows without a dependency link.
	CandidateProjects(ctx context.Context, depID, name string) ([]watchtower.BumpCandidate, error)
	// WatchlistRow fetches the watchlist entry for (organization,
	// dependency). Both returns are nil when no row exists.
	WatchlistRow(ctx context.Context, orgID, depID string) (*watchtower.Watchlist, error)
	// SetWatchlistQuarantineNextRelease arms a quarantine on the row
	// until the deadline.
	SetWatchlistQuarantineNextRelease(ctx context.Context, id string, until time.Time) error
	// ClearWatchlistQuarantine lifts an expired quarantine and records
	// version as the latest allowed.
	ClearWatchlistQuarantine(ctx context.Context, id, version string) error
	// SetWatchlistLatestAllowed records version as the latest allowed
	// without touching quarantine state.
	SetWatchlistLatestAllowed(ctx context.Context, id, version string) error
	// DependencyVulnerabilities returns the advisory rows known for a
	// dependency.
	DependencyVulnerabilities(ctx context.Context, depID string) ([]watchtower.Vulnerability, error)
}
