package watchtower

import "time"

// WatchedPackage is a per-organization subscription to an upstream
// package. The web tier creates rows; the worker mutates status and
// analysis results and never deletes.
type WatchedPackage struct {
	ID string `json:"id"`
	// DependencyID links into the global package registry. Rows created
	// before linkage existed may have it empty.
	DependencyID string `json:"dependency_id,omitempty"`
	// PackageName is the upstream registry name, e.g. "lodash".
	PackageName string        `json:"package_name"`
	Status      PackageStatus `json:"status"`
	// ErrorMessage is set only when Status is StatusError.
	ErrorMessage string `json:"error_message,omitempty"`
	// LatestVersion mirrors the most recently analyzed release.
	LatestVersion string `json:"latest_version,omitempty"`
	// LastKnownCommitSHA is the newest commit seen during history
	// extraction, used to cheaply detect upstream movement.
	LastKnownCommitSHA string    `json:"last_known_commit_sha,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
