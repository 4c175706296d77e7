package watchtower

import "time"

// Dependency is the canonical upstream package shared by all
// organizations. Read-only to the worker.
type Dependency struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	LatestVersion     string     `json:"latest_version,omitempty"`
	LatestReleaseDate *time.Time `json:"latest_release_date,omitempty"`
}

// DependencyVersion records the check verdicts for one published
// version of a dependency. Rows are keyed by (DependencyID, Version)
// and upserted idempotently.
type DependencyVersion struct {
	ID           string `json:"id"`
	DependencyID string `json:"dependency_id"`
	Version      string `json:"version"`

	RegistryStatus CheckStatus `json:"registry_integrity_status"`
	RegistryReason string      `json:"registry_integrity_reason,omitempty"`
	ScriptsStatus  CheckStatus `json:"install_scripts_status"`
	ScriptsReason  string      `json:"install_scripts_reason,omitempty"`
	EntropyStatus  CheckStatus `json:"entropy_analysis_status"`
	EntropyReason  string      `json:"entropy_analysis_reason,omitempty"`

	// ErrorMessage is set when analysis could not complete; it does not
	// clobber verdicts from an earlier successful run.
	ErrorMessage string     `json:"error_message,omitempty"`
	AnalyzedAt   *time.Time `json:"analyzed_at,omitempty"`
}

// Complete reports whether all three checks have recorded a verdict.
func (v *DependencyVersion) Complete() bool {
	return v.RegistryStatus.Valid() && v.ScriptsStatus.Valid() && v.EntropyStatus.Valid()
}
