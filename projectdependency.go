package watchtower

// Dependency declaration sources recognized by candidate selection.
const (
	SourceDependencies    = "dependencies"
	SourceDevDependencies = "devDependencies"
)

// ProjectDependency ties a downstream project to a dependency at a
// declared version.
type ProjectDependency struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	DependencyID string `json:"dependency_id"`
	Version      string `json:"version"`
	IsDirect     bool   `json:"is_direct"`
	// Source is the manifest section the dependency was declared in.
	Source string `json:"source"`
	// FilesImportingCount is how many source files import the package.
	// Zero marks a zombie: declared but unused, skipped by auto-bump.
	FilesImportingCount int `json:"files_importing_count"`
	// DependencyVersionID links to the analyzed DependencyVersion row
	// for the declared version, once one exists.
	DependencyVersionID string `json:"dependency_version_id,omitempty"`
}

// BumpCandidate is one project eligible for an automated bump PR.
type BumpCandidate struct {
	ProjectID      string `json:"project_id"`
	OrganizationID string `json:"organization_id"`
	CurrentVersion string `json:"current_version,omitempty"`
}

// PR kinds recorded in DependencyPR rows.
const (
	PRKindBump   = "bump"
	PRKindRemove = "remove"
)

// DependencyPR records an open or attempted pull request against a
// project for a dependency. The worker only reads these: an open
// remove-type PR suppresses bump attempts for that (project,
// dependency) pair.
type DependencyPR struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	DependencyID string `json:"dependency_id"`
	Kind         string `json:"kind"`
	URL          string `json:"pr_url,omitempty"`
	Number       int    `json:"pr_number,omitempty"`
}
