package watchtower

import "fmt"

// VersionReport is the verdict an analysis run produces for one
// published version: three independent checks, each pass, warning, or
// fail. The whole report is persisted as the version row's
// analysis_data.
type VersionReport struct {
	Package string `json:"package"`
	Version string `json:"version"`

	Integrity IntegrityResult `json:"registry_integrity"`
	Scripts   ScriptsResult   `json:"install_scripts"`
	Entropy   EntropyResult   `json:"entropy_analysis"`
}

// Failed reports whether any check failed.
func (r *VersionReport) Failed() bool {
	return r.Integrity.Status == CheckFail ||
		r.Scripts.Status == CheckFail ||
		r.Entropy.Status == CheckFail
}

// Summary renders the three verdicts on one line, for error messages
// and logs.
func (r *VersionReport) Summary() string {
	return fmt.Sprintf("registry=%s scripts=%s entropy=%s",
		r.Integrity.Status, r.Scripts.Status, r.Entropy.Status)
}

// IntegrityResult is the registry-vs-source comparison outcome.
type IntegrityResult struct {
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
	// Tag is the source tag the published artifact was compared
	// against, when one was found.
	Tag string `json:"tag,omitempty"`
	// OnlyInArtifact lists paths present in the published artifact but
	// not in source, split by the build-output classifier.
	OnlyInArtifact []string `json:"only_in_artifact,omitempty"`
	BuildArtifacts []string `json:"build_artifacts,omitempty"`
	// Modified lists paths whose content differs between the two
	// trees.
	Modified []string `json:"modified,omitempty"`
}

// ScriptsResult is the install-script capability outcome.
type ScriptsResult struct {
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
	// Hooks is the subset of lifecycle scripts that run on install.
	Hooks    map[string]string `json:"hooks,omitempty"`
	Findings []ScriptFinding   `json:"findings,omitempty"`
}

// ScriptFinding is one pattern hit inside a script command.
type ScriptFinding struct {
	Script string `json:"script"`
	// Category is network, shell, or dangerous.
	Category string `json:"category"`
	Pattern  string `json:"pattern"`
}

// EntropyResult is the obfuscation-scan outcome.
type EntropyResult struct {
	Status CheckStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
	// FilesScanned counts code files the scan visited.
	FilesScanned int     `json:"files_scanned"`
	MaxEntropy   float64 `json:"max_entropy"`
	AvgEntropy   float64 `json:"avg_entropy"`
	// Findings lists every file above the flag threshold.
	Findings []EntropyFinding `json:"findings,omitempty"`
}

// EntropyFinding is one high-entropy file.
type EntropyFinding struct {
	Path    string  `json:"path"`
	Entropy float64 `json:"entropy"`
	Size    int64   `json:"size"`
	// Expected marks files living in a directory where high entropy is
	// normal, like dist or vendor.
	Expected bool `json:"expected"`
}
