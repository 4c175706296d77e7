package queue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// NewVersionJob event kinds.
const (
	TypeNewVersion        = "new_version"
	TypeQuarantineExpired = "quarantine_expired"
)

// NewVersionJob announces a release event for a dependency: either a
// new upstream version or the expiry of a quarantine window.
type NewVersionJob struct {
	Type              string `json:"type"`
	DependencyID      string `json:"dependency_id"`
	Name              string `json:"name"`
	NewVersion        string `json:"new_version,omitempty"`
	LatestReleaseDate string `json:"latest_release_date,omitempty"`
}

// PackageJob asks for a full analysis of a watched package.
type PackageJob struct {
	PackageName         string `json:"packageName"`
	WatchedPackageID    string `json:"watchedPackageId"`
	ProjectDependencyID string `json:"projectDependencyId"`
	CurrentVersion      string `json:"currentVersion,omitempty"`
}

// BatchJob backfills per-version analyses for a list of previous
// versions of one package.
type BatchJob struct {
	DependencyID string   `json:"dependency_id"`
	PackageName  string   `json:"packageName"`
	Versions     []string `json:"versions"`
}

// DecodeError reports a malformed job payload. It is terminal for the
// job, never for the poll loop.
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("queue: malformed %s payload: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// normalize returns the JSON object bytes of a payload that may be a
// bare object or a JSON string containing an object (producers
// double-encode).
func normalize(b []byte) ([]byte, error) {
	t := bytes.TrimSpace(b)
	if len(t) == 0 {
		return nil, errors.New("empty payload")
	}
	if t[0] == '"' {
		var s string
		if err := json.Unmarshal(t, &s); err != nil {
			return nil, fmt.Errorf("unquoting payload: %w", err)
		}
		t = bytes.TrimSpace([]byte(s))
		if len(t) == 0 {
			return nil, errors.New("empty payload")
		}
	}
	if t[0] != '{' {
		return nil, errors.New("payload is not a JSON object")
	}
	return t, nil
}

// DecodeNewVersion decodes a NewVersionJob payload, requiring a known
// type, dependency_id, and name.
func DecodeNewVersion(b []byte) (*NewVersionJob, error) {
	const kind = "new_version"
	t, err := normalize(b)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	var j NewVersionJob
	if err := json.Unmarshal(t, &j); err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	switch j.Type {
	case TypeNewVersion, TypeQuarantineExpired:
	default:
		return nil, &DecodeError{Kind: kind, Err: fmt.Errorf("unknown type %q", j.Type)}
	}
	if j.DependencyID == "" || j.Name == "" {
		return nil, &DecodeError{Kind: kind, Err: errors.New("missing dependency_id or name")}
	}
	return &j, nil
}

// DecodePackageJob decodes a PackageJob payload, requiring
// packageName, watchedPackageId, and projectDependencyId.
func DecodePackageJob(b []byte) (*PackageJob, error) {
	const kind = "package"
	t, err := normalize(b)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	var j PackageJob
	if err := json.Unmarshal(t, &j); err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	if j.PackageName == "" || j.WatchedPackageID == "" || j.ProjectDependencyID == "" {
		return nil, &DecodeError{Kind: kind, Err: errors.New("missing packageName, watchedPackageId, or projectDependencyId")}
	}
	return &j, nil
}

// DecodeBatch decodes a BatchJob payload, requiring dependency_id,
// packageName, and a versions list.
func DecodeBatch(b []byte) (*BatchJob, error) {
	const kind = "batch"
	t, err := normalize(b)
	if err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	var j BatchJob
	if err := json.Unmarshal(t, &j); err != nil {
		return nil, &DecodeError{Kind: kind, Err: err}
	}
	if j.DependencyID == "" || j.PackageName == "" {
		return nil, &DecodeError{Kind: kind, Err: errors.New("missing dependency_id or packageName")}
	}
	if j.Versions == nil {
		return nil, &DecodeError{Kind: kind, Err: errors.New("missing versions")}
	}
	return &j, nil
}
