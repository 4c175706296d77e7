package watchtower

import (
	"database/sql/driver"
	"fmt"
)

// PackageStatus is the lifecycle state of a WatchedPackage.
//
// The worker owns all transitions: pending → analyzing → ready|error.
type PackageStatus string

const (
	StatusPending   PackageStatus = "pending"
	StatusAnalyzing PackageStatus = "analyzing"
	StatusReady     PackageStatus = "ready"
	StatusError     PackageStatus = "error"
)

func (s PackageStatus) String() string { return string(s) }

// Valid reports whether s is one of the defined states.
func (s PackageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusReady, StatusError:
		return true
	}
	return false
}

// MarshalText implements [encoding.TextMarshaler].
func (s PackageStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *PackageStatus) UnmarshalText(b []byte) error {
	v := PackageStatus(b)
	if !v.Valid() {
		return fmt.Errorf("unknown package status %q", string(b))
	}
	*s = v
	return nil
}

// Value implements [driver.Valuer].
func (s PackageStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements [sql.Scanner].
func (s *PackageStatus) Scan(i interface{}) error {
	switch v := i.(type) {
	case []byte:
		return s.UnmarshalText(v)
	case string:
		return s.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("unable to scan PackageStatus from type %T", i)
	}
}

// CheckStatus is the verdict of a single per-version check.
//
// The zero value means the check has not been recorded; a
// DependencyVersion row is complete only when all three checks carry a
// non-zero status.
type CheckStatus string

const (
	CheckPass    CheckStatus = "pass"
	CheckWarning CheckStatus = "warning"
	CheckFail    CheckStatus = "fail"
)

func (s CheckStatus) String() string { return string(s) }

// Valid reports whether s is one of the defined verdicts.
func (s CheckStatus) Valid() bool {
	switch s {
	case CheckPass, CheckWarning, CheckFail:
		return true
	}
	return false
}

// MarshalText implements [encoding.TextMarshaler].
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
//
// Empty input leaves the zero value, so partially analyzed rows
// round-trip.
func (s *CheckStatus) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = CheckStatus("")
		return nil
	}
	v := CheckStatus(b)
	if !v.Valid() {
		return fmt.Errorf("unknown check status %q", string(b))
	}
	*s = v
	return nil
}

// Value implements [driver.Valuer].
func (s CheckStatus) Value() (driver.Value, error) {
	if s == "" {
		return nil, nil
	}
	return string(s), nil
}

// Scan implements [sql.Scanner].
func (s *CheckStatus) Scan(i interface{}) error {
	switch v := i.(type) {
	case nil:
		*s = CheckStatus("")
		return nil
	case []byte:
		return s.UnmarshalText(v)
	case string:
		return s.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("unable to scan CheckStatus from type %T", i)
	}
}
