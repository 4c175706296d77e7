package watchtower

import (
	"strings"

	"github.com/Masterminds/semver"
)

// ParseVersion parses a version string as published to the npm
// registry. Leading "v" and "=" markers and surrounding whitespace are
// tolerated; everything else follows semver.
func ParseVersion(s string) (*semver.Version, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "=")
	return semver.NewVersion(s)
}

// Stable reports whether s parses and carries no prerelease tag.
func Stable(s string) bool {
	v, err := ParseVersion(s)
	if err != nil {
		return false
	}
	return v.Prerelease() == ""
}
