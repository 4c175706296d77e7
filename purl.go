package watchtower

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
)

// PURLType is the package URL type for the npm ecosystem.
const PURLType = "npm"

// NPMPackageURL renders a package URL for a published npm version. A
// scoped name's scope becomes the purl namespace.
// Example: pkg:npm/express@4.18.2
func NPMPackageURL(name, version string) packageurl.PackageURL {
	var ns string
	if strings.HasPrefix(name, "@") {
		if i := strings.IndexByte(name, '/'); i != -1 {
			ns, name = name[:i], name[i+1:]
		}
	}
	return packageurl.PackageURL{
		Type:      PURLType,
		Namespace: ns,
		Name:      name,
		Version:   version,
	}
}

// ParseNPMPackageURL parses s and rejects non-npm package URLs.
func ParseNPMPackageURL(s string) (packageurl.PackageURL, error) {
	purl, err := packageurl.FromString(s)
	if err != nil {
		return packageurl.PackageURL{}, fmt.Errorf("watchtower: unable to parse purl: %w", err)
	}
	if purl.Type != PURLType {
		return packageurl.PackageURL{}, fmt.Errorf("watchtower: not an npm purl: %q", s)
	}
	return purl, nil
}
