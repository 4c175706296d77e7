package analyzer

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Source hosts the integrity check will clone from.
var knownHosts = map[string]struct{}{
	"github.com":    {},
	"gitlab.com":    {},
	"bitbucket.org": {},
}

var shorthandHosts = map[string]string{
	"github":    "github.com",
	"gitlab":    "gitlab.com",
	"bitbucket": "bitbucket.org",
}

var ownerRepo = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ParseSourceURL canonicalizes the repository field of package metadata
// into an https clone URL. Accepted forms: git+https://, git://,
// git+ssh://git@, ssh://, http(s)://, host shorthands like
// "github:owner/repo", and the bare "owner/repo" shorthand (implying
// GitHub). Anything not resolving to a known host is rejected.
func ParseSourceURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("analyzer: empty source URL")
	}
	if i := strings.Index(s, ":"); i > 0 {
		if host, ok := shorthandHosts[s[:i]]; ok && ownerRepo.MatchString(s[i+1:]) {
			return cloneURL(host, s[i+1:]), nil
		}
	}
	if ownerRepo.MatchString(s) {
		return cloneURL("github.com", s), nil
	}
	s = strings.TrimPrefix(s, "git+")
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("analyzer: unparseable source URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "git", "ssh":
	default:
		return "", fmt.Errorf("analyzer: unsupported source URL scheme %q", u.Scheme)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if _, ok := knownHosts[host]; !ok {
		return "", fmt.Errorf("analyzer: unsupported source host %q", host)
	}
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segs) < 2 {
		return "", fmt.Errorf("analyzer: source URL %q has no owner/repo path", raw)
	}
	repo := strings.TrimSuffix(segs[1], ".git")
	if segs[0] == "" || repo == "" {
		return "", fmt.Errorf("analyzer: source URL %q has no owner/repo path", raw)
	}
	return cloneURL(host, segs[0]+"/"+repo), nil
}

func cloneURL(host, path string) string {
	return "https://" + host + "/" + strings.TrimSuffix(path, ".git") + ".git"
}
