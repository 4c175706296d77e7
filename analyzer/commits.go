package analyzer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dephealth/watchtower"
)

// logFormat renders one machine-readable header line per commit. A
// record separator (0x1e) starts every commit and a unit separator
// (0x1f) splits the fields, so subjects containing newlines or pipes
// cannot corrupt the framing.
const logFormat = "%x1e%H%x1f%an%x1f%ae%x1f%ad%x1f%s"

const (
	maxFunctionsPerCommit = 20
	maxFunctionLen        = 80
)

var numstatLine = regexp.MustCompile(`^(\d+|-)\t(\d+|-)\t(.+)$`)

// parseGitLog parses `git log --numstat -p` output produced with
// logFormat into commits, preserving git's newest-first order and
// returning at most max entries.
//
// Commits with unparseable dates are kept with a zero timestamp so
// later stages can decide how to treat them.
func parseGitLog(raw []byte, max int) []*watchtower.Commit {
	var out []*watchtower.Commit
	for _, rec := range strings.Split(string(raw), "\x1e") {
		if strings.TrimSpace(rec) == "" {
			continue
		}
		if max > 0 && len(out) == max {
			break
		}
		header, body, _ := strings.Cut(rec, "\n")
		fields := strings.Split(header, "\x1f")
		if len(fields) != 5 {
			continue
		}
		c := &watchtower.Commit{
			SHA:         strings.TrimSpace(fields[0]),
			AuthorName:  strings.TrimSpace(fields[1]),
			AuthorEmail: strings.ToLower(strings.TrimSpace(fields[2])),
			Message:     fields[4],
		}
		if c.SHA == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(fields[3])); err == nil {
			c.CommittedAt = t
		}

		// Numstat lines come before the patch; hunk headers only
		// inside it.
		inPatch := false
		seen := make(map[string]bool)
		for _, line := range strings.Split(body, "\n") {
			if strings.HasPrefix(line, "diff --git ") {
				inPatch = true
				continue
			}
			if !inPatch {
				m := numstatLine.FindStringSubmatch(line)
				if m == nil {
					continue
				}
				c.LinesAdded += atoiDash(m[1])
				c.LinesDeleted += atoiDash(m[2])
				c.Diff.FilesChanged = append(c.Diff.FilesChanged, m[3])
				continue
			}
			if !strings.HasPrefix(line, "@@") {
				continue
			}
			rest := line[2:]
			j := strings.Index(rest, "@@")
			if j < 0 {
				continue
			}
			sig := strings.TrimSpace(rest[j+2:])
			if sig == "" || seen[sig] || len(c.Diff.Functions) >= maxFunctionsPerCommit {
				continue
			}
			if len(sig) > maxFunctionLen {
				sig = sig[:maxFunctionLen]
			}
			seen[sig] = true
			c.Diff.Functions = append(c.Diff.Functions, sig)
		}
		c.FilesChanged = len(c.Diff.FilesChanged)
		out = append(out, c)
	}
	return out
}

func atoiDash(s string) int {
	if s == "-" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
