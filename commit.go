package watchtower

import "time"

// Commit is one extracted upstream commit, keyed by
// (watched package, SHA).
type Commit struct {
	SHA        string `json:"sha"`
	AuthorName string `json:"author_name,omitempty"`
	// AuthorEmail is normalized to lowercase; it is the grouping key
	// for contributor profiles.
	AuthorEmail  string    `json:"author_email"`
	CommittedAt  time.Time `json:"committed_at"`
	Message      string    `json:"message"`
	LinesAdded   int       `json:"lines_added"`
	LinesDeleted int       `json:"lines_deleted"`
	FilesChanged int       `json:"files_changed"`
	Diff         DiffData  `json:"diff_data"`
}

// DiffData is the structured change summary stored with each commit.
type DiffData struct {
	FilesChanged []string `json:"filesChanged"`
	// Functions holds touched-function names recovered from hunk
	// headers, best effort.
	Functions []string `json:"functions,omitempty"`
}

// TimestampValid reports whether the commit carries a real wall-clock
// time. Imports with unknown dates use an epoch sentinel, which
// profiling must skip.
func (c *Commit) TimestampValid() bool {
	return !c.CommittedAt.IsZero() && c.CommittedAt.Year() > 1971
}
