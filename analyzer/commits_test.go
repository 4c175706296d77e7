package analyzer

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const gitLogFixture = "\x1e" +
	"abc123\x1fAlice\x1fALICE@Example.COM\x1f2025-05-04T12:30:45+02:00\x1ffix parser\n" +
	"\n" +
	"10\t2\tsrc/parser.js\n" +
	"3\t0\tsrc/util.js\n" +
	"\n" +
	"diff --git a/src/parser.js b/src/parser.js\n" +
	"index 1111111..2222222 100644\n" +
	"--- a/src/parser.js\n" +
	"+++ b/src/parser.js\n" +
	"@@ -1,4 +1,12 @@ function parse(input) {\n" +
	"+const more = true;\n" +
	"@@ -20,2 +28,2 @@ function parse(input) {\n" +
	" context\n" +
	"diff --git a/src/util.js b/src/util.js\n" +
	"@@ -1 +1,3 @@\n" +
	"+x\n" +
	"\x1e" +
	"def456\x1fBob\x1fbob@example.com\x1fnot-a-date\x1fimport old history\n" +
	"\n" +
	"-\t-\tassets/blob.bin\n"

func TestParseGitLog(t *testing.T) {
	cs := parseGitLog([]byte(gitLogFixture), 300)
	if got, want := len(cs), 2; got != want {
		t.Fatalf("got %d commits, want %d", got, want)
	}

	c := cs[0]
	if got, want := c.SHA, "abc123"; got != want {
		t.Errorf("got sha %q, want %q", got, want)
	}
	if got, want := c.AuthorEmail, "alice@example.com"; got != want {
		t.Errorf("got email %q, want %q", got, want)
	}
	if got, want := c.Message, "fix parser"; got != want {
		t.Errorf("got message %q, want %q", got, want)
	}
	want := time.Date(2025, 5, 4, 10, 30, 45, 0, time.UTC)
	if !c.CommittedAt.Equal(want) {
		t.Errorf("got timestamp %v, want %v", c.CommittedAt, want)
	}
	if c.LinesAdded != 13 || c.LinesDeleted != 2 || c.FilesChanged != 2 {
		t.Errorf("got +%d -%d %d files", c.LinesAdded, c.LinesDeleted, c.FilesChanged)
	}
	if got, want := c.Diff.FilesChanged, []string{"src/parser.js", "src/util.js"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	// Hunks for the same function dedupe, and hunks without context
	// are skipped.
	if got, want := c.Diff.Functions, []string{"function parse(input) {"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}

	c = cs[1]
	if c.TimestampValid() {
		t.Errorf("got valid timestamp %v for unparseable date", c.CommittedAt)
	}
	if c.LinesAdded != 0 || c.LinesDeleted != 0 {
		t.Errorf("binary numstat counted: +%d -%d", c.LinesAdded, c.LinesDeleted)
	}
	if got, want := c.FilesChanged, 1; got != want {
		t.Errorf("got %d files, want %d", got, want)
	}
}

func TestParseGitLogMax(t *testing.T) {
	cs := parseGitLog([]byte(gitLogFixture), 1)
	if got, want := len(cs), 1; got != want {
		t.Fatalf("got %d commits, want %d", got, want)
	}
	if got, want := cs[0].SHA, "abc123"; got != want {
		t.Errorf("got sha %q, want %q", got, want)
	}
}

func TestParseGitLogEmpty(t *testing.T) {
	if cs := parseGitLog(nil, 300); len(cs) != 0 {
		t.Errorf("got %d commits from empty input", len(cs))
	}
}
