package profiler

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
)

func mkcommit(t *testing.T, sha, email, date string, added, deleted int, files []string, msg string) *watchtower.Commit {
	t.Helper()
	c := &watchtower.Commit{
		SHA:          sha,
		AuthorEmail:  email,
		Message:      msg,
		LinesAdded:   added,
		LinesDeleted: deleted,
		FilesChanged: len(files),
		Diff:         watchtower.DiffData{FilesChanged: files},
	}
	if date != "" {
		ts, err := time.Parse(time.RFC3339, date)
		if err != nil {
			t.Fatal(err)
		}
		c.CommittedAt = ts
	}
	return c
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuild(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	commits := []*watchtower.Commit{
		mkcommit(t, "a1", "alice@example.com", "2025-05-05T10:00:00Z", 10, 0, []string{"a.js", "b.js"}, "aaaa"),
		mkcommit(t, "a2", "alice@example.com", "2025-05-06T10:30:00Z", 20, 10, []string{"a.js", "c.js"}, "bbbbbbbb"),
		mkcommit(t, "a3", "alice@example.com", "2025-05-07T22:15:00Z", 30, 20, []string{"d.js", "e.js", "f.js", "g.js"}, "cccccccccccc"),
		mkcommit(t, "a4", "alice@example.com", "2025-05-12T10:45:00Z", 40, 30, []string{"d.js", "e.js", "f.js", "g.js"}, "dddddddddddddddd"),
		mkcommit(t, "c1", "carol@example.com", "2025-05-09T09:00:00Z", 5, 0, []string{"x.js"}, "x"),
		mkcommit(t, "c2", "carol@example.com", "2025-05-10T09:30:00Z", 7, 0, []string{"x.js"}, "y"),
		mkcommit(t, "d1", "dave@example.com", "", 100, 100, []string{"huge.js"}, "imported"),
		mkcommit(t, "d2", "dave@example.com", "1970-01-01T00:00:00Z", 1, 1, []string{"old.js"}, "epoch"),
		mkcommit(t, "e1", "eve@example.com", "2025-05-08T03:00:00Z", 10, 5, []string{"m.js"}, "night work"),
		mkcommit(t, "e2", "eve@example.com", "", 30, 5, []string{"m.js"}, "undated"),
	}
	ps, err := Build(ctx, commits)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(ps), 3; got != want {
		t.Fatalf("got %d profiles, want %d", got, want)
	}

	alice := ps[0]
	if got, want := alice.AuthorEmail, "alice@example.com"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := alice.CommitCount, 4; got != want {
		t.Errorf("got commit count %d, want %d", got, want)
	}
	if !near(alice.AvgLinesAdded, 25) || !near(alice.StddevLinesAdded, math.Sqrt(125)) {
		t.Errorf("lines added %v ± %v, want 25 ± sqrt(125)", alice.AvgLinesAdded, alice.StddevLinesAdded)
	}
	if !near(alice.AvgLinesDeleted, 15) || !near(alice.StddevLinesDeleted, math.Sqrt(125)) {
		t.Errorf("lines deleted %v ± %v, want 15 ± sqrt(125)", alice.AvgLinesDeleted, alice.StddevLinesDeleted)
	}
	if !near(alice.AvgFilesChanged, 3) || !near(alice.StddevFilesChanged, 1) {
		t.Errorf("files changed %v ± %v, want 3 ± 1", alice.AvgFilesChanged, alice.StddevFilesChanged)
	}
	if !near(alice.AvgMessageLength, 10) || !near(alice.StddevMessageLength, math.Sqrt(20)) {
		t.Errorf("message length %v ± %v, want 10 ± sqrt(20)", alice.AvgMessageLength, alice.StddevMessageLength)
	}
	if !near(alice.InsertToDeleteRatio, 100.0/60.0) {
		t.Errorf("got ratio %v, want %v", alice.InsertToDeleteRatio, 100.0/60.0)
	}
	if got, want := alice.HourHistogram, (map[string]int{"10:00": 3, "22:00": 1}); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if got, want := alice.DayHistogram, (map[string]int{"Monday": 2, "Tuesday": 1, "Wednesday": 1}); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if got, want := alice.Heatmap[1][10], 2; got != want {
		t.Errorf("got heatmap[Monday][10] = %d, want %d", got, want)
	}
	wantFiles := map[string]int{
		"a.js": 2, "b.js": 1, "c.js": 1,
		"d.js": 2, "e.js": 2, "f.js": 2, "g.js": 2,
	}
	if got := alice.FilesWorkedOn; !cmp.Equal(got, wantFiles) {
		t.Error(cmp.Diff(got, wantFiles))
	}
	if got, want := alice.FirstCommitAt, commits[0].CommittedAt; !got.Equal(want) {
		t.Errorf("got first commit %v, want %v", got, want)
	}
	if got, want := alice.LastCommitAt, commits[3].CommittedAt; !got.Equal(want) {
		t.Errorf("got last commit %v, want %v", got, want)
	}

	carol := ps[1]
	if got, want := carol.InsertToDeleteRatio, float64(watchtower.RatioSentinel); got != want {
		t.Errorf("got ratio %v, want sentinel %v", got, want)
	}

	// Eve keeps her undated commit in the numbers but not in the
	// histograms. Dave, all undated, is gone.
	eve := ps[2]
	if got, want := eve.AuthorEmail, "eve@example.com"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := eve.CommitCount, 2; got != want {
		t.Errorf("got commit count %d, want %d", got, want)
	}
	if !near(eve.AvgLinesAdded, 20) {
		t.Errorf("got avg lines added %v, want 20", eve.AvgLinesAdded)
	}
	if got, want := eve.HourHistogram, (map[string]int{"3:00": 1}); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestBuildEmpty(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	ps, err := Build(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 0 {
		t.Errorf("got %d profiles from no commits", len(ps))
	}
}

func baselineProfile() *watchtower.ContributorProfile {
	return &watchtower.ContributorProfile{
		AuthorEmail:         "mallory@example.com",
		CommitCount:         20,
		AvgLinesAdded:       20,
		StddevLinesAdded:    5,
		AvgLinesDeleted:     10,
		StddevLinesDeleted:  0,
		AvgFilesChanged:     2,
		StddevFilesChanged:  1,
		AvgMessageLength:    20,
		StddevMessageLength: 5,
		InsertToDeleteRatio: 2.0,
		HourHistogram:       map[string]int{"3:00": 1, "10:00": 19},
		DayHistogram:        map[string]int{"Monday": 1, "Tuesday": 19},
		FilesWorkedOn:       map[string]int{"a.js": 5, "b.js": 5, "c.js": 5, "d.js": 5},
	}
}

func factorPoints(a *watchtower.Anomaly) map[string]int {
	m := make(map[string]int, len(a.Factors))
	for _, f := range a.Factors {
		m[f.Factor] = f.Points
	}
	return m
}

func TestScore(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	c := mkcommit(t, "bad1", "Mallory@Example.com", "2025-05-07T04:00:00Z", 60, 0,
		[]string{"a.js", "x.js", "y.js", "z.js", "w.js", "q.js"}, "hi")
	as := Score(ctx, []*watchtower.Commit{c}, []*watchtower.ContributorProfile{baselineProfile()})
	if got, want := len(as), 1; got != want {
		t.Fatalf("got %d anomalies, want %d", got, want)
	}
	a := as[0]
	if got, want := a.CommitSHA, "bad1"; got != want {
		t.Errorf("got sha %q, want %q", got, want)
	}
	if got, want := a.AuthorEmail, "mallory@example.com"; got != want {
		t.Errorf("got email %q, want %q", got, want)
	}
	want := map[string]int{
		"files_changed":  15,
		"lines_changed":  15,
		"message_length": 5,
		"commit_hour":    5,
		"commit_day":     5,
		"new_files":      30,
	}
	if got := factorPoints(a); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if got, want := a.Score, 75; got != want {
		t.Errorf("got score %d, want %d", got, want)
	}
}

// A commit at exactly the 5% hour share or exactly two standard
// deviations sits on the scoring boundaries.
func TestScoreBoundaries(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	// Monday 03:00: the 3:00 bucket holds exactly 5% of history, the
	// Monday bucket exactly 5%, under the 10% day threshold.
	c := mkcommit(t, "edge", "mallory@example.com", "2025-05-05T03:30:00Z", 20, 10,
		[]string{"a.js", "b.js", "c.js", "d.js"}, "12345678901234567890")
	as := Score(ctx, []*watchtower.Commit{c}, []*watchtower.ContributorProfile{baselineProfile()})
	if got, want := len(as), 1; got != want {
		t.Fatalf("got %d anomalies, want %d", got, want)
	}
	want := map[string]int{
		"files_changed": 10,
		"commit_day":    5,
	}
	if got := factorPoints(as[0]); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestScoreRatioDrift(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	quiet := func() *watchtower.ContributorProfile {
		p := baselineProfile()
		p.StddevLinesAdded = 0
		p.StddevFilesChanged = 0
		p.StddevMessageLength = 0
		return p
	}

	tt := []struct {
		Name  string
		Ratio float64
		Added int
		Fires bool
	}{
		{Name: "Drifts", Ratio: 2.0, Added: 31, Fires: true},
		{Name: "WithinBand", Ratio: 2.0, Added: 29, Fires: false},
		{Name: "SentinelSkipped", Ratio: watchtower.RatioSentinel, Added: 500, Fires: false},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			p := quiet()
			p.InsertToDeleteRatio = tc.Ratio
			c := mkcommit(t, "r1", "mallory@example.com", "", tc.Added, 10,
				[]string{"a.js", "b.js"}, "12345678901234567890")
			as := Score(ctx, []*watchtower.Commit{c}, []*watchtower.ContributorProfile{p})
			fired := false
			for _, a := range as {
				for _, f := range a.Factors {
					if f.Factor == "insert_delete_ratio" {
						fired = true
					}
				}
			}
			if fired != tc.Fires {
				t.Errorf("got fired=%v, want %v", fired, tc.Fires)
			}
		})
	}
}

func TestScoreQuietCommit(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	c := mkcommit(t, "calm", "mallory@example.com", "2025-05-06T10:00:00Z", 20, 10,
		[]string{"a.js", "b.js"}, "12345678901234567890")
	as := Score(ctx, []*watchtower.Commit{c}, []*watchtower.ContributorProfile{baselineProfile()})
	if len(as) != 0 {
		t.Errorf("got %d anomalies for a baseline commit: %+v", len(as), as)
	}
}

func TestScoreNoProfile(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	c := mkcommit(t, "ghost", "stranger@example.com", "2025-05-06T10:00:00Z", 1000, 0,
		[]string{"z.js"}, "who dis")
	as := Score(ctx, []*watchtower.Commit{c}, []*watchtower.ContributorProfile{baselineProfile()})
	if len(as) != 0 {
		t.Errorf("got %d anomalies for unprofiled author", len(as))
	}
}
