package profiler

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
)

const (
	zHigh = 3.0
	zMed  = 2.0

	pointsHigh  = 15
	pointsMed   = 10
	pointsMinor = 5

	newFilePoints = 10
	newFileCap    = 3

	rareHourFraction = 0.05
	rareDayFraction  = 0.10
	ratioDriftLimit  = 0.5
)

// Score compares each commit against its author's profile and returns
// the commits that deviate, highest signal first in commit order.
// Commits whose author has no profile are skipped.
func Score(ctx context.Context, commits []*watchtower.Commit, profiles []*watchtower.ContributorProfile) []*watchtower.Anomaly {
	ctx = zlog.ContextWithValues(ctx, "component", "profiler/Score")
	byEmail := make(map[string]*watchtower.ContributorProfile, len(profiles))
	for _, p := range profiles {
		byEmail[strings.ToLower(p.AuthorEmail)] = p
	}
	var out []*watchtower.Anomaly
	for _, c := range commits {
		p := byEmail[strings.ToLower(c.AuthorEmail)]
		if p == nil {
			zlog.Warn(ctx).
				Str("sha", c.SHA).
				Str("author", c.AuthorEmail).
				Msg("no profile for author, skipping commit")
			continue
		}
		if a := scoreCommit(c, p); a != nil {
			out = append(out, a)
		}
	}
	zlog.Debug(ctx).
		Int("commits", len(commits)).
		Int("anomalies", len(out)).
		Msg("commits scored")
	return out
}

func scoreCommit(c *watchtower.Commit, p *watchtower.ContributorProfile) *watchtower.Anomaly {
	var fs []watchtower.AnomalyFactor
	add := func(name string, points int, format string, args ...interface{}) {
		fs = append(fs, watchtower.AnomalyFactor{
			Factor: name,
			Points: points,
			Reason: fmt.Sprintf(format, args...),
		})
	}

	if z, ok := zscore(float64(c.FilesChanged), p.AvgFilesChanged, p.StddevFilesChanged); ok {
		switch {
		case z >= zHigh:
			add("files_changed", pointsHigh, "%d files changed vs mean %.1f (z=%.1f)", c.FilesChanged, p.AvgFilesChanged, z)
		case z >= zMed:
			add("files_changed", pointsMed, "%d files changed vs mean %.1f (z=%.1f)", c.FilesChanged, p.AvgFilesChanged, z)
		}
	}

	lines := float64(c.LinesAdded + c.LinesDeleted)
	meanLines := p.AvgLinesAdded + p.AvgLinesDeleted
	sdLines := math.Sqrt(p.StddevLinesAdded*p.StddevLinesAdded + p.StddevLinesDeleted*p.StddevLinesDeleted)
	if z, ok := zscore(lines, meanLines, sdLines); ok {
		switch {
		case z >= zHigh:
			add("lines_changed", pointsHigh, "%.0f lines changed vs mean %.1f (z=%.1f)", lines, meanLines, z)
		case z >= zMed:
			add("lines_changed", pointsMed, "%.0f lines changed vs mean %.1f (z=%.1f)", lines, meanLines, z)
		}
	}

	if z, ok := zscore(float64(len(c.Message)), p.AvgMessageLength, p.StddevMessageLength); ok && math.Abs(z) >= zMed {
		add("message_length", pointsMinor, "message length %d vs mean %.1f (z=%.1f)", len(c.Message), p.AvgMessageLength, z)
	}

	if c.LinesDeleted > 0 && p.InsertToDeleteRatio != watchtower.RatioSentinel && p.InsertToDeleteRatio > 0 {
		r := float64(c.LinesAdded) / float64(c.LinesDeleted)
		drift := math.Abs(r-p.InsertToDeleteRatio) / p.InsertToDeleteRatio
		if drift > ratioDriftLimit {
			add("insert_delete_ratio", pointsMinor, "insert/delete ratio %.2f drifts %.0f%% from baseline %.2f", r, drift*100, p.InsertToDeleteRatio)
		}
	}

	if c.TimestampValid() {
		total := 0
		for _, n := range p.HourHistogram {
			total += n
		}
		if total > 0 {
			t := c.CommittedAt
			hk, dk := watchtower.HourKey(t.Hour()), watchtower.DayKey(t.Weekday())
			if frac := float64(p.HourHistogram[hk]) / float64(total); frac < rareHourFraction {
				add("commit_hour", pointsMinor, "author commits at %s in %.1f%% of history", hk, frac*100)
			}
			if frac := float64(p.DayHistogram[dk]) / float64(total); frac < rareDayFraction {
				add("commit_day", pointsMinor, "author commits on %s in %.1f%% of history", dk, frac*100)
			}
		}
	}

	newFiles := 0
	for _, f := range c.Diff.FilesChanged {
		if p.FilesWorkedOn[f] == 0 {
			newFiles++
		}
	}
	if newFiles > 0 {
		k := newFiles
		if k > newFileCap {
			k = newFileCap
		}
		add("new_files", newFilePoints*k, "%d file(s) the author never touched before", newFiles)
	}

	if len(fs) == 0 {
		return nil
	}
	a := &watchtower.Anomaly{
		CommitSHA:   c.SHA,
		AuthorEmail: strings.ToLower(c.AuthorEmail),
		Factors:     fs,
	}
	for _, f := range fs {
		a.Score += f.Points
	}
	return a
}

// zscore reports how many standard deviations x sits from mean. A zero
// deviation baseline yields no score.
func zscore(x, mean, stddev float64) (float64, bool) {
	if stddev == 0 {
		return 0, false
	}
	return (x - mean) / stddev, true
}
