// Package profiler builds per-contributor statistical baselines from
// extracted commit history and scores individual commits against them.
//
// Baselines are population statistics over everything a contributor
// committed, plus activity histograms over the commits that carry a
// real timestamp. Imported history with unknown dates keeps its line
// counts but stays out of the time-of-day picture.
package profiler

import (
	"context"
	"math"
	"runtime"
	"sort"
	"strings"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/dephealth/watchtower"
)

// Build groups commits by author email and computes one profile per
// contributor, ordered by email. Contributors whose commits all lack a
// usable timestamp are dropped.
func Build(ctx context.Context, commits []*watchtower.Commit) ([]*watchtower.ContributorProfile, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "profiler/Build")
	byAuthor := make(map[string][]*watchtower.Commit)
	for _, c := range commits {
		email := strings.ToLower(c.AuthorEmail)
		if email == "" {
			continue
		}
		byAuthor[email] = append(byAuthor[email], c)
	}
	emails := make([]string, 0, len(byAuthor))
	for e := range byAuthor {
		emails = append(emails, e)
	}
	sort.Strings(emails)

	built := make([]*watchtower.ContributorProfile, len(emails))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, email := range emails {
		i, email := i, email
		g.Go(func() error {
			built[i] = buildProfile(email, byAuthor[email])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*watchtower.ContributorProfile, 0, len(built))
	for i, p := range built {
		if p == nil {
			zlog.Warn(ctx).
				Str("author", emails[i]).
				Int("commits", len(byAuthor[emails[i]])).
				Msg("no usable timestamps for author, dropping profile")
			continue
		}
		out = append(out, p)
	}
	zlog.Debug(ctx).
		Int("commits", len(commits)).
		Int("profiles", len(out)).
		Msg("profiles built")
	return out, nil
}

func buildProfile(email string, cs []*watchtower.Commit) *watchtower.ContributorProfile {
	valid := 0
	for _, c := range cs {
		if c.TimestampValid() {
			valid++
		}
	}
	if valid == 0 {
		return nil
	}

	p := &watchtower.ContributorProfile{
		AuthorEmail:   email,
		CommitCount:   len(cs),
		HourHistogram: make(map[string]int),
		DayHistogram:  make(map[string]int),
		FilesWorkedOn: make(map[string]int),
	}
	added := make([]float64, 0, len(cs))
	deleted := make([]float64, 0, len(cs))
	files := make([]float64, 0, len(cs))
	msglen := make([]float64, 0, len(cs))
	var sumAdded, sumDeleted int
	for _, c := range cs {
		added = append(added, float64(c.LinesAdded))
		deleted = append(deleted, float64(c.LinesDeleted))
		files = append(files, float64(c.FilesChanged))
		msglen = append(msglen, float64(len(c.Message)))
		sumAdded += c.LinesAdded
		sumDeleted += c.LinesDeleted
		if p.AuthorName == "" {
			p.AuthorName = c.AuthorName
		}
		for _, f := range c.Diff.FilesChanged {
			p.FilesWorkedOn[f]++
		}
		if !c.TimestampValid() {
			continue
		}
		// Histograms use the wall clock the author committed at, via
		// the offset recorded in the commit date.
		t := c.CommittedAt
		p.HourHistogram[watchtower.HourKey(t.Hour())]++
		p.DayHistogram[watchtower.DayKey(t.Weekday())]++
		p.Heatmap[int(t.Weekday())][t.Hour()]++
		if p.FirstCommitAt.IsZero() || t.Before(p.FirstCommitAt) {
			p.FirstCommitAt = t
		}
		if t.After(p.LastCommitAt) {
			p.LastCommitAt = t
		}
	}
	p.AvgLinesAdded, p.StddevLinesAdded = meanStddev(added)
	p.AvgLinesDeleted, p.StddevLinesDeleted = meanStddev(deleted)
	p.AvgFilesChanged, p.StddevFilesChanged = meanStddev(files)
	p.AvgMessageLength, p.StddevMessageLength = meanStddev(msglen)
	if sumDeleted == 0 {
		p.InsertToDeleteRatio = watchtower.RatioSentinel
	} else {
		p.InsertToDeleteRatio = float64(sumAdded) / float64(sumDeleted)
	}
	return p
}

// meanStddev returns the mean and population standard deviation.
func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
