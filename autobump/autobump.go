// Package autobump turns release events into version-bump pull
// requests. For each event it verifies the target version, consults
// advisories for a veto, selects candidate projects, walks each
// candidate's watchlist state, and dispatches PRs through the PR
// service, pacing between candidates.
package autobump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"golang.org/x/time/rate"

	"github.com/dephealth/watchtower"
	"github.com/dephealth/watchtower/analyzer"
	"github.com/dephealth/watchtower/datastore"
	"github.com/dephealth/watchtower/queue"
)

var prTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "watchtower",
		Subsystem: "autobump",
		Name:      "pr_total",
		Help:      "Outcomes of bump PR dispatch attempts.",
	},
	[]string{"result"},
)

var (
	// ErrMissingVersion reports a new_version event that carries no
	// version.
	ErrMissingVersion = errors.New("Missing new_version")
	// ErrNoLatestVersion reports a quarantine_expired event for a
	// dependency with no known latest version.
	ErrNoLatestVersion = errors.New("No latest_version")
)

// Store is the slice of the datastore the orchestrator uses.
type Store interface {
	datastore.VersionStore
	datastore.AutoBumpStore
}

// VersionAnalyzer runs the per-version checks. Satisfied by
// [analyzer.Analyzer].
type VersionAnalyzer interface {
	AnalyzeVersion(ctx context.Context, name, version string) (analyzer.VersionResult, error)
	CleanupWorkdir(ctx context.Context, dir string)
}

var _ VersionAnalyzer = (*analyzer.Analyzer)(nil)

// Orchestrator processes NewVersionJob events.
type Orchestrator struct {
	Store    Store
	Analyzer VersionAnalyzer
	PR       PRService
	// Limiter paces PR dispatch between candidates.
	Limiter *rate.Limiter
	// QuarantineDays is the length of a newly armed quarantine,
	// counted from the release date.
	QuarantineDays int
}

// New returns an Orchestrator with the default pacing (one candidate
// per 500ms) and quarantine length (7 days).
func New(store Store, an VersionAnalyzer, pr PRService) *Orchestrator {
	return &Orchestrator{
		Store:          store,
		Analyzer:       an,
		PR:             pr,
		Limiter:        rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		QuarantineDays: 7,
	}
}

// ProcessNewVersion handles one release event. new_version events
// analyze and persist the announced version first; quarantine_expired
// events re-dispatch the stored latest version without re-analysis.
// PR failures are per-candidate and never fail the job.
func (o *Orchestrator) ProcessNewVersion(ctx context.Context, job *queue.NewVersionJob) error {
	ctx = zlog.ContextWithValues(ctx,
		"component", "autobump/Orchestrator.ProcessNewVersion",
		"package", job.Name,
		"type", job.Type)

	var (
		target    string
		releaseAt *time.Time
	)
	switch job.Type {
	case queue.TypeNewVersion:
		if job.NewVersion == "" {
			return ErrMissingVersion
		}
		if err := o.analyzeTarget(ctx, job); err != nil {
			return err
		}
		target = job.NewVersion
		if job.LatestReleaseDate != "" {
			at, err := time.Parse(time.RFC3339, job.LatestReleaseDate)
			if err != nil {
				zlog.Warn(ctx).
					Str("latest_release_date", job.LatestReleaseDate).
					Msg("unparseable release date, using current time")
			} else {
				releaseAt = &at
			}
		}
	case queue.TypeQuarantineExpired:
		latest, err := o.Store.DependencyLatestVersion(ctx, job.DependencyID)
		if err != nil {
			return fmt.Errorf("autobump: latest version lookup: %w", err)
		}
		if latest == "" {
			return ErrNoLatestVersion
		}
		target = latest
	default:
		return fmt.Errorf("autobump: unknown job type %q", job.Type)
	}

	return o.dispatchBumps(ctx, job.DependencyID, job.Name, target, releaseAt)
}

// analyzeTarget runs the checks for the announced version and persists
// the verdict. A failing verdict records an error row and stops the
// job before any PR dispatch.
func (o *Orchestrator) analyzeTarget(ctx context.Context, job *queue.NewVersionJob) error {
	res, err := o.Analyzer.AnalyzeVersion(ctx, job.Name, job.NewVersion)
	if res.WorkDir != "" {
		defer o.Analyzer.CleanupWorkdir(ctx, res.WorkDir)
	}
	if err != nil {
		if serr := o.Store.SetVersionAnalysisError(ctx, job.DependencyID, job.NewVersion, err.Error()); serr != nil {
			zlog.Warn(ctx).Err(serr).Msg("failed to record analysis error")
		}
		return fmt.Errorf("autobump: version analysis: %w", err)
	}
	if res.Report.Failed() {
		msg := "Checks failed: " + res.Report.Summary()
		if serr := o.Store.SetVersionAnalysisError(ctx, job.DependencyID, job.NewVersion, msg); serr != nil {
			zlog.Warn(ctx).Err(serr).Msg("failed to record failed checks")
		}
		return errors.New("autobump: " + msg)
	}
	if err := o.Store.UpsertVersionAnalysis(ctx, job.DependencyID, job.NewVersion, res.Report); err != nil {
		return fmt.Errorf("autobump: persist version analysis: %w", err)
	}
	return nil
}

func (o *Orchestrator) dispatchBumps(ctx context.Context, depID, name, target string, releaseAt *time.Time) error {
	ctx = zlog.ContextWithValues(ctx, "version", target)

	vulns, err := o.Store.DependencyVulnerabilities(ctx, depID)
	if err != nil {
		return fmt.Errorf("autobump: vulnerability lookup: %w", err)
	}
	for _, v := range vulns {
		if v.Vulnerable(target) {
			zlog.Warn(ctx).
				Str("osv_id", v.OSVID).
				Str("purl", watchtower.NPMPackageURL(name, target).String()).
				Msg("target version is vulnerable, holding auto-bump")
			return nil
		}
	}

	candidates, err := o.Store.CandidateProjects(ctx, depID, name)
	if err != nil {
		return fmt.Errorf("autobump: candidate lookup: %w", err)
	}
	if len(candidates) == 0 {
		zlog.Info(ctx).Msg("no candidate projects")
		return nil
	}

	until := o.quarantineUntil(ctx, depID, releaseAt)
	for _, c := range candidates {
		if err := o.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("autobump: %w", err)
		}
		if err := o.processCandidate(ctx, c, depID, name, target, until); err != nil {
			zlog.Warn(ctx).
				Str("project", c.ProjectID).
				Err(err).
				Msg("candidate bump failed")
		}
	}
	return nil
}

// quarantineUntil picks the deadline for a newly armed quarantine:
// QuarantineDays past the release date, falling back to the stored
// release date, then the current time.
func (o *Orchestrator) quarantineUntil(ctx context.Context, depID string, releaseAt *time.Time) time.Time {
	if releaseAt == nil {
		at, err := o.Store.DependencyLatestReleaseDate(ctx, depID)
		switch {
		case err != nil:
			zlog.Warn(ctx).Err(err).Msg("failed to read release date, using current time")
		case at != nil:
			releaseAt = at
		}
	}
	base := time.Now()
	if releaseAt != nil {
		base = *releaseAt
	}
	return base.UTC().Add(time.Duration(o.QuarantineDays) * 24 * time.Hour)
}

func (o *Orchestrator) processCandidate(ctx context.Context, c watchtower.BumpCandidate, depID, name, target string, until time.Time) error {
	ctx = zlog.ContextWithValues(ctx,
		"project", c.ProjectID,
		"organization", c.OrganizationID)

	w, err := o.Store.WatchlistRow(ctx, c.OrganizationID, depID)
	if err != nil {
		return err
	}
	state := evalWatchlist(w, time.Now())
	mut, dispatch := decide(state)
	switch mut {
	case mutArmQuarantine:
		if err := o.Store.SetWatchlistQuarantineNextRelease(ctx, w.ID, until); err != nil {
			return err
		}
		zlog.Info(ctx).Time("until", until).Msg("release quarantined")
	case mutClearQuarantine:
		if err := o.Store.ClearWatchlistQuarantine(ctx, w.ID, target); err != nil {
			return err
		}
		zlog.Info(ctx).Msg("expired quarantine cleared")
	case mutSetLatestAllowed:
		if err := o.Store.SetWatchlistLatestAllowed(ctx, w.ID, target); err != nil {
			return err
		}
	}
	if !dispatch {
		zlog.Debug(ctx).Stringer("state", state).Msg("bump withheld")
		return nil
	}
	o.createPR(ctx, c, name, target)
	return nil
}

// createPR dispatches one bump PR. Failures are logged and counted,
// never returned: a project that cannot receive a PR does not stop
// the others.
func (o *Orchestrator) createPR(ctx context.Context, c watchtower.BumpCandidate, name, target string) {
	pr, err := o.PR.CreateBumpPR(ctx, BumpPRRequest{
		ProjectID:      c.ProjectID,
		OrganizationID: c.OrganizationID,
		PackageName:    name,
		TargetVersion:  target,
		CurrentVersion: c.CurrentVersion,
	})
	switch {
	case err == nil && pr.Status == StatusAlreadyExists:
		prTotal.WithLabelValues(StatusAlreadyExists).Add(1)
		zlog.Info(ctx).Msg("bump PR already exists")
	case err == nil:
		prTotal.WithLabelValues(StatusCreated).Add(1)
		zlog.Info(ctx).
			Str("url", pr.URL).
			Int("number", pr.Number).
			Msg("bump PR created")
	default:
		if reason := degradedReason(err); reason != "" {
			prTotal.WithLabelValues("degraded").Add(1)
			zlog.Warn(ctx).Str("reason", reason).Msg("bump PR not possible for project")
		} else {
			prTotal.WithLabelValues("error").Add(1)
			zlog.Warn(ctx).Err(err).Msg("failed to create bump PR")
		}
	}
}
