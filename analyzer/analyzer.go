// Package analyzer runs supply-chain checks against published npm
// package versions.
//
// A version analysis downloads the registry artifact into a scratch
// workspace and runs three checks over it: a comparison against the
// tagged source repository, an install-script scan, and a file entropy
// scan. A package analysis additionally extracts recent commit history
// from the source repository for behavioral profiling.
//
// Workspaces are reported back to the caller rather than cleaned up
// eagerly, so callers can inspect them on failure. Call
// [Analyzer.CleanupWorkdir] when done.
package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
	"github.com/dephealth/watchtower/registry"
)

// Analyzer coordinates registry downloads and source clones for one
// analysis at a time. It is safe for concurrent use.
type Analyzer struct {
	registry *registry.Client
	source   Source
	workRoot string
}

// Options configures an Analyzer. All fields are optional.
type Options struct {
	// Registry is the npm registry client. Defaults to a client for
	// the public registry.
	Registry *registry.Client
	// Source fetches git repositories. Defaults to the git executable
	// found on PATH.
	Source Source
	// WorkRoot is the parent directory for analysis workspaces.
	// Defaults to the system temp directory.
	WorkRoot string
}

// New returns an Analyzer using the provided options.
func New(opts Options) (*Analyzer, error) {
	a := &Analyzer{
		registry: opts.Registry,
		source:   opts.Source,
		workRoot: opts.WorkRoot,
	}
	var err error
	if a.registry == nil {
		a.registry, err = registry.NewClient("", nil)
		if err != nil {
			return nil, err
		}
	}
	if a.source == nil {
		a.source, err = NewGitSource()
		if err != nil {
			return nil, err
		}
	}
	if a.workRoot == "" {
		a.workRoot = os.TempDir()
	}
	return a, nil
}

// VersionResult is the outcome of a single-version analysis.
//
// WorkDir is set as soon as the workspace exists, including on error
// returns, so callers can always clean up.
type VersionResult struct {
	Report  *watchtower.VersionReport
	WorkDir string
}

// PackageResult is the outcome of a full package analysis of the
// latest published version.
type PackageResult struct {
	VersionResult
	// Version is the latest dist-tag at analysis time.
	Version string
	// Commits is extracted history, newest first. Empty when the
	// package publishes no usable source URL.
	Commits []*watchtower.Commit
	// Packument is the registry document the analysis ran against,
	// kept so callers can enumerate versions without a second fetch.
	Packument *registry.Packument
}

// AnalyzeVersion checks one published version of a package.
func (a *Analyzer) AnalyzeVersion(ctx context.Context, name, version string) (VersionResult, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "analyzer/Analyzer.AnalyzeVersion",
		"package", name,
		"version", version)
	var res VersionResult
	wd, err := os.MkdirTemp(a.workRoot, "watchtower-*")
	if err != nil {
		return res, fmt.Errorf("analyzer: unable to create workspace: %w", err)
	}
	res.WorkDir = wd
	pk, err := a.registry.Packument(ctx, name)
	if err != nil {
		return res, err
	}
	res.Report, err = a.analyzeVersion(ctx, pk, name, version, wd)
	return res, err
}

// AnalyzePackage checks the latest published version of a package and
// extracts its recent commit history.
func (a *Analyzer) AnalyzePackage(ctx context.Context, name string) (PackageResult, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "analyzer/Analyzer.AnalyzePackage",
		"package", name)
	var res PackageResult
	wd, err := os.MkdirTemp(a.workRoot, "watchtower-*")
	if err != nil {
		return res, fmt.Errorf("analyzer: unable to create workspace: %w", err)
	}
	res.WorkDir = wd
	pk, err := a.registry.Packument(ctx, name)
	if err != nil {
		return res, err
	}
	v := pk.Latest()
	if v == "" {
		return res, fmt.Errorf("analyzer: package %q has no latest dist-tag", name)
	}
	res.Version = v
	res.Packument = pk
	ctx = zlog.ContextWithValues(ctx, "version", v)
	res.Report, err = a.analyzeVersion(ctx, pk, name, v, wd)
	if err != nil {
		return res, err
	}
	res.Commits, err = a.extractCommits(ctx, pk, v, wd)
	return res, err
}

func (a *Analyzer) analyzeVersion(ctx context.Context, pk *registry.Packument, name, version, workDir string) (*watchtower.VersionReport, error) {
	artifactDir := filepath.Join(workDir, "npm")
	if err := a.registry.FetchTarball(ctx, pk, version, artifactDir); err != nil {
		return nil, err
	}
	rep := &watchtower.VersionReport{
		Package: name,
		Version: version,
	}
	var err error
	rep.Integrity, err = a.checkIntegrity(ctx, pk, version, artifactDir, workDir)
	if err != nil {
		return nil, err
	}
	rep.Scripts, err = checkScripts(ctx, artifactDir)
	if err != nil {
		return nil, err
	}
	rep.Entropy, err = scanEntropy(ctx, artifactDir)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Str("registry", rep.Integrity.Status.String()).
		Str("scripts", rep.Scripts.Status.String()).
		Str("entropy", rep.Entropy.Status.String()).
		Msg("version analysis done")
	return rep, nil
}

// extractCommits clones recent history and parses it. A missing or
// unusable source URL is not an error, a failed clone of a usable one
// is.
func (a *Analyzer) extractCommits(ctx context.Context, pk *registry.Packument, version, workDir string) ([]*watchtower.Commit, error) {
	repo := sourceRepository(pk, version)
	if repo == nil || repo.URL == "" {
		zlog.Info(ctx).Msg("no source URL, skipping commit history")
		return nil, nil
	}
	cloneURL, err := ParseSourceURL(repo.URL)
	if err != nil {
		zlog.Info(ctx).
			Str("repository", repo.URL).
			Err(err).
			Msg("unusable source URL, skipping commit history")
		return nil, nil
	}
	dir := filepath.Join(workDir, "history")
	if err := a.source.CloneHistory(ctx, cloneURL, dir); err != nil {
		return nil, fmt.Errorf("analyzer: history clone: %w", err)
	}
	raw, err := a.source.Log(ctx, dir, historyDepth)
	if err != nil {
		return nil, fmt.Errorf("analyzer: git log: %w", err)
	}
	cs := parseGitLog(raw, historyDepth)
	zlog.Debug(ctx).
		Int("commits", len(cs)).
		Msg("extracted commit history")
	return cs, nil
}

// CleanupWorkdir removes an analysis workspace. It tolerates an empty
// path and an already removed directory.
func (a *Analyzer) CleanupWorkdir(ctx context.Context, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		zlog.Warn(ctx).
			Str("dir", dir).
			Err(err).
			Msg("unable to remove analysis workspace")
	}
}
