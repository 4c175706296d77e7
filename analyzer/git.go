package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/quay/zlog"
)

// Source obtains package source code and history. The production
// implementation shells out to git; tests substitute fixtures.
type Source interface {
	// CloneTag makes a minimal checkout of one tag into dst.
	CloneTag(ctx context.Context, repoURL, tag, dst string) error
	// CloneHistory makes a checkout with enough history for commit
	// extraction into dst.
	CloneHistory(ctx context.Context, repoURL, dst string) error
	// Log returns raw "git log" output for the checkout at dir, newest
	// first, at most max commits.
	Log(ctx context.Context, dir string, max int) ([]byte, error)
}

// historyDepth bounds how much history CloneHistory pulls; it only
// needs to cover the commit window Log reads.
const historyDepth = 300

const (
	cloneTimeout = 120 * time.Second
	logTimeout   = 60 * time.Second
)

// gitSource runs a git executable found on PATH.
type gitSource struct {
	exe string
}

var _ Source = (*gitSource)(nil)

// NewGitSource locates git and returns a Source backed by it.
func NewGitSource() (Source, error) {
	p, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("analyzer: no git executable on PATH: %w", err)
	}
	return &gitSource{exe: p}, nil
}

func (g *gitSource) CloneTag(ctx context.Context, repoURL, tag, dst string) error {
	ctx, done := context.WithTimeout(ctx, cloneTimeout)
	defer done()
	_, err := g.run(ctx, "",
		"clone", "--quiet", "--depth", "1", "--branch", tag, "--single-branch", repoURL, dst)
	return err
}

func (g *gitSource) CloneHistory(ctx context.Context, repoURL, dst string) error {
	ctx, done := context.WithTimeout(ctx, cloneTimeout)
	defer done()
	_, err := g.run(ctx, "",
		"clone", "--quiet", "--depth", strconv.Itoa(historyDepth), "--single-branch", repoURL, dst)
	return err
}

func (g *gitSource) Log(ctx context.Context, dir string, max int) ([]byte, error) {
	ctx, done := context.WithTimeout(ctx, logTimeout)
	defer done()
	return g.run(ctx, dir,
		"log", "--numstat", "-p", "--no-color", "--date=iso-strict",
		"-n", strconv.Itoa(max), "--format="+logFormat)
}

// run executes git with args, in dir if non-empty, and returns stdout.
func (g *gitSource) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	zlog.Debug(ctx).
		Str("component", "analyzer/gitSource.run").
		Str("args", strings.Join(args, " ")).
		Msg("exec git")
	cmd := exec.CommandContext(ctx, g.exe, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &GitError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// GitError reports a failed git invocation along with what git printed
// to stderr.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	tail := strings.TrimSpace(e.Stderr)
	if i := strings.LastIndexByte(tail, '\n'); i != -1 {
		tail = tail[i+1:]
	}
	if tail == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, tail)
}

func (e *GitError) Unwrap() error { return e.Err }
