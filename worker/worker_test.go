package worker

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower"
	"github.com/dephealth/watchtower/analyzer"
	"github.com/dephealth/watchtower/queue"
	"github.com/dephealth/watchtower/registry"
)

var testNames = QueueNames{
	NewVersion: "q-new",
	Main:       "q-main",
	Batch:      "q-batch",
}

// memQueue is an in-memory Queue. Pushed values land on the named
// list, so a job enqueued by one lifecycle can be popped by the next
// poll.
type memQueue struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	popErr  error
	pushErr error
}

func newMemQueue() *memQueue {
	return &memQueue{lists: map[string][][]byte{}}
}

func (q *memQueue) Pop(_ context.Context, name string) (*queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.popErr != nil {
		err := q.popErr
		q.popErr = nil
		return nil, err
	}
	l := q.lists[name]
	if len(l) == 0 {
		return nil, queue.ErrEmpty
	}
	b := l[0]
	q.lists[name] = l[1:]
	return &queue.Message{ID: uuid.New(), Queue: name, Body: b}, nil
}

func (q *memQueue) Push(_ context.Context, name string, v any) error {
	if q.pushErr != nil {
		return q.pushErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lists[name] = append(q.lists[name], b)
	return nil
}

// recStore implements Store in memory and records calls in order.
type recStore struct {
	depID    string
	analyzed map[string]struct{}

	calls      []string
	lastErrMsg string
}

func newRecStore() *recStore {
	return &recStore{analyzed: map[string]struct{}{}}
}

func (s *recStore) SetWatchedPackageStatus(_ context.Context, _ string, status watchtower.PackageStatus, errMsg string) error {
	s.calls = append(s.calls, "SetWatchedPackageStatus "+status.String())
	if errMsg != "" {
		s.lastErrMsg = errMsg
	}
	return nil
}

func (s *recStore) SetWatchedPackageResults(_ context.Context, _, latest string, _ *watchtower.VersionReport) error {
	s.calls = append(s.calls, "SetWatchedPackageResults "+latest)
	return nil
}

func (s *recStore) WatchedPackageDependencyID(_ context.Context, _ string) (string, error) {
	s.calls = append(s.calls, "WatchedPackageDependencyID")
	return s.depID, nil
}

func (s *recStore) UpsertVersionAnalysis(_ context.Context, _, version string, _ *watchtower.VersionReport) error {
	s.calls = append(s.calls, "UpsertVersionAnalysis "+version)
	return nil
}

func (s *recStore) SetVersionAnalysisError(_ context.Context, _, version, msg string) error {
	s.calls = append(s.calls, "SetVersionAnalysisError "+version)
	s.lastErrMsg = msg
	return nil
}

func (s *recStore) VersionsWithAnalysis(_ context.Context, _ string, _ []string) (map[string]struct{}, error) {
	s.calls = append(s.calls, "VersionsWithAnalysis")
	return s.analyzed, nil
}

func (s *recStore) VersionRowID(_ context.Context, _, version string) (string, error) {
	s.calls = append(s.calls, "VersionRowID "+version)
	return "row-" + version, nil
}

func (s *recStore) SetProjectDependencyVersion(_ context.Context, projectDepID, rowID string) error {
	s.calls = append(s.calls, "SetProjectDependencyVersion "+projectDepID+" "+rowID)
	return nil
}

func (s *recStore) DependencyLatestVersion(_ context.Context, _ string) (string, error) {
	s.calls = append(s.calls, "DependencyLatestVersion")
	return "", nil
}

func (s *recStore) DependencyLatestReleaseDate(_ context.Context, _ string) (*time.Time, error) {
	s.calls = append(s.calls, "DependencyLatestReleaseDate")
	return nil, nil
}

func (s *recStore) ReplacePackageCommits(_ context.Context, _ string, _ []*watchtower.Commit) error {
	s.calls = append(s.calls, "ReplacePackageCommits")
	return nil
}

func (s *recStore) ReplaceContributorProfiles(_ context.Context, _ string, profiles []*watchtower.ContributorProfile) (map[string]string, error) {
	s.calls = append(s.calls, "ReplaceContributorProfiles")
	ids := make(map[string]string, len(profiles))
	for _, p := range profiles {
		ids[p.AuthorEmail] = "prof-" + p.AuthorEmail
	}
	return ids, nil
}

func (s *recStore) StoreAnomalies(_ context.Context, _ string, _ []*watchtower.Anomaly, _ map[string]string) error {
	s.calls = append(s.calls, "StoreAnomalies")
	return nil
}

// stubAnalyzer returns canned results and records per-version calls.
type stubAnalyzer struct {
	pkg     analyzer.PackageResult
	pkgErr  error
	verErrs map[string]error

	verCalls []string
	cleaned  []string

	// started and release gate AnalyzePackage for shutdown tests.
	started chan struct{}
	release chan struct{}
}

func (a *stubAnalyzer) AnalyzePackage(_ context.Context, _ string) (analyzer.PackageResult, error) {
	if a.started != nil {
		close(a.started)
		<-a.release
	}
	if a.pkgErr != nil {
		res := analyzer.PackageResult{}
		res.WorkDir = "pkg-workdir"
		return res, a.pkgErr
	}
	return a.pkg, nil
}

func (a *stubAnalyzer) AnalyzeVersion(_ context.Context, name, version string) (analyzer.VersionResult, error) {
	a.verCalls = append(a.verCalls, version)
	if err := a.verErrs[version]; err != nil {
		return analyzer.VersionResult{WorkDir: "ver-" + version}, err
	}
	return analyzer.VersionResult{
		Report:  passReport(name, version),
		WorkDir: "ver-" + version,
	}, nil
}

func (a *stubAnalyzer) CleanupWorkdir(_ context.Context, dir string) {
	a.cleaned = append(a.cleaned, dir)
}

type stubBump struct {
	jobs []*queue.NewVersionJob
	err  error
}

func (b *stubBump) ProcessNewVersion(_ context.Context, job *queue.NewVersionJob) error {
	b.jobs = append(b.jobs, job)
	return b.err
}

func passReport(name, version string) *watchtower.VersionReport {
	return &watchtower.VersionReport{
		Package:   name,
		Version:   version,
		Integrity: watchtower.IntegrityResult{Status: watchtower.CheckPass},
		Scripts:   watchtower.ScriptsResult{Status: watchtower.CheckPass},
		Entropy:   watchtower.EntropyResult{Status: watchtower.CheckPass},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func testPackument() *registry.Packument {
	return &registry.Packument{
		Name:     "lodash",
		DistTags: map[string]string{"latest": "2.0.0"},
		Versions: map[string]registry.VersionMeta{
			"2.0.0": {},
			"1.9.0": {},
			"1.8.0": {},
			"1.0.0": {},
		},
		Time: map[string]string{
			"2.0.0": "2025-06-01T00:00:00Z",
			"1.9.0": "2025-05-01T00:00:00Z",
			"1.8.0": "2025-04-01T00:00:00Z",
			"1.0.0": "2025-01-01T00:00:00Z",
		},
	}
}

func TestPollPriority(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	q := newMemQueue()
	q.lists["q-batch"] = [][]byte{mustJSON(t, queue.BatchJob{
		DependencyID: "dep-1",
		PackageName:  "lodash",
		Versions:     []string{},
	})}
	q.lists["q-new"] = [][]byte{mustJSON(t, queue.NewVersionJob{
		Type:         queue.TypeNewVersion,
		DependencyID: "dep-1",
		Name:         "lodash",
		NewVersion:   "2.0.0",
	})}
	store := newRecStore()
	bump := &stubBump{}
	w := New(q, testNames, store, &stubAnalyzer{}, bump)

	popped, err := w.poll(ctx)
	if err != nil || !popped {
		t.Fatalf("got: (%v, %v), want a processed message", popped, err)
	}
	if len(bump.jobs) != 1 {
		t.Fatal("the new-version queue must drain before the batch queue")
	}
	if slices.Contains(store.calls, "VersionsWithAnalysis") {
		t.Fatal("batch job processed out of order")
	}

	popped, err = w.poll(ctx)
	if err != nil || !popped {
		t.Fatalf("got: (%v, %v), want a processed message", popped, err)
	}
	if !slices.Contains(store.calls, "VersionsWithAnalysis") {
		t.Error("batch job not processed on the second poll")
	}
}

func TestPollEmpty(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	w := New(newMemQueue(), testNames, newRecStore(), &stubAnalyzer{}, &stubBump{})

	popped, err := w.poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if popped {
		t.Error("nothing to pop from empty queues")
	}
}

func TestPollTransportError(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	q := newMemQueue()
	q.popErr = errors.New("connection refused")
	w := New(q, testNames, newRecStore(), &stubAnalyzer{}, &stubBump{})

	popped, err := w.poll(ctx)
	if err == nil || popped {
		t.Errorf("got: (%v, %v), want a transport error", popped, err)
	}
}

func TestNewVersionForwarding(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	bump := &stubBump{}
	w := New(newMemQueue(), testNames, newRecStore(), &stubAnalyzer{}, bump)

	err := w.runNewVersion(ctx, &queue.Message{
		ID:    uuid.New(),
		Queue: "q-new",
		Body: mustJSON(t, queue.NewVersionJob{
			Type:         queue.TypeNewVersion,
			DependencyID: "dep-1",
			Name:         "lodash",
			NewVersion:   "2.0.0",
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(bump.jobs) != 1 || bump.jobs[0].NewVersion != "2.0.0" {
		t.Errorf("got: %v, want the decoded job forwarded", bump.jobs)
	}
}

func TestNewVersionMalformed(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	bump := &stubBump{}
	w := New(newMemQueue(), testNames, newRecStore(), &stubAnalyzer{}, bump)

	err := w.runNewVersion(ctx, &queue.Message{
		ID:    uuid.New(),
		Queue: "q-new",
		Body:  []byte("not json"),
	})
	var de *queue.DecodeError
	if !errors.As(err, &de) {
		t.Errorf("got: %v, want a DecodeError", err)
	}
	if len(bump.jobs) != 0 {
		t.Error("malformed payloads must not reach the processor")
	}
}

func TestRunStopsDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(zlog.Test(context.Background(), t))
	w := New(newMemQueue(), testNames, newRecStore(), &stubAnalyzer{}, &stubBump{})
	w.PollInterval = time.Hour

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got: %v, want: %v", err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunFinishesInFlightJob(t *testing.T) {
	ctx, cancel := context.WithCancel(zlog.Test(context.Background(), t))
	q := newMemQueue()
	q.lists["q-main"] = [][]byte{mustJSON(t, queue.PackageJob{
		PackageName:         "lodash",
		WatchedPackageID:    "wp-1",
		ProjectDependencyID: "pd-1",
	})}
	store := newRecStore()
	an := &stubAnalyzer{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	an.pkg = analyzer.PackageResult{
		Version:   "2.0.0",
		Packument: testPackument(),
	}
	an.pkg.Report = passReport("lodash", "2.0.0")
	an.pkg.WorkDir = "pkg-workdir"
	w := New(q, testNames, store, an, &stubBump{})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	<-an.started
	cancel()
	close(an.release)
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got: %v, want: %v", err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	if !slices.Contains(store.calls, "SetWatchedPackageResults 2.0.0") {
		t.Error("in-flight job did not run to completion")
	}
}
