package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower/queue"
)

func batchMessage(t *testing.T, versions []string) *queue.Message {
	t.Helper()
	return &queue.Message{
		ID:    uuid.New(),
		Queue: "q-batch",
		Body: mustJSON(t, queue.BatchJob{
			DependencyID: "dep-1",
			PackageName:  "lodash",
			Versions:     versions,
		}),
	}
}

func TestBatchLifecycle(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newRecStore()
	store.analyzed = map[string]struct{}{"1.9.0": {}}
	an := &stubAnalyzer{verErrs: map[string]error{"1.8.0": errors.New("tarball 404")}}
	w := New(newMemQueue(), testNames, store, an, &stubBump{})

	// One version already analyzed, one failing, one fresh. Failures
	// stay inside their version.
	if err := w.runBatch(ctx, batchMessage(t, []string{"1.9.0", "1.8.0", "1.7.0"})); err != nil {
		t.Fatal(err)
	}
	if got, want := an.verCalls, []string{"1.8.0", "1.7.0"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	want := []string{
		"VersionsWithAnalysis",
		"SetVersionAnalysisError 1.8.0",
		"UpsertVersionAnalysis 1.7.0",
	}
	if got := store.calls; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if got, want := store.lastErrMsg, "tarball 404"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if got, want := an.cleaned, []string{"ver-1.8.0", "ver-1.7.0"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestBatchAllAnalyzed(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newRecStore()
	store.analyzed = map[string]struct{}{"1.9.0": {}, "1.8.0": {}}
	an := &stubAnalyzer{}
	w := New(newMemQueue(), testNames, store, an, &stubBump{})

	if err := w.runBatch(ctx, batchMessage(t, []string{"1.9.0", "1.8.0"})); err != nil {
		t.Fatal(err)
	}
	if len(an.verCalls) != 0 {
		t.Errorf("got: %v, want no re-analysis of completed versions", an.verCalls)
	}
}

func TestBatchMalformed(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	w := New(newMemQueue(), testNames, newRecStore(), &stubAnalyzer{}, &stubBump{})

	err := w.runBatch(ctx, &queue.Message{ID: uuid.New(), Queue: "q-batch", Body: []byte(`{"dependency_id":"dep-1"}`)})
	var de *queue.DecodeError
	if !errors.As(err, &de) {
		t.Errorf("got: %v, want a DecodeError", err)
	}
}
