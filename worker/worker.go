// Package worker implements the job loop: three queues drained in
// strict priority order, dispatching to the package, version, and
// release lifecycles.
package worker

import (
	"context"
	"errors"
	"runtime/trace"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	"github.com/dephealth/watchtower/analyzer"
	"github.com/dephealth/watchtower/autobump"
	"github.com/dephealth/watchtower/datastore"
	"github.com/dephealth/watchtower/queue"
)

var (
	jobCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "watchtower",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total number of jobs processed, by queue and result.",
		},
		[]string{"queue", "result"},
	)
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "watchtower",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "The duration of processed jobs, by queue",
		},
		[]string{"queue"},
	)
)

// Stable queue labels for metrics and logs, independent of the
// deployment's list names.
const (
	kindNewVersion = "new_version"
	kindMain       = "main"
	kindBatch      = "batch"
)

// QueueNames holds the three queue list names, highest priority
// first.
type QueueNames struct {
	NewVersion string
	Main       string
	Batch      string
}

// Store is the slice of the datastore the worker writes.
// [datastore.Store] satisfies it.
type Store interface {
	datastore.PackageStore
	datastore.VersionStore
	datastore.ActivityStore
}

// PackageAnalyzer runs the full-package and per-version pipelines.
// Satisfied by [analyzer.Analyzer].
type PackageAnalyzer interface {
	AnalyzePackage(ctx context.Context, name string) (analyzer.PackageResult, error)
	AnalyzeVersion(ctx context.Context, name, version string) (analyzer.VersionResult, error)
	CleanupWorkdir(ctx context.Context, dir string)
}

var _ PackageAnalyzer = (*analyzer.Analyzer)(nil)

// ReleaseProcessor handles release events popped off the new-version
// queue. Satisfied by [autobump.Orchestrator].
type ReleaseProcessor interface {
	ProcessNewVersion(ctx context.Context, job *queue.NewVersionJob) error
}

var _ ReleaseProcessor = (*autobump.Orchestrator)(nil)

// Worker drains the three queues.
type Worker struct {
	Queues   queue.Queue
	Names    QueueNames
	Store    Store
	Analyzer PackageAnalyzer
	Bump     ReleaseProcessor
	// PollInterval is how long to sleep after finding every queue
	// empty.
	PollInterval time.Duration
	// Backoff is how long to sleep after a queue transport error.
	Backoff time.Duration
}

// New returns a Worker with the default poll interval and backoff.
func New(q queue.Queue, names QueueNames, store Store, an PackageAnalyzer, bump ReleaseProcessor) *Worker {
	return &Worker{
		Queues:       q,
		Names:        names,
		Store:        store,
		Analyzer:     an,
		Bump:         bump,
		PollInterval: 5 * time.Second,
		Backoff:      5 * time.Second,
	}
}

// Run processes jobs until ctx is canceled, then returns ctx's error.
//
// Every iteration re-checks the queues from the highest priority down,
// so a lower-priority backlog can delay a new arrival by at most one
// job. Once ctx is done no further messages are popped; a job already
// popped runs to completion.
func (w *Worker) Run(ctx context.Context) error {
	ctx = zlog.ContextWithValues(ctx, "component", "worker/Worker.Run")
	zlog.Info(ctx).
		Str("new_version", w.Names.NewVersion).
		Str("main", w.Names.Main).
		Str("batch", w.Names.Batch).
		Msg("worker started")
	for {
		if err := ctx.Err(); err != nil {
			zlog.Info(ctx).Msg("worker stopped")
			return err
		}
		popped, err := w.poll(ctx)
		switch {
		case errors.Is(err, nil):
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			continue
		default:
			zlog.Warn(ctx).Err(err).Msg("queue transport error, backing off")
			sleep(ctx, w.Backoff)
			continue
		}
		if !popped {
			sleep(ctx, w.PollInterval)
		}
	}
}

// poll pops and processes at most one message, highest-priority
// non-empty queue first. The bool reports whether a message was
// processed.
func (w *Worker) poll(ctx context.Context) (bool, error) {
	for _, q := range []struct {
		Name string
		Kind string
	}{
		{w.Names.NewVersion, kindNewVersion},
		{w.Names.Main, kindMain},
		{w.Names.Batch, kindBatch},
	} {
		m, err := w.Queues.Pop(ctx, q.Name)
		switch {
		case errors.Is(err, nil):
		case errors.Is(err, queue.ErrEmpty):
			continue
		default:
			return false, err
		}
		w.process(ctx, q.Kind, m)
		return true, nil
	}
	return false, nil
}

func (w *Worker) process(ctx context.Context, kind string, m *queue.Message) {
	// A popped job runs to completion; cancellation only stops new
	// pops.
	ctx = context.WithoutCancel(ctx)
	ctx = zlog.ContextWithValues(ctx,
		"job_id", m.ID.String(),
		"queue", kind)
	ctx, task := trace.NewTask(ctx, "worker/job")
	defer task.End()
	trace.Log(ctx, "queue", m.Queue)
	zlog.Info(ctx).Msg("job popped")

	start := time.Now()
	var err error
	switch kind {
	case kindNewVersion:
		err = w.runNewVersion(ctx, m)
	case kindMain:
		err = w.runMain(ctx, m)
	case kindBatch:
		err = w.runBatch(ctx, m)
	}
	jobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	var de *queue.DecodeError
	switch {
	case errors.Is(err, nil):
		jobCounter.WithLabelValues(kind, "ok").Add(1)
		zlog.Info(ctx).
			Dur("duration", time.Since(start)).
			Msg("job finished")
	case errors.As(err, &de):
		jobCounter.WithLabelValues(kind, "malformed").Add(1)
		zlog.Error(ctx).Err(err).Msg("malformed job payload")
	default:
		jobCounter.WithLabelValues(kind, "error").Add(1)
		zlog.Error(ctx).Err(err).Msg("job failed")
	}
}

func (w *Worker) runNewVersion(ctx context.Context, m *queue.Message) error {
	job, err := queue.DecodeNewVersion(m.Body)
	if err != nil {
		return err
	}
	return w.Bump.ProcessNewVersion(ctx, job)
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
