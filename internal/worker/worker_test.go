package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
	queuemem "github.com/grazeapp/menupipe/internal/queue/memory"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type recordingHandler struct {
	jobType pipeline.JobType
	mu      sync.Mutex
	jobs    []pipeline.Job
	errs    map[string]error
}

func (h *recordingHandler) Type() pipeline.JobType { return h.jobType }

func (h *recordingHandler) Handle(_ context.Context, job pipeline.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return h.errs[job.ID]
}

func (h *recordingHandler) seen() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

func enqueue(t *testing.T, q *queuemem.Queue, id string, jobType pipeline.JobType) {
	t.Helper()
	require.NoError(t, q.Enqueue(context.Background(), pipeline.Job{
		ID: id, Type: jobType, Payload: []byte(`{}`),
	}))
}

func TestWorkerCompletesJobs(t *testing.T) {
	t.Parallel()
	metrics.Init()
	queue := queuemem.NewQueue(realClock{}, queuemem.Config{})
	handler := &recordingHandler{jobType: pipeline.JobTypeLabel}
	enqueue(t, queue, "job-1", pipeline.JobTypeLabel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(Config{ID: "w-1", PollInterval: 5 * time.Millisecond}, queue, handler, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, ok := queue.Get("job-1")
		return ok && job.Status == pipeline.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, handler.seen())
	cancel()
}

func TestWorkerFailsAndRetries(t *testing.T) {
	t.Parallel()
	metrics.Init()
	queue := queuemem.NewQueue(realClock{}, queuemem.Config{
		BackoffBase: time.Millisecond, BackoffCap: 2 * time.Millisecond,
	})
	handler := &recordingHandler{
		jobType: pipeline.JobTypeLabel,
		errs:    map[string]error{"job-1": fmt.Errorf("transient")},
	}
	enqueue(t, queue, "job-1", pipeline.JobTypeLabel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(Config{ID: "w-1", PollInterval: 5 * time.Millisecond}, queue, handler, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, ok := queue.Get("job-1")
		return ok && job.Status == pipeline.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, pipeline.DefaultMaxAttempts, handler.seen())
	cancel()
}

func TestWorkerPermanentErrorSkipsRetry(t *testing.T) {
	t.Parallel()
	metrics.Init()
	queue := queuemem.NewQueue(realClock{}, queuemem.Config{BackoffBase: time.Millisecond})
	handler := &recordingHandler{
		jobType: pipeline.JobTypeLabel,
		errs:    map[string]error{"job-1": pipeline.Permanentf("bad payload")},
	}
	enqueue(t, queue, "job-1", pipeline.JobTypeLabel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := New(Config{ID: "w-1", PollInterval: 5 * time.Millisecond}, queue, handler, zap.NewNop())
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		job, ok := queue.Get("job-1")
		return ok && job.Status == pipeline.JobStatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, handler.seen())
	cancel()
}

func TestDispatcherRunsPoolsAndDrains(t *testing.T) {
	t.Parallel()
	metrics.Init()
	queue := queuemem.NewQueue(realClock{}, queuemem.Config{})
	labelHandler := &recordingHandler{jobType: pipeline.JobTypeLabel}
	embedHandler := &recordingHandler{jobType: pipeline.JobTypeEmbed}
	for i := 0; i < 10; i++ {
		enqueue(t, queue, fmt.Sprintf("label-%d", i), pipeline.JobTypeLabel)
		enqueue(t, queue, fmt.Sprintf("embed-%d", i), pipeline.JobTypeEmbed)
	}

	d := NewDispatcher(queue, []Pool{
		{Handler: labelHandler, Count: 3},
		{Handler: embedHandler, Count: 2},
	}, 5*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	go func() {
		_ = d.Run(ctx)
		done.Store(true)
	}()

	require.Eventually(t, func() bool {
		return labelHandler.seen() == 10 && embedHandler.seen() == 10
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, done.Load, 2*time.Second, 5*time.Millisecond)
}
