// Package memory provides an in-memory job queue for local development.
// It honors the same claim/retry semantics as the postgres queue.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Config tunes retry behavior.
type Config struct {
	// BackoffBase is the delay before the first retry; doubled per attempt.
	BackoffBase time.Duration
	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration
}

// Queue is a mutex-guarded priority queue with exponential-backoff retries.
type Queue struct {
	mu      sync.Mutex
	pending *jobHeap
	jobs    map[string]*pipeline.Job
	clock   pipeline.Clock
	cfg     Config
}

// NewQueue constructs an empty queue.
func NewQueue(clock pipeline.Clock, cfg Config) *Queue {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Minute
	}
	q := &Queue{
		pending: &jobHeap{},
		jobs:    make(map[string]*pipeline.Job),
		clock:   clock,
		cfg:     cfg,
	}
	heap.Init(q.pending)
	return q
}

// Enqueue persists a new pending job.
func (q *Queue) Enqueue(_ context.Context, job pipeline.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = pipeline.DefaultMaxAttempts
	}
	job.Status = pipeline.JobStatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.clock.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already enqueued", job.ID)
	}
	stored := job
	q.jobs[job.ID] = &stored
	heap.Push(q.pending, &stored)
	return nil
}

// Claim pops the highest-priority eligible pending job of one of the given
// types and moves it to processing. Exclusive: a job is handed to exactly one
// worker.
func (q *Queue) Claim(_ context.Context, workerID string, types ...pipeline.JobType) (pipeline.Job, bool, error) {
	if workerID == "" {
		return pipeline.Job{}, false, fmt.Errorf("worker id is required")
	}
	wanted := make(map[pipeline.JobType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	// Pop until an eligible job surfaces, parking the rest for reinsertion.
	var skipped []*pipeline.Job
	var claimed *pipeline.Job
	for q.pending.Len() > 0 {
		j := heap.Pop(q.pending).(*pipeline.Job)
		if (len(wanted) == 0 || wanted[j.Type]) && !j.NotBefore.After(now) {
			claimed = j
			break
		}
		skipped = append(skipped, j)
	}
	for _, j := range skipped {
		heap.Push(q.pending, j)
	}
	if claimed == nil {
		return pipeline.Job{}, false, nil
	}

	claimed.Status = pipeline.JobStatusProcessing
	claimed.WorkerID = workerID
	claimed.Attempts++
	started := now
	claimed.StartedAt = &started
	return *claimed, true, nil
}

// Complete marks a processing job completed.
func (q *Queue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q: %w", jobID, pipeline.ErrNotFound)
	}
	if j.Status != pipeline.JobStatusProcessing {
		return fmt.Errorf("job %q is %s, not processing", jobID, j.Status)
	}
	j.Status = pipeline.JobStatusCompleted
	done := q.clock.Now()
	j.CompletedAt = &done
	return nil
}

// Fail records a failure. Transient failures requeue with exponential
// backoff until attempts reach max; permanent failures and exhausted jobs
// go terminal-failed.
func (q *Queue) Fail(_ context.Context, jobID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q: %w", jobID, pipeline.ErrNotFound)
	}
	if j.Status != pipeline.JobStatusProcessing {
		return fmt.Errorf("job %q is %s, not processing", jobID, j.Status)
	}
	if cause != nil {
		j.LastError = cause.Error()
	}

	if pipeline.IsPermanent(cause) || j.Attempts >= j.MaxAttempts {
		j.Status = pipeline.JobStatusFailed
		done := q.clock.Now()
		j.CompletedAt = &done
		return nil
	}

	j.Status = pipeline.JobStatusPending
	j.WorkerID = ""
	j.NotBefore = q.clock.Now().Add(q.backoff(j.Attempts))
	heap.Push(q.pending, j)
	return nil
}

// Stats reports pending/processing/failed counts per job type.
func (q *Queue) Stats(_ context.Context) (map[pipeline.JobType]pipeline.StageStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[pipeline.JobType]pipeline.StageStats)
	for _, j := range q.jobs {
		st := out[j.Type]
		switch j.Status {
		case pipeline.JobStatusPending:
			st.Pending++
		case pipeline.JobStatusProcessing:
			st.Processing++
		case pipeline.JobStatusFailed:
			st.Failed++
		}
		out[j.Type] = st
	}
	return out, nil
}

// Get returns a snapshot of one job (test helper).
func (q *Queue) Get(jobID string) (pipeline.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return pipeline.Job{}, false
	}
	return *j, true
}

// backoff returns base × 2^(attempt-1) capped at the configured ceiling.
func (q *Queue) backoff(attempt int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.BackoffCap {
			return q.cfg.BackoffCap
		}
	}
	if d > q.cfg.BackoffCap {
		return q.cfg.BackoffCap
	}
	return d
}

// jobHeap orders by priority desc, then created-at asc for FIFO fairness.
type jobHeap []*pipeline.Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*pipeline.Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
