// Package worker polls the job queue and runs stage handlers.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/grazeapp/menupipe/internal/metrics"
	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Handler is one pipeline stage's job processor.
type Handler interface {
	Type() pipeline.JobType
	Handle(ctx context.Context, job pipeline.Job) error
}

// DefaultPollInterval is how long an idle worker waits between claims.
const DefaultPollInterval = 500 * time.Millisecond

// Config tunes one worker.
type Config struct {
	ID           string
	PollInterval time.Duration
}

// Worker claims jobs of its handler's type and runs them to completion.
type Worker struct {
	cfg     Config
	queue   pipeline.JobQueue
	handler Handler
	logger  *zap.Logger
}

// New creates a Worker.
func New(cfg Config, queue pipeline.JobQueue, handler Handler, logger *zap.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Worker{
		cfg:     cfg,
		queue:   queue,
		handler: handler,
		logger: logger.With(
			zap.String("worker_id", cfg.ID),
			zap.String("stage", string(handler.Type())),
		),
	}
}

// Run polls until the context is cancelled. A job claimed before
// cancellation is still driven to Complete or Fail.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ok, err := w.queue.Claim(ctx, w.cfg.ID, w.handler.Type())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", zap.Error(err))
		}
		if !ok || err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}
		w.process(ctx, job)
		if ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, job pipeline.Job) {
	stage := string(job.Type)
	start := time.Now()
	err := w.handler.Handle(ctx, job)
	metrics.ObserveJobAttempt(stage, time.Since(start))

	// Terminal bookkeeping must not be lost to the shutdown signal.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil {
		metrics.ObserveJob(stage, "failed")
		w.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Bool("permanent", pipeline.IsPermanent(err)),
			zap.Error(err),
		)
		if failErr := w.queue.Fail(finishCtx, job.ID, err); failErr != nil {
			w.logger.Error("record job failure", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return
	}

	metrics.ObserveJob(stage, "completed")
	if completeErr := w.queue.Complete(finishCtx, job.ID); completeErr != nil {
		w.logger.Error("record job completion", zap.String("job_id", job.ID), zap.Error(completeErr))
	}
}

// WorkerID builds a stable per-stage worker identity.
func WorkerID(stage pipeline.JobType, n int) string {
	return fmt.Sprintf("%s-worker-%d", stage, n)
}
