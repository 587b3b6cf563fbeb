package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Pool is one stage's worker allocation.
type Pool struct {
	Handler Handler
	Count   int
}

// Dispatcher fans worker goroutines out over the queue, one pool per stage.
type Dispatcher struct {
	queue        pipeline.JobQueue
	pools        []Pool
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewDispatcher creates a Dispatcher. Pools with a non-positive count get
// one worker.
func NewDispatcher(queue pipeline.JobQueue, pools []Pool, pollInterval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{queue: queue, pools: pools, pollInterval: pollInterval, logger: logger}
}

// Run starts every worker and blocks until the context is cancelled and
// all workers have drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, pool := range d.pools {
		count := pool.Count
		if count <= 0 {
			count = 1
		}
		d.logger.Info("starting stage workers",
			zap.String("stage", string(pool.Handler.Type())),
			zap.Int("count", count),
		)
		for i := 0; i < count; i++ {
			w := New(Config{
				ID:           WorkerID(pool.Handler.Type(), i),
				PollInterval: d.pollInterval,
			}, d.queue, pool.Handler, d.logger)
			g.Go(func() error {
				w.Run(ctx)
				return nil
			})
		}
	}
	return g.Wait()
}
