package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newJob(id string, typ pipeline.JobType, priority int) pipeline.Job {
	return pipeline.Job{ID: id, Type: typ, Priority: priority}
}

func TestClaimHonorsPriorityThenFIFO(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("low", pipeline.JobTypeCrawl, 0)))
	clock.Advance(time.Second)
	require.NoError(t, q.Enqueue(ctx, newJob("high", pipeline.JobTypeCrawl, 10)))
	clock.Advance(time.Second)
	require.NoError(t, q.Enqueue(ctx, newJob("low2", pipeline.JobTypeCrawl, 0)))

	order := []string{}
	for i := 0; i < 3; i++ {
		j, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeCrawl)
		require.NoError(t, err)
		require.True(t, ok)
		order = append(order, j.ID)
	}
	require.Equal(t, []string{"high", "low", "low2"}, order)

	_, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeCrawl)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestClaimFiltersByType(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("c1", pipeline.JobTypeCrawl, 0)))
	require.NoError(t, q.Enqueue(ctx, newJob("o1", pipeline.JobTypeOCR, 0)))

	j, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeOCR)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "o1", j.ID)

	// The crawl job stays claimable by crawl workers.
	j, ok, err = q.Claim(ctx, "w2", pipeline.JobTypeCrawl)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c1", j.ID)
	require.Equal(t, "w2", j.WorkerID)
	require.Equal(t, 1, j.Attempts)
}

func TestTransientFailureRequeuesWithBackoff(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{BackoffBase: time.Second, BackoffCap: time.Minute})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("j1", pipeline.JobTypeParse, 0)))
	j, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeParse)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Fail(ctx, j.ID, errors.New("engine timeout")))

	// Not eligible until the backoff elapses.
	_, ok, err = q.Claim(ctx, "w1", pipeline.JobTypeParse)
	require.NoError(t, err)
	require.False(t, ok)

	clock.Advance(time.Second)
	j2, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeParse)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, j2.Attempts)
	require.Equal(t, "engine timeout", j2.LastError)
}

func TestRetriesExhaustAtMaxAttempts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{BackoffBase: time.Second, BackoffCap: time.Minute})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("j1", pipeline.JobTypeEmbed, 0)))

	for attempt := 1; attempt <= pipeline.DefaultMaxAttempts; attempt++ {
		clock.Advance(time.Minute)
		j, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeEmbed)
		require.NoError(t, err)
		require.True(t, ok, "attempt %d should be claimable", attempt)
		require.Equal(t, attempt, j.Attempts)
		require.NoError(t, q.Fail(ctx, j.ID, errors.New("boom")))
	}

	clock.Advance(time.Hour)
	_, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeEmbed)
	require.NoError(t, err)
	require.False(t, ok)

	final, found := q.Get("j1")
	require.True(t, found)
	require.Equal(t, pipeline.JobStatusFailed, final.Status)
}

func TestPermanentFailureSkipsRetry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("j1", pipeline.JobTypeOCR, 0)))
	j, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeOCR)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Fail(ctx, j.ID, pipeline.Permanentf("undecodable image")))

	final, found := q.Get("j1")
	require.True(t, found)
	require.Equal(t, pipeline.JobStatusFailed, final.Status)
	require.Equal(t, 1, final.Attempts)
}

func TestCompleteMarksJobDone(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("j1", pipeline.JobTypeLabel, 0)))
	j, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeLabel)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Complete(ctx, j.ID))

	final, _ := q.Get("j1")
	require.Equal(t, pipeline.JobStatusCompleted, final.Status)
	require.NotNil(t, final.CompletedAt)

	// Completing twice is an error; completion is terminal.
	require.Error(t, q.Complete(ctx, j.ID))
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{})
	ctx := context.Background()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		require.NoError(t, q.Enqueue(ctx, newJob(fmt.Sprintf("j%d", i), pipeline.JobTypeCrawl, i%5)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				j, ok, err := q.Claim(ctx, fmt.Sprintf("w%d", worker), pipeline.JobTypeCrawl)
				require.NoError(t, err)
				if !ok {
					return
				}
				mu.Lock()
				seen[j.ID]++
				mu.Unlock()
				require.NoError(t, q.Complete(ctx, j.ID))
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seen, jobs)
	for id, n := range seen {
		require.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestStatsCountsPerStage(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	q := NewQueue(clock, Config{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newJob("c1", pipeline.JobTypeCrawl, 0)))
	require.NoError(t, q.Enqueue(ctx, newJob("c2", pipeline.JobTypeCrawl, 0)))
	require.NoError(t, q.Enqueue(ctx, newJob("o1", pipeline.JobTypeOCR, 0)))

	j, ok, err := q.Claim(ctx, "w1", pipeline.JobTypeCrawl)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Fail(ctx, j.ID, pipeline.Permanentf("nope")))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, pipeline.StageStats{Pending: 1, Failed: 1}, stats[pipeline.JobTypeCrawl])
	require.Equal(t, pipeline.StageStats{Pending: 1}, stats[pipeline.JobTypeOCR])
}

var _ pipeline.JobQueue = (*Queue)(nil)
