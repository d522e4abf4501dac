package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"cubemill/internal/grid"
	"cubemill/internal/logging"
)

// Budget is the process-wide worker budget. Every block job, regardless of
// which unit dispatched it, holds one permit while it runs, so two units
// processed in parallel can never exceed the concurrency the memory ceiling
// was computed for.
type Budget struct {
	sem  *semaphore.Weighted
	size int64
}

// NewBudget creates a budget of the given worker count.
func NewBudget(workers int) *Budget {
	if workers < 1 {
		workers = 1
	}
	return &Budget{sem: semaphore.NewWeighted(int64(workers)), size: int64(workers)}
}

// Size returns the permit count.
func (b *Budget) Size() int { return int(b.size) }

// JobError names one failing block job.
type JobError struct {
	Index int
	Block grid.Block
	Err   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("block %d (%s): %v", e.Index, e.Block, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// RunError aggregates every job failure of one run, ordered by block index.
type RunError struct {
	Failures []*JobError
}

func (e *RunError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d block job(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *RunError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0]
}

// Progress observes completed job counts. It is informational only and must
// not influence scheduling.
type Progress func(done, total int)

// Pool runs block jobs over a bounded worker pool drawing on a shared
// budget. Workers of 1 gives sequential execution through the same path.
type Pool struct {
	budget   *Budget
	workers  int
	progress Progress
	logger   *slog.Logger
}

// NewPool sizes a pool. The pool never runs more than workers jobs at once,
// and never more than the budget admits across all pools.
func NewPool(budget *Budget, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if budget == nil {
		budget = NewBudget(workers)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{budget: budget, workers: workers, logger: logger}
}

// WithProgress attaches a completion observer.
func (p *Pool) WithProgress(fn Progress) *Pool {
	p.progress = fn
	return p
}

// Map executes fn for every block and returns results ordered by block
// index, independent of completion order. Each job is an independent unit of
// work: fn must do its own input reads and output writes so no large buffer
// crosses the pool boundary.
//
// On the first failure no further jobs start; jobs already running finish
// and their outputs stay on disk. The returned error aggregates every
// failing block so the caller can report them all at once.
func Map[T any](ctx context.Context, p *Pool, blocks []grid.OverlapBlock,
	fn func(ctx context.Context, index int, block grid.OverlapBlock) (T, error)) ([]T, error) {

	results := make([]T, len(blocks))

	var (
		stop     atomic.Bool
		mu       sync.Mutex
		failures []*JobError
		done     int
	)

	var group errgroup.Group
	group.SetLimit(p.workers)

	for i, block := range blocks {
		if stop.Load() || ctx.Err() != nil {
			break
		}
		i, block := i, block
		group.Go(func() error {
			if err := p.budget.sem.Acquire(ctx, 1); err != nil {
				stop.Store(true)
				return nil
			}
			defer p.budget.sem.Release(1)

			result, err := fn(ctx, i, block)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stop.Store(true)
				failures = append(failures, &JobError{Index: i, Block: block.Block, Err: err})
				p.logger.Error("block job failed",
					logging.Int("block_index", i),
					logging.String("block", block.Block.String()),
					logging.Error(err))
				return nil
			}
			results[i] = result
			done++
			if p.progress != nil {
				p.progress(done, len(blocks))
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil && len(failures) == 0 {
		return nil, err
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
		return nil, &RunError{Failures: failures}
	}
	return results, nil
}
