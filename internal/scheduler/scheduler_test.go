package scheduler_test

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"cubemill/internal/grid"
	"cubemill/internal/scheduler"
)

func testBlocks(n int) []grid.OverlapBlock {
	return grid.PartitionRows(10, n*10, 10, 0)
}

func TestMapPreservesBlockOrder(t *testing.T) {
	blocks := testBlocks(32)
	pool := scheduler.NewPool(scheduler.NewBudget(8), 8, nil)

	results, err := scheduler.Map(context.Background(), pool, blocks,
		func(_ context.Context, i int, _ grid.OverlapBlock) (int, error) {
			// Randomized completion order must not leak into result order.
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			return i * i, nil
		})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	for i, r := range results {
		if r != i*i {
			t.Fatalf("result %d = %d, want %d", i, r, i*i)
		}
	}
}

func TestMapSequentialMode(t *testing.T) {
	blocks := testBlocks(10)
	pool := scheduler.NewPool(nil, 1, nil)

	var inFlight, peak atomic.Int32
	_, err := scheduler.Map(context.Background(), pool, blocks,
		func(_ context.Context, i int, _ grid.OverlapBlock) (struct{}, error) {
			if v := inFlight.Add(1); v > peak.Load() {
				peak.Store(v)
			}
			defer inFlight.Add(-1)
			time.Sleep(time.Millisecond)
			return struct{}{}, nil
		})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if peak.Load() != 1 {
		t.Fatalf("sequential mode ran %d jobs at once", peak.Load())
	}
}

func TestMapSharedBudgetCapsConcurrency(t *testing.T) {
	budget := scheduler.NewBudget(3)
	blocks := testBlocks(24)

	var inFlight, peak atomic.Int32
	job := func(_ context.Context, i int, _ grid.OverlapBlock) (struct{}, error) {
		v := inFlight.Add(1)
		for {
			p := peak.Load()
			if v <= p || peak.CompareAndSwap(p, v) {
				break
			}
		}
		defer inFlight.Add(-1)
		time.Sleep(2 * time.Millisecond)
		return struct{}{}, nil
	}

	// Two pools share one budget, as two units processed in parallel do.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			pool := scheduler.NewPool(budget, 8, nil)
			_, err := scheduler.Map(context.Background(), pool, blocks, job)
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Map: %v", err)
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("budget of 3 allowed %d concurrent jobs", peak.Load())
	}
}

func TestMapAggregatesFailuresAndStopsDispatch(t *testing.T) {
	blocks := testBlocks(40)
	pool := scheduler.NewPool(scheduler.NewBudget(2), 2, nil)
	boom := errors.New("boom")

	var started atomic.Int32
	_, err := scheduler.Map(context.Background(), pool, blocks,
		func(_ context.Context, i int, _ grid.OverlapBlock) (struct{}, error) {
			started.Add(1)
			time.Sleep(time.Millisecond)
			if i == 3 {
				return struct{}{}, boom
			}
			return struct{}{}, nil
		})

	var run *scheduler.RunError
	if !errors.As(err, &run) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("aggregate does not unwrap to cause: %v", err)
	}
	if len(run.Failures) != 1 || run.Failures[0].Index != 3 {
		t.Fatalf("failures = %+v, want block 3 only", run.Failures)
	}
	if n := started.Load(); n == 40 {
		t.Fatal("dispatch did not stop after failure")
	}
}

func TestMapProgressSeesEveryCompletion(t *testing.T) {
	blocks := testBlocks(12)
	var calls atomic.Int32
	var lastTotal atomic.Int32
	pool := scheduler.NewPool(scheduler.NewBudget(4), 4, nil).
		WithProgress(func(done, total int) {
			calls.Add(1)
			lastTotal.Store(int32(total))
		})

	_, err := scheduler.Map(context.Background(), pool, blocks,
		func(_ context.Context, i int, _ grid.OverlapBlock) (int, error) {
			return i, nil
		})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if calls.Load() != 12 || lastTotal.Load() != 12 {
		t.Fatalf("progress calls = %d (total %d), want 12", calls.Load(), lastTotal.Load())
	}
}
