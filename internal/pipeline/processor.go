package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"cubemill/internal/artifact"
	"cubemill/internal/config"
	"cubemill/internal/cube"
	"cubemill/internal/ledger"
	"cubemill/internal/logging"
	"cubemill/internal/memplan"
	"cubemill/internal/preflight"
	"cubemill/internal/scheduler"
	"cubemill/internal/transform"
)

// ErrRunLocked indicates another process holds the output directory lock.
var ErrRunLocked = errors.New("output directory is locked by another run")

// Stats snapshots the work a Process call performed. Skipped counts block
// jobs satisfied by an existing valid artifact, recovered counts whole units
// whose merged output already existed.
type Stats struct {
	UnitsCompleted int64
	UnitsRecovered int64
	UnitsFailed    int64
	BlocksComputed int64
	BlocksSkipped  int64
}

// Processor drives cube processing: per unit it plans the block geometry,
// dispatches block jobs, merges the results, and records progress in the run
// ledger. Re-invoking Process with identical parameters resumes: valid block
// files and finished merged outputs are never recomputed.
type Processor struct {
	cfg    *config.Config
	store  *ledger.Store
	logger *slog.Logger

	progress   scheduler.Progress
	layerNames []string

	unitsCompleted atomic.Int64
	unitsRecovered atomic.Int64
	unitsFailed    atomic.Int64
	blocksComputed atomic.Int64
	blocksSkipped  atomic.Int64
}

// New creates a Processor. The ledger store may be nil, in which case no run
// state is recorded; resume still works because it is file-based.
func New(cfg *config.Config, store *ledger.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Processor{cfg: cfg, store: store, logger: logger}
}

// WithProgress attaches a block-completion observer shared by every unit.
func (p *Processor) WithProgress(fn scheduler.Progress) *Processor {
	p.progress = fn
	return p
}

// WithLayerNames sets the names used in per-layer output files when layer
// splitting is on. Names are used only when their count matches the
// transform's output layer count; otherwise layers are numbered.
func (p *Processor) WithLayerNames(names []string) *Processor {
	p.layerNames = names
	return p
}

// outputLayerNames returns one name per output layer.
func (p *Processor) outputLayerNames(layers int) []string {
	if len(p.layerNames) == layers {
		return p.layerNames
	}
	names := make([]string, layers)
	for i := range names {
		names[i] = fmt.Sprintf("b%d", i+1)
	}
	return names
}

// Stats returns the counters accumulated so far.
func (p *Processor) Stats() Stats {
	return Stats{
		UnitsCompleted: p.unitsCompleted.Load(),
		UnitsRecovered: p.unitsRecovered.Load(),
		UnitsFailed:    p.unitsFailed.Load(),
		BlocksComputed: p.blocksComputed.Load(),
		BlocksSkipped:  p.blocksSkipped.Load(),
	}
}

// Process runs every unit through plan, partition, block dispatch, and merge,
// and returns the merged output paths ordered like the input units: one path
// per unit, or one per unit and layer when layer splitting is on. Units run
// in parallel up to the configured unit worker count while their block jobs
// share one global worker budget, so the memory ceiling holds across units.
//
// A unit failure does not stop the other units; the returned error joins
// every unit's failure. The output directory is locked for the whole run and
// released on every exit path.
func (p *Processor) Process(ctx context.Context, units []cube.Unit, spec transform.Spec) ([]string, error) {
	if len(units) == 0 {
		return nil, errors.New("process: no units")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("transform spec: %w", err)
	}
	if err := p.cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	layout := artifact.Layout{Dir: p.cfg.Paths.OutputDir, Version: p.cfg.Processing.Version}
	if err := os.MkdirAll(layout.CheckedDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	lock := flock.New(filepath.Join(layout.WorkDir(), "run.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrRunLocked, lock.Path())
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			p.logger.Warn("release run lock", logging.Error(unlockErr))
		}
	}()

	checks := preflight.RunAll(ctx, p.cfg)
	if !preflight.AllPassed(checks) {
		var failed []string
		for _, check := range checks {
			if !check.Passed {
				failed = append(failed, fmt.Sprintf("%s: %s", check.Name, check.Detail))
			}
		}
		return nil, fmt.Errorf("preflight failed: %s", strings.Join(failed, "; "))
	}

	runID := uuid.NewString()
	logger := p.logger.With(logging.String(logging.FieldRunID, runID))
	logger.Info("run started",
		logging.Int("units", len(units)),
		logging.String("transform", spec.Name()),
		logging.String("version", p.cfg.Processing.Version))

	budget := scheduler.NewBudget(p.globalWorkers())
	validator := artifact.NewValidator(layout.CheckedDir(), logger)

	unitOutputs := make([][]string, len(units))
	unitErrs := make([]error, len(units))
	var mu sync.Mutex

	var group errgroup.Group
	group.SetLimit(max(1, p.cfg.Workers.Units))
	for i, unit := range units {
		i, unit := i, unit
		group.Go(func() error {
			outs, err := p.processUnit(ctx, runID, unit, spec, layout, budget, validator, logger)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.unitsFailed.Add(1)
				unitErrs[i] = fmt.Errorf("unit %s: %w", unit.ID, err)
				logger.Error("unit failed",
					logging.String(logging.FieldUnitID, unit.ID),
					logging.Error(err))
				return nil
			}
			unitOutputs[i] = outs
			return nil
		})
	}
	_ = group.Wait()

	if err := errors.Join(unitErrs...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats := p.Stats()
	logger.Info("run finished",
		logging.Int64("units_completed", stats.UnitsCompleted),
		logging.Int64("units_recovered", stats.UnitsRecovered),
		logging.Int64("blocks_computed", stats.BlocksComputed),
		logging.Int64("blocks_skipped", stats.BlocksSkipped))

	var outputs []string
	for _, outs := range unitOutputs {
		outputs = append(outputs, outs...)
	}
	return outputs, nil
}

// globalWorkers sizes the shared budget: the requested worker count capped by
// how many default-shape block jobs fit under the memory ceiling. Per-unit
// plans never exceed this, so the cap holds when units run in parallel.
func (p *Processor) globalWorkers() int {
	budget := memplan.Budget{
		ItemsPerJob:  int64(p.cfg.Processing.BlockRows) * int64(p.cfg.Processing.BlockCols),
		BytesPerItem: p.cfg.Memory.BytesPerItem,
		BloatFactor:  p.cfg.Memory.BloatFactor,
		CeilingGB:    p.cfg.Memory.CeilingGB,
	}
	workers, err := budget.MaxConcurrency(p.cfg.Workers.Count)
	if err != nil {
		return 1
	}
	return workers
}
