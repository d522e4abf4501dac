package preflight

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"cubemill/internal/config"
	"cubemill/internal/memplan"
)

// minFreeBytes is the free-space floor for the output filesystem. Merged
// outputs for a single tile routinely run into gigabytes, so anything under
// this is treated as a doomed run.
const minFreeBytes = 1 << 30

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace verifies the output filesystem has room for merged outputs.
func CheckDiskSpace(path string) Result {
	const name = "Disk space"

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s free on %s (need at least %s)",
			humanize.IBytes(free), path, humanize.IBytes(minFreeBytes))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)}
}

// CheckMemoryPlan verifies that at least one block job at the configured
// block shape fits under the memory ceiling.
func CheckMemoryPlan(cfg *config.Config) Result {
	const name = "Memory plan"

	budget := memplan.Budget{
		ItemsPerJob:  int64(cfg.Processing.BlockRows) * int64(cfg.Processing.BlockCols),
		BytesPerItem: cfg.Memory.BytesPerItem,
		BloatFactor:  cfg.Memory.BloatFactor,
		CeilingGB:    cfg.Memory.CeilingGB,
	}
	workers, err := budget.MaxConcurrency(cfg.Workers.Count)
	if err != nil {
		if errors.Is(err, memplan.ErrInsufficientMemory) {
			return Result{Name: name, Detail: fmt.Sprintf(
				"a single %dx%d block job needs %.2f GB but the ceiling is %.2f GB",
				cfg.Processing.BlockRows, cfg.Processing.BlockCols, budget.JobMemsizeGB(), cfg.Memory.CeilingGB)}
		}
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf(
		"%d of %d requested workers fit under the %.2f GB ceiling",
		workers, cfg.Workers.Count, cfg.Memory.CeilingGB)}
}
