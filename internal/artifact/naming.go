package artifact

import (
	"fmt"
	"path/filepath"

	"cubemill/internal/grid"
)

// WorkDirName is the hidden subdirectory of the output directory holding
// run-internal state: validation markers, the run ledger, and the writer
// lock.
const WorkDirName = ".cubemill"

// Layout derives every persisted path of one output directory. Names are a
// pure function of unit, version, and block coordinates, so concurrent
// workers never collide and re-invocations land on the same files.
type Layout struct {
	Dir     string
	Version string
}

// BlockPath returns the path of one block's output file.
func (l Layout) BlockPath(unitID string, b grid.Block) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%d_%d.tif", unitID, b.Row, b.Col))
}

// LayerBlockPath returns the path of one layer of a block when the caller
// requested one file per output layer.
func (l Layout) LayerBlockPath(unitID, layer string, b grid.Block) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%s_%d_%d.tif", unitID, layer, b.Row, b.Col))
}

// MergedPath returns the final output file of a unit.
func (l Layout) MergedPath(unitID string) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%s.tif", unitID, l.Version))
}

// LayerMergedPath returns the final output file of one layer of a unit.
func (l Layout) LayerMergedPath(unitID, layer string) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s_%s_%s.tif", unitID, layer, l.Version))
}

// WorkDir returns the hidden state directory.
func (l Layout) WorkDir() string {
	return filepath.Join(l.Dir, WorkDirName)
}

// CheckedDir returns the directory holding validation markers.
func (l Layout) CheckedDir() string {
	return filepath.Join(l.WorkDir(), "checked")
}
