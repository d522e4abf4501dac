package artifact

import (
	"log/slog"
	"os"
	"path/filepath"

	"cubemill/internal/grid"
	"cubemill/internal/logging"
	"cubemill/internal/raster"
	"cubemill/internal/raster/geotiff"
)

// OpenFunc opens a raster for validation. Tests substitute a counting
// implementation to prove the marker cache short-circuits reopening.
type OpenFunc func(path string) (raster.Dataset, error)

func defaultOpen(path string) (raster.Dataset, error) {
	return geotiff.Open(path)
}

// Validator decides whether an existing artifact can be reused instead of
// recomputed. Full validation reads the artifact's last pixel to detect
// truncation, which touches the whole file; a marker recording a prior
// successful check lets later runs skip that. Losing the marker directory
// only costs re-validation, never correctness.
type Validator struct {
	markerDir string
	open      OpenFunc
	logger    *slog.Logger
}

// NewValidator builds a validator writing markers under markerDir.
func NewValidator(markerDir string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Validator{markerDir: markerDir, open: defaultOpen, logger: logger}
}

// WithOpen overrides the raster opener.
func (v *Validator) WithOpen(open OpenFunc) *Validator {
	v.open = open
	return v
}

// MarkerPath returns the marker file recording a successful validation of
// path. Artifact base names are unique within one output directory by
// construction, so the base name keys the marker.
func (v *Validator) MarkerPath(path string) string {
	return filepath.Join(v.markerDir, filepath.Base(path)+".ok")
}

// Valid reports whether the artifact at path exists and is structurally
// sound. A corrupt artifact is deleted so the caller recomputes it; this
// always fails safe toward recomputation, never toward trusting a file that
// cannot be read end to end.
func (v *Validator) Valid(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if _, err := os.Stat(v.MarkerPath(path)); err == nil {
		return true
	}

	ds, err := v.open(path)
	if err != nil {
		v.discard(path, err)
		return false
	}
	info := ds.Info()
	last := grid.Block{Row: info.YSize, Col: info.XSize, NRows: 1, NCols: 1}
	_, readErr := ds.ReadWindow(info.Bands, last)
	closeErr := ds.Close()
	if readErr != nil {
		v.discard(path, readErr)
		return false
	}
	if closeErr != nil {
		v.discard(path, closeErr)
		return false
	}

	if err := v.mark(path); err != nil {
		// The artifact is fine; only the cache write failed. The next run
		// re-validates.
		v.logger.Warn("write validation marker failed",
			logging.String("path", path), logging.Error(err))
	}
	return true
}

func (v *Validator) discard(path string, cause error) {
	v.logger.Info("discarding corrupt artifact",
		logging.String("path", path), logging.Error(cause))
	_ = os.Remove(path)
	_ = os.Remove(v.MarkerPath(path))
}

func (v *Validator) mark(path string) error {
	if err := os.MkdirAll(v.markerDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(v.MarkerPath(path), nil, 0o644)
}

// Forget removes path's marker. Callers deleting an artifact use it so a
// later file at the same name cannot inherit a stale validation.
func (v *Validator) Forget(path string) {
	_ = os.Remove(v.MarkerPath(path))
}

// Remove deletes an artifact and its marker together.
func (v *Validator) Remove(path string) error {
	v.Forget(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
