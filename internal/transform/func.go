package transform

import "errors"

// FuncSpec adapts an arbitrary per-block function into a Spec so callers can
// compose transforms the built-in set does not cover. OutLayers fixes the
// output layer count regardless of input; Overlap declares the padding the
// function needs.
type FuncSpec struct {
	ID        string
	OutLayers int
	Overlap   int
	Run       Fn
}

func (s FuncSpec) Name() string { return s.ID }

func (s FuncSpec) Layers(int) (int, error) { return s.OutLayers, nil }

func (s FuncSpec) Validate() error {
	if s.ID == "" {
		return errors.New("func: missing name")
	}
	if s.OutLayers < 1 {
		return errors.New("func: output layers must be at least 1")
	}
	if s.Run == nil {
		return errors.New("func: missing function")
	}
	return nil
}
