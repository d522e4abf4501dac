// Package transform defines the pluggable per-block computation contract:
// a Spec configures a transform, Predictor resolves it into the pure
// per-block function the scheduler runs. The reference transforms cover the
// common shapes of cube processing: temporal averaging, explicit linear
// scaling, and Bayesian neighborhood smoothing of class probabilities,
// which exercises the partitioner's overlap padding.
package transform
