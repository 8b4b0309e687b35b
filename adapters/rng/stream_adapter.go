package rng

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"repliscope/domain/core"
	"repliscope/ports"
)

// StreamAdapter implements deterministic RNG streams. Replicate streams are
// derived from (baseSeed, replicateIndex) alone, so every group estimated
// at the same index consumes the same stream and results never depend on
// worker count or completion order.
type StreamAdapter struct{}

// NewStreamAdapter creates the default RNG adapter.
func NewStreamAdapter() *StreamAdapter {
	return &StreamAdapter{}
}

var _ ports.RNGPort = (*StreamAdapter)(nil)

// SeededStream creates a deterministic random number generator for a named operation
func (a *StreamAdapter) SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error) {
	if name != "" {
		seed = int64(hashString(name)) + seed
	}
	return rand.New(rand.NewSource(seed)), nil
}

// ReplicateStream derives the stream for one Monte Carlo repetition by
// hashing a stable per-index label into the base seed.
func (a *StreamAdapter) ReplicateStream(ctx context.Context, baseSeed int64, replicateIndex int) (*rand.Rand, error) {
	if replicateIndex < 0 {
		return nil, fmt.Errorf("replicate index must be non-negative, got %d", replicateIndex)
	}
	seed := baseSeed + int64(hashString(fmt.Sprintf("replicate:%d", replicateIndex)))
	return rand.New(rand.NewSource(seed)), nil
}

// ValidateSeed draws len(expected) values from the named stream and checks
// them against the expected sequence.
func (a *StreamAdapter) ValidateSeed(ctx context.Context, name string, seed int64, expected []float64) error {
	stream, err := a.SeededStream(ctx, name, seed)
	if err != nil {
		return err
	}
	for i, want := range expected {
		got := stream.Float64()
		if math.Abs(got-want) > 1e-12 {
			return fmt.Errorf("%w: stream %q value %d: got %v, want %v",
				core.ErrSeedMismatch, name, i, got, want)
		}
	}
	return nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
