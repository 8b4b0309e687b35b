package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// ReplicateStream derives the private stream for one Monte Carlo
	// repetition from (baseSeed, replicateIndex) only. The same pair must
	// always yield the same stream regardless of worker count or
	// completion order, and every group estimated at the same index shares
	// the stream so grouped contrasts compare matched draws.
	ReplicateStream(ctx context.Context, baseSeed int64, replicateIndex int) (*rand.Rand, error)

	// ValidateSeed ensures the seed produces expected deterministic results
	ValidateSeed(ctx context.Context, name string, seed int64, expected []float64) error
}
