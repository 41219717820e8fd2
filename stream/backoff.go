package stream

import (
	rand "math/rand/v2"
	"time"
)

// jitterBackoff computes the next retry delay using full jitter with a cap.
// See: https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
//
// The delay doubles the previous attempt's window and picks a uniform point
// inside it, so concurrent retriers decorrelate. A nil rng uses the
// package-level PRNG.
func jitterBackoff(attempt int, base, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = DefaultRetryBackoff
	}
	if capDur <= 0 {
		capDur = DefaultRetryBackoffCap
	}
	if attempt < 0 {
		attempt = 0
	}

	window := base << uint(attempt)
	if window <= 0 || window > capDur {
		window = capDur
	}

	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(window))
	} else {
		jitter = rand.Int64N(int64(window)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if next > capDur {
		next = capDur
	}

	return next
}

// newRetryRNG returns a deterministic RNG only when a non-zero seed is
// provided. When seed == 0 it returns nil so callers use the package-level
// PRNG instead, keeping production jitter inexpensive.
//
//nolint:gosec
func newRetryRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	s2 := s1 ^ 0x9e3779b97f4a7c15

	return rand.New(rand.NewPCG(s1, s2))
}
