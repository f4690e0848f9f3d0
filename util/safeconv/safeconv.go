package safeconv

import (
	"math"
	"time"
)

// IntToInt32 converts an int to int32 with clamping into [MinInt32, MaxInt32].
func IntToInt32(v int) int32 {
	if v < math.MinInt32 {
		return math.MinInt32
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

// IntToU64 converts an int to an unsigned counter, mapping negatives to 0.
func IntToU64(v int) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v) // #nosec G115 negatives are handled above, so int->uint64 is safe here.
}

// DurationToU64 converts a duration to an unsigned nanoseconds counter safely.
// Negative durations are mapped to 0.
func DurationToU64(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	// Conversion from time.Duration (int64) to uint64 is safe here because negatives are handled above.
	return uint64(d) // #nosec G115
}

// U64ToDuration converts an unsigned nanoseconds count to time.Duration safely.
// Values larger than MaxInt64 are clamped to time.Duration(math.MaxInt64).
func U64ToDuration(u uint64) time.Duration {
	if u > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(u))
}
