package deploy

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/ipyana/emlearn/util/safeconv"
)

type timings struct {
	NumCalls  uint64
	RowsTotal uint64
	TotalNS   uint64
}

// Statistics is a point-in-time snapshot of an artifact's usage.
type Statistics struct {
	Calls       uint64
	Rows        uint64
	TotalTime   time.Duration
	AvgCallTime time.Duration
}

func (b *base) record(rows int, start time.Time) {
	atomic.AddUint64(&b.timings.NumCalls, 1)
	atomic.AddUint64(&b.timings.RowsTotal, safeconv.IntToU64(rows))
	atomic.AddUint64(&b.timings.TotalNS, safeconv.DurationToU64(time.Since(start)))
}

func (b *base) Stats() Statistics {
	calls := atomic.LoadUint64(&b.timings.NumCalls)
	totalNS := atomic.LoadUint64(&b.timings.TotalNS)
	return Statistics{
		Calls:     calls,
		Rows:      atomic.LoadUint64(&b.timings.RowsTotal),
		TotalTime: safeconv.U64ToDuration(totalNS),
		AvgCallTime: time.Duration(float64(totalNS) /
			math.Max(1, float64(calls))),
	}
}
