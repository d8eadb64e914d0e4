package control

import (
	"time"

	"github.com/montanaflynn/stats"
)

// CycleStats summarizes the durations of the successful cycles of a loop.
type CycleStats struct {
	Cycles int
	Mean   time.Duration
	P95    time.Duration
	Max    time.Duration
	// Overruns counts the cycles that took longer than the loop period.
	Overruns int64
}

// Stats returns the cycle statistics so far. Durations are zero before the first successful cycle.
func (l *Loop) Stats() CycleStats {
	l.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), l.durations...))
	l.mu.Unlock()

	out := CycleStats{Cycles: data.Len(), Overruns: l.overruns.Load()}
	if out.Cycles == 0 {
		return out
	}
	toDuration := func(seconds float64, err error) time.Duration {
		if err != nil {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}
	out.Mean = toDuration(data.Mean())
	out.P95 = toDuration(data.Percentile(95))
	out.Max = toDuration(data.Max())
	return out
}
