package timer

import (
	"time"

	"github.com/influxdata/tdigest"
)

// DefaultTrials is the number of clock transitions sampled by Calibrate.
const DefaultTrials = 1000

// Calibration is the observed update granularity of a clock.
type Calibration struct {
	Trials int

	// MeanResolution is the average step between two distinct readings.
	MeanResolution time.Duration

	// MeanIterations is the average number of reads spent waiting for a step.
	MeanIterations int64

	MinResolution time.Duration
	MaxResolution time.Duration
	P50Resolution time.Duration
	P99Resolution time.Duration
}

// Calibrate spins on clock until its value changes, trials times, and
// reports the observed steps. A clock that never advances never returns.
func Calibrate(clock Clock, trials int) Calibration {
	if trials <= 0 {
		trials = DefaultTrials
	}

	digest := tdigest.NewWithCompression(100)
	cal := Calibration{Trials: trials}

	var totalDelta time.Duration
	var totalCount int64

	prev := clock()
	cur := prev
	for i := 0; i < trials; i++ {
		var count int64
		for cur == prev {
			cur = clock()
			count++
		}

		delta := cur.Sub(prev)
		totalDelta += delta
		totalCount += count
		digest.Add(float64(delta), 1)

		if i == 0 || delta < cal.MinResolution {
			cal.MinResolution = delta
		}
		if delta > cal.MaxResolution {
			cal.MaxResolution = delta
		}
		prev = cur
	}

	cal.MeanResolution = totalDelta / time.Duration(trials)
	cal.MeanIterations = totalCount / int64(trials)
	cal.P50Resolution = time.Duration(digest.Quantile(0.50))
	cal.P99Resolution = time.Duration(digest.Quantile(0.99))

	return cal
}
