// Package metrics provides Prometheus metrics for specinvoke.
//
// All metrics are aggregate: cardinality does not grow with the copy count.
// A Collector is an invoke.Observer, so Invoke reports launches directly;
// the driver reports reaps with ChildReaped.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-specinvoke/internal/invoke"
	"github.com/randomizedcoder/go-specinvoke/internal/timer"
)

// Collector manages all Prometheus metrics for a launch run.
type Collector struct {
	info           *prometheus.GaugeVec
	targetCopies   prometheus.Gauge
	started        prometheus.Counter
	exited         *prometheus.CounterVec
	outstanding    prometheus.Gauge
	runtime        prometheus.Histogram
	timerRes       prometheus.Gauge
	timerResP99    prometheus.Gauge
	timerIters     prometheus.Gauge
	elapsedSeconds prometheus.GaugeFunc

	startTime time.Time

	mu             sync.Mutex
	running        int
	peakRunning    int
	totalStarts    int64
	exitCodes      map[int]int64
	runtimes       *tdigest.TDigest
	runtimeSamples int
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version      string
	Shell        string
	TargetCopies int
}

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		startTime: time.Now(),
		exitCodes: make(map[int]int64),
		runtimes:  tdigest.NewWithCompression(100),
	}

	c.info = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "specinvoke_info",
			Help: "Information about the launch run (value always 1)",
		},
		[]string{"version", "shell"},
	)
	c.targetCopies = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "specinvoke_target_copies",
		Help: "Copies the run will launch across all commands",
	})
	c.started = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "specinvoke_children_started_total",
		Help: "Children successfully launched",
	})
	c.exited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "specinvoke_children_exited_total",
			Help: "Children reaped, by exit category (success, error, signal)",
		},
		[]string{"category"},
	)
	c.outstanding = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "specinvoke_outstanding_children",
		Help: "Children launched and not yet reaped",
	})
	c.runtime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "specinvoke_child_runtime_seconds",
		Help:    "Wall time from launch to reap per child",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
	})
	c.timerRes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "specinvoke_timer_resolution_seconds",
		Help: "Mean observed clock resolution from startup calibration",
	})
	c.timerResP99 = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "specinvoke_timer_resolution_p99_seconds",
		Help: "99th percentile observed clock resolution from startup calibration",
	})
	c.timerIters = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "specinvoke_timer_iterations",
		Help: "Mean clock reads per observed tick during calibration",
	})
	c.elapsedSeconds = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "specinvoke_elapsed_seconds",
			Help: "Seconds since the run started",
		},
		func() float64 { return time.Since(c.startTime).Seconds() },
	)

	registry.MustRegister(
		c.info,
		c.targetCopies,
		c.started,
		c.exited,
		c.outstanding,
		c.runtime,
		c.timerRes,
		c.timerResP99,
		c.timerIters,
		c.elapsedSeconds,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Shell).Set(1)
	c.targetCopies.Set(float64(cfg.TargetCopies))

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// ChildStarted records a launch. It satisfies invoke.Observer.
func (c *Collector) ChildStarted(cp *invoke.CopyInfo) {
	c.started.Inc()
	c.outstanding.Inc()

	c.mu.Lock()
	c.totalStarts++
	c.running++
	if c.running > c.peakRunning {
		c.peakRunning = c.running
	}
	c.mu.Unlock()
}

// ChildReaped records a reaped copy. cp must carry its End and Status.
func (c *Collector) ChildReaped(cp *invoke.CopyInfo) {
	c.RecordExit(invoke.ExitCode(cp.Status), cp.End.Sub(cp.Start))
}

// RecordExit records one exit with its runtime.
func (c *Collector) RecordExit(exitCode int, runtime time.Duration) {
	c.exited.WithLabelValues(exitCategory(exitCode)).Inc()
	c.outstanding.Dec()
	c.runtime.Observe(runtime.Seconds())

	c.mu.Lock()
	c.running--
	c.exitCodes[exitCode]++
	c.runtimes.Add(runtime.Seconds(), 1)
	c.runtimeSamples++
	c.mu.Unlock()
}

// RecordCalibration exports the startup timer calibration.
func (c *Collector) RecordCalibration(cal timer.Calibration) {
	c.timerRes.Set(cal.MeanResolution.Seconds())
	c.timerResP99.Set(cal.P99Resolution.Seconds())
	c.timerIters.Set(float64(cal.MeanIterations))
}

// exitCategory buckets an exit code the way the dashboard groups them.
func exitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for the exit summary.
type Summary struct {
	Duration       time.Duration
	TotalStarts    int64
	PeakRunning    int
	Outstanding    int
	ExitCodes      map[int]int64
	RuntimeSamples int
	RuntimeP50     time.Duration
	RuntimeP95     time.Duration
	RuntimeP99     time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:       time.Since(c.startTime),
		TotalStarts:    c.totalStarts,
		PeakRunning:    c.peakRunning,
		Outstanding:    c.running,
		ExitCodes:      make(map[int]int64, len(c.exitCodes)),
		RuntimeSamples: c.runtimeSamples,
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}

	if c.runtimeSamples > 0 {
		s.RuntimeP50 = seconds(c.runtimes.Quantile(0.50))
		s.RuntimeP95 = seconds(c.runtimes.Quantile(0.95))
		s.RuntimeP99 = seconds(c.runtimes.Quantile(0.99))
	}

	return s
}

// Failures counts reaped children with a non-zero exit code.
func (s *Summary) Failures() int64 {
	var n int64
	for code, count := range s.ExitCodes {
		if code != 0 {
			n += count
		}
	}
	return n
}

// ExitCodeLabels returns the exit codes as strings, for log attributes.
func (s *Summary) ExitCodeLabels() map[string]int64 {
	out := make(map[string]int64, len(s.ExitCodes))
	for code, count := range s.ExitCodes {
		out[strconv.Itoa(code)] = count
	}
	return out
}

// PeakRunning returns the largest number of simultaneously outstanding children.
func (c *Collector) PeakRunning() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakRunning
}

// TotalStarts returns the total number of launches.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalStarts
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
