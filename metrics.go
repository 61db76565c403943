package ioloop

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// sampleSize is the number of task latency samples retained.
const sampleSize = 1000

// MetricsSnapshot is a point-in-time copy of a loop's metrics.
type MetricsSnapshot struct {
	// Latency is the distribution of task execution times, over the most
	// recent samples.
	Latency LatencyStats
	// Iterations is the number of completed LoopOnce calls.
	Iterations uint64
	// TasksExecuted counts tasks run from the queue, including those that
	// panicked.
	TasksExecuted uint64
	// PanicsRecovered counts tasks and timer callbacks that panicked.
	PanicsRecovered uint64
	// PollErrors counts failures of the blocking wait, EINTR excluded.
	PollErrors uint64
	// QueueDepth is the number of queued tasks at the time of the snapshot.
	QueueDepth int
}

// LatencyStats are percentiles computed from latencyMetrics.
type LatencyStats struct {
	P50     time.Duration
	P90     time.Duration
	P95     time.Duration
	P99     time.Duration
	Max     time.Duration
	Mean    time.Duration
	Samples int
}

// metrics is the live state behind MetricsSnapshot. Counters may be updated
// from the loop goroutine while snapshots are taken elsewhere.
type metrics struct {
	latency         latencyMetrics
	iterations      *atomic.Uint64
	tasksExecuted   *atomic.Uint64
	panicsRecovered *atomic.Uint64
	pollErrors      *atomic.Uint64
}

func newMetrics() *metrics {
	return &metrics{
		iterations:      atomic.NewUint64(0),
		tasksExecuted:   atomic.NewUint64(0),
		panicsRecovered: atomic.NewUint64(0),
		pollErrors:      atomic.NewUint64(0),
	}
}

func (m *metrics) snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		Latency:         m.latency.sample(),
		Iterations:      m.iterations.Load(),
		TasksExecuted:   m.tasksExecuted.Load(),
		PanicsRecovered: m.panicsRecovered.Load(),
		PollErrors:      m.pollErrors.Load(),
	}
}

// latencyMetrics is a rolling buffer of latency samples.
type latencyMetrics struct {
	mu          sync.Mutex
	samples     [sampleSize]time.Duration
	sum         time.Duration
	sampleIdx   int
	sampleCount int
}

func (l *latencyMetrics) record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// overwriting the oldest sample once full
	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = d
	l.sum += d
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// sample computes percentiles over the retained samples. Sorting is
// O(n log n), so this is done on demand, never per task.
func (l *latencyMetrics) sample() (stats LatencyStats) {
	l.mu.Lock()
	count := l.sampleCount
	sorted := slices.Clone(l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	if count == 0 {
		return
	}
	slices.Sort(sorted)

	stats.P50 = sorted[percentileIndex(count, 50)]
	stats.P90 = sorted[percentileIndex(count, 90)]
	stats.P95 = sorted[percentileIndex(count, 95)]
	stats.P99 = sorted[percentileIndex(count, 99)]
	stats.Max = sorted[count-1]
	stats.Mean = sum / time.Duration(count)
	stats.Samples = count
	return
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}
