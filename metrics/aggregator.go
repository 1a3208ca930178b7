// Package metrics turns closed segments into named timing aggregates and,
// optionally, Prometheus histograms.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Stats is the running aggregate for one metric name.
type Stats struct {
	CallCount    int64
	Total        time.Duration
	Exclusive    time.Duration
	Min          time.Duration
	Max          time.Duration
	SumOfSquares float64
}

type entry struct {
	stats Stats
	mu    sync.Mutex
}

// Aggregator keeps Stats per metric name.
// Safe for concurrent use by multiple goroutines.
type Aggregator struct {
	stats *xsync.MapOf[string, *entry]
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{stats: xsync.NewMapOf[string, *entry]()}
}

// Record adds one call to name.
func (a *Aggregator) Record(name string, duration, exclusive time.Duration) {
	e, _ := a.stats.LoadOrCompute(name, func() *entry { return &entry{} })

	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.stats
	if s.CallCount == 0 || duration < s.Min {
		s.Min = duration
	}
	if duration > s.Max {
		s.Max = duration
	}
	s.CallCount++
	s.Total += duration
	s.Exclusive += exclusive
	secs := duration.Seconds()
	s.SumOfSquares += secs * secs
}

// Get returns the stats for name.
func (a *Aggregator) Get(name string) (Stats, bool) {
	e, ok := a.stats.Load(name)
	if !ok {
		return Stats{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats, true
}

// Names returns every recorded metric name, sorted.
func (a *Aggregator) Names() []string {
	var names []string
	a.stats.Range(func(name string, _ *entry) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Snapshot copies every aggregate.
func (a *Aggregator) Snapshot() map[string]Stats {
	out := make(map[string]Stats)
	a.stats.Range(func(name string, e *entry) bool {
		e.mu.Lock()
		out[name] = e.stats
		e.mu.Unlock()
		return true
	})
	return out
}

// Reset drops every aggregate.
func (a *Aggregator) Reset() {
	a.stats.Clear()
}

// Mean returns the average call duration.
func (s Stats) Mean() time.Duration {
	if s.CallCount == 0 {
		return 0
	}
	return s.Total / time.Duration(s.CallCount)
}

// StdDev returns the population standard deviation of call durations.
func (s Stats) StdDev() time.Duration {
	if s.CallCount == 0 {
		return 0
	}
	n := float64(s.CallCount)
	mean := s.Total.Seconds() / n
	variance := s.SumOfSquares/n - mean*mean
	if variance <= 0 {
		return 0
	}
	return time.Duration(math.Sqrt(variance) * float64(time.Second))
}
