package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorRecord(t *testing.T) {
	agg := NewAggregator()

	agg.Record("Datastore/all", 10*time.Millisecond, 4*time.Millisecond)
	agg.Record("Datastore/all", 30*time.Millisecond, 30*time.Millisecond)

	s, ok := agg.Get("Datastore/all")
	require.True(t, ok)
	assert.Equal(t, int64(2), s.CallCount)
	assert.Equal(t, 40*time.Millisecond, s.Total)
	assert.Equal(t, 34*time.Millisecond, s.Exclusive)
	assert.Equal(t, 10*time.Millisecond, s.Min)
	assert.Equal(t, 30*time.Millisecond, s.Max)
	assert.InDelta(t, 0.01*0.01+0.03*0.03, s.SumOfSquares, 1e-12)
	assert.Equal(t, 20*time.Millisecond, s.Mean())
	assert.InDelta(t, float64(10*time.Millisecond), float64(s.StdDev()), float64(time.Microsecond))

	_, ok = agg.Get("missing")
	assert.False(t, ok)
}

func TestAggregatorNamesAndReset(t *testing.T) {
	agg := NewAggregator()
	agg.Record("b", time.Millisecond, time.Millisecond)
	agg.Record("a", time.Millisecond, time.Millisecond)

	assert.Equal(t, []string{"a", "b"}, agg.Names())
	assert.Len(t, agg.Snapshot(), 2)

	agg.Reset()
	assert.Empty(t, agg.Names())
}

func TestAggregatorConcurrent(t *testing.T) {
	agg := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Record("hot", time.Millisecond, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	s, _ := agg.Get("hot")
	assert.Equal(t, int64(800), s.CallCount)
}

func TestEmptyStats(t *testing.T) {
	var s Stats
	assert.Equal(t, time.Duration(0), s.Mean())
	assert.Equal(t, time.Duration(0), s.StdDev())
}
