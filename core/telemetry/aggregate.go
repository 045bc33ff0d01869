package telemetry

import (
	"math"
	"sort"
	"time"
)

// Bucket summarizes the points of one aggregation interval.
type Bucket struct {
	Timestamp time.Time `json:"timestamp"` // start of the interval
	Avg       float64   `json:"avg"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Count     int       `json:"count"`
}

// AlignTime truncates t to the start of its interval. Intervals are aligned to the wall clock of loc
// so that 1h buckets start on the hour and 1d buckets at midnight there.
func AlignTime(t time.Time, interval time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	_, offset := t.Zone()
	shift := time.Duration(offset) * time.Second
	return t.Add(shift).Truncate(interval).Add(-shift).In(loc)
}

// Aggregate buckets points by interval. Buckets come out ordered by time and empty intervals are skipped.
func Aggregate(points []DataPoint, interval time.Duration, loc *time.Location) []Bucket {
	if interval <= 0 || len(points) == 0 {
		return []Bucket{}
	}

	type acc struct {
		sum, min, max float64
		count         int
	}
	accs := make(map[int64]*acc)
	keys := make([]int64, 0)
	starts := make(map[int64]time.Time)

	for _, p := range points {
		start := AlignTime(p.Timestamp, interval, loc)
		key := start.UnixNano()
		a, ok := accs[key]
		if !ok {
			a = &acc{min: math.Inf(1), max: math.Inf(-1)}
			accs[key] = a
			keys = append(keys, key)
			starts[key] = start
		}
		a.sum += p.Value
		a.count++
		a.min = math.Min(a.min, p.Value)
		a.max = math.Max(a.max, p.Value)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	buckets := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		a := accs[key]
		buckets = append(buckets, Bucket{
			Timestamp: starts[key],
			Avg:       a.sum / float64(a.count),
			Min:       a.min,
			Max:       a.max,
			Count:     a.count,
		})
	}
	return buckets
}
