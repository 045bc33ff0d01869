package telemetry

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
)

var (
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidInterval  = errors.New("invalid aggregation interval")

	// TimeRanges are the windows a chart widget can show.
	TimeRanges = []string{"1h", "6h", "24h", "7d", "30d"}
	// Intervals are the bucket sizes a chart widget can aggregate by.
	Intervals = []string{"1m", "5m", "15m", "1h", "1d"}

	DefaultTimeRange = "24h"
	DefaultInterval  = "5m"
)

// ParseTimeRange converts one of TimeRanges to a duration. An empty string means DefaultTimeRange.
func ParseTimeRange(s string) (time.Duration, error) {
	if s == "" {
		s = DefaultTimeRange
	}
	if !core.StringInSlice(s, TimeRanges) {
		return 0, errors.Wrap(ErrInvalidTimeRange, s)
	}
	return parseSpan(s)
}

// ParseInterval converts one of Intervals to a duration. An empty string means DefaultInterval.
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		s = DefaultInterval
	}
	if !core.StringInSlice(s, Intervals) {
		return 0, errors.Wrap(ErrInvalidInterval, s)
	}
	return parseSpan(s)
}

// parseSpan parses "<n><unit>" where unit is one of m, h, d.
func parseSpan(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, errors.Errorf("invalid span: %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid span: %q", s)
	}
	var unit time.Duration
	switch strings.ToLower(s[len(s)-1:]) {
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	default:
		return 0, errors.Errorf("invalid span unit: %q", s)
	}
	return time.Duration(n) * unit, nil
}

// Window returns the [start, end] window of the last d ending at now.
func Window(now time.Time, d time.Duration) (time.Time, time.Time) {
	end := now.UTC()
	return end.Add(-d), end
}
