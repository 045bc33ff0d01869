package telemetry

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// WriteCSV writes a "timestamp" column followed by one column per field.
// Points sharing a timestamp end up on the same row; a field without a point at that time gets an empty cell.
func WriteCSV(w io.Writer, fields []string, series map[string][]DataPoint, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	colIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		colIdx[f] = i + 1
	}

	rows := make(map[int64][]string)
	stamps := make([]time.Time, 0)
	for field, points := range series {
		col, ok := colIdx[field]
		if !ok {
			continue
		}
		for _, p := range points {
			key := p.Timestamp.UnixNano()
			row, ok := rows[key]
			if !ok {
				row = make([]string, len(fields)+1)
				row[0] = p.Timestamp.In(loc).Format(time.RFC3339)
				rows[key] = row
				stamps = append(stamps, p.Timestamp)
			}
			row[col] = strconv.FormatFloat(p.Value, 'f', -1, 64)
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"timestamp"}, fields...)); err != nil {
		return errors.Wrap(err, "writing csv header")
	}
	for _, ts := range stamps {
		if err := cw.Write(rows[ts.UnixNano()]); err != nil {
			return errors.Wrap(err, "writing csv row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing csv")
}
