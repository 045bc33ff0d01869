package telemetry

import (
	"context"
	"crypto/rand"
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"
)

// Sources of data points
const (
	SourceDevice          = "device"
	SourceMQTT            = "mqtt"
	SourceManual          = "manual"
	SourceDashboardUpdate = "dashboard_update"
)

var (
	ErrInvalidMetadata  = errors.New("invalid metadata")
	ErrInvalidTimestamp = errors.New("must be between 1970-01-01 and 10889-08-02")
)

// Metadata holds free form details about where a DataPoint came from.
type Metadata map[string]interface{}

// Value implements driver.Valuer so Metadata can be stored in a JSONB column.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return ErrInvalidMetadata
	}
	return json.Unmarshal(data, m)
}

// Source returns the "source" entry of the metadata.
func (m Metadata) Source() string {
	s, _ := m["source"].(string)
	return s
}

type DataPoint struct {
	ID          string    `json:"_id" db:"id"`
	DashboardID string    `json:"dashboard_id" db:"dashboard_id"`
	FieldName   string    `json:"field_name" db:"field_name"`
	Value       float64   `json:"value" db:"value"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"` // UTC
	Metadata    Metadata  `json:"metadata" db:"metadata"`
}

// NewDataPoint returns a DataPoint with a fresh ULID. A zero ts means now.
func NewDataPoint(dashboardID, field string, value float64, ts time.Time, meta Metadata) (DataPoint, error) {
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	id, err := NewID(ts)
	if err != nil {
		return DataPoint{}, err
	}
	if meta == nil {
		meta = Metadata{}
	}
	return DataPoint{
		ID:          id,
		DashboardID: dashboardID,
		FieldName:   field,
		Value:       value,
		Timestamp:   ts,
		Metadata:    meta,
	}, nil
}

// ValidTimestamp reports whether ts fits in the time component of a point id.
func ValidTimestamp(ts time.Time) bool {
	return ts.Unix() >= 0 && ulid.Timestamp(ts) <= ulid.MaxTime()
}

// NewID returns a ULID string whose time component is ts, so ids sort with their points.
func NewID(ts time.Time) (string, error) {
	if !ValidTimestamp(ts) {
		return "", ErrInvalidTimestamp
	}
	id, err := ulid.New(ulid.Timestamp(ts), rand.Reader)
	if err != nil {
		return "", errors.Wrap(err, "generating point id")
	}
	return id.String(), nil
}

// InLocation returns a copy of the point with its timestamp in loc.
func (p DataPoint) InLocation(loc *time.Location) DataPoint {
	p.Timestamp = p.Timestamp.In(loc)
	return p
}

// PointFilter selects the points of one dashboard field in [Start, End].
// The most recent Limit points are kept (all of them when Limit <= 0).
type PointFilter struct {
	DashboardID string
	FieldName   string
	Start       time.Time
	End         time.Time
	Limit       int
}

// Match reports whether p falls in the filter, ignoring Limit.
func (f PointFilter) Match(p DataPoint) bool {
	if f.DashboardID != "" && p.DashboardID != f.DashboardID {
		return false
	}
	if f.FieldName != "" && p.FieldName != f.FieldName {
		return false
	}
	if !f.Start.IsZero() && p.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && p.Timestamp.After(f.End) {
		return false
	}
	return true
}

type Repository interface {
	AddPoint(ctx context.Context, p DataPoint) (DataPoint, error)
	// QueryPoints returns the matching points oldest first.
	QueryPoints(ctx context.Context, filter PointFilter) ([]DataPoint, error)
	// CountPoints returns the number of points per field of a dashboard.
	CountPoints(ctx context.Context, dashboardID string) (map[string]int, error)
	DeleteDashboardPoints(ctx context.Context, dashboardID string) error
}
