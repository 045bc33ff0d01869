package dashboard

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/JoeMarian/bluedropwithvps/core"
)

// Field types
const (
	FieldNumeric = "numeric"
	FieldText    = "text"
	FieldBoolean = "boolean"
)

// Widget types
const (
	WidgetChart     = "chart"
	WidgetNumeric   = "numeric"
	WidgetBar       = "bar"
	WidgetGauge     = "gauge"
	WidgetIndicator = "indicator"
)

type (
	// Field is a named series a dashboard tracks. LastValue and LastUpdate mirror its newest data point.
	Field struct {
		Name       string       `json:"name" validate:"required,notblank,max=100"`
		Type       string       `json:"type" validate:"omitempty,oneof=numeric text boolean"`
		Unit       string       `json:"unit,omitempty"`
		Value      null.Float64 `json:"value"` // input only: initial / manual value
		LastValue  null.Float64 `json:"last_value"`
		LastUpdate null.Time    `json:"last_update"` // UTC
	}

	AxisLabels struct {
		X string `json:"x,omitempty"`
		Y string `json:"y,omitempty"`
	}

	Widget struct {
		ID                  string      `json:"id" validate:"required,notblank"`
		Type                string      `json:"type" validate:"required,oneof=chart numeric bar gauge indicator"`
		Title               string      `json:"title"`
		Field               string      `json:"field" validate:"required"`
		ChartType           string      `json:"chartType,omitempty" validate:"omitempty,oneof=line bar area scatter"`
		TimeRange           string      `json:"timeRange,omitempty" validate:"omitempty,oneof=1h 6h 24h 7d 30d"`
		AggregationInterval string      `json:"aggregationInterval,omitempty" validate:"omitempty,oneof=1m 5m 15m 1h 1d"`
		Unit                string      `json:"unit,omitempty"`
		AxisLabels          *AxisLabels `json:"axisLabels,omitempty"`
		Rules               []Rule      `json:"rules,omitempty" validate:"omitempty,dive"`
	}

	Dashboard struct {
		ID            string      `json:"_id" db:"id"`
		Name          string      `json:"name" db:"name"`
		Description   string      `json:"description" db:"description"`
		IsPublic      bool        `json:"is_public" db:"is_public"`
		APIKey        string      `json:"api_key" db:"api_key"`
		Fields        []Field     `json:"fields" db:"-"`
		Widgets       []Widget    `json:"widgets" db:"-"`
		AssignedUsers []string    `json:"assigned_users" db:"-"`
		CreatedBy     null.String `json:"created_by" db:"created_by"`
		CreatedAt     time.Time   `json:"created_at" db:"created_at"` // UTC
		UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"` // UTC
	}
)

// Field returns the field called name.
func (d *Dashboard) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the names of the dashboard's fields in order.
func (d *Dashboard) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	return names
}

func (d *Dashboard) Widget(id string) (Widget, bool) {
	for _, w := range d.Widgets {
		if w.ID == id {
			return w, true
		}
	}
	return Widget{}, false
}

// SetFieldValue records value as the field's last value.
// When onlyIfNewer is set, the value is kept only if ts is after the current last update.
// It reports whether the field changed.
func (d *Dashboard) SetFieldValue(name string, value float64, ts time.Time, onlyIfNewer bool) bool {
	for i, f := range d.Fields {
		if f.Name != name {
			continue
		}
		if onlyIfNewer && f.LastUpdate.Valid && !ts.After(f.LastUpdate.Time) {
			return false
		}
		d.Fields[i].LastValue = null.Float64From(value)
		d.Fields[i].LastUpdate = null.TimeFrom(ts.UTC())
		return true
	}
	return false
}

// InLocation returns a copy of the dashboard with its times in loc.
func (d Dashboard) InLocation(loc *time.Location) Dashboard {
	fields := make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		if f.LastUpdate.Valid {
			f.LastUpdate.Time = f.LastUpdate.Time.In(loc)
		}
		fields[i] = f
	}
	d.Fields = fields
	d.CreatedAt = d.CreatedAt.In(loc)
	d.UpdatedAt = d.UpdatedAt.In(loc)
	return d
}

func (d *Dashboard) IsAssigned(userID string) bool {
	return core.StringInSlice(userID, d.AssignedUsers)
}

// NewDashboard contains information needed to create a new Dashboard.
type NewDashboard struct {
	Name          string   `json:"name" validate:"required,notblank,max=100"`
	Description   string   `json:"description"`
	IsPublic      bool     `json:"is_public"`
	Fields        []Field  `json:"fields" validate:"omitempty,dive"`
	Widgets       []Widget `json:"widgets" validate:"omitempty,dive"`
	AssignedUsers []string `json:"assigned_users"`
}

// UpdateDashboard defines what information may be provided to modify an existing Dashboard.
// nil members are left unchanged.
type UpdateDashboard struct {
	Name          *string  `json:"name" validate:"omitempty,notblank,max=100"`
	Description   *string  `json:"description"`
	IsPublic      *bool    `json:"is_public"`
	Fields        []Field  `json:"fields" validate:"omitempty,dive"`
	Widgets       []Widget `json:"widgets" validate:"omitempty,dive"`
	AssignedUsers []string `json:"assigned_users"`
}

type QueryFilter struct {
	// VisibleTo keeps the dashboards that are public, assigned to or created by this user ID.
	VisibleTo string
}

// Match applies the filter to a single Dashboard.
func (qf *QueryFilter) Match(d Dashboard) bool {
	if qf == nil || qf.VisibleTo == "" {
		return true
	}
	return d.IsPublic || d.IsAssigned(qf.VisibleTo) || (d.CreatedBy.Valid && d.CreatedBy.String == qf.VisibleTo)
}
