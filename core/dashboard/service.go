package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/random"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("dashboard not found")
	ErrFieldNotFound     = errors.New("field not found in dashboard")
	ErrWidgetNotFound    = errors.New("widget not found in dashboard")
	ErrNameExists        = errors.New("a dashboard with this name already exists")
	ErrAPIKeyExists      = errors.New("api key already in use")
	ErrMissingAPIKey     = errors.New("missing API key")
	ErrInvalidAPIKey     = errors.New("invalid API key or dashboard not found for this key")
	ErrDashboardMismatch = errors.New("provided dashboard ID does not match the API key's associated dashboard")

	apiKeyLen      uint8 = 12
	apiKeyAttempts       = 3

	// NewAPIKey generates dashboard API keys. mockable
	NewAPIKey = func() string { return random.String(apiKeyLen, random.Alphanumeric) }
)

type (
	Repository interface {
		CheckNameUniqueness(ctx context.Context, name string, excluded ...Dashboard) error
		// CreateDashboard fails with ErrAPIKeyExists when d.APIKey is taken.
		CreateDashboard(ctx context.Context, d Dashboard) (Dashboard, error)
		QueryDashboards(ctx context.Context, filter *QueryFilter) ([]Dashboard, error)
		GetDashboardByID(ctx context.Context, id string) (Dashboard, error)
		GetDashboardByAPIKey(ctx context.Context, key string) (Dashboard, error)
		// UpdateDashboard saves d as a whole, assignments included.
		UpdateDashboard(ctx context.Context, d Dashboard) (Dashboard, error)
		// SetFieldValue atomically applies Dashboard.SetFieldValue to the stored dashboard.
		SetFieldValue(ctx context.Context, id, field string, value float64, ts time.Time, onlyIfNewer bool) (bool, error)
		DeleteDashboard(ctx context.Context, id string) error
	}

	ServiceInterface interface {
		Create(ctx context.Context, nd NewDashboard, by user.User) (Dashboard, error)
		Query(ctx context.Context, filter *QueryFilter) ([]Dashboard, error)
		GetByID(ctx context.Context, id string) (Dashboard, error)
		Update(ctx context.Context, d Dashboard, ud UpdateDashboard) (Dashboard, error)
		Delete(ctx context.Context, d Dashboard) error
		RotateAPIKey(ctx context.Context, d Dashboard) (Dashboard, error)

		Ingest(ctx context.Context, apiKey string, reading DeviceReading) (telemetry.DataPoint, error)
		IngestMQTT(ctx context.Context, dashboardID, field string, value float64, topic string) (telemetry.DataPoint, error)
		AddManualPoint(ctx context.Context, d Dashboard, field string, value float64, ts time.Time, by user.User) (telemetry.DataPoint, error)
		FieldSeries(ctx context.Context, d Dashboard, field string, hours, limit int) ([]telemetry.DataPoint, error)
		DashboardSeries(ctx context.Context, d Dashboard, hours, limit int) (Series, error)
		Latest(d Dashboard) Latest
		WidgetData(ctx context.Context, d Dashboard, widgetID string) (WidgetData, error)
		Stats(ctx context.Context, d Dashboard) (Stats, error)
		Export(ctx context.Context, d Dashboard, fields []string, start, end time.Time, w io.Writer) error
	}

	service struct {
		repo    Repository
		points  telemetry.Repository
		usrSvc  user.ServiceInterface
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	points telemetry.Repository,
	usrSvc user.ServiceInterface,
	mailSvc core.EmailService,
	conf *core.Config,
) ServiceInterface {
	return &service{
		repo:    repo,
		points:  points,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) checkNameUniqueness(ctx context.Context, name string, excluded ...Dashboard) error {
	if err := svc.repo.CheckNameUniqueness(ctx, name, excluded...); err != nil {
		if errors.Cause(err) == ErrNameExists {
			return core.NewFieldValidationError("name", ErrNameExists)
		}
		return err
	}
	return nil
}

// checkUsers makes sure every id names an existing user and returns the users, deduplicated.
func (svc *service) checkUsers(ctx context.Context, ids []string) ([]user.User, error) {
	users := make([]user.User, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		usr, err := svc.usrSvc.GetByID(ctx, id)
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return nil, core.NewFieldValidationError("assigned_users", errors.Errorf("unknown user: %s", id))
			}
			return nil, errors.Wrap(err, "finding assigned user")
		}
		users = append(users, usr)
	}
	return users, nil
}

func cleanFields(fields []Field) []Field {
	cleaned := make([]Field, 0, len(fields))
	for _, f := range fields {
		f.Name = core.CleanString(f.Name)
		if f.Type == "" {
			f.Type = FieldNumeric
		}
		cleaned = append(cleaned, f)
	}
	return cleaned
}

func userIDs(users []user.User) []string {
	ids := make([]string, 0, len(users))
	for _, usr := range users {
		ids = append(ids, usr.ID)
	}
	return ids
}

// Create creates a Dashboard and emails its API key to the assigned users.
// Initial field values become the fields' last values.
func (svc *service) Create(ctx context.Context, nd NewDashboard, by user.User) (Dashboard, error) {
	nd.Name = core.CleanString(nd.Name)
	if err := svc.checkNameUniqueness(ctx, nd.Name); err != nil {
		return Dashboard{}, err
	}

	fields := cleanFields(nd.Fields)
	if err := validateLayout(fields, nd.Widgets); err != nil {
		return Dashboard{}, err
	}
	assigned, err := svc.checkUsers(ctx, nd.AssignedUsers)
	if err != nil {
		return Dashboard{}, err
	}

	now := time.Now().UTC()
	for i, f := range fields {
		if f.Value.Valid {
			fields[i].LastValue = f.Value
			fields[i].LastUpdate = null.TimeFrom(now)
			fields[i].Value = null.Float64{}
		}
	}
	if nd.Widgets == nil {
		nd.Widgets = []Widget{}
	}

	d := Dashboard{
		ID:            uuid.New().String(),
		Name:          nd.Name,
		Description:   core.CleanString(nd.Description),
		IsPublic:      nd.IsPublic,
		Fields:        fields,
		Widgets:       nd.Widgets,
		AssignedUsers: userIDs(assigned),
		CreatedBy:     null.StringFrom(by.ID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for attempt := 1; ; attempt++ {
		d.APIKey = NewAPIKey()
		created, err := svc.repo.CreateDashboard(ctx, d)
		if err == nil {
			d = created
			break
		}
		if errors.Cause(err) != ErrAPIKeyExists || attempt >= apiKeyAttempts {
			return Dashboard{}, errors.Wrap(err, "creating dashboard")
		}
	}

	svc.sendAssignmentMails(d, assigned)
	return d, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter) ([]Dashboard, error) {
	return svc.repo.QueryDashboards(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Dashboard, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Dashboard{}, ErrNotFound
	}
	return svc.repo.GetDashboardByID(ctx, id)
}

// Update applies the provided members of ud to d.
// A field carrying a value updates its last value and records a data point.
// Newly assigned users get the assignment email.
func (svc *service) Update(ctx context.Context, d Dashboard, ud UpdateDashboard) (Dashboard, error) {
	if ud.Name != nil {
		name := core.CleanString(*ud.Name)
		if err := svc.checkNameUniqueness(ctx, name, d); err != nil {
			return Dashboard{}, err
		}
		d.Name = name
	}
	if ud.Description != nil {
		d.Description = core.CleanString(*ud.Description)
	}
	if ud.IsPublic != nil {
		d.IsPublic = *ud.IsPublic
	}

	now := time.Now().UTC()
	var updatedPoints []telemetry.DataPoint
	if ud.Fields != nil {
		fields := cleanFields(ud.Fields)
		for i, f := range fields {
			if prev, ok := d.Field(f.Name); ok {
				fields[i].LastValue = prev.LastValue
				fields[i].LastUpdate = prev.LastUpdate
			}
			if f.Value.Valid {
				fields[i].LastValue = f.Value
				fields[i].LastUpdate = null.TimeFrom(now)
				fields[i].Value = null.Float64{}
				p, err := telemetry.NewDataPoint(d.ID, f.Name, f.Value.Float64, now, telemetry.Metadata{"source": telemetry.SourceDashboardUpdate})
				if err != nil {
					return Dashboard{}, err
				}
				updatedPoints = append(updatedPoints, p)
			}
		}
		d.Fields = fields
	}
	if ud.Widgets != nil {
		d.Widgets = ud.Widgets
	}
	if err := validateLayout(d.Fields, d.Widgets); err != nil {
		return Dashboard{}, err
	}

	var newlyAssigned []user.User
	if ud.AssignedUsers != nil {
		assigned, err := svc.checkUsers(ctx, ud.AssignedUsers)
		if err != nil {
			return Dashboard{}, err
		}
		for _, usr := range assigned {
			if !d.IsAssigned(usr.ID) {
				newlyAssigned = append(newlyAssigned, usr)
			}
		}
		d.AssignedUsers = userIDs(assigned)
	}

	d.UpdatedAt = now
	d, err := svc.repo.UpdateDashboard(ctx, d)
	if err != nil {
		return Dashboard{}, errors.Wrap(err, "updating dashboard")
	}
	for _, p := range updatedPoints {
		if _, err = svc.points.AddPoint(ctx, p); err != nil {
			return Dashboard{}, errors.Wrap(err, "adding data point")
		}
	}

	svc.sendAssignmentMails(d, newlyAssigned)
	return d, nil
}

// Delete removes the dashboard, its assignments and its data points.
func (svc *service) Delete(ctx context.Context, d Dashboard) error {
	if err := svc.points.DeleteDashboardPoints(ctx, d.ID); err != nil {
		return errors.Wrap(err, "deleting data points")
	}
	return errors.Wrap(svc.repo.DeleteDashboard(ctx, d.ID), "deleting dashboard")
}

// RotateAPIKey replaces the dashboard's API key. Devices using the old key are rejected from now on.
func (svc *service) RotateAPIKey(ctx context.Context, d Dashboard) (Dashboard, error) {
	d.UpdatedAt = time.Now().UTC()
	for attempt := 1; ; attempt++ {
		d.APIKey = NewAPIKey()
		updated, err := svc.repo.UpdateDashboard(ctx, d)
		if err == nil {
			return updated, nil
		}
		if errors.Cause(err) != ErrAPIKeyExists || attempt >= apiKeyAttempts {
			return Dashboard{}, errors.Wrap(err, "updating dashboard")
		}
	}
}

type assignmentMailData struct {
	Username      string
	DashboardID   string
	DashboardName string
	APIKey        string
}

// sendAssignmentMails emails the dashboard's API key to the verified & approved users.
func (svc *service) sendAssignmentMails(d Dashboard, users []user.User) {
	msgs := make([]*core.EmailMessage, 0, len(users))
	for _, usr := range users {
		if !(usr.IsVerified && usr.IsApproved) {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: usr.Username, Address: usr.Email}},
			Subject:      fmt.Sprintf("New Dashboard Assigned - %s", d.Name),
			TemplateName: "dashboard_assigned",
			TemplateData: assignmentMailData{
				Username:      usr.Username,
				DashboardID:   d.ID,
				DashboardName: d.Name,
				APIKey:        d.APIKey,
			},
		})
	}
	if len(msgs) > 0 {
		svc.mailSvc.SendMessages(msgs...)
	}
}

// Data

// DeviceReading is a single value pushed by a device.
type DeviceReading struct {
	DashboardID string  `json:"dashboard_id" validate:"required"`
	FieldName   string  `json:"field_name" validate:"required"`
	Value       float64 `json:"value"`
}

// record stores a data point and mirrors it on the dashboard field.
func (svc *service) record(ctx context.Context, p telemetry.DataPoint, onlyIfNewer bool) (telemetry.DataPoint, error) {
	p, err := svc.points.AddPoint(ctx, p)
	if err != nil {
		return telemetry.DataPoint{}, errors.Wrap(err, "adding data point")
	}
	if _, err = svc.repo.SetFieldValue(ctx, p.DashboardID, p.FieldName, p.Value, p.Timestamp, onlyIfNewer); err != nil {
		return telemetry.DataPoint{}, errors.Wrap(err, "setting field value")
	}
	return p.InLocation(svc.conf.Location()), nil
}

// Ingest stores a device reading authenticated by the dashboard's API key.
func (svc *service) Ingest(ctx context.Context, apiKey string, reading DeviceReading) (telemetry.DataPoint, error) {
	if apiKey == "" {
		return telemetry.DataPoint{}, ErrMissingAPIKey
	}
	d, err := svc.repo.GetDashboardByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return telemetry.DataPoint{}, ErrInvalidAPIKey
		}
		return telemetry.DataPoint{}, errors.Wrap(err, "finding dashboard by api key")
	}
	if d.ID != reading.DashboardID {
		return telemetry.DataPoint{}, ErrDashboardMismatch
	}
	if _, ok := d.Field(reading.FieldName); !ok {
		return telemetry.DataPoint{}, errors.Wrapf(ErrFieldNotFound, "field '%s'", reading.FieldName)
	}

	p, err := telemetry.NewDataPoint(d.ID, reading.FieldName, reading.Value, time.Time{}, telemetry.Metadata{
		"source":       telemetry.SourceDevice,
		"api_key_used": apiKey,
	})
	if err != nil {
		return telemetry.DataPoint{}, err
	}
	return svc.record(ctx, p, true)
}

// IngestMQTT stores a value received on a dashboard field topic.
func (svc *service) IngestMQTT(ctx context.Context, dashboardID, field string, value float64, topic string) (telemetry.DataPoint, error) {
	d, err := svc.GetByID(ctx, dashboardID)
	if err != nil {
		return telemetry.DataPoint{}, err
	}
	if _, ok := d.Field(field); !ok {
		return telemetry.DataPoint{}, errors.Wrapf(ErrFieldNotFound, "field '%s'", field)
	}

	p, err := telemetry.NewDataPoint(d.ID, field, value, time.Time{}, telemetry.Metadata{"source": telemetry.SourceMQTT, "topic": topic})
	if err != nil {
		return telemetry.DataPoint{}, err
	}
	return svc.record(ctx, p, true)
}

// AddManualPoint stores a point with an explicit timestamp.
// The field's last value only moves when ts is newer than its last update.
func (svc *service) AddManualPoint(ctx context.Context, d Dashboard, field string, value float64, ts time.Time, by user.User) (telemetry.DataPoint, error) {
	if _, ok := d.Field(field); !ok {
		return telemetry.DataPoint{}, ErrFieldNotFound
	}
	if !telemetry.ValidTimestamp(ts) {
		return telemetry.DataPoint{}, core.NewFieldValidationError("timestamp", telemetry.ErrInvalidTimestamp)
	}
	p, err := telemetry.NewDataPoint(d.ID, field, value, ts, telemetry.Metadata{"source": telemetry.SourceManual, "user_id": by.ID})
	if err != nil {
		return telemetry.DataPoint{}, err
	}
	return svc.record(ctx, p, true)
}

func (svc *service) fieldSeries(ctx context.Context, d Dashboard, field string, start, end time.Time, limit int) ([]telemetry.DataPoint, error) {
	points, err := svc.points.QueryPoints(ctx, telemetry.PointFilter{
		DashboardID: d.ID,
		FieldName:   field,
		Start:       start,
		End:         end,
		Limit:       limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "querying %s points", field)
	}
	loc := svc.conf.Location()
	for i := range points {
		points[i] = points[i].InLocation(loc)
	}
	if points == nil {
		points = []telemetry.DataPoint{}
	}
	return points, nil
}

// FieldSeries returns, oldest first, the most recent limit points of the last hours of a field.
func (svc *service) FieldSeries(ctx context.Context, d Dashboard, field string, hours, limit int) ([]telemetry.DataPoint, error) {
	if _, ok := d.Field(field); !ok {
		return nil, ErrFieldNotFound
	}
	start, end := telemetry.Window(time.Now(), time.Duration(hours)*time.Hour)
	return svc.fieldSeries(ctx, d, field, start, end, limit)
}

type (
	TimeRange struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
		Hours int       `json:"hours"`
	}

	Series struct {
		DashboardID   string                           `json:"dashboard_id"`
		DashboardName string                           `json:"dashboard_name"`
		TimeRange     TimeRange                        `json:"time_range"`
		Fields        map[string][]telemetry.DataPoint `json:"fields"`
	}
)

// DashboardSeries returns the FieldSeries of every field, fetched concurrently.
func (svc *service) DashboardSeries(ctx context.Context, d Dashboard, hours, limit int) (Series, error) {
	start, end := telemetry.Window(time.Now(), time.Duration(hours)*time.Hour)
	loc := svc.conf.Location()
	series := Series{
		DashboardID:   d.ID,
		DashboardName: d.Name,
		TimeRange:     TimeRange{Start: start.In(loc), End: end.In(loc), Hours: hours},
		Fields:        make(map[string][]telemetry.DataPoint, len(d.Fields)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range d.Fields {
		field := f.Name
		g.Go(func() error {
			points, err := svc.fieldSeries(gctx, d, field, start, end, limit)
			if err != nil {
				return err
			}
			mu.Lock()
			series.Fields[field] = points
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Series{}, err
	}
	return series, nil
}

type (
	LatestValue struct {
		Value      null.Float64 `json:"value"`
		Unit       string       `json:"unit,omitempty"`
		LastUpdate null.Time    `json:"last_update"`
	}

	Latest struct {
		DashboardID string                 `json:"dashboard_id"`
		ServerTime  time.Time              `json:"server_time"`
		Fields      map[string]LatestValue `json:"fields"`
	}
)

// Latest returns the last value of every field. Clients poll it to refresh their widgets.
func (svc *service) Latest(d Dashboard) Latest {
	loc := svc.conf.Location()
	latest := Latest{
		DashboardID: d.ID,
		ServerTime:  time.Now().In(loc),
		Fields:      make(map[string]LatestValue, len(d.Fields)),
	}
	for _, f := range d.Fields {
		lv := LatestValue{Value: f.LastValue, Unit: f.Unit, LastUpdate: f.LastUpdate}
		if lv.LastUpdate.Valid {
			lv.LastUpdate.Time = lv.LastUpdate.Time.In(loc)
		}
		latest.Fields[f.Name] = lv
	}
	return latest
}

type WidgetData struct {
	WidgetID            string             `json:"widget_id"`
	Type                string             `json:"type"`
	Field               string             `json:"field"`
	TimeRange           string             `json:"time_range"`
	AggregationInterval string             `json:"aggregation_interval"`
	Start               time.Time          `json:"start"`
	End                 time.Time          `json:"end"`
	Buckets             []telemetry.Bucket `json:"buckets"`
	LatestValue         null.Float64       `json:"latest_value"`
	LastUpdate          null.Time          `json:"last_update"`
	Color               null.String        `json:"color"` // indicator widgets only
}

// WidgetData aggregates the widget's field over the widget's time range.
// Indicator widgets also get the color their rules pick for the latest value.
func (svc *service) WidgetData(ctx context.Context, d Dashboard, widgetID string) (WidgetData, error) {
	w, ok := d.Widget(widgetID)
	if !ok {
		return WidgetData{}, ErrWidgetNotFound
	}
	f, ok := d.Field(w.Field)
	if !ok {
		return WidgetData{}, ErrFieldNotFound
	}

	timeRange, interval := w.TimeRange, w.AggregationInterval
	if timeRange == "" {
		timeRange = telemetry.DefaultTimeRange
	}
	if interval == "" {
		interval = telemetry.DefaultInterval
	}
	span, err := telemetry.ParseTimeRange(timeRange)
	if err != nil {
		return WidgetData{}, core.NewFieldValidationError("timeRange", err)
	}
	step, err := telemetry.ParseInterval(interval)
	if err != nil {
		return WidgetData{}, core.NewFieldValidationError("aggregationInterval", err)
	}

	start, end := telemetry.Window(time.Now(), span)
	points, err := svc.fieldSeries(ctx, d, f.Name, start, end, 0)
	if err != nil {
		return WidgetData{}, err
	}

	loc := svc.conf.Location()
	data := WidgetData{
		WidgetID:            w.ID,
		Type:                w.Type,
		Field:               f.Name,
		TimeRange:           timeRange,
		AggregationInterval: interval,
		Start:               start.In(loc),
		End:                 end.In(loc),
		Buckets:             telemetry.Aggregate(points, step, loc),
		LatestValue:         f.LastValue,
		LastUpdate:          f.LastUpdate,
	}
	if data.LastUpdate.Valid {
		data.LastUpdate.Time = data.LastUpdate.Time.In(loc)
	}
	if w.Type == WidgetIndicator && f.LastValue.Valid {
		if color, ok := EvaluateRules(w.Rules, f.LastValue.Float64); ok {
			data.Color = null.StringFrom(color)
		}
	}
	return data, nil
}

type Stats struct {
	DashboardID string         `json:"dashboard_id"`
	TotalPoints int            `json:"total_points"`
	Fields      map[string]int `json:"fields"`
}

// Stats counts the stored points per field.
func (svc *service) Stats(ctx context.Context, d Dashboard) (Stats, error) {
	counts, err := svc.points.CountPoints(ctx, d.ID)
	if err != nil {
		return Stats{}, errors.Wrap(err, "counting points")
	}
	stats := Stats{DashboardID: d.ID, Fields: make(map[string]int, len(d.Fields))}
	for _, f := range d.Fields {
		stats.Fields[f.Name] = counts[f.Name]
		stats.TotalPoints += counts[f.Name]
	}
	return stats, nil
}

// Export writes the points of fields (all fields when empty) in [start, end] as CSV.
// A zero start exports from the first point; a zero end up to now.
func (svc *service) Export(ctx context.Context, d Dashboard, fields []string, start, end time.Time, w io.Writer) error {
	if len(fields) == 0 {
		fields = d.FieldNames()
	}
	for _, f := range fields {
		if _, ok := d.Field(f); !ok {
			return errors.Wrapf(ErrFieldNotFound, "field '%s'", f)
		}
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}

	series := make(map[string][]telemetry.DataPoint, len(fields))
	for _, f := range fields {
		points, err := svc.fieldSeries(ctx, d, f, start, end, 0)
		if err != nil {
			return err
		}
		series[f] = points
	}
	return telemetry.WriteCSV(w, fields, series, svc.conf.Location())
}
