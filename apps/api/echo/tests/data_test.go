package tests

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	echoapi "github.com/JoeMarian/bluedropwithvps/apps/api/echo"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/telemetry"
	"github.com/JoeMarian/bluedropwithvps/testutil"
)

func shownPoints(points ...telemetry.DataPoint) []interface{} {
	shown := make([]interface{}, 0, len(points))
	for _, p := range points {
		shown = append(shown, p.InLocation(conf.Location()))
	}
	return shown
}

func Test_dataApi_fieldSeries(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	alice := testutil.CreateUser(t, usrRepo, "alice", "alice@test.in", pwd, true, true, false)
	bob := testutil.CreateUser(t, usrRepo, "bob", "bob@test.in", pwd, true, true, false)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A", alice.ID), admin)

	now := time.Now()
	old := testutil.AddPoint(t, pointRepo, d.ID, "level", 10, now.Add(-3*time.Hour), telemetry.SourceDevice)
	p1 := testutil.AddPoint(t, pointRepo, d.ID, "level", 20, now.Add(-50*time.Minute), telemetry.SourceDevice)
	p2 := testutil.AddPoint(t, pointRepo, d.ID, "level", 30, now.Add(-20*time.Minute), telemetry.SourceMQTT)
	p3 := testutil.AddPoint(t, pointRepo, d.ID, "level", 40, now.Add(-time.Minute), telemetry.SourceDevice)
	testutil.AddPoint(t, pointRepo, d.ID, "temperature", 25, now.Add(-time.Minute), telemetry.SourceDevice)

	path := func(field string, v url.Values) string {
		return "/api/v1/dashboard/" + d.ID + "/field/" + field + "/data?" + v.Encode()
	}
	token := getToken(t, alice)

	tests := []httpTest{
		{name: "Auth required", path: path("level", nil), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "view access required", path: path("level", nil), token: getToken(t, bob), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "Not enough permissions to access this dashboard"}),
		},
		{name: "defaults (24h, oldest first)", path: path("level", nil), token: token, wantData: marchallList(t, shownPoints(old, p1, p2, p3)...)},
		{name: "last hour", path: path("level", url.Values{"hours": {"1"}}), token: token, wantData: marchallList(t, shownPoints(p1, p2, p3)...)},
		{name: "limit keeps the newest", path: path("level", url.Values{"limit": {"2"}}), token: token, wantData: marchallList(t, shownPoints(p2, p3)...)},
		{
			name: "invalid hours", path: path("level", url.Values{"hours": {"-1"}}), token: token, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"hours": "must be an integer between 1 and 8760"}),
		},
		{
			name: "unknown field", path: path("volume", nil), token: token, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "Field not found in dashboard"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runTests(t, tests)
}

func Test_dataApi_dashboardSeries(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A"), admin)

	now := time.Now()
	for i := 0; i < 5; i++ {
		testutil.AddPoint(t, pointRepo, d.ID, "level", float64(i), now.Add(-time.Duration(i+1)*time.Minute), telemetry.SourceDevice)
	}

	req, rec := newAuthRequest(http.MethodGet, "/api/v1/dashboard/"+d.ID+"/data?hours=2&limit=3", getToken(t, admin))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var series dashboard.Series
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	assert.Equal(t, d.ID, series.DashboardID)
	assert.Equal(t, "Tank A", series.DashboardName)
	assert.Equal(t, 2, series.TimeRange.Hours)
	assert.WithinDuration(t, series.TimeRange.End.Add(-2*time.Hour), series.TimeRange.Start, time.Second)

	require.Len(t, series.Fields, 2)
	assert.Empty(t, series.Fields["temperature"])
	level := series.Fields["level"]
	require.Len(t, level, 3)
	// the 3 most recent, oldest first
	assert.Equal(t, []float64{2, 1, 0}, []float64{level[0].Value, level[1].Value, level[2].Value})
}

func Test_dataApi_addPoint(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	alice := testutil.CreateUser(t, usrRepo, "alice", "alice@test.in", pwd, true, true, false)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A", alice.ID), admin)

	now := time.Now().UTC().Truncate(time.Second)
	_, err := dashRepo.SetFieldValue(context.Background(), d.ID, "level", 60, now.Add(-time.Hour), false)
	require.NoError(t, err)

	point := func(v float64, ts time.Time) []byte {
		return marchallObj(t, echoapi.DataPointRequest{Value: &v, Timestamp: &ts})
	}
	path := "/api/v1/dashboard/" + d.ID + "/field/level/data"

	tests := []httpTest{
		{
			name: "admins only", path: path, token: getToken(t, alice), body: point(1, now), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "Only admins can add previous data points"}),
		},
		{
			name: "required fields", path: path, token: getToken(t, admin), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"value": reqMsg, "timestamp": reqMsg}),
		},
		{
			name: "unknown field", path: "/api/v1/dashboard/" + d.ID + "/field/volume/data", token: getToken(t, admin), body: point(1, now),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "Field not found in dashboard"}),
		},
		{
			name: "timestamp before 1970", path: path, token: getToken(t, admin), body: point(1, time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC)),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"timestamp": "must be between 1970-01-01 and 10889-08-02"}),
		},
		{name: "older point keeps the last value", path: path, token: getToken(t, admin), body: point(15, now.Add(-2*time.Hour)), extra: 60.0},
		{name: "newer point moves the last value", path: path, token: getToken(t, admin), body: point(80, now), extra: 80.0},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			lastValue, ok := tt.extra.(float64)
			if !ok {
				checkCodeAndData(t, tt, rec)
				return
			}
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			var resp echoapi.DataPointResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "Data point added successfully", resp.Message)
			assert.NotEmpty(t, resp.DataPointID)

			stored, err := dashRepo.GetDashboardByID(context.Background(), d.ID)
			require.NoError(t, err)
			level, _ := stored.Field("level")
			assert.Equal(t, null.Float64From(lastValue), level.LastValue)
		})
	}

	points, err := pointRepo.QueryPoints(context.Background(), telemetry.PointFilter{DashboardID: d.ID, FieldName: "level"})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, telemetry.SourceManual, points[0].Metadata.Source())
	assert.Equal(t, admin.ID, points[0].Metadata["user_id"])
}

func Test_dataApi_latest(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A"), admin)
	ts := time.Now().UTC().Truncate(time.Second)
	_, err := dashRepo.SetFieldValue(context.Background(), d.ID, "level", 64.5, ts, false)
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodGet, "/api/v1/dashboard/"+d.ID+"/latest", getToken(t, admin))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var latest dashboard.Latest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, d.ID, latest.DashboardID)
	require.Len(t, latest.Fields, 2)
	assert.Equal(t, null.Float64From(64.5), latest.Fields["level"].Value)
	assert.Equal(t, "%", latest.Fields["level"].Unit)
	assert.True(t, ts.Equal(latest.Fields["level"].LastUpdate.Time))
	assert.False(t, latest.Fields["temperature"].Value.Valid)

	// timestamps are rendered in the display time zone
	_, offset := latest.ServerTime.Zone()
	_, wantOffset := time.Now().In(conf.Location()).Zone()
	assert.Equal(t, wantOffset, offset)
}

func Test_dataApi_widgetData(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A"), admin)
	now := time.Now()
	for _, v := range []float64{10, 30} {
		testutil.AddPoint(t, pointRepo, d.ID, "level", v, now.Add(-2*time.Minute), telemetry.SourceDevice)
	}
	_, err := dashRepo.SetFieldValue(context.Background(), d.ID, "level", 35, now, false)
	require.NoError(t, err)

	get := func(widget string) (int, dashboard.WidgetData) {
		req, rec := newAuthRequest(http.MethodGet, "/api/v1/dashboard/"+d.ID+"/widgets/"+widget+"/data", getToken(t, admin))
		app.ServeHTTP(rec, req)
		var data dashboard.WidgetData
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &data))
		}
		return rec.Code, data
	}

	code, data := get("w1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "indicator", data.Type)
	assert.Equal(t, telemetry.DefaultTimeRange, data.TimeRange)
	assert.Equal(t, telemetry.DefaultInterval, data.AggregationInterval)
	assert.Equal(t, null.Float64From(35), data.LatestValue)
	assert.Equal(t, null.StringFrom("yellow"), data.Color)
	require.NotEmpty(t, data.Buckets)
	var count int
	for _, b := range data.Buckets {
		count += b.Count
	}
	assert.Equal(t, 2, count)

	code, data = get("w2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "6h", data.TimeRange)
	assert.Equal(t, "1h", data.AggregationInterval)
	assert.False(t, data.Color.Valid)
	assert.Empty(t, data.Buckets)

	code, _ = get("w9")
	assert.Equal(t, http.StatusNotFound, code)
}

func Test_dataApi_statsAndExport(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A"), admin)
	ts := time.Now().Add(-time.Hour).Truncate(time.Second)
	testutil.AddPoint(t, pointRepo, d.ID, "level", 50, ts, telemetry.SourceDevice)
	testutil.AddPoint(t, pointRepo, d.ID, "level", 55, ts.Add(time.Minute), telemetry.SourceDevice)
	testutil.AddPoint(t, pointRepo, d.ID, "temperature", 21.5, ts, telemetry.SourceDevice)
	token := getToken(t, admin)

	runTests(t, []httpTest{
		{
			name: "stats", method: http.MethodGet, path: "/api/v1/dashboard/" + d.ID + "/stats", token: token,
			wantData: marchallObj(t, dashboard.Stats{DashboardID: d.ID, TotalPoints: 3, Fields: map[string]int{"level": 2, "temperature": 1}}),
		},
		{
			name: "export: unknown field", method: http.MethodGet, path: "/api/v1/dashboard/" + d.ID + "/export?fields=volume", token: token,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "Field not found in dashboard"}),
		},
		{
			name: "export: invalid start", method: http.MethodGet, path: "/api/v1/dashboard/" + d.ID + "/export?start=yesterday", token: token,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"start": "must be an ISO 8601 timestamp"}),
		},
	})

	t.Run("export", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/api/v1/dashboard/"+d.ID+"/export?fields=level,temperature", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment;")

		rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
		require.NoError(t, err)
		loc := conf.Location()
		assert.Equal(t, [][]string{
			{"timestamp", "level", "temperature"},
			{ts.In(loc).Format(time.RFC3339), "50", "21.5"},
			{ts.Add(time.Minute).In(loc).Format(time.RFC3339), "55", ""},
		}, rows)
	})
}

func Test_dataApi_deviceIngest(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A"), admin)
	other := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank B"), admin)

	reading := func(dashboardID, field string, v float64) []byte {
		return marchallObj(t, echoapi.DeviceIngestRequest{DashboardID: dashboardID, FieldName: field, Value: &v})
	}

	type extraTest struct {
		apiKey string
	}
	tests := []httpTest{
		{name: "missing API key", body: reading(d.ID, "level", 1), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "Missing API key"})},
		{
			name: "unknown API key", body: reading(d.ID, "level", 1), extra: extraTest{apiKey: "nope"}, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "Invalid API key or dashboard not found for this key"}),
		},
		{
			name: "dashboard mismatch", body: reading(other.ID, "level", 1), extra: extraTest{apiKey: d.APIKey}, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "Provided dashboard ID does not match the API key's associated dashboard."}),
		},
		{
			name: "unknown field", body: reading(d.ID, "volume", 1), extra: extraTest{apiKey: d.APIKey}, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "Field not found in dashboard"}),
		},
		{
			name: "required fields", extra: extraTest{apiKey: d.APIKey}, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"dashboard_id": reqMsg, "field_name": reqMsg, "value": reqMsg}),
		},
		{name: "ingested", body: reading(d.ID, "level", 72.5), extra: extraTest{apiKey: d.APIKey}},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/v1/device-ingest"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			if extra, ok := tt.extra.(extraTest); ok {
				req.Header.Set("X-API-KEY", extra.apiKey)
			}
			app.ServeHTTP(rec, req)

			if tt.wantCode != http.StatusOK {
				checkCodeAndData(t, tt, rec)
				return
			}
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			var resp echoapi.DataPointResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "Data point ingested successfully", resp.Message)
			assert.Equal(t, 72.5, resp.Value)

			stored, err := dashRepo.GetDashboardByID(context.Background(), d.ID)
			require.NoError(t, err)
			level, _ := stored.Field("level")
			assert.Equal(t, null.Float64From(72.5), level.LastValue)

			points, err := pointRepo.QueryPoints(context.Background(), telemetry.PointFilter{DashboardID: d.ID, FieldName: "level"})
			require.NoError(t, err)
			require.Len(t, points, 1)
			assert.Equal(t, resp.DataPointID, points[0].ID)
			assert.Equal(t, telemetry.SourceDevice, points[0].Metadata.Source())
			assert.Equal(t, d.APIKey, points[0].Metadata["api_key_used"])
		})
	}
}
