package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

const (
	apiKeyHeader = "X-API-KEY"

	defaultHours = 24
	maxHours     = 24 * 365
	defaultLimit = 100
	maxLimit     = 10000

	msgPointAdded    = "Data point added successfully"
	msgPointIngested = "Data point ingested successfully"
)

type dataApi struct {
	svc      dashboard.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
	conf     *core.Config
}

func registerDataAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc dashboard.ServiceInterface,
	usrSvc user.ServiceInterface,
	validate *validator.Validate,
	conf *core.Config,
) {
	api := dataApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
		conf:     conf,
	}

	// devices authenticate with the dashboard's API key
	g.POST("/device-ingest", api.ingest)

	dg := g.Group("/dashboard/:id", jwt, activeUserMiddleware(usrSvc), dashboardMiddleware(svc, usrSvc, false))
	dg.GET("/data", api.dashboardSeries)
	dg.GET("/field/:field/data", api.fieldSeries)
	dg.POST("/field/:field/data", api.addPoint)
	dg.GET("/latest", api.latest)
	dg.GET("/widgets/:widget/data", api.widgetData)
	dg.GET("/stats", api.stats)
	dg.GET("/export", api.export)
}

func (api *dataApi) window(ctx echo.Context) (hours, limit int, err error) {
	if hours, err = queryInt(ctx, "hours", defaultHours, maxHours); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(ctx, "limit", defaultLimit, maxLimit); err != nil {
		return 0, 0, err
	}
	return hours, limit, nil
}

// Handlers

func (api *dataApi) fieldSeries(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	hours, limit, err := api.window(ctx)
	if err != nil {
		return err
	}

	points, err := api.svc.FieldSeries(ctx.Request().Context(), d, ctx.Param("field"), hours, limit)
	if err != nil {
		return errors.Wrap(err, "fetching field series")
	}
	return ctx.JSON(http.StatusOK, points)
}

func (api *dataApi) dashboardSeries(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	hours, limit, err := api.window(ctx)
	if err != nil {
		return err
	}

	series, err := api.svc.DashboardSeries(ctx.Request().Context(), d, hours, limit)
	if err != nil {
		return errors.Wrap(err, "fetching dashboard series")
	}
	return ctx.JSON(http.StatusOK, series)
}

func (api *dataApi) addPoint(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	if !ctxUsr.IsAdmin {
		return errAdminOnlyPoints
	}

	var data DataPointRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DataPointRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	p, err := api.svc.AddManualPoint(ctx.Request().Context(), d, ctx.Param("field"), *data.Value, *data.Timestamp, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "adding data point")
	}
	return ctx.JSON(http.StatusOK, DataPointResponse{
		Message:     msgPointAdded,
		DataPointID: p.ID,
		Value:       p.Value,
		Timestamp:   p.Timestamp,
	})
}

func (api *dataApi) latest(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, api.svc.Latest(d))
}

func (api *dataApi) widgetData(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	data, err := api.svc.WidgetData(ctx.Request().Context(), d, ctx.Param("widget"))
	if err != nil {
		return errors.Wrap(err, "fetching widget data")
	}
	return ctx.JSON(http.StatusOK, data)
}

func (api *dataApi) stats(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	stats, err := api.svc.Stats(ctx.Request().Context(), d)
	if err != nil {
		return errors.Wrap(err, "computing stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *dataApi) export(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	loc := api.conf.Location()
	start, err := queryTime(ctx, "start", loc)
	if err != nil {
		return err
	}
	end, err := queryTime(ctx, "end", loc)
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return core.NewFieldValidationError("end", errors.New("must be after start"))
	}

	var buf bytes.Buffer
	if err := api.svc.Export(ctx.Request().Context(), d, queryList(ctx, "fields"), start, end, &buf); err != nil {
		return errors.Wrap(err, "exporting data")
	}
	filename := fmt.Sprintf("%s_%s.csv", d.ID, time.Now().In(loc).Format("20060102_150405"))
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, "text/csv", buf.Bytes())
}

func (api *dataApi) ingest(ctx echo.Context) error {
	apiKey := ctx.Request().Header.Get(apiKeyHeader)
	if apiKey == "" {
		return dashboard.ErrMissingAPIKey
	}

	var data DeviceIngestRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DeviceIngestRequest")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	p, err := api.svc.Ingest(ctx.Request().Context(), apiKey, dashboard.DeviceReading{
		DashboardID: data.DashboardID,
		FieldName:   data.FieldName,
		Value:       *data.Value,
	})
	if err != nil {
		return errors.Wrap(err, "ingesting data point")
	}
	return ctx.JSON(http.StatusOK, DataPointResponse{
		Message:     msgPointIngested,
		DataPointID: p.ID,
		Value:       p.Value,
		Timestamp:   p.Timestamp,
	})
}
