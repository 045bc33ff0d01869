package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

const msgDashboardDeleted = "Dashboard deleted successfully"

type dashboardApi struct {
	svc      dashboard.ServiceInterface
	usrSvc   user.ServiceInterface
	validate *validator.Validate
	conf     *core.Config
}

func registerDashboardAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc dashboard.ServiceInterface,
	usrSvc user.ServiceInterface,
	validate *validator.Validate,
	conf *core.Config,
) {
	api := dashboardApi{
		svc:      svc,
		usrSvc:   usrSvc,
		validate: validate,
		conf:     conf,
	}
	admin := adminMiddleware(usrSvc)

	dg := g.Group("/dashboards", jwt, activeUserMiddleware(usrSvc))
	dg.POST("", api.create, admin)
	dg.GET("", api.query, admin)
	dg.GET("/my-dashboards", api.queryMine)

	// detail endpoints
	view := dashboardMiddleware(svc, usrSvc, false)
	edit := dashboardMiddleware(svc, usrSvc, true)
	dg.GET("/:id", api.retrieve, view)
	dg.PUT("/:id", api.update, edit)
	dg.DELETE("/:id", api.destroy, edit)
	dg.POST("/:id/rotate-key", api.rotateKey, edit)
}

// present localizes d for the response and reports each field's last value as its value.
// The API key is only shown to editors & assigned users.
func (api *dashboardApi) present(d dashboard.Dashboard, usr user.User) dashboard.Dashboard {
	d = d.InLocation(api.conf.Location())
	for i := range d.Fields {
		d.Fields[i].Value = d.Fields[i].LastValue
	}
	if !dashboard.CanEdit(d, usr) && !d.IsAssigned(usr.ID) {
		d.APIKey = ""
	}
	return d
}

func (api *dashboardApi) presentAll(ds []dashboard.Dashboard, usr user.User) []dashboard.Dashboard {
	out := make([]dashboard.Dashboard, 0, len(ds))
	for _, d := range ds {
		out = append(out, api.present(d, usr))
	}
	return out
}

// Handlers

func (api *dashboardApi) create(ctx echo.Context) error {
	var data dashboard.NewDashboard
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDashboard")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	d, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating dashboard")
	}
	return ctx.JSON(http.StatusCreated, api.present(d, ctxUsr))
}

func (api *dashboardApi) query(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	ds, err := api.svc.Query(ctx.Request().Context(), nil)
	if err != nil {
		return errors.Wrap(err, "querying dashboards")
	}
	return ctx.JSON(http.StatusOK, api.presentAll(ds, ctxUsr))
}

func (api *dashboardApi) queryMine(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	ds, err := api.svc.Query(ctx.Request().Context(), &dashboard.QueryFilter{VisibleTo: ctxUsr.ID})
	if err != nil {
		return errors.Wrap(err, "querying dashboards")
	}
	return ctx.JSON(http.StatusOK, api.presentAll(ds, ctxUsr))
}

func (api *dashboardApi) retrieve(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, api.present(d, ctxUsr))
}

func (api *dashboardApi) update(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}

	var data dashboard.UpdateDashboard
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateDashboard")
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	d, err = api.svc.Update(ctx.Request().Context(), d, data)
	if err != nil {
		return errors.Wrap(err, "updating dashboard")
	}
	return ctx.JSON(http.StatusOK, api.present(d, ctxUsr))
}

func (api *dashboardApi) destroy(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	if err := api.svc.Delete(ctx.Request().Context(), d); err != nil {
		return errors.Wrap(err, "deleting dashboard")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgDashboardDeleted})
}

func (api *dashboardApi) rotateKey(ctx echo.Context) error {
	d, err := ctxDashboard(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return err
	}
	d, err = api.svc.RotateAPIKey(ctx.Request().Context(), d)
	if err != nil {
		return errors.Wrap(err, "rotating api key")
	}
	return ctx.JSON(http.StatusOK, api.present(d, ctxUsr))
}
