package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

const contextObjectKey = "object"

// activeUserMiddleware loads the token's user and rejects tokens of deleted or deactivated accounts.
func activeUserMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if _, err := getContextUser(ctx, svc); err != nil {
				return err
			}
			return next(ctx)
		}
	}
}

func adminMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return err
			}
			if usr.IsAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// ctxUserOrAdminMiddleware lets users reach their own record and admins reach any.
func ctxUserOrAdminMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, svc)
			if err != nil {
				return err
			}

			if ctx.Param("id") == ctxUsr.ID || ctxUsr.IsAdmin {
				if usr, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err == nil {
					ctx.Set(contextObjectKey, usr)
					return next(ctx)
				} else if errors.Cause(err) != user.ErrNotFound {
					return errors.Wrap(err, "finding user by ID")
				}
				return errUserNotFound
			}
			return errHttpForbidden
		}
	}
}

// dashboardMiddleware loads the dashboard named by the "id" param and checks the context user may access it.
// Editing requires dashboard.CanEdit, anything else dashboard.CanView.
func dashboardMiddleware(dashSvc dashboard.ServiceInterface, usrSvc user.ServiceInterface, edit bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			ctxUsr, err := getContextUser(ctx, usrSvc)
			if err != nil {
				return err
			}

			d, err := dashSvc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == dashboard.ErrNotFound {
					return errDashboardNotFound
				}
				return errors.Wrap(err, "finding dashboard by ID")
			}

			allowed := dashboard.CanView(d, ctxUsr)
			if edit {
				allowed = dashboard.CanEdit(d, ctxUsr)
			}
			if !allowed {
				return errDashboardForbidden
			}
			ctx.Set(contextObjectKey, d)
			return next(ctx)
		}
	}
}

func ctxDashboard(ctx echo.Context) (dashboard.Dashboard, error) {
	d, ok := ctx.Get(contextObjectKey).(dashboard.Dashboard)
	if !ok {
		return dashboard.Dashboard{}, errors.New("dashboard object not found in echo.Context")
	}
	return d, nil
}

func ctxObjectUser(ctx echo.Context) (user.User, error) {
	usr, ok := ctx.Get(contextObjectKey).(user.User)
	if !ok {
		return user.User{}, errors.New("user object not found in echo.Context")
	}
	return usr, nil
}
