package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

const (
	msgVerified        = "Email verified successfully. Please wait for admin approval to login."
	msgResetRequested  = "If the email exists, a reset link has been sent."
	msgPasswordReset   = "Password has been reset successfully."
	msgUserApproved    = "User approved successfully"
	msgUserRejected    = "User rejected successfully"
	msgUserDeleted     = "User deleted successfully"
	errOnlyOwnPassword = "only admins can change username or email"
)

type userApi struct {
	svc      user.ServiceInterface
	validate *validator.Validate
	conf     *core.Config
}

func registerUserAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc user.ServiceInterface,
	validate *validator.Validate,
	conf *core.Config,
) {
	api := userApi{
		svc:      svc,
		validate: validate,
		conf:     conf,
	}
	active := activeUserMiddleware(svc)
	admin := adminMiddleware(svc)

	// un-authed endpoints
	// TODO: rate limit `/auth/forgot-password` & `/auth/login/access-token`
	ag := g.Group("/auth")
	ag.POST("/register", api.register)
	ag.POST("/login/access-token", api.login)
	ag.POST("/verify-email/:uid/:token", api.verifyEmail)
	ag.POST("/forgot-password", api.forgotPassword)
	ag.POST("/reset-password", api.resetPassword)

	ag.POST("/token-refresh", api.refreshToken, jwt, active)
	ag.GET("/me", api.me, jwt, active)

	// authed endpoints
	ug := g.Group("/users", jwt, active)
	ug.GET("", api.query, admin)
	ug.POST("", api.create, admin)
	ug.GET("/pending", api.queryPending, admin)
	ug.GET("/me", api.me)

	// detail endpoints
	dg := ug.Group("/:id", ctxUserOrAdminMiddleware(svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy, admin)
	dg.PUT("/approve", api.approve, admin)
	dg.PUT("/reject", api.reject, admin)
}

// Handlers

func (api *userApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Register(rctx, data)
	if err != nil {
		return errors.Wrap(err, "registering user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) create(ctx echo.Context) error {
	var req NewUserRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to NewUserRequest")
	}
	data := user.NewUser{Username: req.Username, Email: req.Email, Password: req.Password, IsAdmin: req.IsAdmin}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	return ctx.JSON(http.StatusCreated, usr)
}

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := authenticate(ctx.Request().Context(), data.Username, data.Password, api.svc, api.conf)
	if err != nil {
		return err
	}
	token, err := GenerateToken(claims, api.conf)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{AccessToken: token, TokenType: tokenType})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc, api.conf)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, LoginResponse{AccessToken: token, TokenType: tokenType})
}

func (api *userApi) verifyEmail(ctx echo.Context) error {
	if _, err := api.svc.VerifyEmail(ctx.Request().Context(), ctx.Param("uid"), ctx.Param("token")); err != nil {
		return errors.Wrap(err, "verifying email")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgVerified})
}

func (api *userApi) forgotPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgResetRequested})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if _, err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgPasswordReset})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) query(ctx echo.Context) error {
	filter := &user.QueryFilter{Search: ctx.QueryParam("search")}
	var err error
	if filter.IsVerified, err = queryBool(ctx, "is_verified"); err != nil {
		return err
	}
	if filter.IsApproved, err = queryBool(ctx, "is_approved"); err != nil {
		return err
	}
	if filter.IsAdmin, err = queryBool(ctx, "is_admin"); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	users, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	return ctx.JSON(http.StatusOK, usersOrEmpty(users))
}

func (api *userApi) queryPending(ctx echo.Context) error {
	users, err := api.svc.QueryPending(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying pending users")
	}
	return ctx.JSON(http.StatusOK, usersOrEmpty(users))
}

func (api *userApi) retrieve(ctx echo.Context) error {
	usr, err := ctxObjectUser(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) update(ctx echo.Context) error {
	usr, err := ctxObjectUser(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}

	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	if !ctxUsr.IsAdmin && (data.Username != "" || data.Email != "") {
		return echo.NewHTTPError(http.StatusForbidden, errOnlyOwnPassword)
	}

	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, usr, api.validate, api.svc); err != nil {
		return err
	}

	usr, err = api.svc.Update(rctx, usr, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, usr)
}

func (api *userApi) approve(ctx echo.Context) error {
	return api.setApproval(ctx, api.svc.Approve, msgUserApproved)
}

func (api *userApi) reject(ctx echo.Context) error {
	return api.setApproval(ctx, api.svc.Reject, msgUserRejected)
}

type approvalFunc func(ctx context.Context, usr user.User, by user.User) (user.User, error)

func (api *userApi) setApproval(ctx echo.Context, fn approvalFunc, msg string) error {
	usr, err := ctxObjectUser(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	if _, err = fn(ctx.Request().Context(), usr, ctxUsr); err != nil {
		return errors.Wrap(err, "setting user approval")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msg})
}

func (api *userApi) destroy(ctx echo.Context) error {
	usr, err := ctxObjectUser(ctx)
	if err != nil {
		return errors.Wrap(err, "retrieving object from context")
	}

	// ctxUser cannot delete themselves
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return err
	}
	if usr.ID == ctxUsr.ID {
		return errHttpForbidden
	}

	if err := api.svc.Delete(ctx.Request().Context(), usr); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgUserDeleted})
}

func usersOrEmpty(users []user.User) []user.User {
	if users == nil {
		return []user.User{}
	}
	return users
}

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
