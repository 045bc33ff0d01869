package echoapi

import (
	"net/http"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

var (
	errUnauthorized       = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errBadCredentials     = echo.NewHTTPError(http.StatusUnauthorized, "Incorrect username or password")
	errEmailNotVerified   = echo.NewHTTPError(http.StatusUnauthorized, "Please verify your email address before logging in")
	errApprovalPending    = echo.NewHTTPError(http.StatusUnauthorized, "Your account is pending approval by an administrator")
	errRefreshExpired     = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden      = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound       = echo.NewHTTPError(http.StatusNotFound, "not found")
	errAdminOnlyPoints    = echo.NewHTTPError(http.StatusForbidden, "Only admins can add previous data points")
	errUserNotFound       = echo.NewHTTPError(http.StatusNotFound, "User not found")
	errDashboardNotFound  = echo.NewHTTPError(http.StatusNotFound, "Dashboard not found")
	errDashboardForbidden = echo.NewHTTPError(http.StatusForbidden, "Not enough permissions to access this dashboard")

	// domainErrors maps the services' sentinel errors to HTTP errors.
	domainErrors = map[error]*echo.HTTPError{
		user.ErrNotFound:               errUserNotFound,
		dashboard.ErrNotFound:          errDashboardNotFound,
		dashboard.ErrFieldNotFound:     echo.NewHTTPError(http.StatusNotFound, "Field not found in dashboard"),
		dashboard.ErrWidgetNotFound:    echo.NewHTTPError(http.StatusNotFound, "Widget not found in dashboard"),
		dashboard.ErrMissingAPIKey:     echo.NewHTTPError(http.StatusUnauthorized, "Missing API key"),
		dashboard.ErrInvalidAPIKey:     echo.NewHTTPError(http.StatusForbidden, "Invalid API key or dashboard not found for this key"),
		dashboard.ErrDashboardMismatch: echo.NewHTTPError(http.StatusForbidden, "Provided dashboard ID does not match the API key's associated dashboard."),
	}
)

// domainHTTPError returns the HTTP error a sentinel maps to, or nil.
// Sentinels are compared one by one since cause may be of an unhashable type.
func domainHTTPError(cause error) *echo.HTTPError {
	for sentinel, herr := range domainErrors {
		if cause == sentinel {
			return herr
		}
	}
	return nil
}

// fieldKey returns the path of a failed field without its root struct, e.g. "fields[0].name".
func fieldKey(vErr validator.FieldError) string {
	ns := vErr.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return vErr.Field()
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		if herr := domainHTTPError(cause); herr != nil {
			cause = herr
		}

		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[fieldKey(vErr)] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			var usr user.User
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				usr.ID = claims.Subject
				usr.Username = claims.Username
				usr.Email = claims.Email
			}
			logger.Error(msg, errors.Wrap(err, msg), usr)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
