package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// queryInt reads a positive int query param, falling back to def when absent.
func queryInt(ctx echo.Context, name string, def, max int) (int, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, core.NewFieldValidationError(name, errors.Errorf("must be an integer between 1 and %d", max))
	}
	return n, nil
}

// queryBool reads an optional bool query param.
func queryBool(ctx echo.Context, name string) (*bool, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, core.NewFieldValidationError(name, errors.New("must be a boolean"))
	}
	return &b, nil
}

// queryTime reads an optional RFC 3339 timestamp query param.
// Timestamps without a zone are read in loc.
func queryTime(ctx echo.Context, name string, loc *time.Location) (time.Time, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc)
	if err != nil {
		return time.Time{}, core.NewFieldValidationError(name, errors.New("must be an ISO 8601 timestamp"))
	}
	return t, nil
}

// queryList splits a comma separated query param, dropping blanks.
func queryList(ctx echo.Context, name string) []string {
	var items []string
	for _, item := range strings.Split(ctx.QueryParam(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

type (
	LoginRequest struct {
		Username string `json:"username" form:"username" validate:"required"`
		Password string `json:"password" form:"password" validate:"required"`
	}

	LoginResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}

	// NewUserRequest lets admins create accounts, admins included.
	NewUserRequest struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		IsAdmin  bool   `json:"is_admin"`
	}

	DataPointRequest struct {
		Value     *float64   `json:"value" validate:"required"`
		Timestamp *time.Time `json:"timestamp" validate:"required"`
	}

	DeviceIngestRequest struct {
		DashboardID string   `json:"dashboard_id" validate:"required"`
		FieldName   string   `json:"field_name" validate:"required"`
		Value       *float64 `json:"value" validate:"required"`
	}

	DataPointResponse struct {
		Message     string    `json:"message"`
		DataPointID string    `json:"data_point_id"`
		Value       float64   `json:"value"`
		Timestamp   time.Time `json:"timestamp"`
	}
)
