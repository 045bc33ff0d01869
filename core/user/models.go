package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoeMarian/bluedropwithvps/core"
)

type User struct {
	ID                 string      `json:"_id" db:"id"`
	Username           string      `json:"username" db:"username"`
	Email              string      `json:"email" db:"email"`
	PasswordHash       []byte      `json:"-" db:"password_hash"`
	IsVerified         bool        `json:"is_verified" db:"is_verified"`
	IsApproved         bool        `json:"is_approved" db:"is_approved"`
	IsAdmin            bool        `json:"is_admin" db:"is_admin"`
	ApprovedBy         null.String `json:"approved_by" db:"approved_by"`
	ApprovedAt         null.Time   `json:"approved_at" db:"approved_at"` // UTC
	RejectedBy         null.String `json:"rejected_by" db:"rejected_by"`
	RejectedAt         null.Time   `json:"rejected_at" db:"rejected_at"` // UTC
	AssignedDashboards []string    `json:"assigned_dashboards" db:"-"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"` // UTC
	LastLogin          null.Time   `json:"last_login" db:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

// IsActive reports whether the user may sign in.
func (u *User) IsActive() bool {
	return u.IsVerified && (u.IsApproved || u.IsAdmin)
}

// IsPending reports whether a non admin user still waits for verification or approval.
func (u *User) IsPending() bool {
	return !u.IsAdmin && !(u.IsVerified && u.IsApproved)
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum_"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`

	// set by admins only (CLI / bootstrap)
	IsAdmin bool `json:"-"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc ServiceInterface) error {
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Username        string `json:"username" validate:"omitempty,min=3,max=50,alphanum_"`
	Email           string `json:"email" validate:"omitempty,email"`
	Password        string `json:"password" validate:"omitempty"`
	PasswordConfirm string `json:"password_confirm" validate:"omitempty,eqfield=Password"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc ServiceInterface) error {
	if uname := core.CleanString(uu.Username, true /* lower */); uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	if email := core.CleanString(uu.Email, true /* lower */); email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := validate.Struct(uu); err != nil {
		return err
	}
	return svc.CheckUniqueness(ctx, uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp *ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

// OrderingFields maps the fields users can be ordered by to their DB columns.
var OrderingFields = map[string]string{
	"username":   "username",
	"email":      "email",
	"created_at": "created_at",
	"last_login": "last_login",
}

type QueryFilter struct {
	Search      string `query:"search"`
	IsVerified  *bool  `query:"is_verified"`
	IsApproved  *bool  `query:"is_approved"`
	IsAdmin     *bool  `query:"is_admin"`
	PendingOnly bool   `query:"-"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.IsVerified == nil && qf.IsApproved == nil && qf.IsAdmin == nil && !qf.PendingOnly
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}

// Match applies the filter to a single User. Repositories that cannot express the filter in their query language use it.
func (qf *QueryFilter) Match(usr User) bool {
	if qf.PendingOnly && !usr.IsPending() {
		return false
	}
	if qf.IsVerified != nil && usr.IsVerified != *qf.IsVerified {
		return false
	}
	if qf.IsApproved != nil && usr.IsApproved != *qf.IsApproved {
		return false
	}
	if qf.IsAdmin != nil && usr.IsAdmin != *qf.IsAdmin {
		return false
	}
	if qf.Search != "" {
		search := core.CleanString(qf.Search, true /* lower */)
		if !(strings.Contains(strings.ToLower(usr.Username), search) || strings.Contains(strings.ToLower(usr.Email), search)) {
			return false
		}
	}
	return true
}
