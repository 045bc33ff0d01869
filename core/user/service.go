package user

import (
	"context"
	"net/mail"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/JoeMarian/bluedropwithvps/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
	ErrInvalidLink    = errors.New("invalid or expired link")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, user User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, orderings []core.DBOrdering) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsername(ctx context.Context, username string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		UpdateUser(ctx context.Context, user User) (User, error)
		DeleteUser(ctx context.Context, id string) error
	}

	ServiceInterface interface {
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
		Register(ctx context.Context, nu NewUser) (User, error)
		Create(ctx context.Context, nu NewUser) (User, error)
		EnsureAdmin(ctx context.Context) (User, bool, error)
		VerifyEmail(ctx context.Context, uid, token string) (User, error)
		Query(ctx context.Context, filter *QueryFilter, orderings []core.DBOrdering) ([]User, error)
		QueryPending(ctx context.Context) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Approve(ctx context.Context, usr User, by User) (User, error)
		Reject(ctx context.Context, usr User, by User) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		Delete(ctx context.Context, usr User) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) (User, error)
	}

	service struct {
		repo        Repository
		mailSvc     core.EmailService
		conf        *core.Config
		resetTokens *tokenGenerator
		emailTokens *tokenGenerator
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config) ServiceInterface {
	return newService(repo, mailSvc, conf)
}

func newService(repo Repository, mailSvc core.EmailService, conf *core.Config) *service {
	return &service{
		repo:        repo,
		mailSvc:     mailSvc,
		conf:        conf,
		resetTokens: newPasswordResetTokenGenerator(conf.SecretKey, conf.PasswordResetTimeoutDelta),
		emailTokens: newEmailVerificationTokenGenerator(conf.SecretKey, conf.EmailVerificationTimeoutDelta),
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *service) newUser(nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		ID:        uuid.New().String(),
		Username:  nu.Username,
		Email:     nu.Email,
		IsAdmin:   nu.IsAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return usr, nil
}

// Register creates an unverified & unapproved User and sends them the verification email.
func (svc *service) Register(ctx context.Context, nu NewUser) (User, error) {
	nu.IsAdmin = false
	usr, err := svc.newUser(nu)
	if err != nil {
		return User{}, err
	}
	if usr, err = svc.repo.CreateUser(ctx, usr); err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}
	if msg, err := svc.verificationMail(usr); err == nil {
		svc.mailSvc.SendMessages(msg)
	} else {
		return usr, errors.Wrap(err, "creating verification email")
	}
	return usr, nil
}

// Create creates a verified & approved User, skipping the verification email.
// It serves admins creating accounts and the bootstrap admin.
func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	usr, err := svc.newUser(nu)
	if err != nil {
		return User{}, err
	}
	usr.IsVerified, usr.IsApproved = true, true
	usr, err = svc.repo.CreateUser(ctx, usr)
	return usr, errors.Wrap(err, "creating user")
}

// EnsureAdmin creates the configured admin User if no user with that username exists yet.
// The returned bool reports whether the admin was created.
func (svc *service) EnsureAdmin(ctx context.Context) (User, bool, error) {
	adm := svc.conf.Admin
	if adm.Username == "" || adm.Password == "" {
		return User{}, false, nil
	}

	usr, err := svc.GetByUsername(ctx, adm.Username)
	if err == nil {
		return usr, false, nil
	} else if errors.Cause(err) != ErrNotFound {
		return User{}, false, errors.Wrap(err, "finding admin")
	}

	usr, err = svc.Create(ctx, NewUser{Username: adm.Username, Email: adm.Email, Password: adm.Password, IsAdmin: true})
	if err != nil {
		return User{}, false, err
	}
	return usr, true, nil
}

// VerifyEmail marks the User identified by uid as verified and notifies the admin.
func (svc *service) VerifyEmail(ctx context.Context, uid, token string) (User, error) {
	usr, err := svc.getUserFromUID(ctx, uid)
	if err != nil {
		return User{}, err
	}
	if err = svc.emailTokens.verifyToken(usr, token); err != nil {
		return User{}, core.NewValidationError(ErrInvalidLink)
	}

	usr.IsVerified = true
	usr.UpdatedAt = time.Now().UTC()
	if usr, err = svc.repo.UpdateUser(ctx, usr); err != nil {
		return User{}, errors.Wrap(err, "updating user")
	}

	if svc.conf.Admin.Email != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Address: svc.conf.Admin.Email}},
			Subject:      "User Verified: " + usr.Username + " (" + usr.Email + ")",
			TemplateName: "user_verified",
			TemplateData: map[string]string{"Username": usr.Username, "Email": usr.Email},
		})
	}
	return usr, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, orderings []core.DBOrdering) ([]User, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.Clean()
	return svc.repo.QueryUsers(ctx, filter, core.CleanOrderings(orderings, OrderingFields))
}

// QueryPending returns the non admin users that are not verified or not approved.
func (svc *service) QueryPending(ctx context.Context) ([]User, error) {
	return svc.repo.QueryUsers(ctx, &QueryFilter{PendingOnly: true}, nil)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = null.TimeFrom(time.Now().UTC())
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) Approve(ctx context.Context, usr User, by User) (User, error) {
	if usr.IsAdmin {
		return User{}, core.NewValidationError(errors.New("cannot approve admin user"))
	}
	now := time.Now().UTC()
	usr.IsApproved = true
	usr.ApprovedBy = null.StringFrom(by.ID)
	usr.ApprovedAt = null.TimeFrom(now)
	usr.UpdatedAt = now

	usr, err := svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "updating user")
	}
	svc.mailSvc.SendMessages(svc.accountStatusMail(usr, "account_approved", "Your account has been approved"))
	return usr, nil
}

func (svc *service) Reject(ctx context.Context, usr User, by User) (User, error) {
	if usr.IsAdmin {
		return User{}, core.NewValidationError(errors.New("cannot reject admin user"))
	}
	now := time.Now().UTC()
	usr.IsApproved = false
	usr.RejectedBy = null.StringFrom(by.ID)
	usr.RejectedAt = null.TimeFrom(now)
	usr.UpdatedAt = now

	usr, err := svc.repo.UpdateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "updating user")
	}
	svc.mailSvc.SendMessages(svc.accountStatusMail(usr, "account_rejected", "Your account request was not approved"))
	return usr, nil
}

// Update applies a validated UpdateUser to usr.
func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	if uu.Username != "" {
		usr.Username = uu.Username
	}
	if uu.Email != "" {
		usr.Email = uu.Email
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// Delete removes a non admin User. Their dashboard assignments go with them.
func (svc *service) Delete(ctx context.Context, usr User) error {
	if usr.IsAdmin {
		return core.NewValidationError(errors.New("cannot delete admin user"))
	}
	return svc.repo.DeleteUser(ctx, usr.ID)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	msg, err := svc.passwordResetMail(usr)
	if err != nil {
		return err
	}
	svc.mailSvc.SendMessages(msg)
	return nil
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) (User, error) {
	usr, err := svc.getUserFromUID(ctx, data.UID)
	if err != nil {
		return User{}, err
	}
	if err = svc.resetTokens.verifyToken(usr, data.Token); err != nil {
		return User{}, core.NewValidationError(ErrInvalidLink)
	}
	if tag := checkPassword(data.Password, usr.Username, usr.Email); tag == pwdAttrSimTag {
		return User{}, core.NewFieldValidationError("password", errors.New(pwdAttrSimText))
	}
	if err = usr.SetPassword(data.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) getUserFromUID(ctx context.Context, uid string) (User, error) {
	id, err := decodeUID(uid)
	if err != nil {
		return User{}, core.NewValidationError(ErrInvalidLink)
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, core.NewValidationError(ErrInvalidLink)
		}
		return User{}, err
	}
	return usr, nil
}

type tokenMailData struct {
	Username  string
	UID       string
	Token     string
	ExpiresIn string
}

func (svc *service) verificationMail(usr User) (*core.EmailMessage, error) {
	token, err := svc.emailTokens.makeToken(usr)
	if err != nil {
		return nil, errors.Wrap(err, "making token")
	}
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Username, Address: usr.Email}},
		Subject:      "Verify Your Email",
		TemplateName: "verify_email",
		TemplateData: tokenMailData{
			Username:  usr.Username,
			UID:       EncodeUID(usr),
			Token:     token,
			ExpiresIn: humanDuration(svc.conf.EmailVerificationTimeoutDelta),
		},
	}, nil
}

func (svc *service) passwordResetMail(usr User) (*core.EmailMessage, error) {
	token, err := svc.resetTokens.makeToken(usr)
	if err != nil {
		return nil, errors.Wrap(err, "making token")
	}
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Username, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: tokenMailData{
			Username:  usr.Username,
			UID:       EncodeUID(usr),
			Token:     token,
			ExpiresIn: humanDuration(svc.conf.PasswordResetTimeoutDelta),
		},
	}, nil
}

func (svc *service) accountStatusMail(usr User, tmpl, subject string) *core.EmailMessage {
	return &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Username, Address: usr.Email}},
		Subject:      subject,
		TemplateName: tmpl,
		TemplateData: map[string]string{"Username": usr.Username},
	}
}

func humanDuration(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24 hours"
		}
		return strconv.Itoa(days) + " days"
	case d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + " hours"
	default:
		return d.String()
	}
}
