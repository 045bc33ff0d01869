package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/JoeMarian/bluedropwithvps/apps/api/echo"
	"github.com/JoeMarian/bluedropwithvps/core/user"
	"github.com/JoeMarian/bluedropwithvps/services/email"
	"github.com/JoeMarian/bluedropwithvps/testutil"
)

const pwd = "Tank@Level42"

func Test_userApi_register(t *testing.T) {
	resetDB()
	testutil.CreateUser(t, usrRepo, "taken", "taken@test.in", pwd, true, true, false)

	pathRegex := regexp.MustCompile("/verify-email/.+/.+")

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": reqMsg, "email": reqMsg, "password": "password must contain at least 6 characters"}),
		},
		{
			name: "invalid username & email", wantCode: http.StatusBadRequest,
			body: marchallObj(t, user.NewUser{Username: "a b", Email: "lol", Password: pwd}),
			wantData: marchallObj(t, map[string]string{
				"username": "only alphanumeric characters and underscores are allowed",
				"email":    "email must be a valid email address",
			}),
		},
		{
			name: "password policy", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Username: "pump", Email: "pump@test.in", Password: "123456789"}),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be entirely numeric"}),
		},
		{
			name: "username taken (case-insensitive)", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Username: "TAKEN", Email: "other@test.in", Password: pwd}),
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "email taken", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, user.NewUser{Username: "other", Email: "Taken@Test.in", Password: pwd}),
			wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
		{
			name: "registered", wantCode: http.StatusCreated,
			body: marchallObj(t, user.NewUser{Username: "Tanker", Email: "Tanker@Test.in", Password: pwd}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/v1/auth/register"

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusCreated {
				usr, err := usrRepo.GetUserByUsername(context.Background(), "tanker")
				require.NoError(t, err)
				assert.Equal(t, "tanker@test.in", usr.Email)
				assert.False(t, usr.IsVerified)
				assert.False(t, usr.IsApproved)
				assert.False(t, usr.IsAdmin)

				sent := emailsvc.GetSentMessages()
				require.Len(t, sent, 1)
				assert.Equal(t, usr.Email, sent[0].To[0].Address)
				assert.Regexp(t, pathRegex, sent[0].TextContent)
				assert.Regexp(t, pathRegex, sent[0].HTMLContent)
			}
		})
	}
}

func Test_userApi_login(t *testing.T) {
	resetDB()

	active := testutil.CreateUser(t, usrRepo, "active", "active@test.in", pwd, true, true, false)
	testutil.CreateUser(t, usrRepo, "unverified", "unverified@test.in", pwd, false, false, false)
	testutil.CreateUser(t, usrRepo, "pending", "pending@test.in", pwd, true, false, false)
	testutil.CreateUser(t, usrRepo, "boss", "boss@test.in", pwd, true, false, true)

	login := func(uname, pass string) []byte {
		return marchallObj(t, echoapi.LoginRequest{Username: uname, Password: pass})
	}

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": reqMsg, "password": reqMsg}),
		},
		{
			name: "unknown user", body: login("ghost", pwd), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "Incorrect username or password"}),
		},
		{
			name: "wrong password", body: login("active", "nope"), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "Incorrect username or password"}),
		},
		{
			name: "unverified", body: login("unverified", pwd), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "Please verify your email address before logging in"}),
		},
		{
			name: "pending approval", body: login("pending", pwd), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "Your account is pending approval by an administrator"}),
		},
		{name: "by username", body: login("ACTIVE", pwd), extra: active.ID},
		{name: "by email", body: login("Active@Test.in", pwd), extra: active.ID},
		{name: "admins skip approval", body: login("boss", pwd)},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/v1/auth/login/access-token"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess the token.. check that it is valid
			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
				var resp echoapi.LoginResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "bearer", resp.TokenType)

				claims := new(echoapi.Claims)
				_, err := jwt.ParseWithClaims(resp.AccessToken, claims, func(*jwt.Token) (interface{}, error) {
					return []byte(conf.SecretKey), nil
				})
				require.NoError(t, err)
				if id, ok := tt.extra.(string); ok {
					assert.Equal(t, id, claims.Subject)
					usr, err := usrRepo.GetUserByID(context.Background(), id)
					require.NoError(t, err)
					assert.True(t, usr.LastLogin.Valid)
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("form login", func(t *testing.T) {
		form := url.Values{"username": {"active"}, "password": {pwd}}
		req, rec := newRequest(http.MethodPost, "/api/v1/auth/login/access-token", []byte(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})
}

func Test_userApi_verifyEmail(t *testing.T) {
	resetDB()

	usr := testutil.CreateUser(t, usrRepo, "fresh", "fresh@test.in", pwd, false, false, false)
	validToken, err := user.MakeEmailVerificationToken(usr, conf)
	require.NoError(t, err)
	invalidLink := marchallObj(t, httpErr{Error: user.ErrInvalidLink.Error()})

	tests := []httpTest{
		{name: "invalid uid", path: "/api/v1/auth/verify-email/!!/" + validToken, wantCode: http.StatusBadRequest, wantData: invalidLink},
		{name: "invalid token", path: "/api/v1/auth/verify-email/" + user.EncodeUID(usr) + "/HE4TS-sig", wantCode: http.StatusBadRequest, wantData: invalidLink},
		{
			name: "verified", path: "/api/v1/auth/verify-email/" + user.EncodeUID(usr) + "/" + validToken,
			wantData: marchallObj(t, httpMsg{Message: "Email verified successfully. Please wait for admin approval to login."}),
		},
		{name: "token used", path: "/api/v1/auth/verify-email/" + user.EncodeUID(usr) + "/" + validToken, wantCode: http.StatusBadRequest, wantData: invalidLink},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newRequest(tt.method, tt.path)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				refreshed, err := usrRepo.GetUserByID(context.Background(), usr.ID)
				require.NoError(t, err)
				assert.True(t, refreshed.IsVerified)
				assert.False(t, refreshed.IsApproved)

				// the admin is told someone awaits approval
				sent := emailsvc.GetSentMessages()
				require.Len(t, sent, 1)
				assert.Equal(t, conf.Admin.Email, sent[0].To[0].Address)
			}
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	resetDB()

	active := testutil.CreateUser(t, usrRepo, "active", "active@test.in", pwd, true, true, false)
	pending := testutil.CreateUser(t, usrRepo, "pending", "pending@test.in", pwd, true, false, false)

	now := time.Now()
	unrefreshableClaims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   active.ID,
			ExpiresAt: now.Add(conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		Username:     active.Username,
	}
	unrefreshableToken, err := echoapi.GenerateToken(unrefreshableClaims, conf)
	require.NoError(t, err)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Inactive user not allowed", token: getToken(t, pending), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "user not authenticated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, active)},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/v1/auth/token-refresh"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess new token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				require.Equal(t, tt.wantCode, rec.Code)
				var resp echoapi.LoginResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.AccessToken)
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_forgotPassword(t *testing.T) {
	resetDB()

	usr := testutil.CreateUser(t, usrRepo, "forgetful", "forgetful@test.in", pwd, true, true, false)
	successData := marchallObj(t, httpMsg{Message: "If the email exists, a reset link has been sent."})
	pathRegex := regexp.MustCompile("/reset-password/.+/.+")

	tests := []httpTest{
		{name: "required fields", wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"email": reqMsg})},
		{
			name: "invalid email", wantCode: http.StatusBadRequest, body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol"}),
			wantData: marchallObj(t, map[string]string{"email": "email must be a valid email address"}),
		},
		{name: "unknown email", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.in"}), wantData: successData, extra: false},
		{name: "known email", body: marchallObj(t, echoapi.PasswordResetRequest{Email: "FORGETFUL@test.in"}), wantData: successData, extra: true},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/v1/auth/forgot-password"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if emailSent, ok := tt.extra.(bool); ok {
				sent := emailsvc.GetSentMessages()
				if !emailSent {
					assert.Empty(t, sent)
					return
				}
				require.Len(t, sent, 1)
				assert.Equal(t, usr.Email, sent[0].To[0].Address)
				assert.Contains(t, sent[0].TextContent, usr.Username)
				assert.Regexp(t, pathRegex, sent[0].HTMLContent)
			}
		})
	}
}

func Test_userApi_resetPassword(t *testing.T) {
	resetDB()

	usr := testutil.CreateUser(t, usrRepo, "forgetful", "forgetful@test.in", "old-Pass1", true, true, false)
	validUID := user.EncodeUID(usr)
	validToken, err := user.MakePasswordResetToken(usr, conf)
	require.NoError(t, err)

	// generate an expired token
	dayLate := conf.PasswordResetTimeoutDelta + 24*time.Hour
	user.NowFunc = func() time.Time { return time.Now().Add(-dayLate) }
	expiredToken, err := user.MakePasswordResetToken(usr, conf)
	user.NowFunc = time.Now // reset
	require.NoError(t, err)

	reset := func(uid, token, pass, confirm string) []byte {
		return marchallObj(t, user.ResetUserPassword{UID: uid, Token: token, Password: pass, PasswordConfirm: confirm})
	}
	invalidLink := marchallObj(t, httpErr{Error: user.ErrInvalidLink.Error()})

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"token": reqMsg, "uid": reqMsg, "password": reqMsg, "password_confirm": reqMsg}),
		},
		{
			name: "invalid pwd: min len", wantCode: http.StatusBadRequest, body: reset("x", "x", "lol", "lol"),
			wantData: marchallObj(t, map[string]string{"password": "password must contain at least 6 characters"}),
		},
		{
			name: "invalid pwd: no whitespace", wantCode: http.StatusBadRequest, body: reset("x", "x", "l o loll", "l o loll"),
			wantData: marchallObj(t, map[string]string{"password": "password must not contain whitespace"}),
		},
		{
			name: "invalid pwd: too common", wantCode: http.StatusBadRequest, body: reset("x", "x", "password", "password"),
			wantData: marchallObj(t, map[string]string{"password": "password is too common"}),
		},
		{
			name: "password_confirm must = password", wantCode: http.StatusBadRequest, body: reset("x", "x", pwd, "lol"),
			wantData: marchallObj(t, map[string]string{"password_confirm": "password_confirm must be equal to Password"}),
		},
		{name: "invalid uid", wantCode: http.StatusBadRequest, body: reset("bG9s", "x", pwd, pwd), wantData: invalidLink},
		{name: "invalid token", wantCode: http.StatusBadRequest, body: reset(validUID, "HE4TS-sig", pwd, pwd), wantData: invalidLink},
		{name: "expired token", wantCode: http.StatusBadRequest, body: reset(validUID, expiredToken, pwd, pwd), wantData: invalidLink},
		{
			name: "too similar to username", wantCode: http.StatusBadRequest, body: reset(validUID, validToken, "Forgetful1", "Forgetful1"),
			wantData: marchallObj(t, map[string]string{"password": "password cannot be similar to username or email"}),
		},
		{name: "valid token", body: reset(validUID, validToken, pwd, pwd), wantData: marchallObj(t, httpMsg{Message: "Password has been reset successfully."})},
		{name: "token used", wantCode: http.StatusBadRequest, body: reset(validUID, validToken, pwd, pwd), wantData: invalidLink},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/v1/auth/reset-password"
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				refreshed, err := usrRepo.GetUserByID(context.Background(), usr.ID)
				require.NoError(t, err)
				assert.NoError(t, refreshed.CheckPassword(pwd))
			}
		})
	}
}

func Test_userApi_me(t *testing.T) {
	resetDB()

	usr := testutil.CreateUser(t, usrRepo, "me", "me@test.in", pwd, true, true, false)
	deleted := user.User{ID: "8d0f7f4e-52b3-4b8e-9b0e-0d8f3c2a1b99", Username: "gone"}

	runTests(t, []httpTest{
		{name: "Auth required", method: http.MethodGet, path: "/api/v1/auth/me", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "deleted user", method: http.MethodGet, path: "/api/v1/auth/me", token: getToken(t, deleted), wantCode: http.StatusUnauthorized},
		{name: "auth me", method: http.MethodGet, path: "/api/v1/auth/me", token: getToken(t, usr), wantData: marchallObj(t, usr)},
		{name: "users me", method: http.MethodGet, path: "/api/v1/users/me", token: getToken(t, usr), wantData: marchallObj(t, usr)},
	})
}

func Test_userApi_query(t *testing.T) {
	resetDB()

	path := func(v url.Values) string { return "/api/v1/users?" + v.Encode() }

	now := time.Now()
	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true, now.Add(time.Hour))
	alice := testutil.CreateUser(t, usrRepo, "alice", "alice@pump.in", pwd, true, true, false, now.Add(2*time.Hour))
	bob := testutil.CreateUser(t, usrRepo, "bob", "bob@test.in", pwd, true, false, false, now.Add(3*time.Hour))
	carol := testutil.CreateUser(t, usrRepo, "carol", "carol@pump.in", pwd, false, false, false, now.Add(4*time.Hour))

	adminToken := getToken(t, admin)

	tests := []httpTest{
		{name: "Auth required", path: "/api/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Admin required", path: "/api/v1/users", token: getToken(t, alice), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "Get all", path: "/api/v1/users", token: adminToken, wantData: marchallList(t, admin, alice, bob, carol)},
		{name: "search (unknown)", path: path(url.Values{"search": {"lol"}}), token: adminToken, wantData: marchallList(t)},
		{name: "search=PUMP", path: path(url.Values{"search": {"PUMP"}}), token: adminToken, wantData: marchallList(t, alice, carol)},
		{name: "is_approved=false", path: path(url.Values{"is_approved": {"false"}}), token: adminToken, wantData: marchallList(t, bob, carol)},
		{name: "is_verified=true", path: path(url.Values{"is_verified": {"true"}}), token: adminToken, wantData: marchallList(t, admin, alice, bob)},
		{name: "is_admin=true", path: path(url.Values{"is_admin": {"true"}}), token: adminToken, wantData: marchallList(t, admin)},
		{
			name: "invalid bool", path: path(url.Values{"is_admin": {"lol"}}), token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"is_admin": "must be a boolean"}),
		},
		{name: "order by -created_at", path: path(url.Values{"ordering": {"-created_at"}}), token: adminToken, wantData: marchallList(t, carol, bob, alice, admin)},
		{name: "order by unknown field", path: path(url.Values{"ordering": {"password_hash"}}), token: adminToken, wantData: marchallList(t, admin, alice, bob, carol)},
		{
			name: "filtering & ordering", path: path(url.Values{"search": {"pump"}, "ordering": {"-username"}}), token: adminToken,
			wantData: marchallList(t, carol, alice),
		},
		{name: "pending", path: "/api/v1/users/pending", token: adminToken, wantData: marchallList(t, bob, carol)},
		{name: "pending: admin required", path: "/api/v1/users/pending", token: getToken(t, alice), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runTests(t, tests)
}

func Test_userApi_create(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	alice := testutil.CreateUser(t, usrRepo, "alice", "alice@test.in", pwd, true, true, false)

	tests := []httpTest{
		{
			name: "Admin required", token: getToken(t, alice), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
			body: marchallObj(t, echoapi.NewUserRequest{Username: "operator", Email: "op@test.in", Password: pwd}),
		},
		{
			name: "username taken", token: getToken(t, admin), wantCode: http.StatusBadRequest,
			body:     marchallObj(t, echoapi.NewUserRequest{Username: "alice", Email: "op@test.in", Password: pwd}),
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "created admin", token: getToken(t, admin), wantCode: http.StatusCreated,
			body: marchallObj(t, echoapi.NewUserRequest{Username: "operator", Email: "op@test.in", Password: pwd, IsAdmin: true}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/v1/users"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusCreated {
				usr, err := usrRepo.GetUserByUsername(context.Background(), "operator")
				require.NoError(t, err)
				assert.True(t, usr.IsAdmin)
				assert.True(t, usr.IsVerified)
				assert.True(t, usr.IsApproved)
			}
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	alice := testutil.CreateUser(t, usrRepo, "alice", "alice@test.in", pwd, true, true, false)
	bob := testutil.CreateUser(t, usrRepo, "bob", "bob@test.in", pwd, true, true, false)
	aliceToken := getToken(t, alice)
	adminToken := getToken(t, admin)

	runTests(t, []httpTest{
		{name: "self", method: http.MethodGet, path: "/api/v1/users/" + alice.ID, token: aliceToken, wantData: marchallObj(t, alice)},
		{name: "other user", method: http.MethodGet, path: "/api/v1/users/" + bob.ID, token: aliceToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "admin", method: http.MethodGet, path: "/api/v1/users/" + bob.ID, token: adminToken, wantData: marchallObj(t, bob)},
		{
			name: "unknown", method: http.MethodGet, path: "/api/v1/users/lol", token: adminToken, wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "User not found"}),
		},
		{
			name: "non admins only change their password", method: http.MethodPut, path: "/api/v1/users/" + alice.ID, token: aliceToken,
			body: marchallObj(t, user.UpdateUser{Username: "alicia"}), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "only admins can change username or email"}),
		},
		{
			name: "passwords mismatch", method: http.MethodPut, path: "/api/v1/users/" + alice.ID, token: aliceToken,
			body: marchallObj(t, user.UpdateUser{Password: "New-Pass9", PasswordConfirm: "lol"}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"password_confirm": "password_confirm must be equal to Password"}),
		},
		{
			name: "password changed", method: http.MethodPut, path: "/api/v1/users/" + alice.ID, token: aliceToken,
			body: marchallObj(t, user.UpdateUser{Password: "New-Pass9", PasswordConfirm: "New-Pass9"}),
		},
		{
			name: "email taken", method: http.MethodPut, path: "/api/v1/users/" + bob.ID, token: adminToken,
			body: marchallObj(t, user.UpdateUser{Email: "ALICE@test.in"}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
		{
			name: "admin renames", method: http.MethodPut, path: "/api/v1/users/" + bob.ID, token: adminToken,
			body: marchallObj(t, user.UpdateUser{Username: "Robert"}),
		},
	})

	alice, err := usrRepo.GetUserByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.NoError(t, alice.CheckPassword("New-Pass9"))

	bob, err = usrRepo.GetUserByID(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "robert", bob.Username)
}

func Test_userApi_approval(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	other := testutil.CreateUser(t, usrRepo, "other", "other@test.in", pwd, true, true, true)
	alice := testutil.CreateUser(t, usrRepo, "alice", "alice@test.in", pwd, true, false, false)
	bob := testutil.CreateUser(t, usrRepo, "bob", "bob@test.in", pwd, true, true, false)
	adminToken := getToken(t, admin)

	tests := []httpTest{
		{name: "admin required", path: "/api/v1/users/" + bob.ID + "/approve", token: getToken(t, bob), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "approve", path: "/api/v1/users/" + alice.ID + "/approve", token: adminToken, wantData: marchallObj(t, httpMsg{Message: "User approved successfully"}), extra: "account_approved"},
		{name: "reject", path: "/api/v1/users/" + bob.ID + "/reject", token: adminToken, wantData: marchallObj(t, httpMsg{Message: "User rejected successfully"}), extra: "account_rejected"},
		{
			name: "admins cannot be rejected", path: "/api/v1/users/" + other.ID + "/reject", token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "cannot reject admin user"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPut
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)

			if tmpl, ok := tt.extra.(string); ok {
				sent := emailsvc.GetSentMessages()
				require.Len(t, sent, 1)
				assert.Equal(t, tmpl, sent[0].TemplateName)
			}
		})
	}

	alice, err := usrRepo.GetUserByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.True(t, alice.IsApproved)
	assert.Equal(t, admin.ID, alice.ApprovedBy.String)

	bob, err = usrRepo.GetUserByID(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.False(t, bob.IsApproved)
	assert.Equal(t, admin.ID, bob.RejectedBy.String)
	assert.True(t, bob.RejectedAt.Valid)
}

func Test_userApi_destroy(t *testing.T) {
	resetDB()

	admin := testutil.CreateUser(t, usrRepo, "admin", "admin@test.in", pwd, true, true, true)
	other := testutil.CreateUser(t, usrRepo, "other", "other@test.in", pwd, true, true, true)
	alice := testutil.CreateUser(t, usrRepo, "alice", "alice@test.in", pwd, true, true, false)
	d := testutil.CreateDashboard(t, dashRepo, dashboardOf("Tank A", alice.ID), admin)
	adminToken := getToken(t, admin)

	runTests(t, []httpTest{
		{name: "admin required", method: http.MethodDelete, path: "/api/v1/users/" + alice.ID, token: getToken(t, alice), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{name: "not self", method: http.MethodDelete, path: "/api/v1/users/" + admin.ID, token: adminToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
		{
			name: "not admins", method: http.MethodDelete, path: "/api/v1/users/" + other.ID, token: adminToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "cannot delete admin user"}),
		},
		{name: "deleted", method: http.MethodDelete, path: "/api/v1/users/" + alice.ID, token: adminToken, wantData: marchallObj(t, httpMsg{Message: "User deleted successfully"})},
	})

	_, err := usrRepo.GetUserByID(context.Background(), alice.ID)
	assert.Equal(t, user.ErrNotFound, err)

	// assignments go with the user
	d, err = dashRepo.GetDashboardByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Empty(t, d.AssignedUsers)
}
