package user

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	NowFunc = time.Now // mockable

	// errors
	errInvalidToken = errors.New("invalid token")
	errTokenExpired = errors.New("token expired")

	tokenRefTime = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// tokenGenerator makes stateless HMAC tokens tied to a user's current state.
// A token stops working once the state hashed by hashUser changes or once timeout elapses.
type tokenGenerator struct {
	salt      []byte
	secretKey string
	timeout   time.Duration
	hashUser  func(usr User, val *bytes.Buffer)
}

// passwordResetHash changes on password change & on login.
func passwordResetHash(usr User, val *bytes.Buffer) {
	val.WriteString(usr.ID)
	val.Write(usr.PasswordHash)
	if usr.LastLogin.Valid {
		val.WriteString(usr.LastLogin.Time.UTC().Format(time.RFC3339Nano))
	}
}

// emailVerificationHash changes once the user is verified or changes their email.
func emailVerificationHash(usr User, val *bytes.Buffer) {
	val.WriteString(usr.ID)
	val.WriteString(usr.Email)
	val.WriteString(strconv.FormatBool(usr.IsVerified))
}

func newPasswordResetTokenGenerator(secretKey string, timeout time.Duration) *tokenGenerator {
	return &tokenGenerator{
		salt:      []byte("bluedrop.core.user.PasswordResetTokenGenerator"),
		secretKey: secretKey,
		timeout:   timeout,
		hashUser:  passwordResetHash,
	}
}

func newEmailVerificationTokenGenerator(secretKey string, timeout time.Duration) *tokenGenerator {
	return &tokenGenerator{
		salt:      []byte("bluedrop.core.user.EmailVerificationTokenGenerator"),
		secretKey: secretKey,
		timeout:   timeout,
		hashUser:  emailVerificationHash,
	}
}

// EncodeUID base64 encodes given User ID
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(usr.ID))
}

// decodeUID base64 decodes given UID
func decodeUID(uid string) (string, error) {
	idBytes, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", err
	}
	return string(idBytes), nil
}

// makeToken generates a token for a given User.
func (g *tokenGenerator) makeToken(usr User) (string, error) {
	return g.makeTokenWithTimestamp(usr, secondsSinceRef(NowFunc()))
}

// verifyToken checks that a token for a given User is valid.
func (g *tokenGenerator) verifyToken(usr User, token string) error {
	if token == "" {
		return errInvalidToken
	}

	parts := strings.SplitN(token, "-", 2)
	if len(parts) < 2 {
		return errInvalidToken
	}
	tsB32 := parts[0]

	data, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(tsB32)
	if err != nil {
		return errInvalidToken
	}
	ts, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errInvalidToken
	}

	// check that token has not been tampered with
	newToken, err := g.makeTokenWithTimestamp(usr, ts)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(newToken), []byte(token)) == 0 {
		return errInvalidToken
	}

	// check that the timestamp is within limit
	if secondsSinceRef(NowFunc())-ts > int64(g.timeout/time.Second) {
		return errTokenExpired
	}
	return nil
}

func (g *tokenGenerator) makeTokenWithTimestamp(usr User, ts int64) (string, error) {
	tsB32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(strconv.FormatInt(ts, 10)))

	var val bytes.Buffer
	g.hashUser(usr, &val)
	val.WriteString(strconv.FormatInt(ts, 10))

	sig, err := g.sign(val.Bytes())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", tsB32, sig), nil
}

func (g *tokenGenerator) sign(val []byte) (string, error) {
	key := sha256.Sum256(append(append([]byte{}, g.salt...), g.secretKey...))
	h := hmac.New(sha256.New, key[:])
	if _, err := h.Write(val); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

func secondsSinceRef(t time.Time) int64 {
	return int64(t.Sub(tokenRefTime) / time.Second)
}
