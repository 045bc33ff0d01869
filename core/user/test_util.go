package user

import "github.com/JoeMarian/bluedropwithvps/core"

// MakeEmailVerificationToken returns the token a verification email sent to usr would carry.
// Used by tests that cannot read the emailed link.
func MakeEmailVerificationToken(usr User, conf *core.Config) (string, error) {
	return newEmailVerificationTokenGenerator(conf.SecretKey, conf.EmailVerificationTimeoutDelta).makeToken(usr)
}

// MakePasswordResetToken returns the token a password reset email sent to usr would carry.
func MakePasswordResetToken(usr User, conf *core.Config) (string, error) {
	return newPasswordResetTokenGenerator(conf.SecretKey, conf.PasswordResetTimeoutDelta).makeToken(usr)
}
