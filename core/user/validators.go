package user

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/JoeMarian/bluedropwithvps/assets"
	"github.com/JoeMarian/bluedropwithvps/core"
)

var (
	// password policy
	pwdMinLen     = 6
	pwdMinLenTag  = "pwdminlen"
	pwdMinLenText = fmt.Sprintf("password must contain at least %d characters", pwdMinLen)

	pwdNoSpaceTag  = "pwdnospace"
	pwdNoSpaceText = "password must not contain whitespace"

	pwdNotAllNumTag  = "pwdnotallnum"
	pwdNotAllNumText = "password cannot be entirely numeric"

	pwdMaxSim      = .7
	pwdAttrSimTag  = "pwdtoosim"
	pwdAttrSimText = "password cannot be similar to username or email"

	pwdNoCommonTag  = "pwdnocommon"
	pwdNoCommonText = "password is too common"

	commonPasswords     []string
	commonPasswordsOnce sync.Once
)

// InitValidators registers the user struct validations & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(userStructValidation, NewUser{}, UpdateUser{}, ResetUserPassword{})
	core.RegisterCustomTranslation(validate, translator, pwdMinLenTag, pwdMinLenText)
	core.RegisterCustomTranslation(validate, translator, pwdNoSpaceTag, pwdNoSpaceText)
	core.RegisterCustomTranslation(validate, translator, pwdNotAllNumTag, pwdNotAllNumText)
	core.RegisterCustomTranslation(validate, translator, pwdAttrSimTag, pwdAttrSimText)
	core.RegisterCustomTranslation(validate, translator, pwdNoCommonTag, pwdNoCommonText)
}

// LoadCommonPasswords loads the embedded list of common passwords. It is safe to call more than once.
func LoadCommonPasswords(logger core.Logger) {
	commonPasswordsOnce.Do(func() {
		pwds := make([]string, 0, 200)
		scanner := bufio.NewScanner(strings.NewReader(assets.CommonPasswords))
		for scanner.Scan() {
			if pwd := strings.ToLower(strings.TrimSpace(scanner.Text())); pwd != "" {
				pwds = append(pwds, pwd)
			}
		}
		if err := scanner.Err(); err != nil && logger != nil {
			logger.Error("loading common passwords", err)
		}
		sort.Strings(pwds)
		commonPasswords = pwds
	})
}

// userStructValidation does struct level validation on NewUser, UpdateUser and ResetUserPassword structs.
func userStructValidation(sl validator.StructLevel) {
	switch usr := sl.Current().Interface().(type) {
	case NewUser:
		validatePassword(usr.Password, usr.Username, usr.Email, sl)
	case UpdateUser:
		if usr.Password != "" {
			validatePassword(usr.Password, usr.Username, usr.Email, sl)
		}
	case ResetUserPassword:
		if usr.Password != "" {
			validatePassword(usr.Password, "", "", sl)
		}
	}
}

// validatePassword applies the password policy to provided password:
// - minLen: 6
// - no whitespace
// - no all numeric
// - no user attrs similarity
// - no common password
func validatePassword(pwd, uname, email string, sl validator.StructLevel) {
	if err := checkPassword(pwd, uname, email); err != "" {
		sl.ReportError(pwd, "password", "Password", err, "")
	}
}

// checkPassword returns the tag of the first password policy rule pwd breaks, or "" when it is valid.
func checkPassword(pwd, uname, email string) string {
	// - minLen: 6
	pwdLen := len([]rune(pwd))
	if pwdLen < pwdMinLen {
		return pwdMinLenTag
	}

	var digitCount int
	for _, char := range pwd {
		// - no whitespace
		if unicode.IsSpace(char) {
			return pwdNoSpaceTag
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
	}

	// - not all numeric
	if digitCount == pwdLen {
		return pwdNotAllNumTag
	}

	// - no user attrs similarity
	lpwd := strings.ToLower(pwd)
	getRatio := func(pass, usrAttr string) float64 {
		if usrAttr == "" {
			return 0
		}
		return difflib.NewMatcher(strings.Split(pass, ""), strings.Split(strings.ToLower(usrAttr), "")).QuickRatio()
	}
	emailName := email
	if i := strings.Index(email, "@"); i > 0 {
		emailName = email[:i]
	}
	if getRatio(lpwd, uname) >= pwdMaxSim || getRatio(lpwd, emailName) >= pwdMaxSim {
		return pwdAttrSimTag
	}

	// - no common passwords
	if idx := sort.SearchStrings(commonPasswords, lpwd); idx < len(commonPasswords) {
		if match := commonPasswords[idx]; lpwd == match {
			return pwdNoCommonTag
		}
	}
	return ""
}
