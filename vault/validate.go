package vault

import (
	"net/mail"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidateID checks that id is safe to place in a request path.
func ValidateID(id string) error {
	if id == "" {
		return validationErrorf("record ID must not be empty")
	}
	if len(id) > MaxIDLength {
		return validationErrorf("record ID exceeds maximum length of %d", MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return validationErrorf("record ID contains invalid UTF-8")
	}
	for _, r := range id {
		if r == '/' || r == '?' || r == '#' || r == '%' {
			return validationErrorf("record ID contains forbidden character %q", r)
		}
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return validationErrorf("record ID contains control or space character")
		}
	}
	return nil
}

// Validate checks a credential registration before it is sent.
func (n NewRecord) Validate() error {
	if strings.TrimSpace(n.AppName) == "" {
		return validationErrorf("app name is required")
	}
	if len(n.AppName) > MaxAppNameLength {
		return validationErrorf("app name exceeds maximum length of %d", MaxAppNameLength)
	}
	if n.LoginURL != "" {
		if err := validateLoginURL(n.LoginURL); err != nil {
			return err
		}
	}
	if n.Password == "" {
		return validationErrorf("password is required")
	}
	if len(n.Password) > MaxPasswordLength {
		return validationErrorf("password exceeds maximum length of %d", MaxPasswordLength)
	}
	return validateMasterPassword(n.MasterPassword, 1)
}

// Validate checks a signup request. Master passwords for new accounts must
// be at least MinSignupPasswordLength characters.
func (s Signup) Validate() error {
	if err := validateEmail(s.Email); err != nil {
		return err
	}
	return validateMasterPassword(s.MasterPassword, MinSignupPasswordLength)
}

// Validate checks a login request.
func (l Login) Validate() error {
	if err := validateEmail(l.Email); err != nil {
		return err
	}
	return validateMasterPassword(l.MasterPassword, 1)
}

func validateEmail(email string) error {
	if email == "" {
		return validationErrorf("email is required")
	}
	if len(email) > maxEmailLength {
		return validationErrorf("email exceeds maximum length of %d", maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return validationErrorf("invalid email %q", email)
	}
	return nil
}

func validateMasterPassword(pw string, minLen int) error {
	if strings.TrimSpace(pw) == "" {
		return validationErrorf("master password is required")
	}
	if n := utf8.RuneCountInString(pw); n < minLen {
		return validationErrorf("master password must be at least %d characters", minLen)
	}
	if len(pw) > MaxMasterPasswordLength {
		return validationErrorf("master password exceeds maximum length of %d", MaxMasterPasswordLength)
	}
	return nil
}

func validateLoginURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return validationErrorf("invalid login URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return validationErrorf("login URL must use http or https")
	}
	if u.Host == "" {
		return validationErrorf("login URL must include a host")
	}
	return nil
}
