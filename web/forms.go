package web

import (
	"errors"
	"strings"
	"unicode"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// PhoneRegion is the default region for numbers without a country code
const PhoneRegion = "ID"

const (
	msgRequired         = "Wajib diisi"
	msgEmailRequired    = "Email dan password harus diisi"
	msgEmailInvalid     = "Format email tidak valid"
	msgPasswordMismatch = "Password dan konfirmasi password tidak cocok"
	msgAgreeTerms       = "Anda harus menyetujui syarat dan ketentuan"
	msgPhoneInvalid     = "Nomor telepon tidak valid"
	msgPasswordLength   = "Password minimal 8 karakter"
	msgPasswordUpper    = "Password harus mengandung huruf besar"
	msgPasswordLower    = "Password harus mengandung huruf kecil"
	msgPasswordDigit    = "Password harus mengandung angka"
	msgGenericError     = "Terjadi kesalahan. Silakan coba lagi."
)

// SignInPayload is the sign in form
type SignInPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	Remember bool   `form:"remember" json:"remember"`
}

// Validate will validate the payload
func (r SignInPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required.Error(msgEmailRequired), is.Email.Error(msgEmailInvalid)),
		validation.Field(&r.Password, validation.Required.Error(msgEmailRequired)),
	)
}

// RegisterPayload is the sign up form
type RegisterPayload struct {
	FullName        string `form:"name" json:"name"`
	Email           string `form:"email" json:"email"`
	Phone           string `form:"phone" json:"phone"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
	AgreeTerms      bool   `form:"agree_terms" json:"agree_terms"`
}

// Validate will validate the payload
func (r RegisterPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Required.Error(msgRequired), validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required.Error(msgRequired), is.Email.Error(msgEmailInvalid)),
		validation.Field(&r.Phone, validation.By(ValidatePhone)),
		validation.Field(&r.Password, validation.Required.Error(msgRequired), validation.Length(8, 100).Error(msgPasswordLength)),
		validation.Field(&r.ConfirmPassword, validation.Required.Error(msgRequired), validation.By(ValidateStringEquals(r.Password))),
		validation.Field(&r.AgreeTerms, validation.By(validateTrue(msgAgreeTerms))),
	)
}

// NormalizedPhone returns the phone in E.164 form, empty when unset
func (r RegisterPayload) NormalizedPhone() string {
	return NormalizePhone(r.Phone)
}

// ForgotPasswordPayload requests a recovery link
type ForgotPasswordPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r ForgotPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required.Error(msgRequired), is.Email.Error(msgEmailInvalid)),
	)
}

// ResetPasswordPayload sets a new password after recovery
type ResetPasswordPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate checks the password policy first, then the confirmation
func (r ResetPasswordPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required.Error(msgRequired), validation.By(ValidatePasswordPolicy)),
		validation.Field(&r.ConfirmPassword, validation.By(ValidateStringEquals(r.Password))),
	)
}

// ValidatePasswordPolicy requires eight characters with upper case, lower
// case and a digit. All failures are reported together.
func ValidatePasswordPolicy(value interface{}) error {
	password, _ := value.(string)

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	var failures []string
	if len([]rune(password)) < 8 {
		failures = append(failures, msgPasswordLength)
	}
	if !upper {
		failures = append(failures, msgPasswordUpper)
	}
	if !lower {
		failures = append(failures, msgPasswordLower)
	}
	if !digit {
		failures = append(failures, msgPasswordDigit)
	}

	if len(failures) > 0 {
		return errors.New(strings.Join(failures, ", "))
	}
	return nil
}

// ValidatePhone accepts an empty value or a valid number for PhoneRegion
func ValidatePhone(value interface{}) error {
	raw, _ := value.(string)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	num, err := phonenumbers.Parse(raw, PhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New(msgPhoneInvalid)
	}
	return nil
}

// NormalizePhone formats raw as E.164, returning raw when it does not parse
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, PhoneRegion)
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New(msgPasswordMismatch)
		}
		return nil
	}
}

func validateTrue(msg string) validation.RuleFunc {
	return func(value interface{}) error {
		if b, _ := value.(bool); !b {
			return errors.New(msg)
		}
		return nil
	}
}

// FieldErrors flattens a validation error into form field messages
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

// FirstError returns one message for the banner at the top of a form,
// following the field order of the form.
func FirstError(fields map[string]string, order ...string) string {
	for _, f := range order {
		if msg, ok := fields[f]; ok {
			return msg
		}
	}
	for _, msg := range fields {
		return msg
	}
	return ""
}
