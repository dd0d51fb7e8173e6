package auth

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNoUser           = "NO_USER"
	TextCodeProfileNotFound  = "PROFILE_NOT_FOUND"
	TextCodeIdentityNotFound = "IDENTITY_NOT_FOUND"
	TextCodeSessionMissing   = "SESSION_MISSING"
	TextCodeTokenExpired     = "TOKEN_EXPIRED"
	TextCodeTokenMalformed   = "TOKEN_MALFORMED"
)

// ErrNoUser is returned by operations that need a signed in user profile
var ErrNoUser = goerrors.New("no user logged in", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoUser).
	WithCode(goerrors.CodeUnauthorized)

// ErrProfileNotFound is returned when no profile row matches a subject identifier
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrSessionMissing is returned when an operation requires an active session
var ErrSessionMissing = goerrors.New("auth session missing", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionMissing).
	WithCode(goerrors.CodeUnauthorized)

// ErrManagerStarted is returned when Start is called twice
var ErrManagerStarted = goerrors.New("auth manager already started", goerrors.CategoryConflict).
	WithCode(goerrors.CodeConflict)

// ErrEmptyUpdate is returned when a profile update carries no fields
var ErrEmptyUpdate = goerrors.New("profile update has no fields", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned when an access token is past its expiry
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when an access token can not be parsed or verified
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = goerrors.New("password can not be empty", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned on password mismatch
var ErrMismatchedHashAndPassword = goerrors.New("password does not match", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ProviderError is a structured error returned by the identity provider or
// the profile table. Message is shown to users verbatim.
type ProviderError struct {
	Message  string            `json:"message"`
	Code     string            `json:"code,omitempty"`
	Status   int               `json:"status,omitempty"`
	Category goerrors.Category `json:"category,omitempty"`
	Err      error             `json:"-"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ErrorCategory returns the category, derived from Status when unset
func (e *ProviderError) ErrorCategory() goerrors.Category {
	if e.Category != "" {
		return e.Category
	}
	return CategoryForStatus(e.Status)
}

// Rich returns the error as a go-errors value. The provider code becomes the
// text code and Status the HTTP code.
func (e *ProviderError) Rich() *goerrors.Error {
	rich := goerrors.New(e.Message, e.ErrorCategory()).
		WithTextCode(strings.ToUpper(e.Code))
	if e.Status > 0 {
		rich = rich.WithCode(e.Status)
	}
	rich.Source = e
	return rich
}

// NewProviderError builds a ProviderError
func NewProviderError(status int, code, message string) *ProviderError {
	return &ProviderError{
		Message:  message,
		Code:     code,
		Status:   status,
		Category: CategoryForStatus(status),
	}
}

// CategoryForStatus maps an HTTP status reported by a provider to an error
// category
func CategoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status == http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	case status >= 500:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryInternal
	}
}

// IsProviderError reports whether err carries a ProviderError
func IsProviderError(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr)
}

// AsRichError returns err as a go-errors value. Provider errors keep their
// status and code, anything else is reported as an internal error.
func AsRichError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Rich()
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) {
		return rich
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "internal error").
		WithCode(goerrors.CodeInternal)
}

// ErrorMessage returns the human readable message for err. Provider errors
// keep their message verbatim.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var perr *ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		return perr.Message
	}
	var rich *goerrors.Error
	if errors.As(err, &rich) && rich.Message != "" {
		return rich.Message
	}
	return err.Error()
}

// IsInvalidRefreshToken will check if the provider rejected the refresh token
func IsInvalidRefreshToken(err error) bool {
	if err == nil {
		return false
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		switch perr.Code {
		case "refresh_token_not_found", "refresh_token_already_used", "invalid_grant", "session_not_found":
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid refresh token") ||
		strings.Contains(msg, "refresh token not found")
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTokenExpired) || strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTokenMalformed) || strings.Contains(err.Error(), "token is malformed")
}
