// Package jwtware authenticates API requests that carry an access token
// instead of a browser session cookie.
package jwtware

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/propertipro/go-auth"
)

var defaultTokenLookup = "header:" + fiber.HeaderAuthorization

// ErrJWTMissingOrMalformed is returned when no token can be extracted
var ErrJWTMissingOrMalformed = goerrors.New("missing or malformed JWT", goerrors.CategoryBadInput).
	WithTextCode("JWT_MISSING").
	WithCode(goerrors.CodeBadRequest)

// ErrForbidden is returned when the token role is below MinimumRole
var ErrForbidden = goerrors.New("insufficient role", goerrors.CategoryAuthz).
	WithTextCode("INSUFFICIENT_ROLE").
	WithCode(goerrors.CodeForbidden)

var claimsCtxKey = &struct{ name string }{"jwtware_claims"}

// ValidationListener is invoked after a token has been validated but before
// authorization checks.
type ValidationListener func(c *fiber.Ctx, claims *auth.SessionClaims) error

type Config struct {
	Filter         func(*fiber.Ctx) bool
	SuccessHandler fiber.Handler
	ErrorHandler   fiber.ErrorHandler
	// Validator is required
	Validator   auth.TokenValidator
	ContextKey  string
	TokenLookup string
	AuthScheme  string

	// MinimumRole rejects tokens whose role is below it. Empty skips the check.
	MinimumRole auth.UserRole
	// RoleResolver reads the application role from the claims. Defaults to
	// the role in user metadata, falling back to RoleUser.
	RoleResolver func(*auth.SessionClaims) auth.UserRole

	ValidationListeners []ValidationListener
}

// New returns the middleware. It panics when cfg has no Validator.
func New(config ...Config) fiber.Handler {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := ExtractRawToken(c, extractors)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		claims, err := cfg.Validator.Validate(raw)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		for _, listener := range cfg.ValidationListeners {
			if listener == nil {
				continue
			}
			if err := listener(c, claims); err != nil {
				return cfg.ErrorHandler(c, err)
			}
		}

		if cfg.MinimumRole != "" {
			role := cfg.RoleResolver(claims)
			if !role.IsAtLeast(cfg.MinimumRole) {
				return cfg.ErrorHandler(c, fmt.Errorf("%w: %s required", ErrForbidden, cfg.MinimumRole))
			}
		}

		c.Locals(cfg.ContextKey, claims)
		c.SetUserContext(WithClaimsContext(c.UserContext(), claims))

		return cfg.SuccessHandler(c)
	}
}

// WithClaimsContext stores claims in ctx
func WithClaimsContext(ctx context.Context, claims *auth.SessionClaims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, claims)
}

// ClaimsFromContext returns the claims stored by the middleware
func ClaimsFromContext(ctx context.Context) (*auth.SessionClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsCtxKey).(*auth.SessionClaims)
	return claims, ok && claims != nil
}

// RoleFromClaims is the default RoleResolver
func RoleFromClaims(claims *auth.SessionClaims) auth.UserRole {
	if role, ok := claims.ProfileRole(); ok {
		return role
	}
	return auth.RoleUser
}

func ExtractRawToken(c *fiber.Ctx, extractors []JWTExtractor) (string, error) {
	var raw string
	var err error = ErrJWTMissingOrMalformed

	for _, extractor := range extractors {
		raw, err = extractor(c)
		if raw != "" && err == nil {
			break
		}
	}

	return raw, err
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Validator == nil {
		panic("AUTH: JWT middleware configuration: Validator is required.")
	}

	if cfg.SuccessHandler == nil {
		cfg.SuccessHandler = func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = DefaultErrorHandler
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "claims"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.RoleResolver == nil {
		cfg.RoleResolver = RoleFromClaims
	}

	return cfg
}

// DefaultErrorHandler answers with a JSON error body: 400 for a missing
// token, 403 for an insufficient role and 401 otherwise.
func DefaultErrorHandler(c *fiber.Ctx, err error) error {
	var richErr *goerrors.Error
	switch {
	case auth.IsTokenExpiredError(err):
		richErr = auth.ErrTokenExpired
	case goerrors.As(err, &richErr):
	default:
		richErr = goerrors.Wrap(err, goerrors.CategoryAuth, "invalid or expired token").
			WithCode(goerrors.CodeUnauthorized)
	}

	status := richErr.Code
	if status == 0 {
		status = fiber.StatusUnauthorized
	}

	return c.Status(status).JSON(fiber.Map{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

// GetExtractors parses a lookup such as
// "header:Authorization,cookie:jwt,query:auth_token,param:token".
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = strings.TrimSpace(authSchemes[0])
	}

	for _, rootPart := range strings.Split(tokenLookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(rootPart), ":", 2)
		if len(parts) != 2 {
			continue
		}
		source, name := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		switch source {
		case "header":
			extractors = append(extractors, jwtFromHeader(name, authScheme))
		case "query":
			extractors = append(extractors, jwtFromQuery(name))
		case "param":
			extractors = append(extractors, jwtFromParam(name))
		case "cookie":
			extractors = append(extractors, jwtFromCookie(name))
		}
	}

	return extractors
}

type JWTExtractor func(c *fiber.Ctx) (string, error)

// jwtFromHeader extracts the token from a request header. An empty scheme
// takes the whole header value.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		a := c.Get(header)
		if authScheme == "" {
			if a == "" {
				return "", ErrJWTMissingOrMalformed
			}
			return strings.TrimSpace(a), nil
		}
		l := len(authScheme)
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			return strings.TrimSpace(a[l:]), nil
		}
		return "", ErrJWTMissingOrMalformed
	}
}

func jwtFromQuery(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Query(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func jwtFromParam(param string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Params(param)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}

func jwtFromCookie(name string) JWTExtractor {
	return func(c *fiber.Ctx) (string, error) {
		token := c.Cookies(name)
		if token == "" {
			return "", ErrJWTMissingOrMalformed
		}
		return token, nil
	}
}
