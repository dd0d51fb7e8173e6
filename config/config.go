// Package config loads the application configuration. Values resolve in
// order: defaults, YAML file, .env file, PROPERTIPRO_* environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides
const EnvPrefix = "PROPERTIPRO_"

const (
	ProviderGoTrue = "gotrue"
	ProviderLocal  = "local"

	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

type Config struct {
	App         App         `yaml:"app"`
	Auth        Auth        `yaml:"auth"`
	GoTrue      GoTrue      `yaml:"gotrue"`
	Storage     Storage     `yaml:"storage"`
	Persistence Persistence `yaml:"persistence"`
}

type App struct {
	Name               string        `yaml:"name"`
	SiteURL            string        `yaml:"site_url"`
	Listen             string        `yaml:"listen"`
	Debug              bool          `yaml:"debug"`
	SessionCookie      string        `yaml:"session_cookie"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
}

type Auth struct {
	Provider                string        `yaml:"provider"`
	SignInRoute             string        `yaml:"sign_in_route"`
	AdminSignInRoute        string        `yaml:"admin_sign_in_route"`
	UnauthorizedRoute       string        `yaml:"unauthorized_route"`
	ResetPasswordRoute      string        `yaml:"reset_password_route"`
	DefaultAdminRoute       string        `yaml:"default_admin_route"`
	RejectedRouteKey        string        `yaml:"rejected_route_key"`
	SigningKey              string        `yaml:"signing_key"`
	TokenExpiration         time.Duration `yaml:"token_expiration"`
	RefreshExpiration       time.Duration `yaml:"refresh_expiration"`
	Issuer                  string        `yaml:"issuer"`
	Audience                []string      `yaml:"audience"`
	RequireConfirmation     bool          `yaml:"require_confirmation"`
	DeterministicIDs        bool          `yaml:"deterministic_ids"`
	SignOutOnRefreshFailure bool          `yaml:"sign_out_on_refresh_failure"`
}

type GoTrue struct {
	URL       string        `yaml:"url"`
	AnonKey   string        `yaml:"anon_key"`
	JWKSURL   string        `yaml:"jwks_url"`
	JWTSecret string        `yaml:"jwt_secret"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Storage struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type Persistence struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		App: App{
			Name:               "Properti Pro",
			SiteURL:            "http://localhost:8080",
			Listen:             ":8080",
			SessionCookie:      "pp_sid",
			SessionIdleTimeout: 2 * time.Hour,
		},
		Auth: Auth{
			Provider:           ProviderLocal,
			SignInRoute:        "/login",
			AdminSignInRoute:   "/admin/login",
			UnauthorizedRoute:  "/admin/unauthorized",
			ResetPasswordRoute: "/reset-password",
			DefaultAdminRoute:  "/admin/dashboard",
			RejectedRouteKey:   "rejected_route",
			TokenExpiration:    time.Hour,
			RefreshExpiration:  30 * 24 * time.Hour,
			Issuer:             "propertipro",
		},
		GoTrue: GoTrue{
			Timeout: 10 * time.Second,
		},
		Storage: Storage{
			Driver:      StorageMemory,
			Path:        ".propertipro/sessions",
			RedisPrefix: "propertipro:session:",
		},
		Persistence: Persistence{
			Driver: "sqlite",
			DSN:    "file:propertipro.db?cache=shared",
		},
	}
}

// Load reads path, which may be empty, and applies the environment. A .env
// file in the working directory is loaded when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.App.SiteURL = envString("APP_SITE_URL", c.App.SiteURL)
	c.App.Listen = envString("APP_LISTEN", c.App.Listen)
	c.App.SessionCookie = envString("APP_SESSION_COOKIE", c.App.SessionCookie)

	c.Auth.Provider = strings.ToLower(envString("AUTH_PROVIDER", c.Auth.Provider))
	c.Auth.SigningKey = envString("AUTH_SIGNING_KEY", c.Auth.SigningKey)
	c.Auth.Issuer = envString("AUTH_ISSUER", c.Auth.Issuer)
	c.Auth.Audience = envCSV("AUTH_AUDIENCE", c.Auth.Audience)

	c.GoTrue.URL = envString("GOTRUE_URL", c.GoTrue.URL)
	c.GoTrue.AnonKey = envString("GOTRUE_ANON_KEY", c.GoTrue.AnonKey)
	c.GoTrue.JWKSURL = envString("GOTRUE_JWKS_URL", c.GoTrue.JWKSURL)
	c.GoTrue.JWTSecret = envString("GOTRUE_JWT_SECRET", c.GoTrue.JWTSecret)

	c.Storage.Driver = strings.ToLower(envString("STORAGE_DRIVER", c.Storage.Driver))
	c.Storage.Path = envString("STORAGE_PATH", c.Storage.Path)
	c.Storage.RedisAddr = envString("STORAGE_REDIS_ADDR", c.Storage.RedisAddr)

	c.Persistence.Driver = envString("PERSISTENCE_DRIVER", c.Persistence.Driver)
	c.Persistence.DSN = envString("PERSISTENCE_DSN", c.Persistence.DSN)

	var err error
	if c.App.Debug, err = envBool("APP_DEBUG", c.App.Debug); err != nil {
		return err
	}
	if c.Persistence.Debug, err = envBool("PERSISTENCE_DEBUG", c.Persistence.Debug); err != nil {
		return err
	}
	if c.Auth.RequireConfirmation, err = envBool("AUTH_REQUIRE_CONFIRMATION", c.Auth.RequireConfirmation); err != nil {
		return err
	}
	if c.Auth.TokenExpiration, err = envDuration("AUTH_TOKEN_EXPIRATION", c.Auth.TokenExpiration); err != nil {
		return err
	}
	if c.Auth.RefreshExpiration, err = envDuration("AUTH_REFRESH_EXPIRATION", c.Auth.RefreshExpiration); err != nil {
		return err
	}
	if c.GoTrue.Timeout, err = envDuration("GOTRUE_TIMEOUT", c.GoTrue.Timeout); err != nil {
		return err
	}
	return nil
}

// Validate checks the settings the selected provider and storage need
func (c *Config) Validate() error {
	err := validation.Errors{
		"app": validation.ValidateStruct(&c.App,
			validation.Field(&c.App.SiteURL, validation.Required, is.URL),
			validation.Field(&c.App.Listen, validation.Required),
			validation.Field(&c.App.SessionCookie, validation.Required),
		),
		"auth": validation.ValidateStruct(&c.Auth,
			validation.Field(&c.Auth.Provider, validation.Required, validation.In(ProviderGoTrue, ProviderLocal)),
			validation.Field(&c.Auth.SigningKey, requiredIf(c.Auth.Provider == ProviderLocal), validation.Length(16, 0)),
			validation.Field(&c.Auth.TokenExpiration, validation.Required),
			validation.Field(&c.Auth.SignInRoute, validation.Required),
			validation.Field(&c.Auth.UnauthorizedRoute, validation.Required),
		),
		"gotrue": validation.ValidateStruct(&c.GoTrue,
			validation.Field(&c.GoTrue.URL, requiredIf(c.Auth.Provider == ProviderGoTrue), is.URL),
			validation.Field(&c.GoTrue.AnonKey, requiredIf(c.Auth.Provider == ProviderGoTrue)),
			validation.Field(&c.GoTrue.JWKSURL, is.URL),
		),
		"storage": validation.ValidateStruct(&c.Storage,
			validation.Field(&c.Storage.Driver, validation.Required, validation.In(StorageMemory, StorageFile, StorageRedis)),
			validation.Field(&c.Storage.Path, requiredIf(c.Storage.Driver == StorageFile)),
			validation.Field(&c.Storage.RedisAddr, requiredIf(c.Storage.Driver == StorageRedis)),
		),
		"persistence": validation.ValidateStruct(&c.Persistence,
			validation.Field(&c.Persistence.Driver, validation.In("sqlite", "sqlite3", "postgres", "postgresql", "pg", "pgx")),
		),
	}.Filter()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) GetSiteURL() string            { return c.App.SiteURL }
func (c *Config) GetResetPasswordRoute() string { return c.Auth.ResetPasswordRoute }
func (c *Config) GetSignInRoute() string        { return c.Auth.SignInRoute }
func (c *Config) GetUnauthorizedRoute() string  { return c.Auth.UnauthorizedRoute }
func (c *Config) GetRejectedRouteKey() string   { return c.Auth.RejectedRouteKey }

// AdminGuard returns the guard routes used for the back office, where
// anonymous users go to the admin sign in page.
func (c *Config) AdminGuard() Routes {
	return Routes{
		SignIn:       c.Auth.AdminSignInRoute,
		Unauthorized: c.Auth.UnauthorizedRoute,
		RejectedKey:  c.Auth.RejectedRouteKey,
	}
}

// Routes is a static auth.GuardConfig
type Routes struct {
	SignIn       string
	Unauthorized string
	RejectedKey  string
}

func (r Routes) GetSignInRoute() string       { return r.SignIn }
func (r Routes) GetUnauthorizedRoute() string { return r.Unauthorized }
func (r Routes) GetRejectedRouteKey() string  { return r.RejectedKey }

func (g GoTrue) GetURL() string            { return g.URL }
func (g GoTrue) GetAnonKey() string        { return g.AnonKey }
func (g GoTrue) GetTimeout() time.Duration { return g.Timeout }

func (p Persistence) GetDriver() string { return p.Driver }
func (p Persistence) GetDSN() string    { return p.DSN }
func (p Persistence) GetDebug() bool    { return p.Debug }

func requiredIf(cond bool) validation.Rule {
	if cond {
		return validation.Required
	}
	return validation.By(func(interface{}) error { return nil })
}

func envString(name, fallback string) string {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(name string, fallback bool) (bool, error) {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return v, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return v, nil
}

func envCSV(name string, fallback []string) []string {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || raw == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
