package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/propertipro/go-auth"
	"github.com/propertipro/go-auth/config"
	"github.com/propertipro/go-auth/persistence"
	"github.com/propertipro/go-auth/provider/gotrue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ auth.Config        = (*config.Config)(nil)
	_ auth.GuardConfig   = (*config.Config)(nil)
	_ auth.GuardConfig   = config.Routes{}
	_ persistence.Config = config.Persistence{}
	_ gotrue.Config      = config.GoTrue{}
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
app:
  site_url: https://properti.example
  listen: ":9000"
auth:
  provider: local
  signing_key: a-very-long-signing-key
  token_expiration: 15m
storage:
  driver: file
  path: /tmp/sessions
`)

	t.Setenv("PROPERTIPRO_APP_LISTEN", ":9100")
	t.Setenv("PROPERTIPRO_AUTH_AUDIENCE", "web, cli")
	t.Setenv("PROPERTIPRO_PERSISTENCE_DEBUG", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://properti.example", cfg.GetSiteURL())
	assert.Equal(t, ":9100", cfg.App.Listen)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenExpiration)
	assert.Equal(t, []string{"web", "cli"}, cfg.Auth.Audience)
	assert.True(t, cfg.Persistence.GetDebug())
	assert.Equal(t, "/reset-password", cfg.GetResetPasswordRoute())
	assert.Equal(t, "/login", cfg.GetSignInRoute())
	assert.Equal(t, "/admin/login", cfg.AdminGuard().GetSignInRoute())
	assert.Equal(t, "/admin/unauthorized", cfg.AdminGuard().GetUnauthorizedRoute())
	assert.Equal(t, "rejected_route", cfg.GetRejectedRouteKey())
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{
			name: "local provider needs a signing key",
			body: "auth:\n  provider: local\n",
			want: "SigningKey",
		},
		{
			name: "gotrue provider needs url and anon key",
			body: "auth:\n  provider: gotrue\n",
			want: "URL",
		},
		{
			name: "unknown provider",
			body: "auth:\n  provider: firebase\n",
			want: "Provider",
		},
		{
			name: "redis storage needs an address",
			body: "auth:\n  provider: local\n  signing_key: a-very-long-signing-key\nstorage:\n  driver: redis\n",
			want: "RedisAddr",
		},
		{
			name: "bad duration in env",
			body: "auth:\n  provider: local\n  signing_key: a-very-long-signing-key\n",
			env:  map[string]string{"PROPERTIPRO_GOTRUE_TIMEOUT": "soon"},
			want: "PROPERTIPRO_GOTRUE_TIMEOUT",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(writeFile(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestGoTrueProvider(t *testing.T) {
	t.Setenv("PROPERTIPRO_AUTH_PROVIDER", "GoTrue")
	t.Setenv("PROPERTIPRO_GOTRUE_URL", "https://abc.supabase.co")
	t.Setenv("PROPERTIPRO_GOTRUE_ANON_KEY", "anon")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.ProviderGoTrue, cfg.Auth.Provider)
	assert.Equal(t, "https://abc.supabase.co", cfg.GoTrue.GetURL())
	assert.Equal(t, 10*time.Second, cfg.GoTrue.GetTimeout())
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
