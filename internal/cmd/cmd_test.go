package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	body := fmt.Sprintf(`app:
  site_url: https://properti.test
auth:
  provider: local
  signing_key: cli-test-signing-secret
storage:
  driver: file
  path: %s
persistence:
  driver: sqlite
  dsn: file:%s?cache=shared
`, filepath.Join(dir, "sessions"), filepath.Join(dir, "propertipro.db"))

	path := filepath.Join(dir, "propertipro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", cfg, "--quiet"))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestRootSubcommands(t *testing.T) {
	root := NewRootCommand()

	want := map[string]bool{"serve": false, "migrate": false, "users": false, "whoami": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		assert.True(t, found, "missing command %s", name)
	}

	users := find(root, "users")
	require.NotNil(t, users)
	for _, name := range []string{"create", "list", "set-role", "suspend", "deactivate", "reinstate"} {
		assert.NotNil(t, find(users, name), "missing users %s", name)
	}

	serve := find(root, "serve")
	require.NotNil(t, serve)
	assert.NotNil(t, serve.Flags().Lookup("listen"))
	assert.NotNil(t, serve.Flags().Lookup("shutdown-timeout"))
	assert.NotNil(t, serve.Flags().Lookup("audit-log"))
}

func TestOpenAuditLog(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	w, closeFn, err := openAuditLog(cmd, "-")
	require.NoError(t, err)
	closeFn()
	assert.Same(t, &out, w)

	path := filepath.Join(t.TempDir(), "audit.jsonl")
	w, closeFn, err = openAuditLog(cmd, path)
	require.NoError(t, err)
	_, err = w.Write([]byte("{}\n"))
	require.NoError(t, err)
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
}

func find(parent *cobra.Command, name string) *cobra.Command {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func TestUsersLifecycle(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv("PROPERTIPRO_PASSWORD", "Rahasia123")

	_, err := run(t, cfg, "migrate", "up")
	require.NoError(t, err)

	out, err := run(t, cfg, "users", "create", "--email", "admin@propertipro.id", "--name", "Admin Satu")
	require.NoError(t, err)
	created := decode(t, out)
	assert.Equal(t, "user", created["role"])
	assert.Equal(t, "Admin Satu", created["full_name"])

	out, err = run(t, cfg, "users", "set-role", "admin@propertipro.id", "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", decode(t, out)["role"])

	_, err = run(t, cfg, "users", "set-role", "admin@propertipro.id", "owner")
	assert.ErrorContains(t, err, `unknown role "owner"`)

	out, err = run(t, cfg, "whoami", "--email", "admin@propertipro.id")
	require.NoError(t, err)
	state := decode(t, out)
	assert.Equal(t, true, state["authenticated"])
	assert.Equal(t, true, state["admin"])

	out, err = run(t, cfg, "whoami")
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, out)["authenticated"], "the stored session is reused")

	out, err = run(t, cfg, "users", "suspend", "admin@propertipro.id", "--reason", "audit")
	require.NoError(t, err)
	assert.Equal(t, "suspended", decode(t, out)["status"])

	_, err = run(t, cfg, "whoami", "--refresh")
	assert.Error(t, err, "suspension revokes the stored refresh token")

	_, err = run(t, cfg, "whoami", "--email", "admin@propertipro.id")
	assert.ErrorContains(t, err, "User is banned")

	_, err = run(t, cfg, "users", "deactivate", "admin@propertipro.id")
	require.NoError(t, err)

	out, err = run(t, cfg, "users", "reinstate", "admin@propertipro.id")
	require.NoError(t, err)
	assert.Equal(t, "active", decode(t, out)["status"])

	out, err = run(t, cfg, "whoami", "--email", "admin@propertipro.id")
	require.NoError(t, err)
	assert.Equal(t, true, decode(t, out)["authenticated"])

	out, err = run(t, cfg, "whoami", "--sign-out")
	require.NoError(t, err)
	state = decode(t, out)
	assert.Equal(t, false, state["authenticated"])
	assert.Equal(t, "unauthenticated", state["phase"])
}

func TestUsersCreate_RequiresPassword(t *testing.T) {
	cfg := writeConfig(t)
	t.Setenv("PROPERTIPRO_PASSWORD", "")

	_, err := run(t, cfg, "users", "create", "--email", "a@propertipro.id")
	assert.ErrorContains(t, err, "password is required")
}

func TestUsers_RequireLocalProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gotrue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`auth:
  provider: gotrue
gotrue:
  url: http://localhost:54321
  anon_key: anon
  jwt_secret: secret
`), 0o600))

	_, err := run(t, path, "users", "list")
	assert.ErrorContains(t, err, `command needs auth.provider "local"`)
}

func TestParseRole(t *testing.T) {
	role, err := parseRole(" Agent ")
	require.NoError(t, err)
	assert.Equal(t, "agent", string(role))

	_, err = parseRole("")
	assert.Error(t, err)
}
