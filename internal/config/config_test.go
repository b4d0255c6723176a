// ABOUTME: Tests for configuration loading, validation, and env expansion
// ABOUTME: Includes the non-loopback-without-secret misconfiguration rule

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparrowpad/sparrow-server/internal/auth"
)

const validSecret = "0123456789abcdef0123456789abcdef"

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sparrowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_addr: "127.0.0.1:8137"
database:
  path: "/data/sparrow.db"
vaults:
  dir: "/data/vaults"
auth:
  jwt_secret: "`+validSecret+`"
  access_token_ttl: "5m"
  refresh_token_ttl: "168h"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8137", cfg.Server.HTTPAddr)
	assert.Equal(t, "/data/sparrow.db", cfg.Database.Path)
	assert.Equal(t, "/data/vaults", cfg.Vaults.Dir)
	assert.Equal(t, 5*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, 168*time.Hour, cfg.Auth.RefreshTokenTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DefaultTTLs(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_addr: "127.0.0.1:8137"
database:
  path: "/data/sparrow.db"
vaults:
  dir: "/data/vaults"
auth:
  jwt_secret: "`+validSecret+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAccessTokenTTL, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, DefaultRefreshTokenTTL, cfg.Auth.RefreshTokenTTL)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SPARROW_TEST_SECRET", "s3cret-admin")
	path := writeConfigFile(t, `
server:
  http_addr: "0.0.0.0:8137"
admin:
  secret: "${SPARROW_TEST_SECRET}"
database:
  path: "/data/sparrow.db"
vaults:
  dir: "/data/vaults"
auth:
  jwt_secret: "`+validSecret+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-admin", cfg.Admin.Secret)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_addr: "127.0.0.1:8137"
database:
  path: "/data/sparrow.db"
vaults:
  dir: "/data/vaults"
auth:
  jwt_secret: "`+validSecret+`"
  access_token_ttl: "fifteen minutes"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{HTTPAddr: "127.0.0.1:8137"},
			Database: DatabaseConfig{Path: "/data/sparrow.db"},
			Vaults:   VaultsConfig{Dir: "/data/vaults"},
			Auth:     AuthConfig{JWTSecret: validSecret},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing addr", mutate: func(c *Config) { c.Server.HTTPAddr = "" }, wantErr: true},
		{name: "missing db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing vaults dir", mutate: func(c *Config) { c.Vaults.Dir = "" }, wantErr: true},
		{name: "short jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_NonLoopbackNeedsAdminSecret(t *testing.T) {
	cfg := Config{
		Server:   ServerConfig{HTTPAddr: "0.0.0.0:8137"},
		Database: DatabaseConfig{Path: "/data/sparrow.db"},
		Vaults:   VaultsConfig{Dir: "/data/vaults"},
		Auth:     AuthConfig{JWTSecret: validSecret},
	}

	// No secret, no opt-in, open bind: fatal.
	err := cfg.Validate()
	assert.ErrorIs(t, err, auth.ErrMisconfigured)

	// A secret makes it legal.
	cfg.Admin.Secret = "s3cret"
	assert.NoError(t, cfg.Validate())

	// So does the explicit insecure opt-in.
	cfg.Admin.Secret = ""
	cfg.Admin.Insecure = true
	assert.NoError(t, cfg.Validate())

	// Loopback binds never need either.
	cfg.Admin.Insecure = false
	cfg.Server.HTTPAddr = "127.0.0.1:8137"
	assert.NoError(t, cfg.Validate())
}

func TestListensLoopbackOnly(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8137", true},
		{"localhost:8137", true},
		{"[::1]:8137", true},
		{":8137", false},
		{"0.0.0.0:8137", false},
		{"192.168.1.5:8137", false},
		{"example.com:8137", false},
		{"not-an-addr", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, ListensLoopbackOnly(tt.addr))
		})
	}
}
