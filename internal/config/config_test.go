package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envFrom builds a lookup function from a map so tests never touch the real
// process environment.
func envFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imagine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/imagine.db", cfg.Database.DSN())
	assert.Equal(t, 120*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, "black-forest-labs/flux-schnell", cfg.Inference.Model)
	assert.Equal(t, 10, cfg.RateLimit.PerMinute)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9000
database:
  path: /tmp/from-yaml.db
inference:
  timeout: 45s
redis:
  creditTTL: 1m
log:
  level: debug
  format: json
`)

	cfg, err := load(path, envFrom(map[string]string{
		"PORT":       "9100",
		"JWT_SECRET": "a-very-long-development-secret",
	}))
	require.NoError(t, err)

	// Env beats YAML.
	assert.Equal(t, 9100, cfg.Server.Port)
	// YAML beats defaults.
	assert.Equal(t, "/tmp/from-yaml.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, time.Minute, cfg.Redis.CreditTTL)
	assert.Equal(t, "json", cfg.Log.Format)
	// Untouched defaults survive a partial file.
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.True(t, cfg.Auth.Enabled())
}

func TestLoad_DatabaseURLImpliesPostgres(t *testing.T) {
	cfg, err := load("", envFrom(map[string]string{
		"DATABASE_URL": "postgres://u:p@localhost:5432/imagine?sslmode=disable",
	}))
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost:5432/imagine?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad port", env: map[string]string{"PORT": "eighty"}, wantErr: "invalid PORT"},
		{name: "port out of range", env: map[string]string{"PORT": "70000"}, wantErr: "Port"},
		{name: "unknown driver", env: map[string]string{"DB_DRIVER": "mysql"}, wantErr: "Driver"},
		{name: "postgres without url", env: map[string]string{"DB_DRIVER": "postgres"}, wantErr: "URL"},
		{name: "short secret", env: map[string]string{"JWT_SECRET": "short"}, wantErr: "JWTSecret"},
		{name: "supabase without anon key", env: map[string]string{"SUPABASE_URL": "https://x.supabase.co"}, wantErr: "SupabaseAnonKey"},
		{name: "bad timeout", env: map[string]string{"INFERENCE_TIMEOUT": "soon"}, wantErr: "INFERENCE_TIMEOUT"},
		{name: "zero timeout", env: map[string]string{"INFERENCE_TIMEOUT": "0s"}, wantErr: "Timeout"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}, wantErr: "Level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load("", envFrom(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_RedactsSecrets(t *testing.T) {
	_, err := load("", envFrom(map[string]string{"JWT_SECRET": "hunter2"}))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Contains(t, err.Error(), "<redacted>")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envFrom(nil))
	assert.Error(t, err)
}

func TestLogConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "json format expected, got %q", out)
	assert.Contains(t, out, `"msg":"shown"`)
}
