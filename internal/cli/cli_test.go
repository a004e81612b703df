package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/imagine/internal/auth"
	"github.com/sakif/imagine/internal/model"
	"github.com/sakif/imagine/internal/repository/sqldb"
)

const testSecret = "cli-test-secret-0123456789"

// setupEnv points the configuration at a fresh SQLite file and returns its
// path. Environment variables are the last config layer, so they win over
// anything the host has in a config file.
func setupEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "imagine.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	return dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "imagine", cmd.Use)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"serve"},
		{"migrate"},
		{"credits", "grant"},
		{"credits", "show"},
		{"generations", "stale"},
		{"generations", "show"},
		{"token"},
	}

	for _, path := range commands {
		t.Run(strings.Join(path, " "), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "migrate", "--format", "xml")
	assert.ErrorContains(t, err, "invalid format")
}

func TestMigrate(t *testing.T) {
	dbPath := setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema up to date (sqlite)")

	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestMigrate_ConfigFile(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "imagine.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: warn\n"), 0o600))

	_, err := run(t, "migrate", "--config", cfgPath)
	require.NoError(t, err)

	_, err = run(t, "migrate", "--config", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestCreditsGrantAndShow(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "credits", "grant", "user-1", "5", "--email", "fox@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Granted 5 credit(s) to user-1, balance 5")

	out, err = run(t, "credits", "grant", "user-1", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "balance 7")

	out, err = run(t, "credits", "show", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, "user-1 <fox@example.com>: 7 credit(s)")

	out, err = run(t, "credits", "show", "user-1", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string        `json:"status"`
		Data   model.Profile `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 7, resp.Data.Credits)
}

func TestCreditsShow_NoProfile(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "credits", "show", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "nobody has no profile (0 credits)")
}

func TestCreditsGrant_Invalid(t *testing.T) {
	setupEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{"not a number", []string{"credits", "grant", "user-1", "lots"}},
		{"zero", []string{"credits", "grant", "user-1", "0"}},
		{"negative", []string{"credits", "grant", "user-1", "-3"}},
		{"missing amount", []string{"credits", "grant", "user-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

// TestGenerationsStale simulates a crash after the credit was spent: the
// generation stays pending until the operator fails it, which refunds.
func TestGenerationsStale(t *testing.T) {
	dbPath := setupEnv(t)
	ctx := context.Background()

	db, err := sqldb.Open(sqldb.DriverSQLite, dbPath)
	require.NoError(t, err)
	_, err = db.Grant(ctx, "user-1", "", 1)
	require.NoError(t, err)
	ok, err := db.Debit(ctx, "user-1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	gen := &model.Generation{UserID: "user-1", Prompt: "a red fox", Settings: model.Settings{AspectRatio: "1:1", NumOutputs: 1}}
	require.NoError(t, db.CreateGeneration(ctx, gen))
	require.NoError(t, db.Close())

	time.Sleep(20 * time.Millisecond)

	out, err := run(t, "generations", "stale", "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "0 generation(s) pending")

	out, err = run(t, "generations", "stale", "--older-than", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "1 generation(s) pending")
	assert.Contains(t, out, gen.ID)

	out, err = run(t, "generations", "stale", "--older-than", "10ms", "--fail")
	require.NoError(t, err)
	assert.Contains(t, out, "1 generation(s) failed and refunded")

	out, err = run(t, "credits", "show", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, ": 1 credit(s)")

	// Already failed: nothing left to do, and no second refund.
	out, err = run(t, "generations", "stale", "--older-than", "10ms", "--fail")
	require.NoError(t, err)
	assert.Contains(t, out, "0 generation(s)")

	out, err = run(t, "credits", "show", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, ": 1 credit(s)")
}

func TestGenerationsShow(t *testing.T) {
	dbPath := setupEnv(t)
	ctx := context.Background()

	db, err := sqldb.Open(sqldb.DriverSQLite, dbPath)
	require.NoError(t, err)
	gen := &model.Generation{UserID: "user-1", Prompt: "a red fox", Settings: model.Settings{AspectRatio: "16:9", NumOutputs: 2}}
	require.NoError(t, db.CreateGeneration(ctx, gen))
	require.NoError(t, db.Close())

	out, err := run(t, "generations", "show", gen.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "status=pending")
	assert.Contains(t, out, "aspect=16:9 outputs=2")
	assert.Contains(t, out, "still pending after")

	time.Sleep(20 * time.Millisecond)
	_, err = run(t, "generations", "stale", "--older-than", "10ms", "--fail")
	require.NoError(t, err)

	out, err = run(t, "generations", "show", gen.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "status=failed")
	assert.Contains(t, out, "error:    abandoned: no result was recorded")
	assert.NotContains(t, out, "still pending")

	out, err = run(t, "generations", "show", gen.ID, "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Data model.Generation `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, gen.ID, resp.Data.ID)
	assert.Equal(t, model.GenerationFailed, resp.Data.Status)

	_, err = run(t, "generations", "show", "does-not-exist")
	assert.ErrorContains(t, err, "not found")
}

func TestGenerationsStale_RejectsNonPositive(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "generations", "stale", "--older-than", "0s")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "token", "user-1", "--email", "fox@example.com")
	require.NoError(t, err)

	ts, err := auth.NewTokenService(testSecret, auth.TokenOptions{Audience: auth.DefaultAudience})
	require.NoError(t, err)
	id, err := ts.Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "fox@example.com", id.Email)
}

func TestToken_Expired(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "token", "user-1", "--ttl=-1m")
	require.NoError(t, err)

	ts, err := auth.NewTokenService(testSecret, auth.TokenOptions{})
	require.NoError(t, err)
	_, err = ts.Validate(strings.TrimSpace(out))
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestToken_NoSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SUPABASE_JWT_SECRET", "")

	_, err := run(t, "token", "user-1")
	assert.ErrorContains(t, err, "no JWT secret")
}
