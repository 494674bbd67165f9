package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-auras-backend/internal/config"
)

const sampleDump = `{
  "chat_1": [
    {"id": "a", "content": "hey Alex", "sender": "user", "timestamp": "2024-05-10T18:30:00.000Z"},
    {"id": "b", "content": "hi there", "sender": "ai", "timestamp": "2024-05-10T18:30:05.000Z"}
  ],
  "real_chat_1": true,
  "theme": "dark"
}`

// setupEnv points the CLI at a fresh SQLite file and keeps any local .env
// out of the way.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(dir, "auras.db"))
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, dir string, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportExportRoundTrip(t *testing.T) {
	dir := setupEnv(t)
	file := filepath.Join(dir, "dump.json")
	require.NoError(t, os.WriteFile(file, []byte(sampleDump), 0o600))

	out, err := run(t, dir, "", "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, `"transcripts": 1`)
	assert.Contains(t, out, `"realChats": 1`)
	assert.Contains(t, out, `"theme"`)

	out, err = run(t, dir, "", "export")
	require.NoError(t, err)
	assert.Contains(t, out, `"chat_1"`)
	assert.Contains(t, out, `"real_chat_1": "true"`)
	assert.NotContains(t, out, "theme")
}

func TestResetClearsImportedState(t *testing.T) {
	dir := setupEnv(t)
	_, err := run(t, dir, sampleDump, "import", "-")
	require.NoError(t, err)

	_, err = run(t, dir, "", "reset")
	require.Error(t, err)
	out, err := run(t, dir, "", "export")
	require.NoError(t, err)
	assert.Contains(t, out, `"chat_1"`)

	out, err = run(t, dir, "", "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	out, err = run(t, dir, "", "export")
	require.NoError(t, err)
	assert.NotContains(t, out, "chat_1")
	assert.NotContains(t, out, "real_chat_1")
}

func TestImportFromStdin(t *testing.T) {
	dir := setupEnv(t)
	out, err := run(t, dir, sampleDump, "import", "-", "--replace")
	require.NoError(t, err)
	assert.Contains(t, out, `"transcripts": 1`)
}

func TestImportRejectsNonObject(t *testing.T) {
	dir := setupEnv(t)
	_, err := run(t, dir, "[1,2]", "import", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")
}

func TestBrowseHidesInteractedCounterparts(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, dir, "", "browse")
	require.NoError(t, err)
	assert.Contains(t, out, "Alex")
	assert.Contains(t, out, "Jordan")
	assert.NotContains(t, out, "SCORE")

	_, err = run(t, dir, sampleDump, "import", "-")
	require.NoError(t, err)

	out, err = run(t, dir, "", "browse")
	require.NoError(t, err)
	assert.NotContains(t, out, "Alex")
	assert.Contains(t, out, "Jordan")

	out, err = run(t, dir, "", "browse", "-q", "books art", "--k", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "SCORE")
}

func TestAutopilotPrintsConversation(t *testing.T) {
	dir := setupEnv(t)

	out, err := run(t, dir, "", "autopilot", "2", "--name", "Sam", "--interval", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "[user] ")
	assert.Contains(t, out, "verdict: ")

	out, err = run(t, dir, "", "export")
	require.NoError(t, err)
	assert.Contains(t, out, `"chat_2"`)
}

func TestAutopilotUnknownCounterpart(t *testing.T) {
	dir := setupEnv(t)
	_, err := run(t, dir, "", "autopilot", "nope")
	require.Error(t, err)
}

func TestStoreFlagOverridesBackend(t *testing.T) {
	dir := setupEnv(t)

	_, err := run(t, dir, sampleDump, "--store", "memory", "import", "-")
	require.NoError(t, err)

	// The SQLite file was never written to.
	out, err := run(t, dir, "", "export")
	require.NoError(t, err)
	assert.NotContains(t, out, "chat_1")
}

func TestOpenBackendRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.RedisAddr = mr.Addr()
	cfg.Store.RedisPrefix = "auras:"
	cfg.DBPath = filepath.Join(t.TempDir(), "auras.db")

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.store.ImportLegacy(context.Background(), map[string]string{"real_chat_4": "true"}, false)
	require.NoError(t, err)
	assert.True(t, mr.Exists("auras:real_chat_4"))
}

func TestOpenBackendRedisUnreachable(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Store.Backend = config.BackendRedis
	cfg.Store.RedisAddr = "127.0.0.1:1"
	cfg.DBPath = filepath.Join(t.TempDir(), "auras.db")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newApp(ctx, cfg)
	require.Error(t, err)
}

func TestDecodeDumpKeepsInlinedValues(t *testing.T) {
	got, err := decodeDump([]byte(`{"a":"x","b":{"k":1},"c":true}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x", "b": `{"k":1}`, "c": "true"}, got)
}
