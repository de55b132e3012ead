package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpledge/internal/auth"
	"github.com/rowpledge/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, `
admin:
  jwt_secret: cli-secret
  issuer: rowpledge-cli
`)

	out, err := execute(t, "--config", path, "token", "--subject", "ops")
	require.NoError(t, err)

	claims, err := auth.Parse(strings.TrimSpace(out), auth.Config{Secret: "cli-secret", Issuer: "rowpledge-cli"})
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasScope(auth.ScopeAdmin))
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")

	_, err := execute(t, "--config", path, "token")
	require.Error(t, err)
}

func TestLeaderboardCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
store:
  driver: sqlite
  sqlite_path: `+filepath.Join(dir, "cli.sqlite")+`
campaign:
  start: "2024-01-01"
  end: "2024-01-14"
concept2:
  client_id: id
  client_secret: secret
admin:
  jwt_secret: cli-secret
`)

	out, err := execute(t, "--config", path, "leaderboard")
	require.NoError(t, err)

	var lb domain.Leaderboard
	require.NoError(t, json.Unmarshal([]byte(out), &lb))
	assert.Equal(t, "2024-01-01", lb.Start)
	assert.Equal(t, "2024-01-14", lb.End)
	assert.Empty(t, lb.Entries)
}

func TestLeaderboardCommandRejectsIncompleteConfig(t *testing.T) {
	path := writeConfig(t, "campaign:\n  start: \"2024-01-01\"\n")

	_, err := execute(t, "--config", path, "leaderboard")
	require.Error(t, err)
}
