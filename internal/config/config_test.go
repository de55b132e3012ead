package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("ROWPLEDGE_C2_SECRET", "s3cret")

	cfg, err := Parse([]byte(`
campaign:
  start: "2024-01-01"
  end: "2024-01-14"
  timezone: "UTC"
concept2:
  client_id: "abc"
  client_secret: "${ROWPLEDGE_C2_SECRET}"
admin:
  jwt_secret: "admin-secret"
`))
	require.NoError(t, err)

	require.Equal(t, "s3cret", cfg.Concept2.ClientSecret)
	require.Equal(t, 3000, cfg.Server.Port)
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, "https://log.concept2.com", cfg.Concept2.BaseURL)
	require.Equal(t, 15*time.Second, cfg.Concept2.Timeout)
	require.Equal(t, "/webhooks/concept2", cfg.Webhook.Path)
	require.Equal(t, "@every 30m", cfg.Sync.Schedule)
	require.NoError(t, cfg.Validate())

	w, err := cfg.Campaign.Window()
	require.NoError(t, err)
	require.Equal(t, "2024-01-14", w.LastDay())
}

func TestValidateReportsEveryMissingValue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Driver = "mysql"
	cfg.Telegram.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "campaign")
	require.Contains(t, msg, "client_id")
	require.Contains(t, msg, "jwt_secret")
	require.Contains(t, msg, "unknown driver")
	require.Contains(t, msg, "telegram")
}

func TestCampaignLocationRejectsUnknownZone(t *testing.T) {
	c := CampaignConfig{Start: "2024-01-01", End: "2024-01-02", Timezone: "Mars/Olympus"}
	_, err := c.Window()
	require.Error(t, err)
}

func TestExampleConfigIsValid(t *testing.T) {
	t.Setenv("CONCEPT2_CLIENT_ID", "id")
	t.Setenv("CONCEPT2_CLIENT_SECRET", "secret")
	t.Setenv("ADMIN_JWT_SECRET", "jwt")

	cfg, err := Load("../../config.example.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, "/webhooks/concept2", cfg.Webhook.Path)
	require.Equal(t, 5*time.Minute, cfg.Leaderboard.CacheTTL)
}
