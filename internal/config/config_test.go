package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	require.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	require.Equal(t, DefaultPartition, cfg.Routing.DefaultPartition)
	require.Equal(t, DefaultOffloadWindow, cfg.Media.OffloadWindow)
	require.Equal(t, DefaultSweepSchedule, cfg.Status.SweepSchedule)
	require.Equal(t, DefaultBotPersona, cfg.Webhook.BotPersona)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"

[postgres]
host = "db.internal"
port = 5433
user = "zapdesk"
database = "zapdesk_prod"

[routing]
default_partition = "mensagens_fallback"

[status]
idle_threshold = "12h"

[media]
root = "/var/lib/zapdesk/media"
base_url = "https://files.example.com/media"
offload_window = 5
batch_size = 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "db.internal", cfg.Postgres.Host)
	require.Equal(t, 5433, cfg.Postgres.Port)
	require.Equal(t, "mensagens_fallback", cfg.Routing.DefaultPartition)
	require.Equal(t, 12*time.Hour, cfg.Status.IdleThresholdDuration())
	require.Equal(t, 5, cfg.Media.OffloadWindow)
	// Untouched keys keep their defaults.
	require.Equal(t, DefaultItemDelayMs, cfg.Media.ItemDelayMs)
	require.Equal(t, DefaultBotPersona, cfg.Webhook.BotPersona)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[media]
root = ""
base_url = "not a url"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestIdleThresholdDuration_FallsBackOnGarbage(t *testing.T) {
	require.Equal(t, DefaultIdleThreshold, StatusConfig{}.IdleThresholdDuration())
	require.Equal(t, DefaultIdleThreshold, StatusConfig{IdleThreshold: "soon"}.IdleThresholdDuration())
	require.Equal(t, DefaultIdleThreshold, StatusConfig{IdleThreshold: "-4h"}.IdleThresholdDuration())
	require.Equal(t, 30*time.Minute, StatusConfig{IdleThreshold: "30m"}.IdleThresholdDuration())
}
