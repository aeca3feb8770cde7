package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Telegram.UpdateTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Telegram.ReplyTimeout)
	assert.Equal(t, "https://school.mos.ru", cfg.Portal.FamilyBaseURL)
	assert.Equal(t, "https://dnevnik.mos.ru", cfg.Portal.CoreBaseURL)
	assert.Equal(t, 30*time.Second, cfg.Portal.Timeout)
	assert.Equal(t, "db.json", cfg.Storage.SessionFile)
	assert.Equal(t, "logs", cfg.Storage.LogDir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MESHBOT_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("MESHBOT_PORTAL_TIMEOUT", "5s")
	t.Setenv("MESHBOT_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, 5*time.Second, cfg.Portal.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshbot.yaml")
	yaml := "telegram:\n  token: from-file\nstorage:\n  session_file: /var/lib/meshbot/db.json\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Telegram.Token)
	assert.Equal(t, "/var/lib/meshbot/db.json", cfg.Storage.SessionFile)
	// Untouched keys keep their defaults.
	assert.Equal(t, "https://dnevnik.mos.ru", cfg.Portal.CoreBaseURL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Telegram: TelegramConfig{Token: "123:abc"},
		Storage:  StorageConfig{SessionFile: "db.json"},
	}
	require.NoError(t, cfg.Validate())

	cfg.Telegram.Token = "  "
	require.Error(t, cfg.Validate())

	cfg.Telegram.Token = "123:abc"
	cfg.Storage.SessionFile = ""
	require.Error(t, cfg.Validate())
}
