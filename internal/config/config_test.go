package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "TELEGRAM_BOT_TOKEN", "TELEGRAM_ADMIN_IDS", "TELEGRAM_WEBHOOK_URL",
		"TELEGRAM_WEBHOOK_SECRET", "TELEGRAM_WEBHOOK_PATH", "PORT", "GRPC_HEALTH_ADDR",
		"SESSION_BACKEND", "SESSION_FILE", "DB_PATH", "WORK_DIR", "CLAUDE_BINARY",
		"CLAUDE_ALLOWED_TOOLS", "CLAUDE_PERMISSION_MODE", "CONVERSATION_LOG_ENABLED",
		"CONVERSATION_LOG_DIR", "CONVERSATION_LOG_GLOBAL_ENABLED", "CONVERSATION_LOG_GLOBAL_PATH",
		"CONVERSATION_LOG_QUEUE_SIZE", "LOG_LEVEL",
	} {
		if value, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { _ = os.Setenv(key, value) })
		}
		_ = os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "json", cfg.Session.Backend)
	assert.Equal(t, "sessions.json", cfg.Session.File)
	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.Equal(t, []string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"}, cfg.Agent.AllowedTools)
	assert.False(t, cfg.UsesWebhook())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())

	assert.Error(t, cfg.ValidateServe(), "token is required to serve")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ADMIN_IDS", "1,2")
	t.Setenv("SESSION_BACKEND", "sqlite")
	t.Setenv("DB_PATH", "/tmp/s.db")
	t.Setenv("CLAUDE_ALLOWED_TOOLS", "Read, Grep")
	t.Setenv("CONVERSATION_LOG_ENABLED", "yes")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateServe())
	assert.Equal(t, "1,2", cfg.Telegram.AdminIDs)
	assert.Equal(t, "sqlite", cfg.Session.Backend)
	assert.Equal(t, "/tmp/s.db", cfg.Session.DBPath)
	assert.Equal(t, []string{"Read", "Grep"}, cfg.Agent.AllowedTools)
	assert.True(t, cfg.ConversationLog.Enabled)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9090"
telegram:
  token: from-file
  webhook_url: https://bot.example.com/telegram/webhook
agent:
  work_dir: /srv/projects
  permission_mode: acceptEdits
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "from-file", cfg.Telegram.Token)
	assert.Equal(t, "/srv/projects", cfg.Agent.WorkDir)
	assert.Equal(t, "acceptEdits", cfg.Agent.PermissionMode)
	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.True(t, cfg.UsesWebhook())
	assert.NoError(t, cfg.ValidateServe())
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_BACKEND", "redis")
	_, err := Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("LOG_LEVEL", "loud")
	_, err = Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	require.Error(t, err)
}
