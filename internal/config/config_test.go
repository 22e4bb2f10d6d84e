package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agendabot/internal/infra/store"
	boterrors "agendabot/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no stray agendabot.yaml
// or .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	return dir
}

func TestDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, ".agendabot"), cfg.DataDir)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, 30*time.Second, cfg.Channels.FeedbackTimeout)
	assert.Equal(t, 256, cfg.Hub.SubscriberBuffer)
	assert.Equal(t, "silent", cfg.Hub.UnknownCommand)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Source())

	anchor, err := cfg.Anchor()
	require.NoError(t, err)
	assert.Equal(t, time.Thursday, anchor.Weekday)
	assert.Equal(t, 12, anchor.Hour)
	assert.Equal(t, 15, anchor.Minute)
	assert.Equal(t, time.Local, anchor.Location)
}

func TestFileThenEnvPrecedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /srv/agenda
meeting:
  weekday: monday
  time: "09:30"
  timezone: UTC
hub:
  unknown_command: reply
`), 0o644))
	t.Setenv("AGENDABOT_MEETING_TIME", "10:00")

	cfg, err := Load(WithConfigFile(path))
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source())
	assert.Equal(t, "/srv/agenda", cfg.DataDir)
	assert.Equal(t, "reply", cfg.Hub.UnknownCommand)
	anchor, err := cfg.Anchor()
	require.NoError(t, err)
	assert.Equal(t, time.Monday, anchor.Weekday)
	assert.Equal(t, 10, anchor.Hour)
	assert.Equal(t, "UTC", anchor.Location.String())
}

func TestSearchPathAndDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agendabot.yaml"), []byte("scheduler:\n  tick: 5s\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AGENDABOT_STORAGE_BACKEND=pebble\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("AGENDABOT_STORAGE_BACKEND") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.Tick)
	assert.Equal(t, "pebble", cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(cfg.DataDir, "pebble"), cfg.StoreConfig().Dir)
	assert.Equal(t, store.KindPebble, cfg.StoreConfig().Backend)
}

func TestOverrideWins(t *testing.T) {
	isolate(t)
	t.Setenv("AGENDABOT_LOGGING_LEVEL", "warn")
	cfg, err := Load(WithOverride("logging.level", "debug"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestMissingExplicitFileIsConfigError(t *testing.T) {
	isolate(t)
	_, err := Load(WithConfigFile("does-not-exist.yaml"))
	var cfgErr *boterrors.ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.True(t, boterrors.IsFatal(err))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"unknown backend", map[string]string{"AGENDABOT_STORAGE_BACKEND": "redis"}, "storage.backend"},
		{"postgres without dsn", map[string]string{"AGENDABOT_STORAGE_BACKEND": "postgres"}, "storage.postgres_dsn"},
		{"bad weekday", map[string]string{"AGENDABOT_MEETING_WEEKDAY": "caturday"}, "meeting"},
		{"bad time", map[string]string{"AGENDABOT_MEETING_TIME": "noon"}, "meeting"},
		{"bad zone", map[string]string{"AGENDABOT_MEETING_TIMEZONE": "Nowhere/Land"}, "meeting"},
		{"zero tick", map[string]string{"AGENDABOT_SCHEDULER_TICK": "0s"}, "scheduler.tick"},
		{"bad policy", map[string]string{"AGENDABOT_HUB_UNKNOWN_COMMAND": "shout"}, "hub.unknown_command"},
		{"lark without app id", map[string]string{"AGENDABOT_CHANNELS_LARK_ENABLED": "true"}, "channels.lark.app_id"},
		{"lark without chat", map[string]string{
			"AGENDABOT_CHANNELS_LARK_ENABLED":    "true",
			"AGENDABOT_CHANNELS_LARK_APP_ID":     "cli_x",
			"AGENDABOT_CHANNELS_LARK_APP_SECRET": "s",
		}, "channels.lark.chat_id"},
		{"web without http", map[string]string{
			"AGENDABOT_CHANNELS_WEB_ENABLED": "true",
			"AGENDABOT_HTTP_ENABLED":         "false",
		}, "channels.web.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			var cfgErr *boterrors.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestDumpMasksSecrets(t *testing.T) {
	isolate(t)
	t.Setenv("AGENDABOT_CHANNELS_LARK_ENABLED", "true")
	t.Setenv("AGENDABOT_CHANNELS_LARK_APP_ID", "cli_x")
	t.Setenv("AGENDABOT_CHANNELS_LARK_APP_SECRET", "hunter2")
	t.Setenv("AGENDABOT_CHANNELS_LARK_CHAT_ID", "oc_1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Channels.Lark.AppSecret)

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "cli_x")
}
