package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
listen: 0.0.0.0:9000
timezone: Europe/Berlin
calendar:
  max_tasks: 20
users:
  - username: alice
    password: secret
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 20, cfg.Calendar.MaxTasks)
	assert.Equal(t, 365, cfg.Calendar.MaxOccurrencesPerTask)
	assert.True(t, cfg.Reminder.Enabled)
	assert.Equal(t, "*/1 * * * *", cfg.Reminder.ScanCron)
	assert.Equal(t, []UserConfig{{Username: "alice", Password: "secret"}}, cfg.Users)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Reminder.Enabled = false
	cfg.Reminder.MinutesBefore = 30
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, loaded.Reminder.Enabled)
	assert.Equal(t, 30, loaded.Reminder.MinutesBefore)
}

func TestSave_Errors(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())
}
