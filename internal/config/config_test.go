package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LABDESK_JWT_SECRET", secret)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "08:00", cfg.Reminder.Time)
	assert.Equal(t, int64(20<<20), cfg.Storage.MaxUploadBytes)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_addr: ":9000"
database:
  driver: postgres
  dsn: postgres://lab@localhost/lab
reminder:
  time: "07:30"
  timezone: UTC
`), 0o600))
	t.Setenv("LABDESK_JWT_SECRET", secret)
	t.Setenv("LABDESK_HTTP_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.HTTPAddr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "07:30", cfg.Reminder.Time)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)

	loc, err := cfg.Reminder.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	t.Setenv("LABDESK_DB_DRIVER", "memory")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Database.Memory())
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Setenv("LABDESK_JWT_SECRET", "")
	t.Setenv("LABDESK_DB_DRIVER", "mysql")
	t.Setenv("LABDESK_REMINDER_TIME", "25:00")
	cfg, err := Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"LABDESK_JWT_SECRET", "mysql", "reminder time"} {
		assert.True(t, strings.Contains(err.Error(), want), want)
	}
}

func TestUsageListsVariables(t *testing.T) {
	text, err := Usage()
	require.NoError(t, err)
	assert.Contains(t, text, "LABDESK_DB_DSN")
}
