package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"labdesk.org/internal/access"
	"labdesk.org/internal/apperrors"
	"labdesk.org/internal/config"
	"labdesk.org/internal/review"
)

func testConfig(t *testing.T, driver, dsn string) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Driver: driver, DSN: dsn, AutoMigrate: true},
		Auth:     config.AuthConfig{JWTSecret: "0123456789abcdef0123456789abcdef", SessionTTL: time.Hour, BcryptCost: 4},
		Storage:  config.StorageConfig{Root: t.TempDir()},
		Reminder: config.ReminderConfig{Enabled: true, Time: "08:00", Timezone: "UTC"},
	}
}

func TestNewWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, "memory", ""), zaptest.NewLogger(t), Options{Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	require.NotNil(t, a.API)
	require.NotNil(t, a.Health)
	require.NotNil(t, a.Reminders)
	assert.NoError(t, a.Ready(ctx))

	m, err := a.Migrations()
	require.NoError(t, err)
	assert.Nil(t, m)

	rr := httptest.NewRecorder()
	a.API.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNewWithSQLiteMigratesAndReleasesSessions(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "labdesk.db")
	a, err := New(ctx, testConfig(t, "sqlite", dsn), zaptest.NewLogger(t), Options{})
	require.NoError(t, err)

	m, err := a.Migrations()
	require.NoError(t, err)
	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = a.Sessions.CreateUser(ctx, "maria", "secret-pass", access.RoleManager)
	require.NoError(t, err)
	_, err = a.Engine.Login(ctx, "maria", "secret-pass")
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	// A restarted process can log the same account in again.
	b, err := New(ctx, testConfig(t, "sqlite", dsn), zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	_, err = b.Engine.Login(ctx, "maria", "secret-pass")
	assert.NoError(t, err)
}

func TestNewWithoutSecretSkipsTransport(t *testing.T) {
	cfg := testConfig(t, "memory", "")
	cfg.Auth.JWTSecret = ""
	cfg.Reminder.Enabled = false
	a, err := New(context.Background(), cfg, nil, Options{})
	require.NoError(t, err)
	assert.Nil(t, a.API)
	assert.Nil(t, a.Health)
	assert.Nil(t, a.Reminders)
	assert.NotNil(t, a.Engine)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, "oracle", "x"), nil, Options{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRecoverSettlesInterruptedApprovals(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "labdesk.db")
	a, err := New(ctx, testConfig(t, "sqlite", dsn), zaptest.NewLogger(t), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	now := time.Now().Add(-time.Minute)
	r, err := a.Reviews.Submit(ctx, "pump.pdf", strings.NewReader("%PDF-1.7"), "u1", "Eng", now)
	require.NoError(t, err)
	// A crash between the decision and the file move leaves the report here.
	_, err = a.db.DB().ExecContext(ctx,
		`update engineer_reports set status = 'approving', decided_by = 'u2', decided_at = ? where id = ?`,
		now.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"), r.ID)
	require.NoError(t, err)

	require.NoError(t, a.Recover(ctx))
	got, err := a.Reviews.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusPending, got.Status)

	require.NoError(t, a.Recover(ctx), "nothing left to settle")
}
