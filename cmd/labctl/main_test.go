package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LABDESK_CONFIG", "")
	t.Setenv("LABDESK_DB_DRIVER", "sqlite")
	t.Setenv("LABDESK_DB_DSN", "file:"+filepath.Join(dir, "labdesk.db"))
	t.Setenv("LABDESK_STORAGE_ROOT", filepath.Join(dir, "documents"))
	t.Setenv("LABDESK_BCRYPT_COST", "4")
}

func TestMigrateAndManageUsers(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending  0001_init.up.sql")

	out, err = runCLI(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0001_init.up.sql")
	assert.Contains(t, out, "applied 0002_approvals_library.up.sql")

	out, err = runCLI(t, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date")

	t.Setenv(passwordEnv, "change-me-now")
	out, err = runCLI(t, "users", "create", "maria", "--role", "manager")
	require.NoError(t, err)
	assert.Contains(t, out, "created maria (manager)")

	_, err = runCLI(t, "users", "create", "maria", "--role", "manager")
	assert.Error(t, err)

	_, err = runCLI(t, "users", "create", "bob", "--role", "janitor")
	assert.Error(t, err)

	out, err = runCLI(t, "users", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "maria")

	out, err = runCLI(t, "users", "release", "maria")
	require.NoError(t, err)
	assert.Contains(t, out, "released maria")
}

func TestQuotesAndReminders(t *testing.T) {
	setupEnv(t)
	_, err := runCLI(t, "migrate", "up")
	require.NoError(t, err)

	_, err = runCLI(t, "quotes", "add", "--customer", "Acme", "--service", "Calibration", "--price", "1250.50", "--date", "2025-01-07")
	require.NoError(t, err)
	_, err = runCLI(t, "quotes", "add", "--customer", "Acme", "--service", "Repair", "--price", "abc")
	assert.Error(t, err)

	out, err := runCLI(t, "quotes", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "1250.50 USD")

	out, err = runCLI(t, "reminders", "run-once", "--date", "2025-01-07")
	require.NoError(t, err)
	assert.Contains(t, out, "sent 0 reminders")
}

func TestReadPassword(t *testing.T) {
	pw, err := readPassword(bytes.NewBufferString("s3cret\n"), true)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	_, err = readPassword(bytes.NewBufferString("\n"), true)
	assert.Error(t, err)

	t.Setenv(passwordEnv, "")
	_, err = readPassword(nil, false)
	assert.Error(t, err)
}
