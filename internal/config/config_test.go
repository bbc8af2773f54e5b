package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/medsync/internal/common"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(nil)
	require.NoError(t, err)

	def := Defaults()
	assert.Equal(t, &def, c)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, "medsync.json", `{
		"database_path": "/var/lib/medsync/json.db",
		"server_addr": "json:50051",
		"orgs": ["o1", "o2"],
		"sync_interval": "1m",
		"log_level": "warn"
	}`)
	t.Setenv("MEDSYNC_SERVER_ADDR", "env:50051")
	t.Setenv("MEDSYNC_LOG_LEVEL", "error")

	c, err := Load([]string{"-c", path, "--log-level", "debug", "--cache-size", "64"})
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/medsync/json.db", c.DatabasePath)
	assert.Equal(t, "env:50051", c.ServerAddr)
	assert.Equal(t, []string{"o1", "o2"}, c.Orgs)
	assert.Equal(t, time.Minute, c.SyncInterval)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, 64, c.CacheSize)
	assert.Equal(t, 15*time.Second, c.RequestTimeout)
}

func TestLoad_EnvListAndDotenv(t *testing.T) {
	env := writeFile(t, ".env", "MEDSYNC_ORGS=o1, o2,,o3\nMEDSYNC_ACCESS_TOKEN=tok\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("MEDSYNC_ORGS")
		_ = os.Unsetenv("MEDSYNC_ACCESS_TOKEN")
	})

	c, err := Load([]string{"--env-file", env})
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2", "o3"}, c.Orgs)
	assert.Equal(t, "tok", c.AccessToken)
}

func TestLoad_FlagList(t *testing.T) {
	c, err := Load([]string{"--orgs", "a,b", "--sync-interval", "5s"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Orgs)
	assert.Equal(t, 5*time.Second, c.SyncInterval)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	_, err = Load([]string{"--no-such-flag"})
	assert.Error(t, err)

	_, err = Load([]string{"--log-format", "xml", "--cache-size", "0"})
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "log_format")
	assert.Contains(t, err.Error(), "cache_size")
}

func TestValidate(t *testing.T) {
	c := Defaults()
	require.NoError(t, c.Validate())

	c.SyncInterval = 0
	c.LogLevel = "loud"
	err := c.Validate()
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "sync_interval")
}

func TestLogging(t *testing.T) {
	c := Defaults()
	c.LogFile = "/tmp/medsync.log"
	opts := c.Logging()
	assert.Equal(t, "info", opts.Level)
	assert.Equal(t, "text", opts.Format)
	assert.Equal(t, "/tmp/medsync.log", opts.File)
}
