package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("CHAT_PAGE_SIZE", "")
	t.Setenv("WS_CONNECT_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 20, cfg.PageSize)
	require.Equal(t, 10*time.Second, cfg.WSConnectTimeout)
	require.Equal(t, 5, cfg.WSMaxReconnectAttempts)

	conn := cfg.Connection()
	require.Equal(t, 2*time.Second, conn.Retry.NextDelay(1))
	require.Equal(t, 32*time.Second, conn.Retry.NextDelay(5))
}

func TestFileValuesAreOverriddenByEnv(t *testing.T) {
	path := writeFile(t, `
chat_api_url = "https://chat.example.com/api"
chat_page_size = 50

[ws]
connect_timeout = "3s"
max_reconnect_attempts = 2
`)
	t.Setenv(FileEnv, path)
	t.Setenv("CHAT_API_URL", "")
	t.Setenv("CHAT_PAGE_SIZE", "7")
	t.Setenv("WS_CONNECT_TIMEOUT", "")
	t.Setenv("WS_MAX_RECONNECT_ATTEMPTS", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://chat.example.com/api", cfg.APIURL)
	require.Equal(t, 7, cfg.PageSize)
	require.Equal(t, 3*time.Second, cfg.WSConnectTimeout)
	require.Equal(t, 2, cfg.WSMaxReconnectAttempts)
}

func TestInvalidFile(t *testing.T) {
	t.Setenv(FileEnv, writeFile(t, "not = [valid"))
	_, err := Load()
	require.Error(t, err)

	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.toml"))
	_, err = Load()
	require.Error(t, err)
}
