package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatclient/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(zap.NewNop())
	os.Exit(m.Run())
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", "")
	for _, k := range []string{"CHAT_ENDPOINT", "CHAT_USER_ID", "CHAT_SUBSCRIPTIONS", "RECONNECT_MAX_ATTEMPTS", "RECONNECT_BASE_DELAY_MS", "PENDING_KEEP", "REDIS_URL", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg := Load()

	assert.Equal(t, "ws://localhost:3001/ws", cfg.Endpoint)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 3*time.Second, cfg.Pending.FallbackTimeout)
	assert.Equal(t, 5, cfg.Pending.Keep)
	assert.Equal(t, 30*time.Second, cfg.WS.HeartbeatInterval)
	assert.Empty(t, cfg.Mirror.RedisURL)
	assert.Equal(t, "chatclient:changes", cfg.Mirror.Channel)
	assert.Nil(t, cfg.Subscriptions)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint: wss://chat.example.com/ws
user_id: "7"
subscriptions: [message, chat_read]
reconnect_max_attempts: 8
reconnect_base_delay_ms: 250
pending_keep: 3
`), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("CHAT_USER_ID", "42")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "2")

	cfg := Load()
	assert.Equal(t, "wss://chat.example.com/ws", cfg.Endpoint)
	assert.Equal(t, "42", cfg.UserID, "env wins over yaml")
	assert.Equal(t, []string{"message", "chat_read"}, cfg.Subscriptions)
	assert.Equal(t, 2, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 3, cfg.Pending.Keep)
}

func TestLoad_BrokenYAMLFallsBackToDefaults(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: [unclosed"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg := Load()
	assert.Equal(t, "ws://localhost:3001/ws", cfg.Endpoint)
}

func TestLoad_InvalidValuesAreClamped(t *testing.T) {
	isolate(t)
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "-1")
	t.Setenv("RECONNECT_BASE_DELAY_MS", "abc")
	t.Setenv("PENDING_KEEP", "0")
	t.Setenv("CHAT_SUBSCRIPTIONS", " message, ,user_update ")

	cfg := Load()
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Reconnect.BaseDelay)
	assert.Equal(t, 5, cfg.Pending.Keep)
	assert.Equal(t, []string{"message", "user_update"}, cfg.Subscriptions)
}

func TestLoadEnv_ReadsDotEnvOutsideProduction(t *testing.T) {
	isolate(t)
	t.Setenv("APP_ENV", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CHAT_TEST_DOTENV=from-file\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("CHAT_TEST_DOTENV")
	})

	loadEnv()
	assert.Equal(t, "from-file", os.Getenv("CHAT_TEST_DOTENV"))
}
