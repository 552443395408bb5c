package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gopherchat", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.True(t, cfg.Chat.PersistReply)
	assert.Equal(t, 120*time.Minute, cfg.JWTExpiration())
	assert.Equal(t, 180*time.Second, cfg.ExchangeLockTTL())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = 9090

[llm]
provider = "gemini"
model = "gemini-1.5-flash"
max_context_messages = 10

[database]
driver = "sqlite"
name = "chat.db"
params = ""
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("APP_PORT", "9191")
	t.Setenv("CHAT_PERSIST_REPLY", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.App.Port)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 10, cfg.LLM.MaxContextMessages)
	assert.False(t, cfg.Chat.PersistReply)
	assert.Equal(t, "chat.db", cfg.DSN())
}

func TestLoad_InvalidValueRejected(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("LLM_PROVIDER", "carrier-pigeon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_LockMustOutliveLLMTimeout(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("LLM_TIMEOUT_SECONDS", "300")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange_lock_ttl_seconds")

	t.Setenv("CHAT_EXCHANGE_LOCK_TTL_SECONDS", "301")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 301*time.Second, cfg.ExchangeLockTTL())

	// no client timeout means no bound to compare against
	t.Setenv("LLM_TIMEOUT_SECONDS", "0")
	t.Setenv("CHAT_EXCHANGE_LOCK_TTL_SECONDS", "5")
	_, err = Load()
	assert.NoError(t, err)
}

func TestDSN(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, "root:@tcp(127.0.0.1:3306)/gopherchat?parseTime=true&loc=UTC&charset=utf8mb4", cfg.DSN())

	cfg.Database = DatabaseConfig{
		Driver:   "postgres",
		Host:     "db",
		Port:     5432,
		User:     "chat",
		Password: "secret",
		Name:     "gopherchat",
		Params:   "sslmode=disable",
	}
	assert.Equal(t, "host=db port=5432 user=chat password=secret dbname=gopherchat sslmode=disable", cfg.DSN())
}

func TestGetEnvAsInt_BadValueFallsBack(t *testing.T) {
	t.Setenv("SOME_INT", "abc")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
}
