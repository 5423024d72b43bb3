package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	assert.Equal(t, ":8080", v.GetString("agent.listen"))
	assert.Equal(t, 500*time.Millisecond, v.GetDuration("agent.reconnect_initial"))
	assert.Equal(t, 30*time.Second, v.GetDuration("agent.reconnect_max"))
	assert.Equal(t, ":8081", v.GetString("server.listen"))
	assert.Equal(t, "postgres", v.GetString("server.store_driver"))
	assert.Equal(t, "_collabtext-share._tcp", v.GetString("discovery.service"))
}

func TestLoadAgentFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  server_url: "http://relay.local:8081/"
  token: "from-file"
  reconnect_max: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("COLLABTEXT_AGENT_TOKEN", "from-env")

	c, err := LoadAgent(path)
	require.NoError(t, err)
	assert.Equal(t, "http://relay.local:8081", c.ServerURL)
	assert.Equal(t, "from-env", c.Token)
	assert.Equal(t, 5*time.Second, c.ReconnectMax)
	assert.Equal(t, 10*time.Second, c.PingInterval)
}

func TestLoadServerLegacyEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/x")

	c, err := LoadServer("")
	require.NoError(t, err)
	assert.Equal(t, "redis:6380", c.RedisAddr)
	assert.Equal(t, "postgres://u:p@db/x", c.DatabaseURL)
}

func TestLoadServerRejectsUnknownDriver(t *testing.T) {
	t.Setenv("COLLABTEXT_SERVER_STORE_DRIVER", "mongo")

	_, err := LoadServer("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadAgent(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
