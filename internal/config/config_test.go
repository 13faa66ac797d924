package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 3000
store:
  dsn: "host=db user=svc dbname=inventory"
queue:
  addr: "redis-file:6379"
`)
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("MONGO_URL", "host=other dbname=inventory")
	t.Setenv("EVENT_STORE_URL", "redis-env:6379")

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "host=other dbname=inventory", cfg.Store.DSN)
	assert.Equal(t, "redis-env:6379", cfg.Queue.Addr)
}

func TestLoad_MissingConnectionStringsAreNotErrors(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 3000\n")

	cfg, err := Load(path)
	assert.NoError(t, err, "absent values degrade at runtime, never fail the load")
	assert.Empty(t, cfg.Store.DSN)
	assert.Empty(t, cfg.Queue.Addr)
}

func TestLoad_ParsesDurations(t *testing.T) {
	path := writeConfig(t, `
queue:
  addr: "localhost:6379"
  visibility_timeout: 45s
consumer:
  workers: 2
  initial_backoff: 250ms
  max_backoff: 10s
  lock_timeout: 3s
`)
	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Consumer.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.Consumer.MaxBackoff)
	assert.Equal(t, 3*time.Second, cfg.Consumer.LockTimeout)
	assert.Equal(t, 2, cfg.Consumer.Workers)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "queue:\n  visibility_timeout: soon\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "{}\n")

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "order_events", cfg.Queue.Stream)
	assert.Equal(t, "inventory-reconciler", cfg.Queue.Group)
	assert.Equal(t, "order_events:dead", cfg.Queue.DeadLetterStream)
	assert.Equal(t, 30*time.Second, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, 4, cfg.Consumer.Workers)
	assert.Equal(t, 5, cfg.Consumer.MaxAttempts)
}
