package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsewire/internal/config"
)

func TestNewApplication_DefaultConfig(t *testing.T) {
	application, err := NewApplication(nil, nil, nil)
	require.NoError(t, err)

	assert.NotNil(t, application.Manager())
	assert.NotNil(t, application.Streamer())
	assert.Equal(t, "0.0.0.0:8080", application.Addr())
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Port = 0

	_, err := NewApplication(cfg, nil, nil)
	assert.Error(t, err)
}

func TestNewApplication_SQLiteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.Backend = "sqlite"
	cfg.Queue.SQLitePath = t.TempDir() + "/queue.db"

	application, err := NewApplication(cfg, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, application.Manager())
}

func TestNewQueueStore_UnknownBackend(t *testing.T) {
	cfg := config.Default().Queue
	cfg.Backend = "cassandra"

	_, err := newQueueStore(cfg)
	assert.Error(t, err)
}
