package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-dogma/dogma/internal/config"
)

func TestLoadRequiresPortsAndDataDir(t *testing.T) {
	_, err := config.Load("")
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DOGMA_DATADIR", "/tmp/dogma-data")
	t.Setenv("DOGMA_PORTS", "8080")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/dogma-data", cfg.DataDir)
	assert.Equal(t, []string{"8080"}, cfg.Ports)
	assert.Equal(t, 16, cfg.NumRepositoryWorkers)
	assert.Equal(t, 64, cfg.RepositoryCacheSize)
	assert.Equal(t, time.Hour, cfg.MaxRemovedRepoAge)
	assert.Equal(t, time.Second, cfg.Shutdown.QuietPeriod)
	assert.Equal(t, 2*time.Second, cfg.Shutdown.Timeout)
	assert.Equal(t, "NONE", cfg.Replication.Method)
	assert.Equal(t, 10*time.Second, cfg.Replication.Timeout)
	assert.Equal(t, "dogma", cfg.Storage.MongoDatabase)
	assert.Equal(t, time.Minute, cfg.PurgeSweepInterval)
	assert.Equal(t, time.Hour, cfg.SessionPurgeGracePeriod)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("DOGMA_DATADIR", "/tmp/dogma-data")
	t.Setenv("DOGMA_PORTS", "8080,8443")
	t.Setenv("DOGMA_REPLICATION_METHOD", "coordinated")
	t.Setenv("DOGMA_NUMREPOSITORYWORKERS", "4")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"8080", "8443"}, cfg.Ports)
	assert.Equal(t, "coordinated", cfg.Replication.Method)
	assert.Equal(t, 4, cfg.NumRepositoryWorkers)
}
