package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("ENDPOINT_URL", "https://results.example/exec")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHECKPOINT", "")
	t.Setenv("RACE", "")
}

func TestLoadMissingStation(t *testing.T) {
	setBaseEnv(t)

	_, err := Load(nil)
	require.ErrorIs(t, err, ErrMissingStation)

	_, err = Load([]string{"--checkpoint", "CP3"})
	require.ErrorIs(t, err, ErrMissingStation)
}

func TestLoadFlagsOverrideEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CHECKPOINT", "from-env")
	t.Setenv("RACE", "50K")

	cfg, err := Load([]string{"--checkpoint", "Aid 2"})
	require.NoError(t, err)

	assert.Equal(t, "Aid 2", cfg.Checkpoint)
	assert.Equal(t, "50K", cfg.Race)
	assert.Equal(t, "Aid 2 (50K)", cfg.Station())
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load([]string{"--checkpoint", "Finish", "--race", "100M"})
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "data/scans.db", cfg.StorePath)
	assert.Equal(t, 1500*time.Millisecond, cfg.ScanThrottle)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, 5*time.Minute, cfg.RosterRefreshInterval)
	assert.Equal(t, 5*time.Second, cfg.NoticeDuration)
	assert.Equal(t, 5, cfg.RecentLimit)
	assert.Zero(t, cfg.RemoteTimeout)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("STORE_DRIVER", "bolt")

	_, err := Load([]string{"--checkpoint", "Finish", "--race", "100M"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingStation)
}

func TestLoadStoreSkipsStation(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/scans?sslmode=disable")

	cfg, err := LoadStore([]string{"--username", "ana", "--pin", "4321"})
	require.NoError(t, err)
	assert.Equal(t, "ana", cfg.OperatorUsername)
	assert.Equal(t, "4321", cfg.OperatorPin)
}
