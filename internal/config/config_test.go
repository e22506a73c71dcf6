package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearHubEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "CORS_ORIGIN",
		"SAVE_INTERVAL", "UPDATE_THRESHOLD", "INACTIVE_TIMEOUT", "CLEANUP_CHECK_INTERVAL",
	} {
		orig, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, orig)
			}
		})
	}
}

func TestLoadHubConfig_Defaults(t *testing.T) {
	clearHubEnv(t)

	cfg, err := LoadHubConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 50, cfg.UpdateThreshold)
	assert.Equal(t, 30*time.Second, cfg.SaveInterval)
	assert.Equal(t, 5*time.Minute, cfg.InactiveTimeout)
	assert.Equal(t, time.Minute, cfg.CleanupCheckInterval)
}

func TestLoadHubConfig_OverridesFromEnv(t *testing.T) {
	clearHubEnv(t)
	os.Setenv("PORT", "9999")
	os.Setenv("UPDATE_THRESHOLD", "10")
	os.Setenv("SAVE_INTERVAL", "5s")

	cfg, err := LoadHubConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 10, cfg.UpdateThreshold)
	assert.Equal(t, 5*time.Second, cfg.SaveInterval)
}

func TestLoadHubConfig_RejectsNonPositiveUpdateThreshold(t *testing.T) {
	clearHubEnv(t)
	os.Setenv("UPDATE_THRESHOLD", "0")

	_, err := LoadHubConfig()
	assert.Error(t, err)
}

func TestLoadAPIConfig_Defaults(t *testing.T) {
	orig, had := os.LookupEnv("PORT")
	os.Unsetenv("PORT")
	defer func() {
		if had {
			os.Setenv("PORT", orig)
		}
	}()

	cfg, err := LoadAPIConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "*", cfg.CORSOrigin)
}
