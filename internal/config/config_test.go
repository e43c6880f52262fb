package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "http://apis.data.go.kr/B553077/api/open/sdsc2", cfg.Upstream.BaseURL)
	assert.Equal(t, 1000, cfg.Upstream.PageSize)
	assert.Equal(t, "error", cfg.Ingest.OnDuplicate)
	assert.Equal(t, 3, cfg.Ingest.Concurrency)
	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORE_API_STORE_DRIVER", "sqlite")
	t.Setenv("STORE_API_UPSTREAM_SERVICE_KEY", "test-key")
	t.Setenv("STORE_API_INGEST_ON_DUPLICATE", "upsert")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "test-key", cfg.Upstream.ServiceKey)
	assert.Equal(t, "upsert", cfg.Ingest.OnDuplicate)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "shouty", Format: "json"})
	require.Error(t, err)
}
