package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.skia.org/snapped/internal/config/configs"
)

func TestLoad_ProdJSON(t *testing.T) {
	cfg, err := Load(configs.Configs, "prod.json")
	require.NoError(t, err)
	assert.Equal(t, ":7800", cfg.Tree.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.MI.CommandTimeout.AsDuration())
	assert.False(t, cfg.MI.CaptureLocals)
	assert.True(t, cfg.Debugsrv.Enabled)
}

func TestLoad_TestJSON(t *testing.T) {
	cfg, err := Load(configs.Configs, "test.json")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Tree.AdvertiseHost)
	assert.True(t, cfg.MI.CaptureLocals)
	assert.False(t, cfg.Debugsrv.Enabled)
}

func TestLoad_MissingFile_Errors(t *testing.T) {
	_, err := Load(configs.Configs, "does-not-exist.json")
	assert.Error(t, err)
}

func TestDefault_HasSaneTimeout(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Second, cfg.MI.CommandTimeout.AsDuration())
	assert.Equal(t, ":0", cfg.Tree.ListenAddr)
}

func TestDuration_RoundTripsThroughJSON(t *testing.T) {
	cfg, err := Load(configs.Configs, "test.json")
	require.NoError(t, err)
	b, err := cfg.MI.CommandTimeout.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(b))
}
