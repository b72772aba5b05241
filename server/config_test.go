package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	fn := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(fn, []byte(content), 0644))
	return fn
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"listen": ":9000", "refreshHz": 30, "inference": {"conf": 0.4}}`))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, 30.0, cfg.RefreshHz)
	require.Equal(t, 0.4, cfg.Inference.Conf)
	// Missing fields keep their defaults
	require.Equal(t, 5, cfg.Inference.EveryN)
	require.Equal(t, 60, cfg.Inference.MaxFrames)
	require.Equal(t, 3.0, cfg.LineWidth)
	require.Equal(t, "sqlite3", cfg.DB.Driver)
	require.Equal(t, 3.0, cfg.Style().LineWidth)
}

func TestLoadConfigInvalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"refreshHz": 0}`))
	require.ErrorContains(t, err, "refreshHz")

	_, err = LoadConfig(writeConfig(t, `{"lineWidth": -1}`))
	require.ErrorContains(t, err, "lineWidth")

	_, err = LoadConfig(writeConfig(t, `{"listen": `))
	require.ErrorContains(t, err, "Error parsing config file")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestMaxUploadSize(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{"maxUploadSize": "1 KB"}`))
	require.NoError(t, err)
	require.EqualValues(t, 1024, cfg.MaxUploadSize)

	_, err = LoadConfig(writeConfig(t, `{"maxUploadSize": "huge"}`))
	require.Error(t, err)
	_, err = LoadConfig(writeConfig(t, `{"maxUploadSize": 0}`))
	require.ErrorContains(t, err, "maxUploadSize")
}
