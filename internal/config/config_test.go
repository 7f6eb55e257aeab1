package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLayerConfigFileFillsUnsetFields(t *testing.T) {
	path := writeYAML(t, map[string]any{
		"open_voiced_frames": 9,
		"record":             true,
	})

	cfg := DefaultConfig()
	require.NoError(t, layerConfigFile(cfg, path, map[string]bool{}))

	require.Equal(t, 9, cfg.OpenVoicedFrames)
	require.True(t, cfg.Record)
}

func TestLayerConfigFileNeverOverridesAnExplicitFlag(t *testing.T) {
	path := writeYAML(t, map[string]any{
		"open_voiced_frames": 9,
		"remote_url":         "wss://file.example/ws",
	})

	cfg := DefaultConfig()
	cfg.OpenVoicedFrames = 3 // what flag.Parse() would have already set
	cfg.RemoteURL = "wss://flag.example/ws"

	explicit := map[string]bool{"open-voiced-frames": true, "remote-url": true}
	require.NoError(t, layerConfigFile(cfg, path, explicit))

	require.Equal(t, 3, cfg.OpenVoicedFrames, "explicit flag must win over the file")
	require.Equal(t, "wss://flag.example/ws", cfg.RemoteURL, "explicit flag must win over the file")
}

func writeYAML(t *testing.T, values map[string]any) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	var content string
	for k, v := range values {
		content += yamlLine(k, v)
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func yamlLine(key string, value any) string {
	switch v := value.(type) {
	case bool:
		if v {
			return key + ": true\n"
		}
		return key + ": false\n"
	case int:
		return key + ": " + strconv.Itoa(v) + "\n"
	case string:
		return key + ": " + v + "\n"
	default:
		return ""
	}
}
