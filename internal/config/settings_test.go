package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultSpawnTimeout, s.SpawnTimeout)
	assert.Equal(t, DefaultCallTimeout, s.CallTimeout)
	assert.Equal(t, DefaultFindTimeout, s.FindTimeout)
	assert.Equal(t, DefaultSpawnFanOut, s.SpawnFanOut)
	assert.Equal(t, DefaultBaseThreshold, s.BaseThreshold)
	assert.Equal(t, "local", s.Embedding.Backend)
}

func TestLoadSettingsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
call_timeout: 10s
spawn_fan_out: 4
base_threshold: 0.5
embedding:
  backend: openai
  base_url: http://localhost:11434/v1
  model: all-minilm
rules:
  - name: prefer-git
    when: 'provider == "git"'
    boost: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	s, err := LoadSettingsFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, s.CallTimeout)
	assert.Equal(t, 4, s.SpawnFanOut)
	assert.Equal(t, 0.5, s.BaseThreshold)
	assert.Equal(t, "openai", s.Embedding.Backend)
	assert.Equal(t, "all-minilm", s.Embedding.Model)
	require.Len(t, s.Rules, 1)
	assert.Equal(t, "prefer-git", s.Rules[0].Name)

	// Unspecified fields still get defaults.
	assert.Equal(t, DefaultSpawnTimeout, s.SpawnTimeout)
}

func TestLoadSettingsRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  backend: onnx\n"), 0600))

	_, err := LoadSettingsFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding backend")
}

func TestLoadSettingsRejectsNamelessRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - when: 'true'\n    boost: 1\n"), 0600))

	_, err := LoadSettingsFrom(path)
	require.Error(t, err)
}

func TestDirsRespectHomeOverride(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	cfg, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "config"), cfg)

	data, err := DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data"), data)

	cache, err := CacheDir()
	require.NoError(t, err)
	assert.DirExists(t, cache)

	schemas, err := SchemasDir()
	require.NoError(t, err)
	assert.DirExists(t, schemas)
}
