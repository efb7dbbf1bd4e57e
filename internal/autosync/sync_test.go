package autosync

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/profile"
)

// writeFile is a test helper creating parent directories as needed.
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// testClient builds a matrix entry pointing at a temp config file.
func testClient(name, configPath, query string, extGlobs ...string) Client {
	return Client{
		Name:           name,
		ConfigPaths:    map[string][]string{runtime.GOOS: {configPath}},
		Query:          query,
		ExtensionGlobs: map[string][]string{runtime.GOOS: extGlobs},
	}
}

// recordingAdd collects additions into the profile directly.
func recordingAdd(prof *profile.Profile) AddFunc {
	return func(ctx context.Context, name string, spec profile.ProviderSpec) error {
		return prof.Add(name, spec)
	}
}

func TestSyncAddsOnlyMissingProviders(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	writeFile(t, configPath, `{
		"mcpServers": {
			"git":    {"command": "uvx", "args": ["mcp-server-git"]},
			"fs":     {"command": "npx", "env": {"ROOT": "/tmp"}},
			"github": {"command": "npx", "args": ["-y", "server-github"]}
		}
	}`)

	prof := profile.New("default")
	require.NoError(t, prof.Add("git", profile.ProviderSpec{Command: "uvx", Source: "user"}))

	syncer := NewSyncer(SyncerConfig{Clients: []Client{testClient("claude-desktop", configPath, "")}})

	added, err := syncer.Sync(context.Background(), prof, recordingAdd(prof))
	require.NoError(t, err)
	assert.Equal(t, []string{"fs", "github"}, added)

	// Existing entries are never overwritten.
	assert.Equal(t, "user", prof.Servers["git"].Source)
	assert.Equal(t, "import:claude-desktop", prof.Servers["fs"].Source)
	assert.Equal(t, map[string]string{"ROOT": "/tmp"}, prof.Servers["fs"].Env)
}

func TestSyncIdempotent(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	writeFile(t, configPath, `{"mcpServers": {"fs": {"command": "npx"}}}`)

	prof := profile.New("default")
	syncer := NewSyncer(SyncerConfig{Clients: []Client{testClient("cursor", configPath, "")}})

	first, err := syncer.Sync(context.Background(), prof, recordingAdd(prof))
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := syncer.Sync(context.Background(), prof, recordingAdd(prof))
	require.NoError(t, err)
	assert.Empty(t, second, "second sync against unchanged config adds nothing")
}

func TestSyncCustomQueryShape(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "mcp.json")
	writeFile(t, configPath, `{
		"servers": {
			"docs": {"type": "stdio", "command": "docs-mcp", "args": ["--port", "0"]},
			"remote": {"type": "http", "url": "https://example.com"}
		}
	}`)

	query := `.servers // {} | with_entries(select((.value.type // "stdio") == "stdio") | .value |= {command, args, env})`
	prof := profile.New("default")
	syncer := NewSyncer(SyncerConfig{Clients: []Client{testClient("vscode", configPath, query)}})

	added, err := syncer.Sync(context.Background(), prof, recordingAdd(prof))
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, added, "non-stdio entries are skipped")
	assert.Equal(t, "docs-mcp", prof.Servers["docs"].Command)
}

func TestSyncExtensionBundles(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "extensions", "weather", "manifest.json")
	writeFile(t, manifest, `{
		"name": "weather",
		"server": {"command": "./server.js", "args": ["--stdio"]}
	}`)

	client := testClient("claude-desktop", filepath.Join(dir, "missing.json"), "",
		filepath.Join(dir, "extensions", "*", "manifest.json"))

	prof := profile.New("default")
	syncer := NewSyncer(SyncerConfig{Clients: []Client{client}})

	added, err := syncer.Sync(context.Background(), prof, recordingAdd(prof))
	require.NoError(t, err)
	require.Equal(t, []string{"weather"}, added)

	// Relative bundle commands resolve against the bundle directory.
	assert.Equal(t, filepath.Join(dir, "extensions", "weather", "server.js"), prof.Servers["weather"].Command)
}

func TestSyncSkipsInvalidEntries(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	writeFile(t, configPath, `{
		"mcpServers": {
			"ok":        {"command": "npx"},
			"bad name!": {"command": "npx"},
			"nocmd":     {"args": ["x"]}
		}
	}`)

	prof := profile.New("default")
	syncer := NewSyncer(SyncerConfig{Clients: []Client{testClient("cursor", configPath, "")}})

	added, err := syncer.Sync(context.Background(), prof, recordingAdd(prof))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, added)
}

func TestSyncMissingConfigIsQuiet(t *testing.T) {
	prof := profile.New("default")
	syncer := NewSyncer(SyncerConfig{Clients: []Client{
		testClient("ghost", filepath.Join(t.TempDir(), "nope.json"), ""),
	}})

	added, err := syncer.Sync(context.Background(), prof, recordingAdd(prof))
	require.NoError(t, err)
	assert.Empty(t, added)
}

func TestExpandPath(t *testing.T) {
	t.Setenv("SYNC_TEST_DIR", "/opt/data")
	assert.Equal(t, filepath.Clean("/opt/data/config.json"), expandPath("$SYNC_TEST_DIR/config.json"))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cursor"), expandPath("~/.cursor"))
}
