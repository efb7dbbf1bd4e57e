package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(provider string, tools ...string) *ProviderEntry {
	entry := &ProviderEntry{Hash: "hash-" + provider}
	for _, name := range tools {
		entry.Tools = append(entry.Tools, Tool{Name: provider + ":" + name, Description: name + " tool"})
	}
	return entry
}

func TestPatchAddAndStats(t *testing.T) {
	store := NewMetadataStore(t.TempDir())

	require.NoError(t, store.PatchAdd("git", sampleEntry("git", "commit", "log")))
	require.NoError(t, store.PatchAdd("fs", sampleEntry("fs", "read_file")))

	stats := store.Stats()
	assert.Equal(t, 2, stats.MCPCount)
	assert.Equal(t, 3, stats.ToolCount)
	assert.True(t, stats.MetadataExists)
}

func TestPatchAddRejectsUnqualifiedNames(t *testing.T) {
	store := NewMetadataStore(t.TempDir())

	entry := &ProviderEntry{Hash: "h", Tools: []Tool{{Name: "bare_name"}}}
	err := store.PatchAdd("git", entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not qualified")
}

func TestPatchRemoveRestoresStats(t *testing.T) {
	store := NewMetadataStore(t.TempDir())

	require.NoError(t, store.PatchAdd("git", sampleEntry("git", "commit")))
	before := store.Stats()

	require.NoError(t, store.PatchAdd("fs", sampleEntry("fs", "read_file", "write_file")))
	require.NoError(t, store.PatchRemove("fs"))

	assert.Equal(t, before, store.Stats(), "add then remove restores stats")

	// Removing an absent provider is a no-op.
	require.NoError(t, store.PatchRemove("fs"))
}

func TestTotalToolsInvariant(t *testing.T) {
	store := NewMetadataStore(t.TempDir())

	// Arbitrary add/remove sequence; totalTools must always equal the sum
	// of per-provider tool counts.
	require.NoError(t, store.PatchAdd("a", sampleEntry("a", "t1", "t2")))
	require.NoError(t, store.PatchAdd("b", sampleEntry("b", "t1")))
	require.NoError(t, store.PatchRemove("a"))
	require.NoError(t, store.PatchAdd("c", sampleEntry("c", "t1", "t2", "t3")))
	require.NoError(t, store.PatchAdd("a", sampleEntry("a", "t9")))

	md, err := store.Load()
	require.NoError(t, err)

	sum := 0
	for _, entry := range md.Providers {
		sum += len(entry.Tools)
	}
	assert.Equal(t, sum, md.TotalTools)
	assert.Equal(t, 5, md.TotalTools)
}

func TestProfileHashCommit(t *testing.T) {
	store := NewMetadataStore(t.TempDir())

	assert.False(t, store.ValidateAgainst("abc"), "empty cache matches nothing")

	require.NoError(t, store.PatchAdd("git", sampleEntry("git", "commit")))
	require.NoError(t, store.SetProfileHash("abc"))

	assert.True(t, store.ValidateAgainst("abc"))
	assert.False(t, store.ValidateAgainst("other"))
}

func TestLoadNormalizesLegacyToolNames(t *testing.T) {
	dir := t.TempDir()

	// A legacy cache with unprefixed tool names and a stale totalTools.
	legacy := map[string]any{
		"version":     1,
		"profileHash": "p",
		"totalTools":  99,
		"providers": map[string]any{
			"git": map[string]any{
				"hash": "h",
				"tools": []map[string]any{
					{"name": "commit"},
					{"name": "git:log"},
				},
			},
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0600))

	store := NewMetadataStore(dir)
	md, err := store.Load()
	require.NoError(t, err)

	names := []string{md.Providers["git"].Tools[0].Name, md.Providers["git"].Tools[1].Name}
	assert.ElementsMatch(t, []string{"git:commit", "git:log"}, names)
	assert.Equal(t, 2, md.TotalTools, "totalTools recomputed on load")
	assert.Equal(t, MetadataVersion, md.Version)
}

func TestValidateAndRepairTruncatesCorruptProvider(t *testing.T) {
	store := NewMetadataStore(t.TempDir())

	require.NoError(t, store.PatchAdd("good", sampleEntry("good", "t1")))
	// A provider entry with no hash is unverifiable.
	require.NoError(t, store.PatchAdd("bad", &ProviderEntry{Tools: []Tool{{Name: "bad:t"}}}))

	reprobe, err := store.ValidateAndRepair()
	require.NoError(t, err)
	assert.Equal(t, []string{"bad"}, reprobe)

	stats := store.Stats()
	assert.Equal(t, 1, stats.MCPCount)
	assert.Equal(t, 1, stats.ToolCount)
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("{not json"), 0600))

	store := NewMetadataStore(dir)
	_, err := store.Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	// Repair resets to empty.
	reprobe, err := store.ValidateAndRepair()
	require.NoError(t, err)
	assert.Empty(t, reprobe)
	assert.Equal(t, 0, store.Stats().MCPCount)
}

func TestProviderHash(t *testing.T) {
	store := NewMetadataStore(t.TempDir())
	require.NoError(t, store.PatchAdd("git", sampleEntry("git", "commit")))

	assert.Equal(t, "hash-git", store.ProviderHash("git"))
	assert.Equal(t, "", store.ProviderHash("missing"))
}
