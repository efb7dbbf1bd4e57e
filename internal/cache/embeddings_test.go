package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *EmbeddingStore {
	t.Helper()
	store, err := OpenEmbeddingStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEmbeddingRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e := &Embedding{
		FQTN:     "git:commit",
		Provider: "git",
		Vector:   []float32{0.1, -0.5, 0.25},
		Features: FeatureBundle{
			Tokens:     []string{"commit", "record", "changes"},
			NameTokens: []string{"commit"},
		},
		ToolHash: "th1",
		Model:    "local-fh-256",
	}
	require.NoError(t, store.Put(ctx, e))

	got, err := store.Get(ctx, "git:commit")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Vector, got.Vector)
	assert.Equal(t, e.Features, got.Features)
	assert.Equal(t, e.ToolHash, got.ToolHash)
	assert.Equal(t, e.Model, got.Model)
}

func TestEmbeddingUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e := &Embedding{FQTN: "git:commit", Provider: "git", Vector: []float32{1}, ToolHash: "old", Model: "m"}
	require.NoError(t, store.Put(ctx, e))

	e.ToolHash = "new"
	e.Vector = []float32{2}
	require.NoError(t, store.Put(ctx, e))

	got, err := store.Get(ctx, "git:commit")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ToolHash)
	assert.Equal(t, []float32{2}, got.Vector)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEmbeddingGetMissing(t *testing.T) {
	store := openTestStore(t)

	got, err := store.Get(context.Background(), "nope:tool")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestForProvidersScoping(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, e := range []*Embedding{
		{FQTN: "git:commit", Provider: "git", Vector: []float32{1}, ToolHash: "h", Model: "m"},
		{FQTN: "git:log", Provider: "git", Vector: []float32{2}, ToolHash: "h", Model: "m"},
		{FQTN: "fs:read", Provider: "fs", Vector: []float32{3}, ToolHash: "h", Model: "m"},
		{FQTN: "web:fetch", Provider: "web", Vector: []float32{4}, ToolHash: "h", Model: "m"},
	} {
		require.NoError(t, store.Put(ctx, e))
	}

	got, err := store.ForProviders(ctx, []string{"git", "fs"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Ordered by FQTN for deterministic rankings downstream.
	assert.Equal(t, "fs:read", got[0].FQTN)
	assert.Equal(t, "git:commit", got[1].FQTN)
	assert.Equal(t, "git:log", got[2].FQTN)

	got, err = store.ForProviders(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRemoveProvider(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Embedding{FQTN: "git:commit", Provider: "git", Vector: []float32{1}, ToolHash: "h", Model: "m"}))
	require.NoError(t, store.Put(ctx, &Embedding{FQTN: "fs:read", Provider: "fs", Vector: []float32{1}, ToolHash: "h", Model: "m"}))

	require.NoError(t, store.RemoveProvider(ctx, "git"))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "git:commit")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1, -1, 3.14159, -0.0001}
	out := decodeVector(encodeVector(in))
	assert.Equal(t, in, out)

	assert.Empty(t, decodeVector(nil))
}
