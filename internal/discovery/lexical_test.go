package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"snake case", "read_file", []string{"read", "file"}},
		{"kebab and slash", "fs/read-file", []string{"fs", "read", "file"}},
		{"stopwords dropped", "read the contents of a file", []string{"read", "contents", "file"}},
		{"case folding", "ReadFile FROM Disk", []string{"readfile", "disk"}},
		{"short tokens dropped", "a b cd", []string{"cd"}},
		{"empty", "", nil},
		{"digits kept", "base64 encode", []string{"base64", "encode"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestTokenizeUnicodeNormalization(t *testing.T) {
	// Composed é (U+00E9) and decomposed e+combining acute must tokenize
	// identically.
	composed := Tokenize("café menu")
	decomposed := Tokenize("café menu")
	assert.Equal(t, composed, decomposed)
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e := NewLocalEmbedder()
	ctx := context.Background()

	v1, err := e.Embed(ctx, []string{"read a file from disk"})
	require.NoError(t, err)
	v2, err := e.Embed(ctx, []string{"read a file from disk"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1[0], e.Dimensions())
}

func TestLocalEmbedderSimilarityOrdering(t *testing.T) {
	e := NewLocalEmbedder()
	ctx := context.Background()

	vectors, err := e.Embed(ctx, []string{
		"read a file from disk",
		"read_file: Read the contents of a file from disk",
		"fetch: Fetch a web page over HTTP",
	})
	require.NoError(t, err)

	related := Cosine(vectors[0], vectors[1])
	unrelated := Cosine(vectors[0], vectors[2])
	assert.Greater(t, related, unrelated)

	self := Cosine(vectors[0], vectors[0])
	assert.InDelta(t, 1.0, self, 1e-6)
}

func TestCosineEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestClassifyProvider(t *testing.T) {
	tests := []struct {
		name    string
		command string
		tools   []string
		want    ProviderKind
	}{
		{"bash command", "/bin/bash", nil, KindShell},
		{"run_command tool", "node", []string{"run_command"}, KindShell},
		{"filesystem tools", "npx", []string{"read_file", "write_file"}, KindFilesystem},
		{"database tools", "uvx", []string{"query", "insert"}, KindDatabase},
		{"browser tools", "node", []string{"navigate", "screenshot"}, KindBrowser},
		{"http tools", "node", []string{"fetch"}, KindHTTP},
		{"unknown", "mystery", []string{"frobnicate"}, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyProvider(tt.command, tt.tools))
		})
	}
}

func TestToolHashChangesWithMetadata(t *testing.T) {
	a := tool("fs", "read_file", "Read a file")
	b := tool("fs", "read_file", "Read a file, now with offsets")

	assert.NotEqual(t, ToolHash(a), ToolHash(b))
	assert.Equal(t, ToolHash(a), ToolHash(tool("fs", "read_file", "Read a file")))
}

func TestFQTNFor(t *testing.T) {
	assert.Equal(t, "fs:read_file", FQTNFor("fs", "read_file"))
	assert.Equal(t, "fs:read_file", FQTNFor("fs", "fs:read_file"))
}
