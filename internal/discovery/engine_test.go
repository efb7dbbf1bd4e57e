package discovery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/config"
)

func newTestEngine(t *testing.T, rules ...config.RankingRule) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Embedder: NewLocalEmbedder(),
		Rules:    rules,
	})
	require.NoError(t, err)
	return engine
}

// indexNow runs an index job synchronously, bypassing the queue.
func indexNow(e *Engine, provider, command string, tools []ToolDescriptor) {
	e.runJob(context.Background(), indexJob{provider: provider, command: command, tools: tools})
}

func tool(provider, name, description string) ToolDescriptor {
	return ToolDescriptor{
		FQTN:        provider + ":" + name,
		RawName:     name,
		Provider:    provider,
		Description: description,
	}
}

func fsTools() []ToolDescriptor {
	return []ToolDescriptor{
		tool("fs", "read_file", "Read the contents of a file from disk"),
		tool("fs", "write_file", "Write content to a file on disk"),
		tool("fs", "list_directory", "List files in a directory"),
	}
}

func TestRankFindsIntendedTool(t *testing.T) {
	engine := newTestEngine(t)
	indexNow(engine, "fs", "npx", fsTools())
	indexNow(engine, "web", "node", []ToolDescriptor{
		tool("web", "fetch", "Fetch a web page over HTTP"),
	})

	results, err := engine.Rank(context.Background(), "read a file from disk", RankOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top3 := make([]string, 0, 3)
	for i, r := range results {
		if i == 3 {
			break
		}
		top3 = append(top3, r.Tool.FQTN)
	}
	assert.Contains(t, top3, "fs:read_file")
}

func TestRankDeterministic(t *testing.T) {
	run := func() []Result {
		engine := newTestEngine(t)
		indexNow(engine, "fs", "npx", fsTools())
		indexNow(engine, "shell", "bash", []ToolDescriptor{
			tool("shell", "run_command", "Execute a shell command"),
		})
		results, err := engine.Rank(context.Background(), "save my changes", RankOptions{})
		require.NoError(t, err)
		return results
	}

	first := run()
	second := run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Tool.FQTN, second[i].Tool.FQTN)
		assert.Equal(t, first[i].Confidence, second[i].Confidence)
	}
}

func TestSemanticBridgingToShell(t *testing.T) {
	engine := newTestEngine(t)
	indexNow(engine, "shell", "bash", []ToolDescriptor{
		tool("shell", "run_command", "Execute a shell command and return its output"),
	})
	indexNow(engine, "fs", "npx", fsTools())

	results, err := engine.Rank(context.Background(), "commit my changes", RankOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	var shellResult *Result
	for i := range results {
		if i >= 3 {
			break
		}
		if results[i].Tool.FQTN == "shell:run_command" {
			shellResult = &results[i]
			break
		}
	}
	require.NotNil(t, shellResult, "shell:run_command must rank in the top 3 for a version-control query")
	assert.Greater(t, shellResult.Boost, 0.0)

	found := false
	for _, reason := range shellResult.Reasons {
		if strings.Contains(reason, "version-control") {
			found = true
		}
	}
	assert.True(t, found, "boost reason must mention version-control operations, got %v", shellResult.Reasons)
}

func TestEmptyCorpusSentinel(t *testing.T) {
	engine := newTestEngine(t)

	results, err := engine.Rank(context.Background(), "anything", RankOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SentinelFQTN, results[0].Tool.FQTN)
	assert.Contains(t, results[0].Tool.Description, "retry")
}

func TestHealthyProviderFilter(t *testing.T) {
	engine := newTestEngine(t)
	indexNow(engine, "fs", "npx", fsTools())
	indexNow(engine, "web", "node", []ToolDescriptor{
		tool("web", "fetch", "Fetch a web page"),
	})

	results, err := engine.Rank(context.Background(), "read a file", RankOptions{
		HealthyProviders: map[string]bool{"web": true},
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "web", r.Tool.Provider)
	}
}

func TestLexicalFallbackWithoutVectors(t *testing.T) {
	engine := newTestEngine(t)

	// Install without vectors, as happens when embedding fails.
	engine.InstallCached("fs", "npx", fsTools(), nil)
	assert.Len(t, engine.StaleTools("fs"), 3)

	results, err := engine.Rank(context.Background(), "read_file", RankOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "fs:read_file", results[0].Tool.FQTN)
}

func TestInstallCachedValidVectors(t *testing.T) {
	engine := newTestEngine(t)

	tools := fsTools()
	embedder := NewLocalEmbedder()
	vectors, err := embedder.Embed(context.Background(), []string{
		embedText(tools[0]), embedText(tools[1]), embedText(tools[2]),
	})
	require.NoError(t, err)

	embeddings := make([]*cache.Embedding, len(tools))
	for i, tl := range tools {
		embeddings[i] = &cache.Embedding{
			FQTN:     tl.FQTN,
			Provider: "fs",
			Vector:   vectors[i],
			ToolHash: ToolHash(tl),
			Model:    embedder.Model(),
		}
	}

	engine.InstallCached("fs", "npx", tools, embeddings)
	assert.Empty(t, engine.StaleTools("fs"), "valid cached vectors are not stale")

	// A stale hash invalidates one vector.
	embeddings[0].ToolHash = "stale"
	engine.InstallCached("fs", "npx", tools, embeddings)
	assert.Equal(t, []string{"fs:read_file"}, engine.StaleTools("fs"))
}

func TestInstallCachedModelMismatch(t *testing.T) {
	engine := newTestEngine(t)
	tools := fsTools()[:1]

	embeddings := []*cache.Embedding{{
		FQTN:     tools[0].FQTN,
		Provider: "fs",
		Vector:   []float32{1, 2, 3},
		ToolHash: ToolHash(tools[0]),
		Model:    "some-other-model",
	}}
	engine.InstallCached("fs", "npx", tools, embeddings)
	assert.Len(t, engine.StaleTools("fs"), 1, "vectors from a different model are never used")
}

func TestRemoveProvider(t *testing.T) {
	engine := newTestEngine(t)
	indexNow(engine, "fs", "npx", fsTools())

	require.NoError(t, engine.RemoveProvider(context.Background(), "fs"))
	assert.True(t, engine.Empty())
}

func TestCustomRule(t *testing.T) {
	engine := newTestEngine(t, config.RankingRule{
		Name:   "prefer-fs",
		When:   `provider == "fs" and query contains "disk"`,
		Boost:  0.5,
		Reason: "disk queries prefer the filesystem provider",
	})
	indexNow(engine, "fs", "npx", fsTools())

	results, err := engine.Rank(context.Background(), "write to disk", RankOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.GreaterOrEqual(t, results[0].Boost, 0.5)
	assert.Contains(t, results[0].Reasons, "disk queries prefer the filesystem provider")
}

func TestBrokenCustomRuleFailsFast(t *testing.T) {
	_, err := NewEngine(EngineConfig{
		Embedder: NewLocalEmbedder(),
		Rules:    []config.RankingRule{{Name: "broken", When: "not valid ((", Boost: 1}},
	})
	require.Error(t, err)
}

func TestMinConfidenceFilter(t *testing.T) {
	engine := newTestEngine(t)
	indexNow(engine, "fs", "npx", fsTools())

	all, err := engine.Rank(context.Background(), "read a file from disk", RankOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, all)

	strict, err := engine.Rank(context.Background(), "read a file from disk", RankOptions{MinConfidence: 0.99})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(strict), len(all))
	for _, r := range strict {
		assert.GreaterOrEqual(t, r.Confidence, 0.99)
	}
}

func TestQueuedIndexingDrainsInOrder(t *testing.T) {
	engine := newTestEngine(t)

	// Queue before the worker starts, as happens when providers finish
	// probing before the embedder is ready.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Index(ctx, "fs", "npx", fsTools()))
	require.NoError(t, engine.Index(ctx, "web", "node", []ToolDescriptor{
		tool("web", "fetch", "Fetch a web page"),
	}))
	assert.True(t, engine.Empty())

	engine.Start(ctx)
	require.Eventually(t, func() bool { return engine.Size() == 4 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	engine.Stop()
}

func TestTieBreakAlphabetical(t *testing.T) {
	results := []Result{
		{Tool: ToolDescriptor{FQTN: "b:t"}, Confidence: 0.5},
		{Tool: ToolDescriptor{FQTN: "a:t"}, Confidence: 0.5},
		{Tool: ToolDescriptor{FQTN: "c:t"}, Confidence: 0.9},
		{Tool: ToolDescriptor{FQTN: "d:t"}, Confidence: 0.5, Boost: 0.1},
	}
	sortResults(results)

	order := []string{results[0].Tool.FQTN, results[1].Tool.FQTN, results[2].Tool.FQTN, results[3].Tool.FQTN}
	assert.Equal(t, []string{"c:t", "d:t", "a:t", "b:t"}, order)
}
