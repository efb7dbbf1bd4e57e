// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/config"
)

// ToolDescriptor identifies one tool in the corpus and in ranked output.
type ToolDescriptor struct {
	// FQTN is the fully-qualified name, provider:tool.
	FQTN string `json:"name"`

	// RawName is the tool's name as the provider exposes it.
	RawName string `json:"-"`

	// Provider owns the tool.
	Provider string `json:"provider"`

	// Description is the provider's tool description.
	Description string `json:"description,omitempty"`

	// InputSchema is forwarded verbatim; the gateway never validates
	// arguments against it.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Result is one ranked tool.
type Result struct {
	Tool       ToolDescriptor `json:"tool"`
	Confidence float64        `json:"confidence"`
	Boost      float64        `json:"boost,omitempty"`
	Reasons    []string       `json:"reasons,omitempty"`
}

// SentinelFQTN names the pseudo-descriptor returned while the corpus is
// still empty mid-indexing.
const SentinelFQTN = "switchboard:indexing"

// Sentinel returns the indexing-in-progress pseudo-result. Clients see a
// normal descriptor and retry shortly instead of breaking their flow.
func Sentinel() Result {
	return Result{
		Tool: ToolDescriptor{
			FQTN:        SentinelFQTN,
			RawName:     "indexing",
			Provider:    "switchboard",
			Description: "Tool indexing is in progress. Results are not yet available; retry this search shortly.",
		},
		Confidence: 0,
	}
}

// candidate is one corpus entry.
type candidate struct {
	tool   ToolDescriptor
	vector []float32
	tokens []string
	kind   ProviderKind

	// toolHash ties the vector to the metadata it was computed from.
	toolHash string
}

// indexJob carries one provider's tools through the indexing queue.
type indexJob struct {
	provider string
	command  string
	tools    []ToolDescriptor
}

// indexQueueSize bounds the indexing FIFO. Index calls beyond the bound
// block, which only happens when hundreds of providers finish probing
// before the embedder accepts work.
const indexQueueSize = 256

// Engine ranks tools against natural-language queries.
type Engine struct {
	embedder Embedder

	// store persists vectors; nil disables persistence.
	store *cache.EmbeddingStore

	enhancer  *enhancer
	threshold float64
	logger    *slog.Logger

	// corpus is keyed by FQTN; ordered holds FQTNs sorted so every walk
	// of the corpus is deterministic.
	corpus  map[string]*candidate
	ordered []string
	mu      sync.RWMutex

	queue chan indexJob
	wg    sync.WaitGroup
}

// EngineConfig configures the discovery engine.
type EngineConfig struct {
	// Embedder is required; queries and corpus share it.
	Embedder Embedder

	// Store persists embeddings (optional).
	Store *cache.EmbeddingStore

	// BaseThreshold is the minimum cosine similarity for dense
	// retrieval. Zero uses the default.
	BaseThreshold float64

	// Rules are user-defined ranking rules from settings.
	Rules []config.RankingRule

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// NewEngine creates a discovery engine. Indexing starts when Start runs.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	threshold := cfg.BaseThreshold
	if threshold <= 0 {
		threshold = config.DefaultBaseThreshold
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	custom, err := compileCustomRules(cfg.Rules)
	if err != nil {
		return nil, err
	}

	return &Engine{
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		enhancer:  newEnhancer(custom),
		threshold: threshold,
		logger:    logger,
		corpus:    make(map[string]*candidate),
		queue:     make(chan indexJob, indexQueueSize),
	}, nil
}

// Start launches the single indexing worker. Index may be called before
// Start; jobs buffer in the queue and drain in call order once the
// worker runs, so rankings stay deterministic.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case job := <-e.queue:
				e.runJob(ctx, job)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop waits for the indexing worker to exit. The context passed to
// Start must be cancelled first.
func (e *Engine) Stop() {
	e.wg.Wait()
}

// Index queues one provider's tools for embedding. Existing entries for
// the provider are replaced when the job runs.
func (e *Engine) Index(ctx context.Context, provider, command string, tools []ToolDescriptor) error {
	select {
	case e.queue <- indexJob{provider: provider, command: command, tools: tools}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runJob embeds one provider's tools and installs them in the corpus.
// Candidates are installed even when embedding fails: the lexical
// fallback only needs tokens, and vectors regenerate on the next index.
func (e *Engine) runJob(ctx context.Context, job indexJob) {
	toolNames := make([]string, len(job.tools))
	texts := make([]string, len(job.tools))
	for i, tool := range job.tools {
		toolNames[i] = tool.RawName
		texts[i] = embedText(tool)
	}
	kind := ClassifyProvider(job.command, toolNames)

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		e.logger.Warn("embedding failed, falling back to lexical matching",
			"provider", job.provider,
			"error", err,
		)
		vectors = nil
	}

	candidates := make([]*candidate, len(job.tools))
	for i, tool := range job.tools {
		c := &candidate{
			tool:     tool,
			tokens:   Tokenize(tool.RawName + " " + tool.Description),
			kind:     kind,
			toolHash: ToolHash(tool),
		}
		if vectors != nil {
			c.vector = vectors[i]
		}
		candidates[i] = c
	}

	e.installProvider(job.provider, candidates)
	e.persist(ctx, job.provider, candidates)
}

// installProvider swaps one provider's corpus entries.
func (e *Engine) installProvider(provider string, candidates []*candidate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for fqtn, c := range e.corpus {
		if c.tool.Provider == provider {
			delete(e.corpus, fqtn)
		}
	}
	for _, c := range candidates {
		e.corpus[c.tool.FQTN] = c
	}
	e.reindexLocked()
}

// InstallCached installs corpus entries restored from the cache without
// touching the embedder. Entries whose hash or model no longer matches
// their stored vector are installed vector-less; the caller decides
// whether to queue regeneration.
func (e *Engine) InstallCached(provider, command string, tools []ToolDescriptor, embeddings []*cache.Embedding) {
	byFQTN := make(map[string]*cache.Embedding, len(embeddings))
	for _, emb := range embeddings {
		byFQTN[emb.FQTN] = emb
	}

	toolNames := make([]string, len(tools))
	for i, tool := range tools {
		toolNames[i] = tool.RawName
	}
	kind := ClassifyProvider(command, toolNames)

	candidates := make([]*candidate, 0, len(tools))
	for _, tool := range tools {
		c := &candidate{
			tool:     tool,
			tokens:   Tokenize(tool.RawName + " " + tool.Description),
			kind:     kind,
			toolHash: ToolHash(tool),
		}
		if emb := byFQTN[tool.FQTN]; emb != nil && emb.ToolHash == c.toolHash && emb.Model == e.embedder.Model() {
			c.vector = emb.Vector
		}
		candidates = append(candidates, c)
	}
	e.installProvider(provider, candidates)
}

// StaleTools returns the FQTNs of installed tools lacking a valid
// vector, so the orchestrator can queue regeneration.
func (e *Engine) StaleTools(provider string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var stale []string
	for _, fqtn := range e.ordered {
		c := e.corpus[fqtn]
		if c.tool.Provider == provider && c.vector == nil {
			stale = append(stale, fqtn)
		}
	}
	return stale
}

// RemoveProvider drops a provider's corpus entries and stored vectors.
func (e *Engine) RemoveProvider(ctx context.Context, provider string) error {
	e.mu.Lock()
	for fqtn, c := range e.corpus {
		if c.tool.Provider == provider {
			delete(e.corpus, fqtn)
		}
	}
	e.reindexLocked()
	e.mu.Unlock()

	if e.store != nil {
		return e.store.RemoveProvider(ctx, provider)
	}
	return nil
}

// persist writes embedded candidates to the store.
func (e *Engine) persist(ctx context.Context, provider string, candidates []*candidate) {
	if e.store == nil {
		return
	}
	for _, c := range candidates {
		if c.vector == nil {
			continue
		}
		err := e.store.Put(ctx, &cache.Embedding{
			FQTN:     c.tool.FQTN,
			Provider: provider,
			Vector:   c.vector,
			Features: cache.FeatureBundle{
				Tokens:     c.tokens,
				NameTokens: Tokenize(c.tool.RawName),
			},
			ToolHash: c.toolHash,
			Model:    e.embedder.Model(),
		})
		if err != nil {
			e.logger.Warn("failed to persist embedding",
				"tool", c.tool.FQTN,
				"error", err,
			)
		}
	}
}

// reindexLocked rebuilds the deterministic corpus walk order.
func (e *Engine) reindexLocked() {
	e.ordered = e.ordered[:0]
	for fqtn := range e.corpus {
		e.ordered = append(e.ordered, fqtn)
	}
	sort.Strings(e.ordered)
}

// Empty reports whether the corpus holds no tools.
func (e *Engine) Empty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.corpus) == 0
}

// Size returns the corpus size.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.corpus)
}

// RankOptions narrows a ranking pass.
type RankOptions struct {
	// HealthyProviders restricts candidates; nil allows all.
	HealthyProviders map[string]bool

	// MinConfidence drops results below the given confidence.
	MinConfidence float64
}

// Rank scores the corpus against a query. For a fixed corpus and
// embedding model, identical queries produce identical rankings.
func (e *Engine) Rank(ctx context.Context, query string, opts RankOptions) ([]Result, error) {
	e.mu.RLock()
	empty := len(e.corpus) == 0
	pool := make([]*candidate, 0, len(e.ordered))
	for _, fqtn := range e.ordered {
		c := e.corpus[fqtn]
		if opts.HealthyProviders != nil && !opts.HealthyProviders[c.tool.Provider] {
			continue
		}
		pool = append(pool, c)
	}
	e.mu.RUnlock()

	if empty {
		return []Result{Sentinel()}, nil
	}
	if len(pool) == 0 {
		return nil, nil
	}

	results, err := e.denseRank(ctx, query, pool)
	if err != nil {
		e.logger.Warn("dense retrieval failed, using lexical fallback", "error", err)
		results = nil
	}
	if len(results) == 0 {
		results = e.lexicalRank(query, pool)
	}

	sortResults(results)

	if opts.MinConfidence > 0 {
		filtered := results[:0]
		for _, r := range results {
			if r.Confidence >= opts.MinConfidence {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	return results, nil
}

// denseRank scores candidates by cosine similarity plus enhancement
// boosts, keeping those at or above the base threshold.
func (e *Engine) denseRank(ctx context.Context, query string, pool []*candidate) ([]Result, error) {
	vectors, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	queryVec := vectors[0]

	var results []Result
	for _, c := range pool {
		if c.vector == nil {
			continue
		}
		similarity := Cosine(queryVec, c.vector)
		if similarity < e.threshold {
			continue
		}
		enh := e.enhancer.apply(query, c)
		results = append(results, Result{
			Tool:       c.tool,
			Confidence: clamp01(similarity + enh.boost),
			Boost:      enh.boost,
			Reasons:    enh.reasons,
		})
	}
	return results, nil
}

// lexicalRank scores candidates by token overlap and substring matches.
// Enhancement boosts apply the same way, so a boost alone can surface a
// capability-bridged candidate that shares no tokens with the query.
func (e *Engine) lexicalRank(query string, pool []*candidate) []Result {
	queryTokens := Tokenize(query)

	var results []Result
	for _, c := range pool {
		score := lexicalScore(queryTokens, query, c)
		enh := e.enhancer.apply(query, c)
		total := score + enh.boost
		if total <= 0 {
			continue
		}
		results = append(results, Result{
			Tool:       c.tool,
			Confidence: clamp01(total),
			Boost:      enh.boost,
			Reasons:    enh.reasons,
		})
	}
	return results
}

// sortResults orders by confidence desc, boost desc, FQTN asc.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		if results[i].Boost != results[j].Boost {
			return results[i].Boost > results[j].Boost
		}
		return results[i].Tool.FQTN < results[j].Tool.FQTN
	})
}

func clamp01(f float64) float64 {
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// embedText is the canonical text embedded for a tool. Queries embed
// as-is; keeping this format stable is what makes cached vectors
// reusable across restarts.
func embedText(tool ToolDescriptor) string {
	if tool.Description == "" {
		return tool.RawName
	}
	return tool.RawName + ": " + tool.Description
}

// ToolHash is the content hash tying a vector to the tool metadata it
// was computed from.
func ToolHash(tool ToolDescriptor) string {
	h := sha256.New()
	h.Write([]byte(tool.FQTN))
	h.Write([]byte{0})
	h.Write([]byte(tool.Description))
	h.Write([]byte{0})
	h.Write(tool.InputSchema)
	return hex.EncodeToString(h.Sum(nil))
}

// FQTNFor builds the canonical fully-qualified name.
func FQTNFor(provider, rawName string) string {
	if strings.Contains(rawName, ":") {
		// Already qualified; trust the existing prefix.
		return rawName
	}
	return provider + ":" + rawName
}
