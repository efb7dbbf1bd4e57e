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

// Package gateway owns provider lifecycle, routing, and the composition
// of discovery, caching, and health into the two externally observable
// operations: find and run.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/config"
	"github.com/tombee/switchboard/internal/discovery"
	"github.com/tombee/switchboard/internal/metrics"
	"github.com/tombee/switchboard/internal/profile"
)

// Orchestrator composes the pool, health monitor, discovery engine, and
// caches. It owns the profile and both cache files; only its tasks
// mutate them.
type Orchestrator struct {
	settings   *config.Settings
	profiles   *profile.Store
	schemas    *profile.SchemaCache
	metadata   *cache.MetadataStore
	embeddings *cache.EmbeddingStore
	engine     *discovery.Engine
	health     *Health
	pool       *Pool
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics

	mu   sync.RWMutex
	prof *profile.Profile

	ctx         context.Context
	cancel      context.CancelFunc
	reconcileWG sync.WaitGroup
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	// Settings holds timeouts and thresholds. Nil uses defaults.
	Settings *config.Settings

	// Profiles is the profile store. Required.
	Profiles *profile.Store

	// Schemas caches provider configuration schemas (optional).
	Schemas *profile.SchemaCache

	// Metadata is the metadata cache store. Required.
	Metadata *cache.MetadataStore

	// Embeddings is the embedding store (optional).
	Embeddings *cache.EmbeddingStore

	// Engine is the discovery engine. Required.
	Engine *discovery.Engine

	// Spawn overrides connection spawning, for tests. Nil uses the real
	// stdio connection.
	Spawn SpawnFunc

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Metrics records Prometheus metrics (optional).
	Metrics *metrics.Metrics
}

// NewOrchestrator creates an orchestrator. Call Initialize before
// serving requests and Cleanup on shutdown.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("discovery engine is required")
	}

	settings := cfg.Settings
	if settings == nil {
		settings = &config.Settings{}
		settings.Normalize()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		settings:   settings,
		profiles:   cfg.Profiles,
		schemas:    cfg.Schemas,
		metadata:   cfg.Metadata,
		embeddings: cfg.Embeddings,
		engine:     cfg.Engine,
		health:     NewHealth(settings.FailureThreshold),
		logger:     logger,
		tracer:     otel.Tracer("switchboard/gateway"),
		metrics:    cfg.Metrics,
		ctx:        ctx,
		cancel:     cancel,
	}

	spawn := cfg.Spawn
	if spawn == nil {
		spawn = func(ctx context.Context, name string, spec profile.ProviderSpec) (Conn, error) {
			return NewConnection(ctx, ConnectionConfig{
				Name:         name,
				Spec:         spec,
				SpawnTimeout: settings.SpawnTimeout,
				CallTimeout:  settings.CallTimeout,
			})
		}
	}

	pool, err := NewPool(PoolConfig{
		Spawn:       spawn,
		IdleTimeout: settings.IdleTimeout,
		Logger:      logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	o.pool = pool

	return o, nil
}

// Health exposes the health monitor.
func (o *Orchestrator) Health() *Health { return o.health }

// Pool exposes the connection pool.
func (o *Orchestrator) Pool() *Pool { return o.pool }

// Profile returns a snapshot copy of the loaded profile, safe to read
// while request handling mutates the live one.
func (o *Orchestrator) Profile() *profile.Profile {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.prof == nil {
		return nil
	}
	snapshot := profile.New(o.prof.Name)
	for name, spec := range o.prof.Servers {
		snapshot.Servers[name] = spec
	}
	return snapshot
}

// Initialize loads the named profile and installs the cached tool view.
// When the cache's profile hash matches, no provider process spawns and
// the call returns immediately. Otherwise reconciliation runs in the
// background: providers are probed concurrently under a bounded fan-out
// and the cache is patched per provider as each finishes, with the
// profile hash committed last. The caller never waits for providers.
func (o *Orchestrator) Initialize(ctx context.Context, profileName string) error {
	prof, err := o.profiles.Load(profileName)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.prof = prof
	o.mu.Unlock()

	o.engine.Start(o.ctx)
	o.pool.StartSweeper(o.ctx)

	hash := prof.Hash()

	if o.metadata.ValidateAgainst(hash) {
		o.installFromCache(ctx, prof)
		o.metrics.CacheHit()
		o.logger.Info("initialized from cache",
			"profile", prof.Name,
			"providers", len(prof.Servers),
			"tools", o.engine.Size(),
		)
		return nil
	}
	o.metrics.CacheMiss()

	// Cache and profile diverge. Repair what is salvageable, install the
	// still-valid providers for immediate partial results, and reconcile
	// the rest in the background.
	if _, err := o.metadata.ValidateAndRepair(); err != nil {
		o.logger.Warn("cache repair failed, rebuilding", "error", err)
	}
	o.installFromCache(ctx, prof)

	o.reconcileWG.Add(1)
	go func() {
		defer o.reconcileWG.Done()
		o.reconcile(o.ctx, prof, hash)
	}()

	o.logger.Info("initialized, reconciling in background",
		"profile", prof.Name,
		"providers", len(prof.Servers),
	)
	return nil
}

// Reload re-reads the loaded profile from disk, e.g. after an external
// edit detected by the profile watcher, and reconciles the delta in the
// background.
func (o *Orchestrator) Reload(ctx context.Context) error {
	o.mu.RLock()
	if o.prof == nil {
		o.mu.RUnlock()
		return fmt.Errorf("orchestrator is not initialized")
	}
	name := o.prof.Name
	o.mu.RUnlock()

	prof, err := o.profiles.Load(name)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.prof = prof
	o.mu.Unlock()

	hash := prof.Hash()
	if o.metadata.ValidateAgainst(hash) {
		return nil
	}

	o.installFromCache(ctx, prof)
	o.reconcileWG.Add(1)
	go func() {
		defer o.reconcileWG.Done()
		o.reconcile(o.ctx, prof, hash)
	}()

	o.logger.Info("profile reloaded, reconciling", "profile", prof.Name)
	return nil
}

// WaitForReconcile blocks until background reconciliation settles.
// Intended for tests and the doctor command.
func (o *Orchestrator) WaitForReconcile() {
	o.reconcileWG.Wait()
}

// installFromCache loads valid cached providers into the discovery
// corpus without spawning anything.
func (o *Orchestrator) installFromCache(ctx context.Context, prof *profile.Profile) {
	md, err := o.metadata.Load()
	if err != nil {
		return
	}

	for _, name := range prof.Names() {
		entry, ok := md.Providers[name]
		if !ok || entry.Hash != profile.SpecHash(name, prof.Servers[name]) {
			continue
		}

		tools := descriptorsFor(name, entry.Tools)

		var embeddings []*cache.Embedding
		if o.embeddings != nil {
			embeddings, _ = o.embeddings.ForProviders(ctx, []string{name})
		}
		o.engine.InstallCached(name, prof.Servers[name].Command, tools, embeddings)

		// Tools whose stored vector is stale regenerate in the
		// background; lexical matching covers them meanwhile.
		if len(o.engine.StaleTools(name)) > 0 {
			_ = o.engine.Index(ctx, name, prof.Servers[name].Command, tools)
		}
	}
	o.metrics.SetIndexedTools(o.engine.Size())
}

// descriptorsFor converts cached tools to discovery descriptors.
func descriptorsFor(provider string, tools []cache.Tool) []discovery.ToolDescriptor {
	descriptors := make([]discovery.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		raw := strings.TrimPrefix(tool.Name, provider+":")
		descriptors = append(descriptors, discovery.ToolDescriptor{
			FQTN:        tool.Name,
			RawName:     raw,
			Provider:    provider,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return descriptors
}

// reconcile probes stale or missing providers and patches the cache as
// each one finishes. Provider failures are recorded, never propagated:
// one bad provider must not block the rest. The profile hash is
// committed only after every patch settles.
func (o *Orchestrator) reconcile(ctx context.Context, prof *profile.Profile, hash string) {
	// Snapshot the provider set: profile mutations racing a reconcile
	// are reconciled again by their own add/remove paths.
	o.mu.RLock()
	names := prof.Names()
	specs := make(map[string]profile.ProviderSpec, len(names))
	for _, name := range names {
		specs[name] = prof.Servers[name]
	}
	o.mu.RUnlock()

	ctx, span := o.tracer.Start(ctx, "gateway.reconcile",
		trace.WithAttributes(attribute.Int("providers", len(names))))
	defer span.End()

	sem := semaphore.NewWeighted(int64(o.settings.SpawnFanOut))
	g, gctx := errgroup.WithContext(ctx)

	for _, name := range names {
		spec := specs[name]
		if o.metadata.ProviderHash(name) == profile.SpecHash(name, spec) {
			continue
		}

		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			o.probeAndPatch(gctx, name, spec)
			return nil
		})
	}
	_ = g.Wait()

	// Drop cache entries for providers no longer in the profile.
	if md, err := o.metadata.Load(); err == nil {
		for provider := range md.Providers {
			if _, ok := specs[provider]; !ok {
				_ = o.metadata.PatchRemove(provider)
				_ = o.engine.RemoveProvider(ctx, provider)
				o.health.Forget(provider)
			}
		}
	}

	if err := o.metadata.SetProfileHash(hash); err != nil {
		o.logger.Warn("failed to commit profile hash", "error", err)
	}
	o.metrics.SetIndexedTools(o.engine.Size())
	o.logger.Info("reconciliation complete", "tools", o.engine.Size())
}

// probeAndPatch spawns one provider, probes its listings, and patches
// cache and index.
func (o *Orchestrator) probeAndPatch(ctx context.Context, name string, spec profile.ProviderSpec) {
	ctx, span := o.tracer.Start(ctx, "gateway.spawn",
		trace.WithAttributes(attribute.String("provider", name)))
	defer span.End()

	if missing := o.missingConfig(name, spec); len(missing) > 0 {
		err := ErrConfigRequired(name, missing)
		o.health.ObserveFailure(name, err.Error())
		o.logger.Warn("provider requires configuration", "provider", name, "missing", missing)
		return
	}

	conn, err := o.pool.Ensure(ctx, name, spec)
	if err != nil {
		o.health.ObserveFailure(name, err.Error())
		o.logger.Warn("provider spawn failed", "provider", name, "error", err)
		return
	}

	entry, err := conn.Probe(ctx)
	if err != nil {
		o.health.ObserveFailure(name, err.Error())
		o.logger.Warn("provider probe failed", "provider", name, "error", err)
		return
	}
	entry.Hash = profile.SpecHash(name, spec)

	o.cacheConfigSchema(name, spec, conn)

	if err := o.metadata.PatchAdd(name, entry); err != nil {
		o.logger.Warn("cache patch failed", "provider", name, "error", err)
	}
	if err := o.engine.Index(ctx, name, spec.Command, descriptorsFor(name, entry.Tools)); err != nil {
		o.logger.Warn("index queue rejected provider", "provider", name, "error", err)
	}

	o.health.ObserveSuccess(name)
	o.metrics.SetPoolLive(o.pool.Live())
	o.logger.Info("provider probed", "provider", name, "tools", len(entry.Tools))
}

// cacheConfigSchema persists the provider's configuration declaration:
// the schema advertised during initialization wins, with a companion
// manifest next to the provider package as fallback. Cached schemas let
// later starts fail fast with config_required instead of a doomed
// spawn.
func (o *Orchestrator) cacheConfigSchema(name string, spec profile.ProviderSpec, conn Conn) {
	if o.schemas == nil {
		return
	}

	schema := conn.ConfigSchema()
	if schema == nil {
		var err error
		schema, err = profile.LoadCompanionSchema(name, spec)
		if err != nil {
			o.logger.Warn("companion schema unreadable", "provider", name, "error", err)
			return
		}
	}
	if schema == nil {
		return
	}

	if err := o.schemas.Put(schema); err != nil {
		o.logger.Warn("failed to cache config schema", "provider", name, "error", err)
	}
}

// missingConfig consults the cached configuration schema.
func (o *Orchestrator) missingConfig(name string, spec profile.ProviderSpec) []string {
	if o.schemas == nil {
		return nil
	}
	schema, err := o.schemas.Get(name)
	if err != nil || schema == nil {
		return nil
	}
	return schema.MissingRequired(spec)
}

// FindRequest is one discovery query.
type FindRequest struct {
	Query               string
	Limit               int
	Page                int
	Detailed            bool
	ConfidenceThreshold float64
}

// FindResponse is a ranked page of tools.
type FindResponse struct {
	Results []discovery.Result
	Total   int
	Page    int

	// Indexing reports that the corpus was empty and the single result
	// is the indexing-in-progress sentinel.
	Indexing bool
}

// Find ranks tools for a query, restricted to healthy providers. When
// the corpus has any tools it answers immediately with what is indexed
// so far; when empty mid-indexing it returns the sentinel descriptor
// rather than blocking.
func (o *Orchestrator) Find(ctx context.Context, req FindRequest) (*FindResponse, error) {
	ctx, span := o.tracer.Start(ctx, "gateway.find")
	defer span.End()

	start := time.Now()
	defer func() { o.metrics.ObserveFind(time.Since(start)) }()

	if req.Limit <= 0 {
		req.Limit = 5
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	ctx, cancel := context.WithTimeout(ctx, o.settings.FindTimeout)
	defer cancel()

	o.mu.RLock()
	if o.prof == nil {
		o.mu.RUnlock()
		return nil, fmt.Errorf("orchestrator is not initialized")
	}
	names := o.prof.Names()
	o.mu.RUnlock()

	healthy := o.health.HealthyProviders(names)
	o.metrics.SetHealthy(len(healthy))

	results, err := o.engine.Rank(ctx, req.Query, discovery.RankOptions{
		HealthyProviders: healthy,
		MinConfidence:    req.ConfidenceThreshold,
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 1 && results[0].Tool.FQTN == discovery.SentinelFQTN {
		return &FindResponse{Results: results, Total: 1, Page: 1, Indexing: true}, nil
	}

	if !req.Detailed {
		for i := range results {
			results[i].Tool.InputSchema = nil
		}
	}

	total := len(results)
	offset := (req.Page - 1) * req.Limit
	if offset > total {
		offset = total
	}
	end := offset + req.Limit
	if end > total {
		end = total
	}

	return &FindResponse{
		Results: results[offset:end],
		Total:   total,
		Page:    req.Page,
	}, nil
}

// RunResult is a normalized provider response. Text parts concatenate
// with newlines; non-text parts keep their structured form; an empty
// content list yields an empty string.
type RunResult struct {
	Text    string
	Content []mcp.Content
	IsError bool
}

// Run resolves an FQTN, ensures its provider connection, and issues the
// call. meta passes through to the provider's request unchanged. timeout
// overrides the default per-call budget when positive.
func (o *Orchestrator) Run(ctx context.Context, fqtn string, args map[string]any, meta map[string]any, timeout time.Duration) (*RunResult, error) {
	providerName, toolName, err := ParseFQTN(fqtn)
	if err != nil {
		return nil, err
	}

	callID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "gateway.run", trace.WithAttributes(
		attribute.String("tool", fqtn),
		attribute.String("call_id", callID),
	))
	defer span.End()

	o.mu.RLock()
	if o.prof == nil {
		o.mu.RUnlock()
		return nil, fmt.Errorf("orchestrator is not initialized")
	}
	spec, ok := o.prof.Servers[providerName]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrNotConfigured(providerName)
	}

	if !o.health.Allow(providerName) {
		rec := o.health.Record(providerName)
		return nil, ErrProviderUnavailable(providerName, rec.LastFailureReason)
	}

	if missing := o.missingConfig(providerName, spec); len(missing) > 0 {
		return nil, ErrConfigRequired(providerName, missing)
	}

	start := time.Now()
	logger := o.logger.With("provider", providerName, "tool", fqtn, "call_id", callID)

	conn, err := o.pool.Ensure(ctx, providerName, spec)
	if err != nil {
		o.health.ObserveFailure(providerName, err.Error())
		o.metrics.ObserveCall(providerName, time.Since(start), string(KindOf(err)))
		logger.Warn("spawn failed", "error", err)
		return nil, err
	}

	result, err := conn.Call(ctx, toolName, args, meta, timeout)
	duration := time.Since(start)
	if err != nil {
		kind := KindOf(err)
		// Cancellation reflects the client, not provider health.
		if kind != KindCancelled {
			o.health.ObserveFailure(providerName, err.Error())
		}
		o.metrics.ObserveCall(providerName, duration, string(kind))
		logger.Warn("call failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	o.health.ObserveSuccess(providerName)
	o.metrics.ObserveCall(providerName, duration, "")
	logger.Debug("call complete", "duration_ms", duration.Milliseconds())

	return normalizeResult(result), nil
}

// Resources aggregates cached resource listings across configured
// providers. Providers whose probe never listed resources contribute
// nothing; a missing listing is never fatal.
func (o *Orchestrator) Resources() []cache.Resource {
	md, err := o.metadata.Load()
	if err != nil {
		return nil
	}

	configured := o.configuredSet()

	var resources []cache.Resource
	for _, name := range sortedProviders(md) {
		if configured != nil && !configured[name] {
			continue
		}
		resources = append(resources, md.Providers[name].Resources...)
	}
	return resources
}

// configuredSet snapshots the configured provider names, or nil before
// initialization.
func (o *Orchestrator) configuredSet() map[string]bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.prof == nil {
		return nil
	}
	set := make(map[string]bool, len(o.prof.Servers))
	for name := range o.prof.Servers {
		set[name] = true
	}
	return set
}

// Prompts aggregates cached prompt listings across configured providers.
func (o *Orchestrator) Prompts() []cache.Prompt {
	md, err := o.metadata.Load()
	if err != nil {
		return nil
	}

	configured := o.configuredSet()

	var prompts []cache.Prompt
	for _, name := range sortedProviders(md) {
		if configured != nil && !configured[name] {
			continue
		}
		prompts = append(prompts, md.Providers[name].Prompts...)
	}
	return prompts
}

func sortedProviders(md *cache.Metadata) []string {
	names := make([]string, 0, len(md.Providers))
	for name := range md.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadResource routes a resource read to the provider whose cached
// listing owns the URI.
func (o *Orchestrator) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	providerName, err := o.resourceOwner(uri)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	spec, ok := o.prof.Servers[providerName]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrNotConfigured(providerName)
	}

	conn, err := o.pool.Ensure(ctx, providerName, spec)
	if err != nil {
		return nil, err
	}
	return conn.ReadResource(ctx, uri)
}

// resourceOwner finds which provider listed a URI.
func (o *Orchestrator) resourceOwner(uri string) (string, error) {
	md, err := o.metadata.Load()
	if err != nil {
		return "", err
	}

	for _, name := range sortedProviders(md) {
		for _, res := range md.Providers[name].Resources {
			if res.URI == uri {
				return name, nil
			}
		}
	}
	return "", NewError(KindInvalidRequest, fmt.Sprintf("no provider owns resource %q", uri))
}

// GetPrompt routes a prompt fetch to the provider whose cached listing
// owns the name.
func (o *Orchestrator) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	md, err := o.metadata.Load()
	if err != nil {
		return nil, err
	}

	for _, p := range sortedProviders(md) {
		for _, prompt := range md.Providers[p].Prompts {
			if prompt.Name != name {
				continue
			}
			o.mu.RLock()
			spec, ok := o.prof.Servers[p]
			o.mu.RUnlock()
			if !ok {
				continue
			}
			conn, err := o.pool.Ensure(ctx, p, spec)
			if err != nil {
				return nil, err
			}
			return conn.GetPrompt(ctx, name, args)
		}
	}
	return nil, NewError(KindInvalidRequest, fmt.Sprintf("no provider owns prompt %q", name))
}

// AddProvider adds a provider to the profile, probes it, and patches the
// caches coherently. Auto-sync and the CLI both route through here.
func (o *Orchestrator) AddProvider(ctx context.Context, name string, spec profile.ProviderSpec) error {
	o.mu.Lock()
	prof := o.prof
	if prof == nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is not initialized")
	}
	if err := prof.Add(name, spec); err != nil {
		o.mu.Unlock()
		return err
	}
	err := o.profiles.Save(prof)
	hash := prof.Hash()
	o.mu.Unlock()
	if err != nil {
		return err
	}

	o.probeAndPatch(ctx, name, spec)
	return o.metadata.SetProfileHash(hash)
}

// RemoveProvider removes a provider from the profile and evicts its
// connection, cache entries, embeddings, and health record.
func (o *Orchestrator) RemoveProvider(ctx context.Context, name string) error {
	o.mu.Lock()
	prof := o.prof
	if prof == nil {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is not initialized")
	}
	if err := prof.Remove(name); err != nil {
		o.mu.Unlock()
		return err
	}
	err := o.profiles.Save(prof)
	hash := prof.Hash()
	o.mu.Unlock()
	if err != nil {
		return err
	}

	o.pool.Remove(name)
	if err := o.metadata.PatchRemove(name); err != nil {
		return err
	}
	if err := o.engine.RemoveProvider(ctx, name); err != nil {
		o.logger.Warn("failed to remove embeddings", "provider", name, "error", err)
	}
	o.health.Forget(name)
	if o.schemas != nil {
		_ = o.schemas.Remove(name)
	}
	o.metrics.SetIndexedTools(o.engine.Size())

	return o.metadata.SetProfileHash(hash)
}

// Stats reports cache statistics for the doctor command.
func (o *Orchestrator) Stats() cache.Stats {
	return o.metadata.Stats()
}

// Cleanup stops background tasks, closes all connections, and releases
// the caches.
func (o *Orchestrator) Cleanup() error {
	o.cancel()
	o.reconcileWG.Wait()
	o.engine.Stop()

	err := o.pool.Close()
	if o.embeddings != nil {
		if closeErr := o.embeddings.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
