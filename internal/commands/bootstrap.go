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

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/config"
	"github.com/tombee/switchboard/internal/discovery"
	"github.com/tombee/switchboard/internal/gateway"
	"github.com/tombee/switchboard/internal/log"
	"github.com/tombee/switchboard/internal/metrics"
	"github.com/tombee/switchboard/internal/profile"
)

// app bundles the wired gateway components shared by all commands.
type app struct {
	logger     *slog.Logger
	settings   *config.Settings
	profiles   *profile.Store
	orch       *gateway.Orchestrator
	metrics    *metrics.Metrics
	registry   *prometheus.Registry
	embeddings *cache.EmbeddingStore
}

// newApp wires settings, stores, discovery, and the orchestrator.
func newApp() (*app, error) {
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}

	profilesDir, err := config.ProfilesDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profiles directory: %w", err)
	}
	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	schemasDir, err := config.SchemasDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schemas directory: %w", err)
	}

	embeddings, err := cache.OpenEmbeddingStore(cacheDir)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(settings)
	if err != nil {
		embeddings.Close()
		return nil, err
	}

	engine, err := discovery.NewEngine(discovery.EngineConfig{
		Embedder:      embedder,
		Store:         embeddings,
		BaseThreshold: settings.BaseThreshold,
		Rules:         settings.Rules,
		Logger:        logger,
	})
	if err != nil {
		embeddings.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	profiles := profile.NewStore(profilesDir)
	orch, err := gateway.NewOrchestrator(gateway.OrchestratorConfig{
		Settings:   settings,
		Profiles:   profiles,
		Schemas:    profile.NewSchemaCache(schemasDir),
		Metadata:   cache.NewMetadataStore(cacheDir),
		Embeddings: embeddings,
		Engine:     engine,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		embeddings.Close()
		return nil, err
	}

	return &app{
		logger:     logger,
		settings:   settings,
		profiles:   profiles,
		orch:       orch,
		metrics:    m,
		registry:   registry,
		embeddings: embeddings,
	}, nil
}

// buildEmbedder selects the embedding backend from settings.
func buildEmbedder(settings *config.Settings) (discovery.Embedder, error) {
	switch settings.Embedding.Backend {
	case "openai":
		return discovery.NewOpenAIEmbedder(discovery.OpenAIEmbedderConfig{
			BaseURL:   settings.Embedding.BaseURL,
			Model:     settings.Embedding.Model,
			APIKeyEnv: settings.Embedding.APIKeyEnv,
		})
	default:
		return discovery.NewLocalEmbedder(), nil
	}
}

// serveMetrics exposes /metrics on the address from
// SWITCHBOARD_METRICS_ADDR, when set. Stdio stays reserved for the
// protocol.
func (a *app) serveMetrics(ctx context.Context) {
	addr := os.Getenv("SWITCHBOARD_METRICS_ADDR")
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Warn("metrics listener failed", "error", err)
		}
	}()
}

// close releases the orchestrator and its caches.
func (a *app) close() {
	if err := a.orch.Cleanup(); err != nil {
		a.logger.Warn("cleanup failed", "error", err)
	}
}
