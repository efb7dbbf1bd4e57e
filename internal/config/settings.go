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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the gateway configuration file, stored at
// <config>/settings.yaml. All fields are optional; zero values fall back
// to the defaults below.
type Settings struct {
	// SpawnTimeout bounds provider spawn plus the initialize handshake.
	SpawnTimeout time.Duration `yaml:"spawn_timeout,omitempty"`

	// CallTimeout is the default per-call budget for run.
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`

	// FindTimeout is the wall-clock budget for the whole rank pipeline.
	FindTimeout time.Duration `yaml:"find_timeout,omitempty"`

	// IdleTimeout is the idle threshold for connection eviction.
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`

	// SpawnFanOut bounds concurrent provider spawning during reconciliation.
	SpawnFanOut int `yaml:"spawn_fan_out,omitempty"`

	// FailureThreshold is the consecutive-failure count that marks a
	// provider unhealthy.
	FailureThreshold int `yaml:"failure_threshold,omitempty"`

	// BaseThreshold is the minimum cosine similarity for dense retrieval.
	BaseThreshold float64 `yaml:"base_threshold,omitempty"`

	// Embedding selects and configures the embedding backend.
	Embedding EmbeddingSettings `yaml:"embedding,omitempty"`

	// RateLimit configures façade rate limiting.
	RateLimit RateLimitSettings `yaml:"rate_limit,omitempty"`

	// Rules are user-defined ranking rules layered onto the built-in
	// enhancement rules. Conditions are expr-lang expressions evaluated
	// against {query, tool, provider, description}.
	Rules []RankingRule `yaml:"rules,omitempty"`
}

// EmbeddingSettings selects the embedding backend.
type EmbeddingSettings struct {
	// Backend is "local" (deterministic feature hashing, no network) or
	// "openai" (any OpenAI-compatible embeddings endpoint, including
	// local ollama and vllm deployments).
	Backend string `yaml:"backend,omitempty"`

	// BaseURL overrides the endpoint for the openai backend.
	BaseURL string `yaml:"base_url,omitempty"`

	// Model is the embedding model name for the openai backend.
	Model string `yaml:"model,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in the settings file.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

// RateLimitSettings configures façade token buckets.
type RateLimitSettings struct {
	// RunsPerMinute caps run calls. 0 uses the default.
	RunsPerMinute int `yaml:"runs_per_minute,omitempty"`

	// CallsPerMinute caps all tool calls. 0 uses the default.
	CallsPerMinute int `yaml:"calls_per_minute,omitempty"`
}

// RankingRule is a user-defined discovery boost.
type RankingRule struct {
	// Name identifies the rule in ranking explanations.
	Name string `yaml:"name"`

	// When is an expr-lang condition over query, tool, provider, and
	// description. The rule applies when it evaluates to true.
	When string `yaml:"when"`

	// Boost is added to the candidate's score when the rule applies.
	Boost float64 `yaml:"boost"`

	// Reason is attached to the ranked result when the rule applies.
	Reason string `yaml:"reason,omitempty"`
}

// Default values applied by Normalize.
const (
	DefaultSpawnTimeout     = 30 * time.Second
	DefaultCallTimeout      = 45 * time.Second
	DefaultFindTimeout      = 2 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultSpawnFanOut      = 16
	DefaultFailureThreshold = 3
	DefaultBaseThreshold    = 0.35
	DefaultRunsPerMinute    = 30
	DefaultCallsPerMinute   = 120
)

// Normalize fills zero-valued fields with defaults.
func (s *Settings) Normalize() {
	if s.SpawnTimeout <= 0 {
		s.SpawnTimeout = DefaultSpawnTimeout
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = DefaultCallTimeout
	}
	if s.FindTimeout <= 0 {
		s.FindTimeout = DefaultFindTimeout
	}
	if s.IdleTimeout <= 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.SpawnFanOut <= 0 {
		s.SpawnFanOut = DefaultSpawnFanOut
	}
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.BaseThreshold <= 0 {
		s.BaseThreshold = DefaultBaseThreshold
	}
	if s.Embedding.Backend == "" {
		s.Embedding.Backend = "local"
	}
	if s.RateLimit.RunsPerMinute <= 0 {
		s.RateLimit.RunsPerMinute = DefaultRunsPerMinute
	}
	if s.RateLimit.CallsPerMinute <= 0 {
		s.RateLimit.CallsPerMinute = DefaultCallsPerMinute
	}
}

// Validate rejects settings the gateway cannot honor.
func (s *Settings) Validate() error {
	switch s.Embedding.Backend {
	case "", "local", "openai":
	default:
		return fmt.Errorf("unknown embedding backend %q", s.Embedding.Backend)
	}
	if s.BaseThreshold < 0 || s.BaseThreshold > 1 {
		return fmt.Errorf("base_threshold must be within [0,1], got %v", s.BaseThreshold)
	}
	for _, r := range s.Rules {
		if r.Name == "" {
			return fmt.Errorf("ranking rule without a name")
		}
		if r.When == "" {
			return fmt.Errorf("ranking rule %q has no condition", r.Name)
		}
	}
	return nil
}

// LoadSettings reads settings.yaml from the config directory. A missing
// file yields defaults rather than an error.
func LoadSettings() (*Settings, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadSettingsFrom(filepath.Join(dir, "settings.yaml"))
}

// LoadSettingsFrom reads settings from an explicit path.
func LoadSettingsFrom(path string) (*Settings, error) {
	var s Settings

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.Normalize()
			return &s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}
