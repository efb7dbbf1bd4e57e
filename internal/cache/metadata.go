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

// Package cache persists tool metadata and embeddings across restarts so
// warm starts never probe providers. The metadata document supports
// per-provider patches: adding or removing one provider rewrites one
// entry, not the whole corpus.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MetadataVersion is the current metadata.json layout version.
const MetadataVersion = 2

// Tool is a cached tool listing entry. Name is always the fully-qualified
// form provider:tool; readers of legacy caches see unprefixed names
// normalized on load.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource is a cached resource listing entry.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt is a cached prompt listing entry.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ServerInfo captures what a provider reported during initialization.
type ServerInfo struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`

	// ParallelToolCalls is true when the provider advertises support for
	// concurrent calls on one connection. Routing serializes otherwise.
	ParallelToolCalls bool `json:"parallelToolCalls,omitempty"`

	// Resources and Prompts report whether the capability was advertised.
	Resources bool `json:"resources,omitempty"`
	Prompts   bool `json:"prompts,omitempty"`
}

// ProviderEntry is one provider's cached listings.
type ProviderEntry struct {
	Tools      []Tool     `json:"tools,omitempty"`
	Resources  []Resource `json:"resources,omitempty"`
	Prompts    []Prompt   `json:"prompts,omitempty"`
	ServerInfo ServerInfo `json:"serverInfo"`

	// Hash is the content hash of the provider's spec at probe time.
	Hash string `json:"hash"`
}

// Metadata is the full metadata.json document.
type Metadata struct {
	Version       int                       `json:"version"`
	ProfileHash   string                    `json:"profileHash"`
	CreatedAt     time.Time                 `json:"createdAt"`
	LastUpdatedAt time.Time                 `json:"lastUpdatedAt"`
	TotalTools    int                       `json:"totalTools"`
	Providers     map[string]*ProviderEntry `json:"providers"`
}

// Stats summarizes cache contents.
type Stats struct {
	MCPCount       int
	ToolCount      int
	MetadataExists bool
}

// MetadataStore owns metadata.json. Writes are atomic (temp + rename) and
// serialized by an in-process mutex; readers see the last committed file.
type MetadataStore struct {
	path string
	mu   sync.Mutex

	// loaded is the in-memory view, nil until Load or the first patch.
	loaded *Metadata
}

// NewMetadataStore creates a store for metadata.json under dir.
func NewMetadataStore(dir string) *MetadataStore {
	return &MetadataStore{path: filepath.Join(dir, "metadata.json")}
}

// Load reads and normalizes metadata.json. A missing file returns an
// empty document; a corrupt one returns an error with ErrCorrupt in its
// chain so callers can re-probe. The returned document is a snapshot:
// later patches do not show through, and readers never race the writer.
func (s *MetadataStore) Load() (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.loadLocked()
	if err != nil {
		return nil, err
	}

	snapshot := *md
	snapshot.Providers = make(map[string]*ProviderEntry, len(md.Providers))
	for name, entry := range md.Providers {
		snapshot.Providers[name] = entry
	}
	return &snapshot, nil
}

// ErrCorrupt marks unrecoverable parse failures. The orchestrator treats
// them as a signal to rebuild, never as fatal.
var ErrCorrupt = fmt.Errorf("cache corrupt")

func (s *MetadataStore) loadLocked() (*Metadata, error) {
	if s.loaded != nil {
		return s.loaded, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = emptyMetadata()
			return s.loaded, nil
		}
		return nil, fmt.Errorf("failed to read metadata cache: %w", err)
	}

	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("%w: metadata.json: %v", ErrCorrupt, err)
	}

	normalize(&md)
	s.loaded = &md
	return s.loaded, nil
}

func emptyMetadata() *Metadata {
	now := time.Now().UTC()
	return &Metadata{
		Version:   MetadataVersion,
		CreatedAt: now,
		Providers: make(map[string]*ProviderEntry),
	}
}

// normalize migrates legacy layouts to the current one in a single pass.
// After normalize the in-memory structure is canonical: tool names carry
// the provider prefix, counters are consistent, maps are non-nil.
func normalize(md *Metadata) {
	if md.Providers == nil {
		md.Providers = make(map[string]*ProviderEntry)
	}
	total := 0
	for provider, entry := range md.Providers {
		if entry == nil {
			entry = &ProviderEntry{}
			md.Providers[provider] = entry
		}
		for i, tool := range entry.Tools {
			// Legacy caches stored bare tool names; prepend the owning
			// provider so every reader sees the canonical form.
			if !strings.Contains(tool.Name, ":") {
				entry.Tools[i].Name = provider + ":" + tool.Name
			}
		}
		total += len(entry.Tools)
	}
	md.TotalTools = total
	md.Version = MetadataVersion
}

// PatchAdd merges one provider's listings into the cache. Tool names are
// rejected when not canonical for the given provider: writers emit the
// prefixed form only.
func (s *MetadataStore) PatchAdd(provider string, entry *ProviderEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.loadLocked()
	if err != nil {
		return err
	}

	for _, tool := range entry.Tools {
		if !strings.HasPrefix(tool.Name, provider+":") {
			return fmt.Errorf("tool %q is not qualified for provider %q", tool.Name, provider)
		}
	}

	md.Providers[provider] = entry
	s.recountLocked(md)
	return s.commitLocked(md)
}

// PatchRemove deletes one provider's listings. Removing an absent
// provider is a no-op.
func (s *MetadataStore) PatchRemove(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.loadLocked()
	if err != nil {
		return err
	}

	if _, ok := md.Providers[provider]; !ok {
		return nil
	}
	delete(md.Providers, provider)
	s.recountLocked(md)
	return s.commitLocked(md)
}

// SetProfileHash records the profile hash. The orchestrator calls this
// last, after all concurrent patches settle, so a matching hash implies a
// complete cache.
func (s *MetadataStore) SetProfileHash(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.loadLocked()
	if err != nil {
		return err
	}
	md.ProfileHash = hash
	return s.commitLocked(md)
}

// ValidateAgainst reports whether the stored profile hash matches.
func (s *MetadataStore) ValidateAgainst(profileHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.loadLocked()
	if err != nil {
		return false
	}
	return md.ProfileHash != "" && md.ProfileHash == profileHash
}

// ValidateAndRepair checks parseability and per-provider hash presence.
// Providers with missing or empty hashes are truncated and their names
// returned so the orchestrator re-probes them. A wholly corrupt document
// is reset to empty and no names are returned; with its profile hash
// cleared, the next reconcile re-probes every provider.
func (s *MetadataStore) ValidateAndRepair() (reprobe []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, loadErr := s.loadLocked()
	if loadErr != nil {
		// Unparseable: start over.
		s.loaded = emptyMetadata()
		if commitErr := s.commitLocked(s.loaded); commitErr != nil {
			return nil, commitErr
		}
		return nil, nil
	}

	for provider, entry := range md.Providers {
		if entry.Hash == "" {
			delete(md.Providers, provider)
			reprobe = append(reprobe, provider)
		}
	}
	if len(reprobe) > 0 {
		s.recountLocked(md)
		if err := s.commitLocked(md); err != nil {
			return nil, err
		}
	}
	return reprobe, nil
}

// Stats returns summary counts without failing on a missing file.
func (s *MetadataStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	md, err := s.loadLocked()
	if err != nil {
		return Stats{MetadataExists: statErr == nil}
	}
	return Stats{
		MCPCount:       len(md.Providers),
		ToolCount:      md.TotalTools,
		MetadataExists: statErr == nil,
	}
}

// ProviderHash returns the cached spec hash for a provider, or "".
func (s *MetadataStore) ProviderHash(provider string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	md, err := s.loadLocked()
	if err != nil {
		return ""
	}
	if entry, ok := md.Providers[provider]; ok {
		return entry.Hash
	}
	return ""
}

func (s *MetadataStore) recountLocked(md *Metadata) {
	total := 0
	for _, entry := range md.Providers {
		total += len(entry.Tools)
	}
	md.TotalTools = total
}

func (s *MetadataStore) commitLocked(md *Metadata) error {
	md.LastUpdatedAt = time.Now().UTC()
	if md.CreatedAt.IsZero() {
		md.CreatedAt = md.LastUpdatedAt
	}

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata cache: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit metadata cache: %w", err)
	}

	s.loaded = md
	return nil
}
