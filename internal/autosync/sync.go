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

package autosync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/itchyny/gojq"

	"github.com/tombee/switchboard/internal/profile"
)

// AddFunc adds one provider through the orchestrator's add path so the
// cache and embedding index are patched coherently.
type AddFunc func(ctx context.Context, name string, spec profile.ProviderSpec) error

// Syncer imports providers from detected upstream clients.
type Syncer struct {
	clients []Client
	logger  *slog.Logger
}

// SyncerConfig configures the syncer.
type SyncerConfig struct {
	// Clients overrides the detection matrix; nil uses DefaultClients.
	Clients []Client

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	clients := cfg.Clients
	if clients == nil {
		clients = DefaultClients()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{clients: clients, logger: logger}
}

// Sync scans every detected client and adds providers the profile lacks.
// Existing providers are never overwritten. Returns the added names;
// running twice against unchanged upstream configuration adds zero the
// second time.
func (s *Syncer) Sync(ctx context.Context, prof *profile.Profile, add AddFunc) ([]string, error) {
	var added []string
	imported := make(map[string]bool)

	for _, client := range s.clients {
		discovered, err := s.discover(client)
		if err != nil {
			s.logger.Warn("client sync failed", "client", client.Name, "error", err)
			continue
		}

		for _, name := range sortedKeys(discovered) {
			if prof.Has(name) || imported[name] {
				continue
			}
			spec := discovered[name]
			spec.Source = "import:" + client.Name

			if err := add(ctx, name, spec); err != nil {
				s.logger.Warn("failed to import provider",
					"client", client.Name,
					"provider", name,
					"error", err,
				)
				continue
			}
			s.logger.Info("imported provider", "client", client.Name, "provider", name)
			imported[name] = true
			added = append(added, name)
		}
	}

	return added, nil
}

// discover extracts provider specs from one client's config document
// and extension bundles.
func (s *Syncer) discover(client Client) (map[string]profile.ProviderSpec, error) {
	specs := make(map[string]profile.ProviderSpec)

	if path := client.configPath(); path != "" {
		fromConfig, err := parseConfig(path, client.Query)
		if err != nil {
			return nil, err
		}
		for name, spec := range fromConfig {
			specs[name] = spec
		}
	}

	for _, pattern := range client.extensionGlobs() {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			s.logger.Warn("bad extension pattern", "client", client.Name, "pattern", pattern, "error", err)
			continue
		}
		for _, manifest := range matches {
			name, spec, err := parseExtensionManifest(manifest)
			if err != nil {
				s.logger.Warn("skipping unreadable extension manifest",
					"client", client.Name,
					"manifest", manifest,
					"error", err,
				)
				continue
			}
			specs[name] = spec
		}
	}

	for name := range specs {
		if err := profile.ValidateName(name); err != nil {
			delete(specs, name)
		}
		if specs[name].Command == "" {
			delete(specs, name)
		}
	}
	return specs, nil
}

// rawSpec is the on-disk provider shape shared by upstream clients.
type rawSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// parseConfig reads a client config document. Standard documents carry
// a top-level mcpServers object; non-standard shapes are reshaped by
// the client's gojq query first.
func parseConfig(path, query string) (map[string]profile.ProviderSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var serversDoc any
	if query != "" {
		serversDoc, err = runQuery(query, doc)
		if err != nil {
			return nil, fmt.Errorf("query failed for %s: %w", path, err)
		}
	} else {
		m, ok := doc.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: expected a JSON object", path)
		}
		serversDoc = m["mcpServers"]
	}
	if serversDoc == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(serversDoc)
	if err != nil {
		return nil, err
	}
	var raw map[string]rawSpec
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return nil, fmt.Errorf("%s: unexpected server map shape: %w", path, err)
	}

	specs := make(map[string]profile.ProviderSpec, len(raw))
	for name, r := range raw {
		specs[name] = profile.ProviderSpec{
			Command: r.Command,
			Args:    r.Args,
			Env:     r.Env,
		}
	}
	return specs, nil
}

// runQuery executes a gojq program against a decoded JSON document and
// returns its single output.
func runQuery(query string, doc any) (any, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	iter := parsed.Run(doc)
	out, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := out.(error); isErr {
		return nil, err
	}
	return out, nil
}

// extensionManifest is the bundle manifest shape used by extension
// directories.
type extensionManifest struct {
	Name   string `json:"name"`
	Server struct {
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env"`
	} `json:"server"`
}

// parseExtensionManifest reads one extension bundle manifest. Relative
// commands resolve against the bundle directory.
func parseExtensionManifest(path string) (string, profile.ProviderSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", profile.ProviderSpec{}, err
	}

	var manifest extensionManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", profile.ProviderSpec{}, err
	}
	if manifest.Name == "" || manifest.Server.Command == "" {
		return "", profile.ProviderSpec{}, fmt.Errorf("manifest %s missing name or command", path)
	}

	command := manifest.Server.Command
	if !filepath.IsAbs(command) && (len(command) > 1 && (command[0] == '.' || filepath.Base(command) != command)) {
		command = filepath.Join(filepath.Dir(path), command)
	}

	return manifest.Name, profile.ProviderSpec{
		Command: command,
		Args:    manifest.Server.Args,
		Env:     manifest.Server.Env,
	}, nil
}

func sortedKeys(m map[string]profile.ProviderSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
