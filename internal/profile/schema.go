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

package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigField declares one environment variable or argument a provider
// needs before it can start. Advertised by the provider during
// initialization or sourced from a companion manifest next to the
// provider package. The gateway only caches these; prompting the user is
// the add front-end's job.
type ConfigField struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Sensitive   bool     `json:"sensitive,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Default     string   `json:"default,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}

// ConfigSchema is the set of declared configuration requirements for a
// provider.
type ConfigSchema struct {
	Provider  string        `json:"provider"`
	EnvVars   []ConfigField `json:"envVars,omitempty"`
	Arguments []ConfigField `json:"arguments,omitempty"`
}

// MissingRequired returns the names of required env vars absent from the
// given spec. Used to surface config_required before a doomed spawn.
func (s *ConfigSchema) MissingRequired(spec ProviderSpec) []string {
	var missing []string
	for _, field := range s.EnvVars {
		if !field.Required {
			continue
		}
		if _, ok := spec.Env[field.Name]; !ok {
			missing = append(missing, field.Name)
		}
	}
	return missing
}

// CompanionSchemaFile is the manifest name looked up next to a provider
// package for providers that do not advertise their configuration
// schema over the protocol.
const CompanionSchemaFile = "config.schema.json"

// ParseSchema decodes a configuration schema from an arbitrary
// JSON-shaped value, as found in a provider's experimental capabilities.
// The provider name is stamped on; a value that is not schema-shaped
// yields an error.
func ParseSchema(provider string, value any) (*ConfigSchema, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("provider %q: unencodable config schema: %w", provider, err)
	}

	var schema ConfigSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("provider %q: malformed config schema: %w", provider, err)
	}
	if len(schema.EnvVars) == 0 && len(schema.Arguments) == 0 {
		return nil, fmt.Errorf("provider %q: config schema declares nothing", provider)
	}
	schema.Provider = provider
	return &schema, nil
}

// LoadCompanionSchema reads the companion manifest next to the
// provider's command, when the command names a path. Returns nil
// without error when no manifest exists, or for bare commands resolved
// through PATH.
func LoadCompanionSchema(provider string, spec ProviderSpec) (*ConfigSchema, error) {
	dir := filepath.Dir(spec.Command)
	if dir == "." {
		return nil, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, CompanionSchemaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("provider %q: failed to read companion schema: %w", provider, err)
	}

	var schema ConfigSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("provider %q: malformed companion schema: %w", provider, err)
	}
	schema.Provider = provider
	return &schema, nil
}

// SchemaCache persists provider configuration schemas as
// <provider>.schema.json files under a directory.
type SchemaCache struct {
	dir string
}

// NewSchemaCache creates a cache rooted at dir.
func NewSchemaCache(dir string) *SchemaCache {
	return &SchemaCache{dir: dir}
}

// Put stores a provider's schema.
func (c *SchemaCache) Put(schema *ConfigSchema) error {
	if err := ValidateName(schema.Provider); err != nil {
		return err
	}
	if err := os.MkdirAll(c.dir, 0700); err != nil {
		return fmt.Errorf("failed to create schemas directory: %w", err)
	}

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode schema for %q: %w", schema.Provider, err)
	}
	data = append(data, '\n')

	path := filepath.Join(c.dir, schema.Provider+".schema.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write schema for %q: %w", schema.Provider, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit schema for %q: %w", schema.Provider, err)
	}
	return nil
}

// Get loads a provider's schema. Returns nil without error when no schema
// has been cached.
func (c *SchemaCache) Get(provider string) (*ConfigSchema, error) {
	if err := ValidateName(provider); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(c.dir, provider+".schema.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read schema for %q: %w", provider, err)
	}

	var schema ConfigSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema for %q: %w", provider, err)
	}
	return &schema, nil
}

// Remove deletes a provider's cached schema, ignoring absence.
func (c *SchemaCache) Remove(provider string) error {
	if err := ValidateName(provider); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(c.dir, provider+".schema.json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
