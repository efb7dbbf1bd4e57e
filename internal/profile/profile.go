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

// Package profile manages the declarative set of downstream providers.
//
// A profile is a JSON document with a top-level mcpServers object, the
// same shape used by widely deployed MCP clients, so raw client config
// files can be imported without translation. Profiles are the source of
// truth for what should be running; request handling never mutates them.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// NameRegex validates provider names. Names must start with a letter and
// contain only letters, numbers, hyphens, and underscores. Maximum length
// is 64 characters. Colons are excluded because the colon separates the
// provider prefix in fully-qualified tool names.
var NameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// ProviderSpec describes how to launch one downstream provider.
type ProviderSpec struct {
	// Command is the executable to run.
	Command string `json:"command"`

	// Args are the command-line arguments, in order.
	Args []string `json:"args,omitempty"`

	// Env maps environment variable names to values. Values may contain
	// secrets; they are forwarded into the child process environment on
	// spawn and never logged.
	Env map[string]string `json:"env,omitempty"`

	// Source records where the entry came from, e.g. "user" or
	// "import:claude-desktop". Auto-sync sets it on every addition.
	Source string `json:"source,omitempty"`
}

// Profile maps provider names to their specs.
type Profile struct {
	// Name is the profile's name, matching its file name on disk.
	Name string `json:"-"`

	// Servers is the provider set, keyed by unique provider name.
	Servers map[string]ProviderSpec `json:"mcpServers"`
}

// New returns an empty profile with the given name.
func New(name string) *Profile {
	return &Profile{Name: name, Servers: make(map[string]ProviderSpec)}
}

// ValidateName checks that a provider name is acceptable.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if !NameRegex.MatchString(name) {
		return fmt.Errorf("invalid provider name %q: must start with a letter and contain only letters, numbers, hyphens, and underscores (max 64 chars)", name)
	}
	return nil
}

// Add inserts a provider spec. It fails if the name is invalid or already
// present.
func (p *Profile) Add(name string, spec ProviderSpec) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if spec.Command == "" {
		return fmt.Errorf("provider %q: command is required", name)
	}
	if _, exists := p.Servers[name]; exists {
		return fmt.Errorf("provider %q already exists", name)
	}
	if p.Servers == nil {
		p.Servers = make(map[string]ProviderSpec)
	}
	p.Servers[name] = spec
	return nil
}

// Remove deletes a provider by name. It fails if the name is absent.
func (p *Profile) Remove(name string) error {
	if _, exists := p.Servers[name]; !exists {
		return fmt.Errorf("provider %q not found", name)
	}
	delete(p.Servers, name)
	return nil
}

// Names returns the provider names in sorted order.
func (p *Profile) Names() []string {
	names := make([]string, 0, len(p.Servers))
	for name := range p.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a provider is configured.
func (p *Profile) Has(name string) bool {
	_, ok := p.Servers[name]
	return ok
}

// Hash returns the content hash of the profile: SHA-256 over a canonical
// JSON rendering with providers in sorted order. Env values participate
// in the hash so credential rotation invalidates the cache, but the hash
// itself reveals nothing.
func (p *Profile) Hash() string {
	h := sha256.New()
	for _, name := range p.Names() {
		spec := p.Servers[name]
		// Canonical per-provider rendering: name, command, args, then
		// env in sorted key order. encoding/json sorts map keys, so a
		// single marshal is stable.
		entry, _ := json.Marshal(struct {
			Name    string            `json:"name"`
			Command string            `json:"command"`
			Args    []string          `json:"args"`
			Env     map[string]string `json:"env"`
		}{name, spec.Command, spec.Args, spec.Env})
		h.Write(entry)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SpecHash returns the content hash of a single provider spec, used for
// per-provider cache entries.
func SpecHash(name string, spec ProviderSpec) string {
	h := sha256.New()
	entry, _ := json.Marshal(struct {
		Name    string            `json:"name"`
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env"`
	}{name, spec.Command, spec.Args, spec.Env})
	h.Write(entry)
	return hex.EncodeToString(h.Sum(nil))
}
