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
	"sort"
	"strings"
	"sync"
)

// DefaultProfile is the profile loaded when none is named.
const DefaultProfile = "default"

// Store persists profiles as JSON documents under a directory, one file
// per profile. Writes are atomic (temp file + rename) and serialized by
// an in-process mutex.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// path returns the file path for a named profile.
func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads a named profile. A missing file yields an empty profile so
// first runs work without setup.
func (s *Store) Load(name string) (*Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid profile name %q", name)
	}

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return New(name), nil
		}
		return nil, fmt.Errorf("failed to read profile %q: %w", name, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %q: %w", name, err)
	}
	p.Name = name
	if p.Servers == nil {
		p.Servers = make(map[string]ProviderSpec)
	}

	for provider := range p.Servers {
		if err := ValidateName(provider); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
	}

	return &p, nil
}

// Save writes a profile atomically.
func (s *Store) Save(p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Name == "" {
		return fmt.Errorf("profile has no name")
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create profiles directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile %q: %w", p.Name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, "."+p.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write profile %q: %w", p.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to set profile permissions: %w", err)
	}

	if err := os.Rename(tmpName, s.path(p.Name)); err != nil {
		return fmt.Errorf("failed to commit profile %q: %w", p.Name, err)
	}
	return nil
}

// List returns the names of all stored profiles, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Path returns the on-disk path of a named profile, for the file watcher.
func (s *Store) Path(name string) string {
	if name == "" {
		name = DefaultProfile
	}
	return s.path(name)
}
