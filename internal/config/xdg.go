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

// Package config resolves gateway directories and loads gateway settings.
package config

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides both the config and data directories when set.
// Useful for tests and for automated environments that keep gateway
// state out of the user's home directory.
const HomeEnv = "SWITCHBOARD_HOME"

// ConfigDir returns the configuration directory for the gateway.
// On Unix: ~/.config/switchboard
// Respects XDG_CONFIG_HOME and SWITCHBOARD_HOME environment variables.
func ConfigDir() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		dir := filepath.Join(home, "config")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
		return dir, nil
	}

	var base string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}

	configDir := filepath.Join(base, "switchboard")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}

	return configDir, nil
}

// DataDir returns the data directory for the gateway, which holds the
// metadata cache, the embedding store, and cached configuration schemas.
// On Unix: ~/.local/share/switchboard
// Respects XDG_DATA_HOME and SWITCHBOARD_HOME environment variables.
func DataDir() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		dir := filepath.Join(home, "data")
		if err := os.MkdirAll(dir, 0700); err != nil {
			return "", err
		}
		return dir, nil
	}

	var base string
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		base = xdg
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}

	dataDir := filepath.Join(base, "switchboard")
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", err
	}

	return dataDir, nil
}

// CacheDir returns the cache directory under the data directory.
// Holds metadata.json and embeddings.db.
func CacheDir() (string, error) {
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(data, "cache")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// SchemasDir returns the directory holding cached provider configuration
// schemas (<provider>.schema.json files).
func SchemasDir() (string, error) {
	data, err := DataDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(data, "schemas")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// ProfilesDir returns the directory holding profile documents.
func ProfilesDir() (string, error) {
	cfg, err := ConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(cfg, "profiles")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}
