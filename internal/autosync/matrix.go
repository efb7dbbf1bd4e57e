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

// Package autosync imports provider specs from upstream MCP clients
// already installed on the machine. Sync is strictly additive: providers
// present in the profile are never overwritten.
package autosync

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Client describes one known upstream MCP client: where its
// configuration lives per OS, how to parse it, and where its extension
// bundles install.
type Client struct {
	// Name is the client's display name, used in provenance tags.
	Name string

	// ConfigPaths maps GOOS to candidate config file paths. Paths may
	// contain environment variables and a leading ~. The first path
	// that exists wins.
	ConfigPaths map[string][]string

	// Query is an optional gojq program that extracts a
	// name → {command, args, env} object from non-standard config
	// shapes. Empty means the document already has a top-level
	// mcpServers object.
	Query string

	// ExtensionGlobs maps GOOS to doublestar patterns locating
	// extension bundle manifests, relative to the expanded base in the
	// pattern itself.
	ExtensionGlobs map[string][]string
}

// DefaultClients is the detection matrix for well-known upstream
// clients.
func DefaultClients() []Client {
	return []Client{
		{
			Name: "claude-desktop",
			ConfigPaths: map[string][]string{
				"darwin": {"~/Library/Application Support/Claude/claude_desktop_config.json"},
				"linux":  {"~/.config/Claude/claude_desktop_config.json"},
				"windows": {
					"$APPDATA/Claude/claude_desktop_config.json",
				},
			},
			ExtensionGlobs: map[string][]string{
				"darwin": {"~/Library/Application Support/Claude/extensions/*/manifest.json"},
				"linux":  {"~/.config/Claude/extensions/*/manifest.json"},
			},
		},
		{
			Name: "claude-code",
			ConfigPaths: map[string][]string{
				"darwin": {"~/.claude.json"},
				"linux":  {"~/.claude.json"},
			},
		},
		{
			Name: "cursor",
			ConfigPaths: map[string][]string{
				"darwin": {"~/.cursor/mcp.json"},
				"linux":  {"~/.cursor/mcp.json"},
				"windows": {
					"$USERPROFILE/.cursor/mcp.json",
				},
			},
		},
		{
			Name: "vscode",
			ConfigPaths: map[string][]string{
				"darwin": {"~/Library/Application Support/Code/User/mcp.json"},
				"linux":  {"~/.config/Code/User/mcp.json"},
				"windows": {
					"$APPDATA/Code/User/mcp.json",
				},
			},
			// VS Code nests definitions under "servers" with a "type"
			// discriminator; keep only stdio entries.
			Query: `.servers // {} | with_entries(select((.value.type // "stdio") == "stdio") | .value |= {command, args, env})`,
		},
		{
			Name: "windsurf",
			ConfigPaths: map[string][]string{
				"darwin": {"~/.codeium/windsurf/mcp_config.json"},
				"linux":  {"~/.codeium/windsurf/mcp_config.json"},
			},
		},
	}
}

// expandPath resolves environment variables and a leading ~ in a path.
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}

// configPath returns the first existing config path for the current OS,
// or "".
func (c Client) configPath() string {
	for _, raw := range c.ConfigPaths[runtime.GOOS] {
		path := expandPath(raw)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// extensionGlobs returns the expanded extension patterns for the
// current OS.
func (c Client) extensionGlobs() []string {
	globs := make([]string, 0, len(c.ExtensionGlobs[runtime.GOOS]))
	for _, raw := range c.ExtensionGlobs[runtime.GOOS] {
		globs = append(globs, expandPath(raw))
	}
	return globs
}
