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

package discovery

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/switchboard/internal/config"
)

// ProviderKind classifies what a provider fundamentally is, inferred
// from its launch command and tool surface. Capability rules bridge
// implicit query domains to kinds: a shell provider can do version
// control even though none of its tool descriptions say so.
type ProviderKind string

const (
	KindShell      ProviderKind = "shell"
	KindFilesystem ProviderKind = "filesystem"
	KindDatabase   ProviderKind = "database"
	KindHTTP       ProviderKind = "http"
	KindBrowser    ProviderKind = "browser"
	KindUnknown    ProviderKind = "unknown"
)

// ClassifyProvider infers a provider kind from its launch command and
// tool names.
func ClassifyProvider(command string, toolNames []string) ProviderKind {
	base := strings.ToLower(filepath.Base(command))
	switch base {
	case "bash", "sh", "zsh", "fish", "pwsh", "powershell", "cmd", "cmd.exe":
		return KindShell
	}

	joined := strings.ToLower(strings.Join(toolNames, " ") + " " + base)
	switch {
	case containsAny(joined, "run_command", "execute_command", "shell", "exec", "terminal"):
		return KindShell
	case containsAny(joined, "read_file", "write_file", "list_directory", "filesystem", "move_file"):
		return KindFilesystem
	case containsAny(joined, "query", "sql", "insert", "postgres", "sqlite", "mysql", "mongodb", "redis", "database"):
		return KindDatabase
	case containsAny(joined, "navigate", "screenshot", "click", "browser", "puppeteer", "playwright"):
		return KindBrowser
	case containsAny(joined, "fetch", "http", "request", "download", "curl"):
		return KindHTTP
	}
	return KindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// CapabilityRule maps an implicit query domain to provider kinds that
// can serve it even when no tool description mentions the domain.
type CapabilityRule struct {
	// Domain names the implicit capability, for the attached reason.
	Domain string

	// QueryPatterns are lowercase surface patterns; any match activates
	// the rule.
	QueryPatterns []string

	// Kinds are the provider kinds the rule boosts.
	Kinds []ProviderKind

	// Confidence (0..1) weights the boost.
	Confidence float64

	// Boost is added to matching candidates, scaled by Confidence.
	Boost float64

	// Reason is the human-readable explanation attached to the result.
	Reason string
}

// IntentRule maps a natural-language intent to target operation lemmas.
// Candidates whose name or description contains a lemma are boosted.
type IntentRule struct {
	// Patterns are lowercase surface patterns expressing the intent.
	Patterns []string

	// Lemmas are operation stems looked up in tool names/descriptions.
	Lemmas []string

	// Boost is added to matching candidates.
	Boost float64

	// Reason explains the bridge.
	Reason string
}

// builtinCapabilityRules is the curated cross-domain rule set.
var builtinCapabilityRules = []CapabilityRule{
	{
		Domain:        "version control",
		QueryPatterns: []string{"commit", "git", "branch", "merge", "rebase", "push", "pull request", "stage", "diff", "version control", "checkout"},
		Kinds:         []ProviderKind{KindShell},
		Confidence:    0.8,
		Boost:         0.2,
		Reason:        "version-control operations run through shell command execution",
	},
	{
		Domain:        "package management",
		QueryPatterns: []string{"install", "npm", "pip", "dependency", "dependencies", "package"},
		Kinds:         []ProviderKind{KindShell},
		Confidence:    0.7,
		Boost:         0.15,
		Reason:        "package managers run through shell command execution",
	},
	{
		Domain:        "process control",
		QueryPatterns: []string{"kill process", "running processes", "process list", "restart service", "daemon"},
		Kinds:         []ProviderKind{KindShell},
		Confidence:    0.7,
		Boost:         0.15,
		Reason:        "process control runs through shell command execution",
	},
	{
		Domain:        "data persistence",
		QueryPatterns: []string{"store", "save record", "persist", "customer data", "insert", "database"},
		Kinds:         []ProviderKind{KindDatabase},
		Confidence:    0.8,
		Boost:         0.2,
		Reason:        "data persistence maps to database operations",
	},
	{
		Domain:        "web content",
		QueryPatterns: []string{"web page", "website", "scrape", "html", "url"},
		Kinds:         []ProviderKind{KindHTTP, KindBrowser},
		Confidence:    0.7,
		Boost:         0.15,
		Reason:        "web content is reachable through HTTP or browser providers",
	},
	{
		Domain:        "file management",
		QueryPatterns: []string{"file", "directory", "folder", "save to disk"},
		Kinds:         []ProviderKind{KindFilesystem},
		Confidence:    0.6,
		Boost:         0.1,
		Reason:        "file management maps to filesystem operations",
	},
}

// builtinIntentRules bridges conversational intent to operation lemmas.
var builtinIntentRules = []IntentRule{
	{
		Patterns: []string{"save my changes", "commit my changes", "record my changes", "check in"},
		Lemmas:   []string{"commit", "run_command", "exec"},
		Boost:    0.15,
		Reason:   "saving changes resolves to commit-class operations",
	},
	{
		Patterns: []string{"store customer data", "save the record", "add a row", "store data"},
		Lemmas:   []string{"insert", "write", "create", "put"},
		Boost:    0.15,
		Reason:   "storing data resolves to insert-class operations",
	},
	{
		Patterns: []string{"look up", "find out", "search for", "what is"},
		Lemmas:   []string{"search", "query", "get", "fetch", "read"},
		Boost:    0.1,
		Reason:   "lookups resolve to read-class operations",
	},
	{
		Patterns: []string{"get rid of", "remove the", "delete the", "clean up"},
		Lemmas:   []string{"delete", "remove", "drop"},
		Boost:    0.1,
		Reason:   "removal resolves to delete-class operations",
	},
}

// customRule is a compiled user-defined ranking rule from settings.
type customRule struct {
	name    string
	program *vm.Program
	boost   float64
	reason  string
}

// ruleEnv builds the expression environment for custom rules.
func ruleEnv(query string, c *candidate) map[string]any {
	return map[string]any{
		"query":       query,
		"tool":        c.tool.RawName,
		"provider":    c.tool.Provider,
		"description": c.tool.Description,
	}
}

// compileCustomRules compiles settings rules; a broken rule fails fast
// at startup rather than silently never matching.
func compileCustomRules(rules []config.RankingRule) ([]customRule, error) {
	compiled := make([]customRule, 0, len(rules))
	for _, r := range rules {
		env := map[string]any{"query": "", "tool": "", "provider": "", "description": ""}
		program, err := expr.Compile(r.When, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("ranking rule %q: %w", r.Name, err)
		}
		reason := r.Reason
		if reason == "" {
			reason = "matched rule " + r.Name
		}
		compiled = append(compiled, customRule{name: r.Name, program: program, boost: r.Boost, reason: reason})
	}
	return compiled, nil
}

// enhancement is the computed boost for one candidate.
type enhancement struct {
	boost   float64
	reasons []string
}

// enhancer applies capability, intent, and custom rules to candidates.
type enhancer struct {
	capability []CapabilityRule
	intent     []IntentRule
	custom     []customRule
}

func newEnhancer(custom []customRule) *enhancer {
	return &enhancer{
		capability: builtinCapabilityRules,
		intent:     builtinIntentRules,
		custom:     custom,
	}
}

// apply computes the total additive boost for a candidate given a query.
func (e *enhancer) apply(query string, c *candidate) enhancement {
	q := strings.ToLower(query)
	var result enhancement

	for _, rule := range e.capability {
		if !matchesAny(q, rule.QueryPatterns) {
			continue
		}
		if !kindIn(c.kind, rule.Kinds) {
			continue
		}
		result.boost += rule.Boost * rule.Confidence
		result.reasons = append(result.reasons, rule.Reason)
	}

	haystack := strings.ToLower(c.tool.RawName + " " + c.tool.Description)
	for _, rule := range e.intent {
		if !matchesAny(q, rule.Patterns) {
			continue
		}
		if !containsAny(haystack, rule.Lemmas...) {
			continue
		}
		result.boost += rule.Boost
		result.reasons = append(result.reasons, rule.Reason)
	}

	if len(e.custom) > 0 {
		env := ruleEnv(query, c)
		for _, rule := range e.custom {
			out, err := expr.Run(rule.program, env)
			if err != nil {
				continue
			}
			if matched, ok := out.(bool); ok && matched {
				result.boost += rule.boost
				result.reasons = append(result.reasons, rule.reason)
			}
		}
	}

	return result
}

func matchesAny(q string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

func kindIn(kind ProviderKind, kinds []ProviderKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
