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

package gateway

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// normalizeResult flattens a provider's content parts: text parts join
// with newlines into Text, non-text parts stay in Content as-is, and an
// empty list yields an empty string.
func normalizeResult(result *mcp.CallToolResult) *RunResult {
	if result == nil {
		return &RunResult{}
	}

	var texts []string
	var rest []mcp.Content
	for _, content := range result.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, text.Text)
			continue
		}
		rest = append(rest, content)
	}

	return &RunResult{
		Text:    strings.Join(texts, "\n"),
		Content: rest,
		IsError: result.IsError,
	}
}
