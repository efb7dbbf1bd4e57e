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
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// stopwords are dropped during tokenization. Kept short: tool
// descriptions are terse and over-aggressive filtering hurts recall.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "and": true, "or": true,
	"is": true, "it": true, "my": true, "me": true, "with": true,
	"this": true, "that": true, "from": true, "your": true,
}

// Tokenize splits text into normalized lowercase tokens. Input is NFC
// normalized first so composed and decomposed spellings of the same
// description tokenize identically. Underscores, hyphens, dots, and
// slashes are treated as separators so tool names like read_file and
// fs/read-file yield their parts.
func Tokenize(text string) []string {
	text = norm.NFC.String(text)

	var tokens []string
	var sb strings.Builder
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		token := sb.String()
		sb.Reset()
		if len(token) < 2 || stopwords[token] {
			return
		}
		tokens = append(tokens, token)
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// lexicalScore rates a candidate against query tokens by token overlap
// with length normalization, plus a substring bonus when the whole query
// appears inside the tool name or description. Returns 0 when nothing
// matches.
func lexicalScore(queryTokens []string, queryText string, c *candidate) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	toolTokens := c.tokens
	if len(toolTokens) == 0 {
		return 0
	}

	toolSet := make(map[string]bool, len(toolTokens))
	for _, t := range toolTokens {
		toolSet[t] = true
	}

	overlap := 0
	for _, q := range queryTokens {
		if toolSet[q] {
			overlap++
			continue
		}
		// Prefix matches catch inflections: "committing" vs "commit".
		for t := range toolSet {
			if len(q) >= 4 && strings.HasPrefix(t, q) || len(t) >= 4 && strings.HasPrefix(q, t) {
				overlap++
				break
			}
		}
	}
	if overlap == 0 {
		return substringBonus(queryText, c)
	}

	score := float64(overlap) / math.Sqrt(float64(len(queryTokens))*float64(len(toolTokens)))
	return score + substringBonus(queryText, c)
}

// substringBonus rewards whole-query containment in the name or
// description.
func substringBonus(queryText string, c *candidate) float64 {
	q := strings.ToLower(strings.TrimSpace(norm.NFC.String(queryText)))
	if q == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(c.tool.RawName), q) {
		return 0.3
	}
	if strings.Contains(strings.ToLower(c.tool.Description), q) {
		return 0.15
	}
	return 0
}
