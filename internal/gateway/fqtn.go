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
)

// ParseFQTN splits a fully-qualified tool name into provider and raw
// tool name. The first colon separates; tool names keep any further
// colons they contain.
func ParseFQTN(fqtn string) (provider, tool string, err error) {
	idx := strings.Index(fqtn, ":")
	if idx <= 0 || idx == len(fqtn)-1 {
		return "", "", ErrInvalidFQTN(fqtn)
	}
	return fqtn[:idx], fqtn[idx+1:], nil
}

// FormatFQTN builds the canonical fully-qualified form.
func FormatFQTN(provider, tool string) string {
	return provider + ":" + tool
}
