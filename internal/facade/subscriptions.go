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

package facade

import (
	"strings"
	"sync"
)

// LocalScheme prefixes resource URIs the façade itself owns.
// Subscriptions to these are tracked locally; everything else proxies
// to the owning provider.
const LocalScheme = "ncp://"

// Subscriptions tracks resource subscriptions by URI.
type Subscriptions struct {
	mu   sync.Mutex
	uris map[string]bool
}

// NewSubscriptions creates an empty registry.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{uris: make(map[string]bool)}
}

// IsLocal reports whether the façade owns the URI.
func IsLocal(uri string) bool {
	return strings.HasPrefix(uri, LocalScheme)
}

// Subscribe records a subscription. Repeat subscriptions are idempotent.
func (s *Subscriptions) Subscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uris[uri] = true
}

// Unsubscribe removes a subscription, ignoring absence.
func (s *Subscriptions) Unsubscribe(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uris, uri)
}

// Subscribed reports whether a URI has an active subscription.
func (s *Subscriptions) Subscribed(uri string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uris[uri]
}

// Prune drops subscriptions for provider URIs no longer listed. Local
// URIs survive pruning: their lifecycle is the façade's own.
func (s *Subscriptions) Prune(valid map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri := range s.uris {
		if IsLocal(uri) {
			continue
		}
		if !valid[uri] {
			delete(s.uris, uri)
		}
	}
}

// Count returns the number of active subscriptions.
func (s *Subscriptions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uris)
}
