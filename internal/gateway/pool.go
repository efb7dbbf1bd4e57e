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
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/switchboard/internal/profile"
)

// SpawnFunc launches a connection for a provider. The production
// implementation wraps NewConnection; tests inject fakes.
type SpawnFunc func(ctx context.Context, name string, spec profile.ProviderSpec) (Conn, error)

// poolEntry is one provider slot. The spawn mutex gives single-flight
// semantics: exactly one process per provider name may be live at a
// time, and concurrent Ensure calls share one spawn attempt.
type poolEntry struct {
	mu   sync.Mutex
	conn Conn
}

// Pool maps provider names to live connections with lazy spawn and idle
// eviction.
type Pool struct {
	spawn       SpawnFunc
	idleTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry

	sweepCancel context.CancelFunc
	wg          sync.WaitGroup
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	// Spawn launches provider connections. Required.
	Spawn SpawnFunc

	// IdleTimeout is the eviction threshold; zero uses 5 minutes.
	IdleTimeout time.Duration

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// NewPool creates a pool. Call StartSweeper to enable idle eviction.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Spawn == nil {
		return nil, errors.New("spawn function is required")
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 5 * time.Minute
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		spawn:       cfg.Spawn,
		idleTimeout: idleTimeout,
		logger:      logger,
		entries:     make(map[string]*poolEntry),
	}, nil
}

// Ensure returns a READY connection for the provider, spawning one when
// none is live. Broken connections are replaced transparently.
func (p *Pool) Ensure(ctx context.Context, name string, spec profile.ProviderSpec) (Conn, error) {
	p.mu.Lock()
	entry, ok := p.entries[name]
	if !ok {
		entry = &poolEntry{}
		p.entries[name] = entry
	}
	p.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.conn != nil && !entry.conn.Broken() {
		return entry.conn, nil
	}

	if entry.conn != nil {
		_ = entry.conn.Close()
		entry.conn = nil
	}

	conn, err := p.spawn(ctx, name, spec)
	if err != nil {
		return nil, err
	}
	entry.conn = conn

	p.logger.Debug("provider connection established", "provider", name)
	return conn, nil
}

// Get returns the live connection for a provider, or nil.
func (p *Pool) Get(name string) Conn {
	p.mu.Lock()
	entry, ok := p.entries[name]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.conn != nil && !entry.conn.Broken() {
		return entry.conn
	}
	return nil
}

// Remove closes and drops a provider's connection.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	entry, ok := p.entries[name]
	delete(p.entries, name)
	p.mu.Unlock()
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.conn != nil {
		_ = entry.conn.Close()
		entry.conn = nil
	}
}

// Names returns the providers with pool entries.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	return names
}

// Live returns the number of live connections.
func (p *Pool) Live() int {
	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	count := 0
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.conn != nil && !entry.conn.Broken() {
			count++
		}
		entry.mu.Unlock()
	}
	return count
}

// StartSweeper launches the background idle-eviction loop.
func (p *Pool) StartSweeper(ctx context.Context) {
	ctx, p.sweepCancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		interval := p.idleTimeout / 4
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweep closes connections idle past the threshold. A connection in the
// CALLING state is never evicted: eviction must not interrupt an
// in-flight call.
func (p *Pool) sweep() {
	cutoff := time.Now().Add(-p.idleTimeout)

	p.mu.Lock()
	names := make([]string, 0, len(p.entries))
	entries := make([]*poolEntry, 0, len(p.entries))
	for name, entry := range p.entries {
		names = append(names, name)
		entries = append(entries, entry)
	}
	p.mu.Unlock()

	for i, entry := range entries {
		entry.mu.Lock()
		conn := entry.conn
		if conn != nil && conn.State() != ConnStateCalling && conn.LastUsed().Before(cutoff) {
			p.logger.Debug("evicting idle provider connection", "provider", names[i])
			_ = conn.Close()
			entry.conn = nil
		}
		entry.mu.Unlock()
	}
}

// Close shuts down the sweeper and all connections.
func (p *Pool) Close() error {
	if p.sweepCancel != nil {
		p.sweepCancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	entries := make([]*poolEntry, 0, len(p.entries))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.conn != nil {
			if err := entry.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			entry.conn = nil
		}
		entry.mu.Unlock()
	}
	return errors.Join(errs...)
}
