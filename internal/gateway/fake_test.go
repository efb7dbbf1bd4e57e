package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/profile"
)

// fakeConn is a scriptable in-memory provider connection.
type fakeConn struct {
	name   string
	entry  *cache.ProviderEntry
	info   cache.ServerInfo
	schema *profile.ConfigSchema

	// callFn handles Call; nil returns a single text part echoing the
	// tool name.
	callFn func(ctx context.Context, tool string, args map[string]any, meta map[string]any) (*mcp.CallToolResult, error)

	broken   atomic.Bool
	closed   atomic.Bool
	calls    atomic.Int64
	lastMeta map[string]any

	mu       sync.Mutex
	state    ConnState
	lastUsed time.Time
}

func newFakeConn(name string, tools ...string) *fakeConn {
	entry := &cache.ProviderEntry{Hash: "unset"}
	for _, tool := range tools {
		entry.Tools = append(entry.Tools, cache.Tool{
			Name:        FormatFQTN(name, tool),
			Description: tool + " tool",
		})
	}
	return &fakeConn{
		name:     name,
		entry:    entry,
		state:    ConnStateReady,
		lastUsed: time.Now(),
	}
}

func (f *fakeConn) Call(ctx context.Context, tool string, args map[string]any, meta map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastMeta = meta
	f.lastUsed = time.Now()
	f.mu.Unlock()

	if f.callFn != nil {
		return f.callFn(ctx, tool, args, meta)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent("ran " + tool)},
	}, nil
}

func (f *fakeConn) Probe(ctx context.Context) (*cache.ProviderEntry, error) {
	f.mu.Lock()
	f.lastUsed = time.Now()
	f.mu.Unlock()
	return f.entry, nil
}

func (f *fakeConn) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeConn) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func (f *fakeConn) Info() cache.ServerInfo { return f.info }

func (f *fakeConn) ConfigSchema() *profile.ConfigSchema { return f.schema }

func (f *fakeConn) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) setState(s ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *fakeConn) LastUsed() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUsed
}

func (f *fakeConn) setLastUsed(t time.Time) {
	f.mu.Lock()
	f.lastUsed = t
	f.mu.Unlock()
}

func (f *fakeConn) Broken() bool { return f.broken.Load() }

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	f.broken.Store(true)
	return nil
}

// fakeSpawner builds connections from a registry of fakes and counts
// spawns per provider.
type fakeSpawner struct {
	mu     sync.Mutex
	conns  map[string]func() *fakeConn
	spawns map[string]int
	errs   map[string]error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		conns:  make(map[string]func() *fakeConn),
		spawns: make(map[string]int),
		errs:   make(map[string]error),
	}
}

func (s *fakeSpawner) register(name string, build func() *fakeConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[name] = build
}

func (s *fakeSpawner) failWith(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[name] = err
}

func (s *fakeSpawner) spawnCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawns[name]
}

func (s *fakeSpawner) spawn(ctx context.Context, name string, spec profile.ProviderSpec) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spawns[name]++
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	build, ok := s.conns[name]
	if !ok {
		return nil, ErrSpawnFailed(name, context.DeadlineExceeded)
	}
	return build(), nil
}
