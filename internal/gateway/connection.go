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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/profile"
)

// ConnState is the lifecycle state of a provider connection.
type ConnState string

const (
	ConnStateNew          ConnState = "new"
	ConnStateSpawning     ConnState = "spawning"
	ConnStateInitializing ConnState = "initializing"
	ConnStateReady        ConnState = "ready"
	ConnStateCalling      ConnState = "calling"
	ConnStateFailed       ConnState = "failed"
	ConnStateClosed       ConnState = "closed"
)

// parallelCallWidth is the gate width for providers advertising
// concurrent-call support.
const parallelCallWidth = 8

// Conn is the interface the orchestrator and pool require of a provider
// connection. Tests substitute fakes.
type Conn interface {
	// Call invokes a tool. meta is forwarded into the request's _meta
	// unchanged. timeout zero uses the connection default.
	Call(ctx context.Context, tool string, args map[string]any, meta map[string]any, timeout time.Duration) (*mcp.CallToolResult, error)

	// Probe lists tools, resources, and prompts. Listing failures for
	// optional capabilities yield empty slices, not errors.
	Probe(ctx context.Context) (*cache.ProviderEntry, error)

	// ReadResource proxies a resource read.
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)

	// GetPrompt proxies a prompt fetch.
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)

	// Info returns what the provider reported during initialization.
	Info() cache.ServerInfo

	// ConfigSchema returns the configuration schema the provider
	// advertised during initialization, or nil.
	ConfigSchema() *profile.ConfigSchema

	// State returns the connection state.
	State() ConnState

	// LastUsed returns the time of the last call or probe.
	LastUsed() time.Time

	// Broken reports whether the connection must be replaced.
	Broken() bool

	// Close terminates the child process.
	Close() error
}

// Connection is one live downstream provider: a child process speaking
// MCP over stdio. Calls are serialized through a gate channel unless the
// provider advertises concurrent-call support, because interleaving
// requests on one stdio pair risks response misrouting.
type Connection struct {
	name   string
	client *client.Client
	info   cache.ServerInfo

	// schema is the configuration schema advertised under the
	// provider's experimental capabilities, when present.
	schema *profile.ConfigSchema

	callTimeout time.Duration

	// gate bounds in-flight calls; width 1 serializes.
	gate chan struct{}

	mu       sync.RWMutex
	state    ConnState
	lastUsed time.Time
	broken   bool
}

// ConnectionConfig configures a connection spawn.
type ConnectionConfig struct {
	// Name is the provider name.
	Name string

	// Spec describes the child process.
	Spec profile.ProviderSpec

	// SpawnTimeout bounds process launch plus the initialize handshake.
	SpawnTimeout time.Duration

	// CallTimeout is the default per-call budget.
	CallTimeout time.Duration
}

// NewConnection launches the provider process and completes the MCP
// handshake. The returned connection is READY.
func NewConnection(ctx context.Context, cfg ConnectionConfig) (*Connection, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if cfg.Spec.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	spawnTimeout := cfg.SpawnTimeout
	if spawnTimeout == 0 {
		spawnTimeout = 30 * time.Second
	}
	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = 45 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, spawnTimeout)
	defer cancel()

	c := &Connection{
		name:        cfg.Name,
		callTimeout: callTimeout,
		state:       ConnStateSpawning,
		lastUsed:    time.Now(),
	}

	mcpClient, err := client.NewStdioMCPClient(cfg.Spec.Command, envList(cfg.Spec.Env), cfg.Spec.Args...)
	if err != nil {
		c.setState(ConnStateFailed)
		return nil, ErrSpawnFailed(cfg.Name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		c.setState(ConnStateFailed)
		return nil, ErrSpawnFailed(cfg.Name, err)
	}
	c.client = mcpClient
	c.setState(ConnStateInitializing)

	if err := c.initialize(ctx); err != nil {
		_ = mcpClient.Close()
		c.setState(ConnStateFailed)
		return nil, ErrInitializationFailed(cfg.Name, err)
	}

	width := 1
	if c.info.ParallelToolCalls {
		width = parallelCallWidth
	}
	c.gate = make(chan struct{}, width)
	c.setState(ConnStateReady)
	return c, nil
}

// envList renders an env map as KEY=VALUE pairs in sorted order. Values
// may contain secrets; the list goes to the child process environment
// and nowhere else.
func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(env))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

// initialize performs the MCP handshake and records server info.
func (c *Connection) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "switchboard",
				Version: Version,
			},
		},
	}

	result, err := c.client.Initialize(ctx, initReq)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}

	c.info = cache.ServerInfo{
		Name:    result.ServerInfo.Name,
		Version: result.ServerInfo.Version,
	}

	caps := c.client.GetServerCapabilities()
	c.info.Resources = caps.Resources != nil
	c.info.Prompts = caps.Prompts != nil

	// Concurrent calls on one connection are opt-in: the provider must
	// advertise it, otherwise the serial gate protects id correlation.
	if caps.Experimental != nil {
		if v, ok := caps.Experimental["parallelToolCalls"].(bool); ok {
			c.info.ParallelToolCalls = v
		}

		// Providers may declare their required environment variables
		// and arguments here; the orchestrator caches the declaration
		// so later starts can fail fast with the missing names.
		if raw, ok := caps.Experimental["configSchema"]; ok {
			schema, err := profile.ParseSchema(c.name, raw)
			if err != nil {
				slog.Warn("ignoring malformed config schema",
					slog.String("provider", c.name),
					slog.String("error", err.Error()),
				)
			} else {
				c.schema = schema
			}
		}
	}

	return nil
}

// ConfigSchema implements Conn.
func (c *Connection) ConfigSchema() *profile.ConfigSchema {
	return c.schema
}

// Call implements Conn.
func (c *Connection) Call(ctx context.Context, tool string, args map[string]any, meta map[string]any, timeout time.Duration) (*mcp.CallToolResult, error) {
	if c.Broken() {
		return nil, ErrProviderUnavailable(c.name, "connection is closed")
	}

	// Serialize (or bound) calls on this connection. Giving up while
	// queued sends nothing on the wire, so the connection stays usable
	// for the calls behind us.
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrCallTimeout(c.name, tool).WithCause(ctx.Err())
		}
		return nil, NewError(KindCancelled, fmt.Sprintf("call to %s was cancelled", tool)).
			WithProvider(c.name).
			WithCause(ctx.Err())
	}
	defer func() { <-c.gate }()

	c.setState(ConnStateCalling)
	defer func() {
		// A classification may have failed the connection mid-call;
		// never resurrect it to READY.
		if !c.Broken() {
			c.setState(ConnStateReady)
		}
	}()

	if timeout <= 0 {
		timeout = c.callTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	}
	if len(meta) > 0 {
		req.Params.Meta = &mcp.Meta{AdditionalFields: meta}
	}

	result, err := c.client.CallTool(ctx, req)
	c.touch()
	if err != nil {
		return nil, c.classifyError(ctx, tool, err)
	}
	return result, nil
}

// classifyError maps transport failures to the error taxonomy and marks
// the connection broken where the protocol stream can no longer be
// trusted. Timeouts and cancellations close the connection: the protocol
// has no cancel verb, so reopening is the only way to resynchronize
// request ids.
func (c *Connection) classifyError(ctx context.Context, tool string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		c.markBroken()
		return ErrCallTimeout(c.name, tool).WithCause(err)

	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		c.markBroken()
		return NewError(KindCancelled, fmt.Sprintf("call to %s was cancelled", tool)).
			WithProvider(c.name).
			WithCause(err)

	case isFramingError(err):
		c.markBroken()
		return NewError(KindProtocolViolation, fmt.Sprintf("provider %q sent malformed framing", c.name)).
			WithProvider(c.name).
			WithCause(err)

	case errors.Is(err, io.EOF):
		c.markBroken()
		return ErrProviderUnavailable(c.name, "provider process exited").WithCause(err)

	default:
		return AsGatewayError(err, KindProviderUnavailable).WithProvider(c.name)
	}
}

// isFramingError detects malformed JSON from the provider.
func isFramingError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "invalid character") || strings.Contains(msg, "unexpected end of JSON")
}

// Probe implements Conn. Tools are required; resources and prompts are
// listed only when advertised, and their failures are tolerated so one
// bad listing never fails the whole provider.
func (c *Connection) Probe(ctx context.Context) (*cache.ProviderEntry, error) {
	entry := &cache.ProviderEntry{ServerInfo: c.info}

	toolsResult, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.touch()
		return nil, c.classifyError(ctx, "tools/list", err)
	}
	for _, tool := range toolsResult.Tools {
		entry.Tools = append(entry.Tools, cache.Tool{
			Name:        FormatFQTN(c.name, tool.Name),
			Description: tool.Description,
			InputSchema: extractSchema(tool),
		})
	}

	if c.info.Resources {
		if result, err := c.client.ListResources(ctx, mcp.ListResourcesRequest{}); err == nil {
			for _, res := range result.Resources {
				entry.Resources = append(entry.Resources, cache.Resource{
					URI:         res.URI,
					Name:        res.Name,
					Description: res.Description,
					MimeType:    res.MIMEType,
				})
			}
		}
	}

	if c.info.Prompts {
		if result, err := c.client.ListPrompts(ctx, mcp.ListPromptsRequest{}); err == nil {
			for _, prompt := range result.Prompts {
				entry.Prompts = append(entry.Prompts, cache.Prompt{
					Name:        prompt.Name,
					Description: prompt.Description,
				})
			}
		}
	}

	c.touch()
	return entry, nil
}

// extractSchema pulls the raw input schema from a tool definition,
// falling back to re-marshaling when only the structured form is set.
func extractSchema(tool mcp.Tool) json.RawMessage {
	if len(tool.RawInputSchema) > 0 {
		return json.RawMessage(tool.RawInputSchema)
	}
	data, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil
	}
	return data
}

// ReadResource implements Conn.
func (c *Connection) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	result, err := c.client.ReadResource(ctx, mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: uri},
	})
	c.touch()
	if err != nil {
		return nil, c.classifyError(ctx, uri, err)
	}
	return result, nil
}

// GetPrompt implements Conn.
func (c *Connection) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	result, err := c.client.GetPrompt(ctx, mcp.GetPromptRequest{
		Params: mcp.GetPromptParams{Name: name, Arguments: args},
	})
	c.touch()
	if err != nil {
		return nil, c.classifyError(ctx, name, err)
	}
	return result, nil
}

// Info implements Conn.
func (c *Connection) Info() cache.ServerInfo {
	return c.info
}

// State implements Conn.
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastUsed implements Conn.
func (c *Connection) LastUsed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUsed
}

// Broken implements Conn.
func (c *Connection) Broken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broken
}

// Close implements Conn.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == ConnStateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = ConnStateClosed
	c.broken = true
	c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close connection to %q: %w", c.name, err)
	}
	return nil
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

func (c *Connection) markBroken() {
	c.mu.Lock()
	alreadyBroken := c.broken
	c.broken = true
	c.state = ConnStateFailed
	c.mu.Unlock()

	if !alreadyBroken && c.client != nil {
		_ = c.client.Close()
	}
}
