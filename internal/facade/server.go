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

// Package facade exposes the gateway as a single MCP server over stdio.
//
// Exactly two virtual tools exist: find and run. Metadata requests
// answer immediately from the cached view; indexing and provider
// spawning never block the protocol loop. Only malformed requests and
// unknown methods surface as protocol errors; every gateway failure
// travels as structured content inside a successful response so the
// client session survives provider misbehavior.
package facade

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/gateway"
)

// Gateway is the orchestrator surface the façade consumes. Tests
// substitute fakes.
type Gateway interface {
	Find(ctx context.Context, req gateway.FindRequest) (*gateway.FindResponse, error)
	Run(ctx context.Context, fqtn string, args map[string]any, meta map[string]any, timeout time.Duration) (*gateway.RunResult, error)
	Resources() []cache.Resource
	Prompts() []cache.Prompt
	ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
}

// Server is the MCP façade.
type Server struct {
	mcpServer *server.MCPServer
	gw        Gateway
	limiter   *RateLimiter
	subs      *Subscriptions
	logger    *slog.Logger
}

// ServerConfig configures the façade.
type ServerConfig struct {
	// Gateway is the orchestrator. Required.
	Gateway Gateway

	// Version is the gateway version reported to the client.
	Version string

	// RunsPerMinute and CallsPerMinute bound throughput; zero uses the
	// defaults.
	RunsPerMinute  int
	CallsPerMinute int

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// NewServer creates the façade and registers its two virtual tools.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	runs := cfg.RunsPerMinute
	if runs <= 0 {
		runs = 30
	}
	calls := cfg.CallsPerMinute
	if calls <= 0 {
		calls = 120
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer("switchboard", cfg.Version,
		server.WithResourceCapabilities(true, true),
		server.WithPromptCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		gw:        cfg.Gateway,
		limiter:   NewRateLimiter(runs, calls),
		subs:      NewSubscriptions(),
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// registerTools adds the two virtual tools. tools/list always returns
// exactly these, regardless of indexing state.
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "find",
		Description: "Discover tools across all configured providers by describing what you want to do in natural language. Returns a ranked list with confidence scores.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"description": map[string]interface{}{
					"type":        "string",
					"description": "What you want to accomplish, in natural language",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum results per page (default: 5)",
					"minimum":     1,
				},
				"page": map[string]interface{}{
					"type":        "integer",
					"description": "Result page, starting at 1",
					"minimum":     1,
				},
				"detailed": map[string]interface{}{
					"type":        "boolean",
					"description": "Include each tool's input schema",
				},
				"confidence_threshold": map[string]interface{}{
					"type":        "number",
					"description": "Drop results below this confidence (0..1)",
					"minimum":     0,
					"maximum":     1,
				},
			},
			Required: []string{"description"},
		},
	}, s.handleFind)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "run",
		Description: "Execute a tool on its provider. Use find first to discover the fully-qualified tool name (provider:tool).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"tool": map[string]interface{}{
					"type":        "string",
					"description": "Fully-qualified tool name, provider:tool",
				},
				"parameters": map[string]interface{}{
					"type":        "object",
					"description": "Arguments for the tool",
				},
				"timeout_seconds": map[string]interface{}{
					"type":        "number",
					"description": "Override the default call timeout",
					"minimum":     0,
				},
			},
			Required: []string{"tool"},
		},
	}, s.handleRun)
}

// findResponseBody is the JSON payload returned by find.
type findResponseBody struct {
	Results  []findResultBody `json:"results"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Indexing bool             `json:"indexing,omitempty"`
}

type findResultBody struct {
	Tool        string          `json:"tool"`
	Description string          `json:"description,omitempty"`
	Confidence  float64         `json:"confidence"`
	Reasons     []string        `json:"reasons,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// handleFind implements the find virtual tool.
func (s *Server) handleFind(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.AllowCall() {
		return mcp.NewToolResultError("Rate limit exceeded. Please try again later."), nil
	}

	description, err := request.RequireString("description")
	if err != nil {
		return mcp.NewToolResultError("Missing or invalid 'description' argument"), nil
	}

	resp, err := s.gw.Find(ctx, gateway.FindRequest{
		Query:               description,
		Limit:               request.GetInt("limit", 5),
		Page:                request.GetInt("page", 1),
		Detailed:            request.GetBool("detailed", false),
		ConfidenceThreshold: request.GetFloat("confidence_threshold", 0),
	})
	if err != nil {
		return s.failureContent(err), nil
	}

	body := findResponseBody{
		Total:    resp.Total,
		Page:     resp.Page,
		Indexing: resp.Indexing,
		Results:  make([]findResultBody, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		body.Results = append(body.Results, findResultBody{
			Tool:        r.Tool.FQTN,
			Description: r.Tool.Description,
			Confidence:  r.Confidence,
			Reasons:     r.Reasons,
			InputSchema: r.Tool.InputSchema,
		})
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("failed to encode results"), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
	}, nil
}

// handleRun implements the run virtual tool. The incoming _meta is
// forwarded into the provider call verbatim: session identifiers and
// trace context are never modified, stripped, or inspected.
func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.limiter.AllowRun() {
		return mcp.NewToolResultError("Rate limit exceeded. Please try again later."), nil
	}

	fqtn, err := request.RequireString("tool")
	if err != nil {
		return mcp.NewToolResultError("Missing or invalid 'tool' argument"), nil
	}

	var params map[string]any
	if raw, ok := request.GetArguments()["parameters"]; ok {
		params, _ = raw.(map[string]any)
	}

	var meta map[string]any
	if request.Params.Meta != nil {
		meta = request.Params.Meta.AdditionalFields
	}

	timeout := time.Duration(request.GetFloat("timeout_seconds", 0) * float64(time.Second))

	result, err := s.gw.Run(ctx, fqtn, params, meta, timeout)
	if err != nil {
		return s.failureContent(err), nil
	}

	content := []mcp.Content{mcp.NewTextContent(result.Text)}
	content = append(content, result.Content...)
	return &mcp.CallToolResult{
		Content: content,
		IsError: result.IsError,
	}, nil
}

// failureBody is the structured failure payload carried inside a
// successful response.
type failureBody struct {
	Error struct {
		Kind        string   `json:"kind"`
		Provider    string   `json:"provider,omitempty"`
		Message     string   `json:"message"`
		Detail      string   `json:"detail,omitempty"`
		Suggestions []string `json:"suggestions,omitempty"`
	} `json:"error"`
}

// failureContent renders a gateway error as structured content. The
// session never breaks: the client can reason about the failure and
// retry or reroute.
func (s *Server) failureContent(err error) *mcp.CallToolResult {
	ge := gateway.AsGatewayError(err, gateway.KindProviderUnavailable)

	var body failureBody
	body.Error.Kind = string(ge.Kind)
	body.Error.Provider = ge.Provider
	body.Error.Message = ge.Message
	body.Error.Detail = ge.Detail
	body.Error.Suggestions = ge.Suggestions

	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		data = []byte(`{"error":{"kind":"provider_unavailable","message":"internal encoding failure"}}`)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: true,
	}
}

// SyncListings mirrors the orchestrator's aggregated resources and
// prompts into the MCP server and prunes dead subscriptions. Call after
// reconciliation and after profile mutations.
func (s *Server) SyncListings() {
	valid := make(map[string]bool)

	for _, res := range s.gw.Resources() {
		res := res
		valid[res.URI] = true
		s.mcpServer.AddResource(mcp.Resource{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MimeType,
		}, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			result, err := s.gw.ReadResource(ctx, request.Params.URI)
			if err != nil {
				return nil, err
			}
			return result.Contents, nil
		})
	}

	for _, prompt := range s.gw.Prompts() {
		prompt := prompt
		s.mcpServer.AddPrompt(mcp.Prompt{
			Name:        prompt.Name,
			Description: prompt.Description,
		}, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			return s.gw.GetPrompt(ctx, request.Params.Name, request.Params.Arguments)
		})
	}

	s.subs.Prune(valid)
}

// Subscriptions exposes the subscription registry.
func (s *Server) Subscriptions() *Subscriptions {
	return s.subs
}

// Run serves MCP over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
