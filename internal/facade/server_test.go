package facade

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchboard/internal/cache"
	"github.com/tombee/switchboard/internal/discovery"
	"github.com/tombee/switchboard/internal/gateway"
)

// fakeGateway is a scriptable orchestrator for façade tests.
type fakeGateway struct {
	findResp *gateway.FindResponse
	findErr  error

	runResult   *gateway.RunResult
	runErr      error
	lastFQTN    string
	lastArgs    map[string]any
	lastMeta    map[string]any
	lastTimeout time.Duration

	resources []cache.Resource
	prompts   []cache.Prompt
}

func (f *fakeGateway) Find(ctx context.Context, req gateway.FindRequest) (*gateway.FindResponse, error) {
	return f.findResp, f.findErr
}

func (f *fakeGateway) Run(ctx context.Context, fqtn string, args map[string]any, meta map[string]any, timeout time.Duration) (*gateway.RunResult, error) {
	f.lastFQTN = fqtn
	f.lastArgs = args
	f.lastMeta = meta
	f.lastTimeout = timeout
	return f.runResult, f.runErr
}

func (f *fakeGateway) Resources() []cache.Resource { return f.resources }
func (f *fakeGateway) Prompts() []cache.Prompt     { return f.prompts }

func (f *fakeGateway) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeGateway) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func newTestServer(t *testing.T, gw Gateway) *Server {
	t.Helper()
	s, err := NewServer(ServerConfig{Gateway: gw, Version: "test"})
	require.NoError(t, err)
	return s
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestHandleFindReturnsRankedList(t *testing.T) {
	gw := &fakeGateway{
		findResp: &gateway.FindResponse{
			Results: []discovery.Result{
				{
					Tool:       discovery.ToolDescriptor{FQTN: "fs:read_file", Provider: "fs", Description: "Read a file"},
					Confidence: 0.82,
					Reasons:    []string{"file management maps to filesystem operations"},
				},
			},
			Total: 1,
			Page:  1,
		},
	}
	s := newTestServer(t, gw)

	result, err := s.handleFind(context.Background(), callRequest("find", map[string]any{
		"description": "read a file",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var body findResponseBody
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "fs:read_file", body.Results[0].Tool)
	assert.InDelta(t, 0.82, body.Results[0].Confidence, 1e-9)
}

func TestHandleFindMissingDescription(t *testing.T) {
	s := newTestServer(t, &fakeGateway{})

	result, err := s.handleFind(context.Background(), callRequest("find", map[string]any{}))
	require.NoError(t, err, "argument errors are content, not protocol errors")
	assert.True(t, result.IsError)
}

func TestHandleFindIndexingSentinel(t *testing.T) {
	gw := &fakeGateway{
		findResp: &gateway.FindResponse{
			Results:  []discovery.Result{discovery.Sentinel()},
			Total:    1,
			Page:     1,
			Indexing: true,
		},
	}
	s := newTestServer(t, gw)

	result, err := s.handleFind(context.Background(), callRequest("find", map[string]any{
		"description": "anything",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError, "indexing in progress is not an error")

	var body findResponseBody
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &body))
	assert.True(t, body.Indexing)
}

func TestHandleRunForwardsArgsAndMeta(t *testing.T) {
	gw := &fakeGateway{runResult: &gateway.RunResult{Text: "done"}}
	s := newTestServer(t, gw)

	req := callRequest("run", map[string]any{
		"tool":            "git:commit",
		"parameters":      map[string]any{"message": "hi"},
		"timeout_seconds": 10.0,
	})
	req.Params.Meta = &mcp.Meta{AdditionalFields: map[string]any{"sessionId": "s-1"}}

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "done", textOf(t, result))

	assert.Equal(t, "git:commit", gw.lastFQTN)
	assert.Equal(t, map[string]any{"message": "hi"}, gw.lastArgs)
	assert.Equal(t, map[string]any{"sessionId": "s-1"}, gw.lastMeta, "_meta forwarded verbatim")
	assert.Equal(t, 10*time.Second, gw.lastTimeout)
}

func TestHandleRunGatewayFailureIsStructuredContent(t *testing.T) {
	gw := &fakeGateway{runErr: gateway.ErrProviderUnavailable("git", "cooldown")}
	s := newTestServer(t, gw)

	result, err := s.handleRun(context.Background(), callRequest("run", map[string]any{
		"tool": "git:commit",
	}))
	require.NoError(t, err, "provider failures never become protocol errors")
	assert.True(t, result.IsError)

	var body failureBody
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &body))
	assert.Equal(t, "provider_unavailable", body.Error.Kind)
	assert.Equal(t, "git", body.Error.Provider)
	assert.NotEmpty(t, body.Error.Suggestions)
}

func TestHandleRunMissingTool(t *testing.T) {
	s := newTestServer(t, &fakeGateway{})

	result, err := s.handleRun(context.Background(), callRequest("run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRateLimiterExhaustion(t *testing.T) {
	gw := &fakeGateway{runResult: &gateway.RunResult{Text: "ok"}}
	s, err := NewServer(ServerConfig{Gateway: gw, RunsPerMinute: 2, CallsPerMinute: 2})
	require.NoError(t, err)

	req := callRequest("run", map[string]any{"tool": "git:commit"})

	for i := 0; i < 2; i++ {
		result, err := s.handleRun(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, result.IsError)
	}

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "Rate limit")
}

func TestSubscriptions(t *testing.T) {
	subs := NewSubscriptions()

	subs.Subscribe("ncp://jobs/1")
	subs.Subscribe("docs://readme")
	subs.Subscribe("docs://readme")
	assert.Equal(t, 2, subs.Count())
	assert.True(t, subs.Subscribed("ncp://jobs/1"))

	// Pruning keeps local URIs and drops unlisted provider URIs.
	subs.Prune(map[string]bool{})
	assert.True(t, subs.Subscribed("ncp://jobs/1"))
	assert.False(t, subs.Subscribed("docs://readme"))

	subs.Unsubscribe("ncp://jobs/1")
	assert.Equal(t, 0, subs.Count())
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal("ncp://scheduler/job"))
	assert.False(t, IsLocal("docs://readme"))
}

func TestSyncListingsPrunesSubscriptions(t *testing.T) {
	gw := &fakeGateway{
		resources: []cache.Resource{{URI: "docs://kept", Name: "kept"}},
	}
	s := newTestServer(t, gw)

	s.Subscriptions().Subscribe("docs://kept")
	s.Subscriptions().Subscribe("docs://gone")
	s.SyncListings()

	assert.True(t, s.Subscriptions().Subscribed("docs://kept"))
	assert.False(t, s.Subscriptions().Subscribed("docs://gone"))
}
