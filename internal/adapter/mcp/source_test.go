package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/tools"
)

func newK8sServer() *server.MCPServer {
	s := server.NewMCPServer("fake-k8s", "1.0.0", server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool("pods_list",
		mcp.WithDescription("List pods in a namespace"),
		mcp.WithString("namespace", mcp.Required(), mcp.Description("namespace")),
		mcp.WithString("output", mcp.Enum("name", "wide")),
		mcp.WithNumber("limit"),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		return mcp.NewToolResultText(fmt.Sprintf("pods in %v", args["namespace"])), nil
	})
	s.AddTool(mcp.NewTool("events_list", mcp.WithDescription(strings.Repeat("d", 1200))),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(strings.Repeat("e", 50)), nil
		})
	s.AddTool(mcp.NewTool("broken"),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("forbidden"), nil
		})
	return s
}

func connectInProcess(t *testing.T, category domain.ToolCategory, opts Options) *Source {
	t.Helper()
	c, err := client.NewInProcessClient(newK8sServer())
	require.NoError(t, err)
	require.NoError(t, Handshake(context.Background(), c))
	src := NewSource("k8s", category, c, opts)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestRegisterNamespacesTools(t *testing.T) {
	src := connectInProcess(t, domain.CategoryK8s, Options{})
	r := tools.NewRegistry()

	n, err := src.Register(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	desc, ok := r.Get("k8s_pods_list")
	require.True(t, ok)
	assert.Equal(t, "[k8s] List pods in a namespace", desc.Description)
	assert.Equal(t, domain.CategoryK8s, desc.Category)
	assert.Equal(t, "k8s", desc.Source)

	byName := map[string]domain.ArgSpec{}
	for _, a := range desc.Args {
		byName[a.Name] = a
	}
	assert.True(t, byName["namespace"].Required)
	assert.Equal(t, domain.ArgEnum, byName["output"].Kind)
	assert.Equal(t, domain.ArgOpaque, byName["limit"].Kind)

	long, ok := r.Get("k8s_events_list")
	require.True(t, ok)
	assert.Len(t, long.Description, maxDescriptionLength)
}

func TestInvokeThroughRegistry(t *testing.T) {
	src := connectInProcess(t, domain.CategoryK8s, Options{})
	r := tools.NewRegistry()
	_, err := src.Register(context.Background(), r)
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "k8s_pods_list", map[string]any{"namespace": "aaa"})
	require.NoError(t, err)
	assert.Equal(t, "pods in aaa", out)

	_, err = r.Invoke(context.Background(), "k8s_broken", nil)
	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, "Error executing broken: forbidden", err.Error())
}

func TestOutputLimit(t *testing.T) {
	src := connectInProcess(t, "", Options{OutputLimit: 10})
	r := tools.NewRegistry()
	_, err := src.Register(context.Background(), r)
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "k8s_events_list", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, strings.Repeat("e", 10)+"\n"))
	assert.Contains(t, out, "Output truncated by 40 chars")
}

func TestCallAfterClose(t *testing.T) {
	src := connectInProcess(t, domain.CategoryK8s, Options{})
	r := tools.NewRegistry()
	_, err := src.Register(context.Background(), r)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = r.Invoke(context.Background(), "k8s_pods_list", map[string]any{"namespace": "a"})
	assert.Error(t, err)
}

func TestLimitOutputPassThrough(t *testing.T) {
	assert.Equal(t, "short", limitOutput("short", 10))
	assert.Equal(t, "unbounded", limitOutput("unbounded", 0))
}

func TestLimitOutputCountsCharacters(t *testing.T) {
	assert.Equal(t, "로그 없음", limitOutput("로그 없음", 5))

	out := limitOutput("로그로그로그", 4)
	assert.True(t, strings.HasPrefix(out, "로그로그\n"))
	assert.Contains(t, out, "Output truncated by 2 chars")
}

func TestDialSendsConfiguredHeaders(t *testing.T) {
	var (
		mu    sync.Mutex
		auths []string
	)
	h := server.NewStreamableHTTPServer(newK8sServer())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		h.ServeHTTP(w, r)
	}))
	defer srv.Close()

	src, err := Dial(context.Background(), config.MCPServerConfig{
		Name:      "k8s",
		URL:       srv.URL + "/mcp",
		Transport: "streamable-http",
		Headers:   map[string]string{"authorization": "Bearer t0ken"},
	}, Options{})
	require.NoError(t, err)
	defer src.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, auths)
	for _, a := range auths {
		assert.Equal(t, "Bearer t0ken", a)
	}
}
