package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/policy"
	"github.com/xiaot623/opsagent/internal/service"
	"github.com/xiaot623/opsagent/internal/testutil"
	"github.com/xiaot623/opsagent/internal/tools"
	handler "github.com/xiaot623/opsagent/internal/transport/http"
	"github.com/xiaot623/opsagent/internal/transport/ws"
)

func newTestServer(t *testing.T) string {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolDescriptor{Name: "k8s_pods_list", Description: "List pods"},
		func(ctx context.Context, args map[string]any) (string, error) { return "web-1", nil })

	cfg := config.Default()
	cfg.Stream.PollInterval = 10 * time.Millisecond
	model := testutil.SimpleModel("k8s_pods_list", nil, "pods: ")
	svc := service.New(testutil.NewTestSQLiteStore(t), registry, engine, model, model, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(handler.NewServer(svc, cfg, ws.NewServer(cfg, hub, svc).RegisterRoutes))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv.URL
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

var runIDPattern = regexp.MustCompile(`run_[0-9a-f]{8}`)

func TestAskAndEvents(t *testing.T) {
	server := newTestServer(t)

	stdout, stderr, err := execute(t, "", "ask", "--server", server, "list", "pods")
	require.NoError(t, err)
	assert.Contains(t, stdout, "pods: web-1")

	runID := runIDPattern.FindString(stderr)
	require.NotEmpty(t, runID, stderr)

	stdout, _, err = execute(t, "", "events", "--server", server, runID)
	require.NoError(t, err)
	assert.Contains(t, stdout, string(domain.EventTypeRunStarted))
	assert.Contains(t, stdout, string(domain.EventTypeRunDone))

	stdout, _, err = execute(t, "", "events", "--server", server, "--types", string(domain.EventTypeRunDone), runID)
	require.NoError(t, err)
	assert.NotContains(t, stdout, string(domain.EventTypeRunStarted))
	assert.Contains(t, stdout, string(domain.EventTypeRunDone))
}

func TestEventsUnknownRun(t *testing.T) {
	server := newTestServer(t)

	_, _, err := execute(t, "", "events", "--server", server, "run_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAskRequiresQuestion(t *testing.T) {
	_, _, err := execute(t, "", "ask")
	assert.Error(t, err)
}

func TestChatSession(t *testing.T) {
	server := newTestServer(t)

	stdout, stderr, err := execute(t, "list pods\n\n/quit\n", "chat", "--server", server)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "Connected: ")
	assert.Contains(t, stdout, "[run run_")
	assert.Contains(t, stdout, "pods: web-1")
	assert.Contains(t, stdout, "Bye!")
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/ws", wsURL("http://localhost:8000"))
	assert.Equal(t, "wss://ops.example.com/ws", wsURL("https://ops.example.com"))
	assert.Equal(t, "ws://already/ws", wsURL("ws://already"))
}
