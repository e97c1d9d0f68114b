package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/policy"
	"github.com/xiaot623/opsagent/internal/repository"
	"github.com/xiaot623/opsagent/internal/stream"
	"github.com/xiaot623/opsagent/internal/testutil"
	"github.com/xiaot623/opsagent/internal/tools"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	r.MustRegister(domain.ToolDescriptor{
		Name:        "k8s_pods_list",
		Description: "List pods",
		Args:        []domain.ArgSpec{{Name: "namespace", Kind: domain.ArgString}},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return "web-1, web-2", nil
	})
	r.MustRegister(domain.ToolDescriptor{
		Name:        "k8s_pods_delete",
		Description: "Delete a pod",
		Args:        []domain.ArgSpec{{Name: "name", Kind: domain.ArgString, Required: true}},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		t.Error("blocked tool must not run")
		return "deleted", nil
	})
	r.MustRegister(domain.ToolDescriptor{
		Name:        "vlogs_query",
		Description: "Run LogsQL",
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("vlogs unavailable")
	})
	return r
}

func newTestService(t *testing.T, model *testutil.ScriptedModel) (*Service, *repository.SQLiteStore) {
	t.Helper()
	store := testutil.NewTestSQLiteStore(t)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Pipeline.WorkerStagger = 0
	cfg.Pipeline.HeartbeatInterval = time.Hour
	return New(store, newTestRegistry(t), engine, model, model, cfg), store
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestAskRecordsRun(t *testing.T) {
	svc, store := newTestService(t, testutil.SimpleModel("k8s_pods_list", map[string]any{"namespace": "aaa"}, "pods: "))
	ctx := context.Background()

	res, err := svc.Ask(ctx, RunRequest{Messages: []domain.Message{domain.UserMessage("list pods in aaa")}, Protocol: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "pods: web-1, web-2", res.Answer)
	assert.Equal(t, domain.RouteSimple, res.Route)

	run, err := svc.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusDone, run.Status)
	assert.Equal(t, domain.RouteSimple, run.Route)
	assert.Equal(t, "list pods in aaa", run.Query)
	assert.Equal(t, "pods: web-1, web-2", run.Answer)
	assert.NotNil(t, run.EndedAt)

	events, err := svc.GetRunEvents(ctx, res.RunID, 0, nil, 0)
	require.NoError(t, err)
	types := eventTypes(events)
	assert.Equal(t, domain.EventTypeRunStarted, types[0])
	assert.Equal(t, domain.EventTypeUserInput, types[1])
	assert.Contains(t, types, domain.EventTypeRouteDecided)
	assert.Contains(t, types, domain.EventTypePolicyDecision)
	assert.Contains(t, types, domain.EventTypeToolResult)
	assert.Contains(t, types, domain.EventTypeFinal)
	assert.Equal(t, domain.EventTypeRunDone, types[len(types)-1])

	calls, err := store.ListToolCalls(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "k8s_pods_list", calls[0].ToolName)
	assert.Equal(t, domain.CategoryK8s, calls[0].Category)
	assert.Equal(t, domain.ToolCallStatusSucceeded, calls[0].Status)
	assert.Equal(t, "web-1, web-2", calls[0].Result)
	assert.JSONEq(t, `{"namespace":"aaa"}`, string(calls[0].Args))
}

func TestAskRejectsEmptyQuery(t *testing.T) {
	svc, store := newTestService(t, testutil.SimpleModel("", nil, "hi"))

	_, err := svc.Ask(context.Background(), RunRequest{Messages: []domain.Message{domain.UserMessage("   ")}})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestMutatingToolIsBlocked(t *testing.T) {
	svc, store := newTestService(t, testutil.SimpleModel("k8s_pods_delete", map[string]any{"name": "web-1"}, "result: "))
	ctx := context.Background()

	res, err := svc.Ask(ctx, RunRequest{Messages: []domain.Message{domain.UserMessage("delete pod web-1")}})
	require.NoError(t, err)
	assert.Contains(t, res.Answer, "policy blocked")

	calls, err := store.ListToolCalls(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, domain.ToolCallStatusBlocked, calls[0].Status)
	assert.Contains(t, calls[0].Error, "mutates cluster state")

	events, err := svc.GetRunEvents(ctx, res.RunID, 0, []string{string(domain.EventTypePolicyDecision)}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	var payload domain.PolicyDecisionPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, policy.DecisionBlock, payload.Decision)
	assert.Equal(t, calls[0].ToolCallID, payload.ToolCallID)
}

func TestInvokeToolOutsideRun(t *testing.T) {
	svc, store := newTestService(t, &testutil.ScriptedModel{})
	ctx := context.Background()

	out, err := svc.InvokeTool(ctx, "k8s_pods_list", nil)
	require.NoError(t, err)
	assert.Equal(t, "web-1, web-2", out)

	_, err = svc.InvokeTool(ctx, "k8s_pods_delete", map[string]any{"name": "x"})
	assert.ErrorIs(t, err, ErrPolicyBlocked)

	_, err = svc.InvokeTool(ctx, "nope", nil)
	assert.ErrorIs(t, err, tools.ErrToolNotFound)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestFailedToolIsRecorded(t *testing.T) {
	svc, store := newTestService(t, testutil.SimpleModel("vlogs_query", nil, "logs: "))
	ctx := context.Background()

	res, err := svc.Ask(ctx, RunRequest{Messages: []domain.Message{domain.UserMessage("show errors")}})
	require.NoError(t, err)
	assert.Equal(t, "logs: Error: vlogs unavailable", res.Answer)

	calls, err := store.ListToolCalls(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, domain.ToolCallStatusFailed, calls[0].Status)
	assert.Equal(t, "vlogs unavailable", calls[0].Error)
}

func TestModelFailureFailsRun(t *testing.T) {
	model := &testutil.ScriptedModel{Respond: func(messages []domain.Message, _ []domain.ToolDescriptor) (domain.Message, error) {
		if testutil.IsRouterPrompt(messages) {
			return domain.AssistantMessage("SIMPLE"), nil
		}
		return domain.Message{}, errors.New("503 from upstream")
	}}
	svc, _ := newTestService(t, model)
	ctx := context.Background()

	res, err := svc.Ask(ctx, RunRequest{Messages: []domain.Message{domain.UserMessage("hello")}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Answer)

	run, err := svc.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "503 from upstream")
}

func TestStartStreamDeliversEvents(t *testing.T) {
	svc, _ := newTestService(t, testutil.SimpleModel("k8s_pods_list", nil, "pods: "))
	ctx := context.Background()

	run, sr, err := svc.StartStream(ctx, RunRequest{Messages: []domain.Message{domain.UserMessage("list pods")}, Protocol: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "openai", run.Protocol)

	collectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	events, err := stream.Collect(collectCtx, sr)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, domain.StreamFinal, last.Kind)
	assert.Equal(t, "pods: web-1, web-2", last.Text)
	assert.Equal(t, domain.StageRouter, events[0].Stage)

	require.Eventually(t, func() bool {
		got, err := svc.GetRun(ctx, run.RunID)
		return err == nil && got.Status == domain.RunStatusDone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancelledStreamCancelsRun(t *testing.T) {
	svc, _ := newTestService(t, &testutil.ScriptedModel{Block: true})
	ctx := context.Background()

	run, sr, err := svc.StartStream(ctx, RunRequest{Messages: []domain.Message{domain.UserMessage("hello")}})
	require.NoError(t, err)

	sr.Cancel()

	require.Eventually(t, func() bool {
		got, err := svc.GetRun(ctx, run.RunID)
		return err == nil && got.Status == domain.RunStatusCancelled
	}, 2*time.Second, 10*time.Millisecond)

	events, err := svc.GetRunEvents(ctx, run.RunID, 0, nil, 0)
	require.NoError(t, err)
	types := eventTypes(events)
	assert.Equal(t, domain.EventTypeRunCancelled, types[len(types)-1])
	assert.NotContains(t, types, domain.EventTypeFinal)
}

func TestGetRunNotFound(t *testing.T) {
	svc, _ := newTestService(t, &testutil.ScriptedModel{})

	_, err := svc.GetRun(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = svc.GetRunEvents(context.Background(), "run_missing", 0, nil, 0)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRecoverInterruptedRuns(t *testing.T) {
	svc, store := newTestService(t, &testutil.ScriptedModel{})
	ctx := context.Background()
	now := time.Now()

	for _, run := range []*domain.Run{
		{RunID: "run_live", Query: "q", Status: domain.RunStatusRunning, StartedAt: now},
		{RunID: "run_new", Query: "q", Status: domain.RunStatusCreated, StartedAt: now},
		{RunID: "run_done", Query: "q", Status: domain.RunStatusDone, StartedAt: now},
	} {
		require.NoError(t, store.CreateRun(ctx, run))
	}
	require.NoError(t, store.CreateToolCall(ctx, &domain.ToolCall{
		ToolCallID: "tc_live",
		RunID:      "run_live",
		ToolName:   "k8s_pods_list",
		Category:   domain.CategoryK8s,
		Status:     domain.ToolCallStatusRunning,
		Args:       json.RawMessage(`{}`),
		CreatedAt:  now,
	}))

	n, err := svc.RecoverInterruptedRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	live, err := svc.GetRun(ctx, "run_live")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, live.Status)
	assert.Equal(t, interruptedReason, live.Error)

	done, err := svc.GetRun(ctx, "run_done")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusDone, done.Status)

	tc, err := store.GetToolCall(ctx, "tc_live")
	require.NoError(t, err)
	assert.Equal(t, domain.ToolCallStatusFailed, tc.Status)

	n, err = svc.RecoverInterruptedRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListModelsAdvertisesAgent(t *testing.T) {
	svc, _ := newTestService(t, &testutil.ScriptedModel{})
	models := svc.ListModels(context.Background())
	require.Len(t, models, 1)
	assert.Equal(t, config.Default().LLM.AgentModel, models[0].ID)
	assert.Equal(t, "model", models[0].Object)
}
