package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xiaot623/opsagent/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func createRun(t *testing.T, store *SQLiteStore, runID string) {
	t.Helper()
	run := &domain.Run{
		RunID:     runID,
		Query:     "why is aaa failing",
		Protocol:  "openai",
		Status:    domain.RunStatusCreated,
		StartedAt: time.Now(),
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	createRun(t, store, "r1")

	if err := store.UpdateRunStatus(ctx, "r1", domain.RunStatusRunning); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}
	if err := store.UpdateRunRoute(ctx, "r1", domain.RouteComplex); err != nil {
		t.Fatalf("UpdateRunRoute failed: %v", err)
	}
	if err := store.UpdateRunCompleted(ctx, "r1", domain.RunStatusDone, "all healthy", ""); err != nil {
		t.Fatalf("UpdateRunCompleted failed: %v", err)
	}

	gotRun, err := store.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if gotRun == nil || gotRun.Status != domain.RunStatusDone {
		t.Fatalf("unexpected run: %+v", gotRun)
	}
	if gotRun.Route != domain.RouteComplex || gotRun.Answer != "all healthy" || gotRun.Error != "" {
		t.Fatalf("unexpected run fields: %+v", gotRun)
	}
	if gotRun.EndedAt == nil {
		t.Fatalf("expected ended_at to be set")
	}

	missing, err := store.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil run, got %+v, %v", missing, err)
	}

	createRun(t, store, "r2")
	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

func TestSQLiteStoreEventsKeepOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	createRun(t, store, "r1")

	ts := time.Now().UnixMilli()
	types := []domain.EventType{domain.EventTypeRunStarted, domain.EventTypeUserInput, domain.EventTypeRouteDecided}
	for i, typ := range types {
		event := &domain.Event{
			EventID: "e" + string(rune('a'+i)),
			RunID:   "r1",
			Ts:      ts,
			Type:    typ,
			Payload: json.RawMessage(`{"n":1}`),
		}
		if err := store.CreateEvent(ctx, event); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
	}

	events, err := store.GetEvents(ctx, "r1", 0, nil, 10)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, typ := range types {
		if events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}

	filtered, err := store.GetEvents(ctx, "r1", 0, []string{string(domain.EventTypeUserInput)}, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(filtered) != 1 {
		t.Fatalf("expected 1 filtered event, got %d", len(filtered))
	}

	if err := store.CreateEvent(ctx, &domain.Event{EventID: "orphan", RunID: "missing", Ts: ts, Type: domain.EventTypeProgress}); err == nil {
		t.Fatalf("expected foreign key violation for unknown run")
	}
}

func TestSQLiteStoreToolCalls(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	createRun(t, store, "r1")

	tc := &domain.ToolCall{
		ToolCallID: "tc1",
		RunID:      "r1",
		ToolName:   "k8s_pods_list",
		Category:   domain.CategoryK8s,
		Status:     domain.ToolCallStatusRunning,
		Args:       json.RawMessage(`{"namespace":"aaa"}`),
		CreatedAt:  time.Now(),
	}
	if err := store.CreateToolCall(ctx, tc); err != nil {
		t.Fatalf("CreateToolCall failed: %v", err)
	}

	updated, err := store.UpdateToolCallResult(ctx, "tc1", domain.ToolCallStatusSucceeded, "pod-a Running", "")
	if err != nil || !updated {
		t.Fatalf("UpdateToolCallResult failed: %v (updated=%v)", err, updated)
	}
	again, err := store.UpdateToolCallResult(ctx, "tc1", domain.ToolCallStatusFailed, "", "late")
	if err != nil {
		t.Fatalf("UpdateToolCallResult failed: %v", err)
	}
	if again {
		t.Fatalf("expected completed call to stay untouched")
	}

	got, err := store.GetToolCall(ctx, "tc1")
	if err != nil {
		t.Fatalf("GetToolCall failed: %v", err)
	}
	if got.Status != domain.ToolCallStatusSucceeded || got.Result != "pod-a Running" || got.CompletedAt == nil {
		t.Fatalf("unexpected tool call: %+v", got)
	}
	if string(got.Args) != `{"namespace":"aaa"}` {
		t.Fatalf("unexpected args: %s", got.Args)
	}

	calls, err := store.ListToolCalls(ctx, "r1")
	if err != nil {
		t.Fatalf("ListToolCalls failed: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
}
