package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/protocol"
)

var fastOptions = Options{PollInterval: 10 * time.Millisecond, KeepAliveInterval: time.Hour}

// queued returns a finished run holding events.
func queued(t *testing.T, events ...domain.StreamEvent) *Run {
	t.Helper()
	run := NewRun(context.Background(), len(events)+2)
	for _, ev := range events {
		require.NoError(t, run.Emit(context.Background(), ev))
	}
	run.Finish(nil)
	return run
}

// frames splits an SSE body into data payloads and comments.
func frames(body string) (data []string, comments []string) {
	for _, block := range strings.Split(body, "\n\n") {
		switch {
		case strings.HasPrefix(block, "data: "):
			data = append(data, strings.TrimPrefix(block, "data: "))
		case strings.HasPrefix(block, ": "):
			comments = append(comments, strings.TrimPrefix(block, ": "))
		}
	}
	return data, comments
}

func decodeChunks(t *testing.T, data []string) []chatChunk {
	t.Helper()
	var out []chatChunk
	for _, d := range data {
		if d == "[DONE]" {
			continue
		}
		var c chatChunk
		require.NoError(t, json.Unmarshal([]byte(d), &c), d)
		out = append(out, c)
	}
	return out
}

func TestOpenAIEncoderWrapsProgressInThink(t *testing.T) {
	run := queued(t,
		domain.StageStarted(domain.StageRouter, "[System] deciding router mode..."),
		domain.StageFinished(domain.StageRouter, domain.NodeSuccess, "[System] route: COMPLEX"),
		domain.StageStarted(domain.StageSynthesizer, "[System] synthesizing the final answer..."),
		domain.Token("Hello "),
		domain.Token("world"),
		domain.StageFinished(domain.StageSynthesizer, domain.NodeSuccess, ""),
		domain.Final("Hello world"),
	)
	rec := httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), run, NewOpenAIEncoder(NewSSEWriter(rec), "opsagent"), fastOptions))

	data, _ := frames(rec.Body.String())
	require.NotEmpty(t, data)
	assert.Equal(t, "[DONE]", data[len(data)-1])

	chunks := decodeChunks(t, data)
	assert.Equal(t, "assistant", chunks[0].Choices[0].Delta.Role)
	var content strings.Builder
	for _, c := range chunks {
		assert.Equal(t, "opsagent", c.Model)
		assert.Equal(t, "chat.completion.chunk", c.Object)
		content.WriteString(c.Choices[0].Delta.Content)
	}
	assert.Equal(t, "<think>\n[System] deciding router mode...\n[System] route: COMPLEX\n"+
		"[System] synthesizing the final answer...\n\n</think>\n\nHello world", content.String())

	last := chunks[len(chunks)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, "stop", *last.Choices[0].FinishReason)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "[DONE]"))
}

func TestOpenAIEncoderFinalWithoutTokens(t *testing.T) {
	run := queued(t, domain.Final("3 pods are running"))
	rec := httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), run, NewOpenAIEncoder(NewSSEWriter(rec), "m"), fastOptions))

	data, _ := frames(rec.Body.String())
	var content strings.Builder
	for _, c := range decodeChunks(t, data) {
		content.WriteString(c.Choices[0].Delta.Content)
	}
	assert.Equal(t, "3 pods are running", content.String())
}

func TestOpenAIEncoderError(t *testing.T) {
	run := queued(t, domain.Progress(domain.StageRouter, "working"), domain.ErrorEvent("model unavailable"))
	rec := httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), run, NewOpenAIEncoder(NewSSEWriter(rec), "m"), fastOptions))

	data, _ := frames(rec.Body.String())
	var content strings.Builder
	for _, c := range decodeChunks(t, data) {
		content.WriteString(c.Choices[0].Delta.Content)
	}
	assert.Equal(t, "<think>\nworking\n\n</think>\n\n[Error] model unavailable", content.String())
	assert.Equal(t, "[DONE]", data[len(data)-1])
}

func TestDataStreamEncoderParts(t *testing.T) {
	run := queued(t,
		domain.StageStarted(domain.StageRouter, "deciding"),
		domain.StageFinished(domain.StageRouter, domain.NodeSuccess, "route: SIMPLE"),
		domain.Token("Hi"),
		domain.Final("Hi"),
	)
	rec := httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), run, NewDataStreamEncoder(NewSSEWriter(rec)), fastOptions))

	data, _ := frames(rec.Body.String())
	var types []string
	var parts []map[string]any
	for _, d := range data {
		if d == "[DONE]" {
			types = append(types, d)
			continue
		}
		var p map[string]any
		require.NoError(t, json.Unmarshal([]byte(d), &p))
		types = append(types, p["type"].(string))
		parts = append(parts, p)
	}
	assert.Equal(t, []string{
		"start",
		"data-node-execution-status", "reasoning-start", "reasoning-delta",
		"data-node-execution-status", "reasoning-delta", "reasoning-end",
		"text-start", "text-delta", "text-end",
		"finish", "[DONE]",
	}, types)

	assert.Equal(t, map[string]any{
		"type": "data-node-execution-status",
		"id":   "router",
		"data": map[string]any{"nodeId": "router", "nodeType": "router", "name": "Router", "status": "running"},
	}, parts[1])
	assert.Equal(t, "success", parts[4]["data"].(map[string]any)["status"])
	assert.Equal(t, "Hi", parts[8]["delta"])
}

func TestDataStreamEncoderError(t *testing.T) {
	run := queued(t, domain.ErrorEvent("boom"))
	rec := httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), run, NewDataStreamEncoder(NewSSEWriter(rec)), fastOptions))

	data, _ := frames(rec.Body.String())
	require.Len(t, data, 4)
	assert.JSONEq(t, `{"type":"error","errorText":"boom"}`, data[1])
	assert.JSONEq(t, `{"type":"finish"}`, data[2])
}

func TestEncodersAppendApologyAfterTokens(t *testing.T) {
	apology := "Sorry, the request could not be completed: reasoning endpoint: stream reset"
	events := []domain.StreamEvent{
		domain.StageStarted(domain.StageSynthesizer, "synthesizing"),
		domain.Token("The api pod "),
		domain.StageFinished(domain.StageSynthesizer, domain.NodeError, "synthesizer failed"),
		domain.Final(apology),
	}

	rec := httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), queued(t, events...), NewOpenAIEncoder(NewSSEWriter(rec), "m"), fastOptions))
	data, _ := frames(rec.Body.String())
	var content strings.Builder
	for _, c := range decodeChunks(t, data) {
		content.WriteString(c.Choices[0].Delta.Content)
	}
	assert.True(t, strings.HasSuffix(content.String(), "The api pod \n\n"+apology), content.String())

	rec = httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), queued(t, events...), NewDataStreamEncoder(NewSSEWriter(rec)), fastOptions))
	data, _ = frames(rec.Body.String())
	var text strings.Builder
	for _, d := range data {
		if d == "[DONE]" {
			continue
		}
		var p map[string]any
		require.NoError(t, json.Unmarshal([]byte(d), &p))
		if p["type"] == "text-delta" {
			text.WriteString(p["delta"].(string))
		}
	}
	assert.Equal(t, "The api pod \n\n"+apology, text.String())
}

func TestEncodersDoNotRepeatStreamedAnswer(t *testing.T) {
	events := []domain.StreamEvent{
		domain.Token("All pods "),
		domain.Token("are running."),
		domain.Final("All pods are running."),
	}

	rec := httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), queued(t, events...), NewOpenAIEncoder(NewSSEWriter(rec), "m"), fastOptions))
	data, _ := frames(rec.Body.String())
	var content strings.Builder
	for _, c := range decodeChunks(t, data) {
		content.WriteString(c.Choices[0].Delta.Content)
	}
	assert.Equal(t, "All pods are running.", content.String())

	rec = httptest.NewRecorder()
	require.NoError(t, Deliver(context.Background(), queued(t, events...), NewDataStreamEncoder(NewSSEWriter(rec)), fastOptions))
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "All pods are running."))
}

func TestFinalRemainder(t *testing.T) {
	rest, ok := finalRemainder("All pods", "All pods are running.")
	assert.True(t, ok)
	assert.Equal(t, " are running.", rest)

	_, ok = finalRemainder("done\n", "done")
	assert.False(t, ok)

	rest, ok = finalRemainder("The api pod ", "Sorry")
	assert.True(t, ok)
	assert.Equal(t, "\n\nSorry", rest)
}

type fakeSender struct {
	mu    sync.Mutex
	msgs  []map[string]any
	pings int
}

func (s *fakeSender) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *fakeSender) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func TestWSEncoderMessages(t *testing.T) {
	run := queued(t,
		domain.StageStarted(domain.StageSynthesizer, "synthesizing"),
		domain.Token("a"),
		domain.Token("b"),
		domain.StageFinished(domain.StageSynthesizer, domain.NodeSuccess, ""),
		domain.Final("ab"),
	)
	out := &fakeSender{}
	require.NoError(t, Deliver(context.Background(), run, NewWSEncoder(out, "run_1", "req_1"), fastOptions))

	var types []string
	for _, m := range out.msgs {
		types = append(types, m["type"].(string))
		assert.Equal(t, "run_1", m["run_id"])
	}
	assert.Equal(t, []string{protocol.TypeRunStarted, protocol.TypeStage, protocol.TypeDelta, protocol.TypeStage, protocol.TypeDone}, types)
	assert.Equal(t, "ab", out.msgs[2]["text"])
	assert.Equal(t, "ab", out.msgs[4]["reply"])
}

func TestDeliverSendsKeepAlive(t *testing.T) {
	run := NewRun(context.Background(), 4)
	go func() {
		time.Sleep(120 * time.Millisecond)
		_ = run.Emit(context.Background(), domain.Final("late"))
		run.Finish(nil)
	}()

	rec := httptest.NewRecorder()
	opts := Options{PollInterval: 10 * time.Millisecond, KeepAliveInterval: 30 * time.Millisecond}
	require.NoError(t, Deliver(context.Background(), run, NewOpenAIEncoder(NewSSEWriter(rec), "m"), opts))

	_, comments := frames(rec.Body.String())
	assert.NotEmpty(t, comments)
	for _, c := range comments {
		assert.Equal(t, "keep-alive", c)
	}
}

func TestDeliverCancelsRunOnDisconnect(t *testing.T) {
	run := Start(context.Background(), 1, func(ctx context.Context, r *Run) error {
		for {
			if err := r.Emit(ctx, domain.Progress(domain.StageWorkers, "tick")); err != nil {
				return err
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	client, cancel := context.WithCancel(context.Background())
	time.AfterFunc(40*time.Millisecond, cancel)

	out := &fakeSender{}
	err := Deliver(client, run, NewWSEncoder(out, "run_1", ""), fastOptions)
	assert.ErrorIs(t, err, ErrDetached)
	assert.Error(t, run.Context().Err())
	for _, m := range out.msgs {
		assert.NotEqual(t, protocol.TypeDone, m["type"])
	}
}

func TestDeliverEndsWhenRunIsCancelled(t *testing.T) {
	run := Start(context.Background(), 4, func(ctx context.Context, r *Run) error {
		_ = r.Emit(ctx, domain.StageStarted(domain.StageRouter, "routing"))
		<-ctx.Done()
		return ctx.Err()
	})
	time.AfterFunc(30*time.Millisecond, run.Cancel)

	out := &fakeSender{}
	done := make(chan error, 1)
	go func() { done <- Deliver(context.Background(), run, NewWSEncoder(out, "run_1", ""), fastOptions) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not end after cancel")
	}
	require.NotEmpty(t, out.msgs)
	assert.Equal(t, protocol.TypeDone, out.msgs[len(out.msgs)-1]["type"])
}
