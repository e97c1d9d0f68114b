package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/tools"
)

// scriptedModel answers every call through respond and records the calls.
type scriptedModel struct {
	respond func(messages []domain.Message, tools []domain.ToolDescriptor) (domain.Message, error)
	stream  []string
	delay   time.Duration

	mu          sync.Mutex
	calls       [][]domain.Message
	inFlight    int
	maxInFlight int
}

func (m *scriptedModel) enter(messages []domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
}

func (m *scriptedModel) leave() {
	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
}

func (m *scriptedModel) Complete(ctx context.Context, messages []domain.Message, descs []domain.ToolDescriptor) (domain.Message, error) {
	m.enter(messages)
	defer m.leave()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return domain.Message{}, ctx.Err()
		}
	}
	if m.respond == nil {
		return domain.AssistantMessage(""), nil
	}
	return m.respond(messages, descs)
}

func (m *scriptedModel) Stream(ctx context.Context, messages []domain.Message, onToken func(string)) (domain.Message, error) {
	m.enter(messages)
	defer m.leave()
	var b strings.Builder
	for _, f := range m.stream {
		onToken(f)
		b.WriteString(f)
	}
	return domain.AssistantMessage(b.String()), nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// promptKind classifies a call by the prompt it opens with.
func promptKind(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	first := messages[0].Content
	switch {
	case strings.HasPrefix(first, "You classify user intent"):
		return "router"
	case strings.HasPrefix(first, "You are the orchestrator"):
		return "orchestrator"
	case strings.HasPrefix(first, "You summarize the findings"):
		return "summarize"
	case strings.HasPrefix(first, "You write the final answer"):
		return "synthesizer"
	case strings.HasPrefix(first, "You are a fast and precise"):
		return "simple"
	case strings.HasPrefix(first, "You are "):
		return "worker"
	}
	return ""
}

func hasToolResult(messages []domain.Message) bool {
	for _, m := range messages {
		if m.Role == domain.RoleTool {
			return true
		}
	}
	return false
}

func toolCall(id, name string, args map[string]any) domain.Message {
	return domain.Message{
		Role:      domain.RoleAssistant,
		ToolCalls: []domain.ToolCallRequest{{ID: id, Name: name, Arguments: args}},
	}
}

// recorder collects emitted events.
type recorder struct {
	mu     sync.Mutex
	events []domain.StreamEvent
}

func (r *recorder) Emit(_ context.Context, ev domain.StreamEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) snapshot() []domain.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StreamEvent(nil), r.events...)
}

func (r *recorder) texts(kind domain.StreamEventKind) []string {
	var out []string
	for _, ev := range r.snapshot() {
		if ev.Kind == kind {
			out = append(out, ev.Text)
		}
	}
	return out
}

// invocations counts registry calls per tool.
type invocations struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *invocations) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[name]++
}

func (c *invocations) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// newTestRegistry registers one tool per category. outputs overrides a tool's
// result by name.
func newTestRegistry(counter *invocations, outputs map[string]string) *tools.Registry {
	r := tools.NewRegistry()
	for _, d := range []domain.ToolDescriptor{
		{Name: "k8s_pods_list", Description: "List pods", Category: domain.CategoryK8s, Args: []domain.ArgSpec{{Name: "namespace", Kind: domain.ArgString}}},
		{Name: "vm_query", Description: "Run PromQL", Category: domain.CategoryMetric, Args: []domain.ArgSpec{{Name: "query", Kind: domain.ArgString}}},
		{Name: "vlogs_query", Description: "Run LogsQL", Category: domain.CategoryLog, Args: []domain.ArgSpec{{Name: "query", Kind: domain.ArgString}}},
	} {
		name := d.Name
		r.MustRegister(d, func(ctx context.Context, args map[string]any) (string, error) {
			if counter != nil {
				counter.add(name)
			}
			if out, ok := outputs[name]; ok {
				return out, nil
			}
			return name + " output", nil
		})
	}
	return r
}

func testBudget() config.PipelineConfig {
	b := config.Default().Pipeline
	b.WorkerStagger = 0
	b.HeartbeatInterval = time.Hour
	return b
}
