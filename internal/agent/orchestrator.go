package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/domain"
)

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	braceJSON  = regexp.MustCompile(`(?s)\{.*\}`)
)

// Orchestrator turns a COMPLEX request into per-specialist instructions.
type Orchestrator struct {
	deps Deps
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	deps.normalize()
	return &Orchestrator{deps: deps}
}

// Plan asks the instruct endpoint for a work plan. It never returns an empty
// plan: parse failures and call failures fall back to FallbackPlan.
func (o *Orchestrator) Plan(ctx context.Context, question string) domain.WorkPlan {
	prompt, err := o.deps.Prompts.Render(promptOrchestrator, map[string]any{"Question": question})
	if err != nil {
		log.Error().Err(err).Msg("orchestrator prompt failed")
		return FallbackPlan(question)
	}
	resp, err := o.deps.Instruct.Complete(ctx, []domain.Message{domain.UserMessage(prompt)}, nil)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator call failed, delegating to every specialist")
		return FallbackPlan(question)
	}

	plan, err := ParsePlan(resp.Content)
	if err != nil {
		log.Warn().Err(err).Str("content", truncateForLog(resp.Content, 500)).Msg("unusable work plan, delegating to every specialist")
		return FallbackPlan(question)
	}
	return plan
}

// ParsePlan extracts a work plan from a model reply: a fenced json block
// first, else the outermost brace-delimited object. A "traces" entry is
// merged into the metric instruction.
func ParsePlan(content string) (domain.WorkPlan, error) {
	var candidate string
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		candidate = strings.TrimSpace(m[1])
	} else if m := braceJSON.FindString(content); m != "" {
		candidate = m
	} else {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		fields[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(s)
	}

	plan := domain.WorkPlan{}
	for _, key := range domain.Specialists {
		if v := fields[string(key)]; v != "" {
			plan[key] = v
		}
	}
	if traces := fields[domain.PlanKeyTraces]; traces != "" {
		if plan[domain.CategoryMetric] != "" {
			plan[domain.CategoryMetric] += "\n" + traces
		} else {
			plan[domain.CategoryMetric] = traces
		}
	}
	if plan.Empty() {
		return nil, fmt.Errorf("plan assigns no specialist")
	}
	return plan, nil
}

// FallbackPlan delegates the request to all three specialists.
func FallbackPlan(question string) domain.WorkPlan {
	return domain.WorkPlan{
		domain.CategoryK8s:    "Investigate and resolve the following request on your own (use log/metric tools if available): " + question,
		domain.CategoryLog:    "If needed, query error logs related to: " + question,
		domain.CategoryMetric: "If needed, query resource usage related to: " + question,
	}
}

// planText renders a plan for display in the progress stream.
func planText(plan domain.WorkPlan) string {
	ordered := make(map[string]string, len(plan))
	for k, v := range plan {
		ordered[string(k)] = v
	}
	b, err := json.MarshalIndent(ordered, "", "  ")
	if err != nil {
		return ""
	}
	return "[Orchestrator] delegating work:\n" + string(b)
}

func truncateForLog(s string, n int) string {
	if domain.RuneLen(s) <= n {
		return s
	}
	return domain.HeadRunes(s, n) + "..."
}
