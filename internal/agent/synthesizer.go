package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/domain"
)

const (
	quotaMarker  = "\n... (summary too long, truncated)"
	globalMarker = "\n\n... (truncated by global guard)"
)

// Synthesizer merges worker reports into the final answer.
type Synthesizer struct {
	deps Deps
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(deps Deps) *Synthesizer {
	deps.normalize()
	return &Synthesizer{deps: deps}
}

// AssembleReports orders reports k8s, metric, log, cuts each to quota and the
// joined text to ceiling. Truncated parts carry a marker.
func AssembleReports(reports []domain.WorkerReport, quota, ceiling int) string {
	byKey := make(map[domain.SpecialistKey]string, len(reports))
	for _, r := range reports {
		byKey[r.Specialist] = r.Body
	}

	parts := make([]string, 0, len(domain.Specialists))
	for _, key := range domain.Specialists {
		body, ok := byKey[key]
		if !ok {
			continue
		}
		if domain.RuneLen(body) > quota {
			body = domain.HeadRunes(body, quota) + quotaMarker
		}
		parts = append(parts, body)
	}

	text := strings.Join(parts, "\n\n")
	if domain.RuneLen(text) > ceiling {
		text = domain.HeadRunes(text, ceiling) + globalMarker
	}
	return text
}

// Run streams the reasoning endpoint's answer as token events and returns
// the visible final text.
func (s *Synthesizer) Run(ctx context.Context, question string, reports []domain.WorkerReport, emit Emitter) (string, error) {
	assembled := AssembleReports(reports, s.deps.Budget.ReportQuota, s.deps.Budget.SynthesisCeiling)
	prompt, err := s.deps.Prompts.Render(promptSynthesizer, map[string]any{
		"Question": question,
		"Reports":  assembled,
	})
	if err != nil {
		return "", err
	}

	var filter llm.ThinkFilter
	resp, err := s.deps.Reasoning.Stream(ctx, []domain.Message{domain.UserMessage(prompt)}, func(fragment string) {
		if visible := filter.Push(fragment); visible != "" {
			_ = emit.Emit(ctx, domain.Token(visible))
		}
	})
	if err != nil {
		return "", fmt.Errorf("synthesizer call failed: %w", err)
	}
	if rest := filter.Flush(); rest != "" {
		_ = emit.Emit(ctx, domain.Token(rest))
	}
	return llm.StripThink(resp.Content), nil
}
