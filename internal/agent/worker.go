package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/metrics"
)

// EmptyResultMarker replaces an empty tool output so that it is not mistaken for a failure.
const EmptyResultMarker = "[Empty result: not an error. No target resource matches the filter " +
	"(for example Error state) anywhere in the cluster, which means it is fully healthy.]"

const (
	k8sHead       = 2000
	k8sTail       = 6000
	k8sOmitted    = "\n\n... (omitted: verbose environment/volume data) ...\n\n"
	logTruncated  = "\n... (log data truncated)"
	flatTruncated = "\n... (data too long)"
)

// Worker runs one specialist: a tool-calling turn, then a summarization call.
type Worker struct {
	deps Deps
}

// NewWorker creates a worker.
func NewWorker(deps Deps) *Worker {
	deps.normalize()
	return &Worker{deps: deps}
}

// Run executes instruction with the tools of key's category. It never fails:
// problems are reported as error reports.
func (w *Worker) Run(ctx context.Context, key domain.SpecialistKey, instruction string, emit Emitter) domain.WorkerReport {
	name := specialistName(key)
	descs := w.deps.Tools.ByCategory(key)
	if strings.TrimSpace(instruction) == "" || len(descs) == 0 {
		return domain.WorkerReport{
			Specialist: key,
			Status:     domain.ReportNoOp,
			Body:       fmt.Sprintf("[%s] not run (no instruction or no tools)", name),
		}
	}

	logger := log.With().Str("specialist", name).Logger()
	logger.Info().Str("instruction", instruction).Msg("worker started")

	body, err := w.run(ctx, key, name, instruction, descs, emit)
	if err != nil {
		logger.Warn().Err(err).Msg("worker failed")
		return domain.WorkerReport{Specialist: key, Status: domain.ReportError, Body: fmt.Sprintf("[%s] error: %v", name, err)}
	}
	return domain.WorkerReport{Specialist: key, Status: domain.ReportOK, Body: body}
}

func (w *Worker) run(ctx context.Context, key domain.SpecialistKey, name, instruction string, descs []domain.ToolDescriptor, emit Emitter) (string, error) {
	sys, err := w.deps.Prompts.Render(promptWorkerSystem, map[string]any{
		"Name":        name,
		"Instruction": instruction,
		"Guide":       w.deps.Prompts.guide(key),
	})
	if err != nil {
		return "", err
	}

	resp, err := w.deps.Instruct.Complete(ctx, []domain.Message{
		domain.SystemMessage(sys),
		domain.UserMessage(instruction),
	}, descs)
	if err != nil {
		return "", err
	}
	if !resp.HasToolCalls() {
		return fmt.Sprintf("[%s] analysis result: (answered without tools) %s", name, resp.Content), nil
	}

	allowed := make(map[string]bool, len(descs))
	for _, d := range descs {
		allowed[d.Name] = true
	}
	outputs := make([]string, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !allowed[call.Name] {
			outputs = append(outputs, fmt.Sprintf("Tool(%s) Error: tool is not assigned to %s", call.Name, name))
			continue
		}
		out, err := w.deps.Tools.Invoke(ctx, call.Name, call.Arguments)
		if err != nil {
			outputs = append(outputs, fmt.Sprintf("Tool(%s) Error: %v", call.Name, err))
			continue
		}
		out = strings.TrimSpace(out)
		if out == "" {
			out = EmptyResultMarker
		}
		outputs = append(outputs, fmt.Sprintf("Tool(%s) Output: %s", call.Name, out))
	}

	raw := TruncateRaw(key, strings.Join(outputs, "\n\n"), w.deps.Budget.RawCeiling)
	summary, err := w.summarize(ctx, name, instruction, raw, emit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] analysis result:\n%s", name, summary), nil
}

// TruncateRaw applies the per-role ceiling to concatenated tool output. The
// k8s role keeps its tail, where event listings land; the others keep the head.
func TruncateRaw(key domain.SpecialistKey, raw string, ceiling int) string {
	if domain.RuneLen(raw) <= ceiling {
		return raw
	}
	switch key {
	case domain.CategoryK8s:
		head, tail := k8sHead, k8sTail
		if head+tail > ceiling {
			head = ceiling / 4
			tail = ceiling - head
		}
		return domain.HeadRunes(raw, head) + k8sOmitted + domain.TailRunes(raw, tail)
	case domain.CategoryLog:
		return domain.HeadRunes(raw, ceiling) + logTruncated
	default:
		return domain.HeadRunes(raw, ceiling) + flatTruncated
	}
}

// summarize runs the map-reduce summarization call and emits a heartbeat
// while it is in flight.
func (w *Worker) summarize(ctx context.Context, name, instruction, raw string, emit Emitter) (string, error) {
	prompt, err := w.deps.Prompts.Render(promptSummarize, map[string]any{
		"Name":        name,
		"Instruction": instruction,
		"Raw":         raw,
		"Limit":       w.deps.Budget.SummaryLimit,
	})
	if err != nil {
		return "", err
	}

	type result struct {
		msg domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := w.deps.Instruct.Complete(ctx, []domain.Message{domain.UserMessage(prompt)}, nil)
		done <- result{msg: msg, err: err}
	}()

	start := time.Now()
	ticker := time.NewTicker(w.deps.Budget.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case res := <-done:
			if res.err != nil {
				return "", fmt.Errorf("summarization failed: %w", res.err)
			}
			elapsed := time.Since(start)
			_ = emit.Emit(ctx, domain.StreamEvent{
				Kind:    domain.StreamProgress,
				Stage:   domain.StageWorkers,
				Text:    fmt.Sprintf("[%s] summary done (%s total)", name, formatElapsed(elapsed)),
				Elapsed: elapsed,
			})
			metrics.ObserveStage("summarize", elapsed)
			return res.msg.Content, nil
		case <-ticker.C:
			elapsed := time.Since(start)
			text := fmt.Sprintf("[%s] still summarizing (running for %s)", name, formatElapsed(elapsed))
			log.Info().Str("specialist", name).Dur("elapsed", elapsed).Msg("still summarizing")
			_ = emit.Emit(ctx, domain.StreamEvent{Kind: domain.StreamProgress, Stage: domain.StageWorkers, Text: text, Elapsed: elapsed})
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
