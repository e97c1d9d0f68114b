package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/agent"
	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/metrics"
	"github.com/xiaot623/opsagent/internal/stream"
)

// RunRequest is one pipeline request.
type RunRequest struct {
	Messages []domain.Message
	Protocol string
}

// AskResult is the outcome of a synchronous request.
type AskResult struct {
	RunID  string
	Route  domain.RoutingDecision
	Answer string
}

// Ask runs the pipeline to completion and returns its answer. A failing
// model still yields an apology as the answer; err is only returned for
// requests that could not run at all.
func (s *Service) Ask(ctx context.Context, req RunRequest) (*AskResult, error) {
	run, err := s.startRun(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx := WithRunID(ctx, run.RunID)
	emit := &auditEmitter{s: s, runID: run.RunID}
	started := time.Now()
	res, err := s.pipeline.Run(runCtx, req.Messages, emit)
	s.finishRun(runCtx, run.RunID, res, err, time.Since(started))

	if err != nil && res.Answer == "" {
		return nil, err
	}
	return &AskResult{RunID: run.RunID, Route: res.Route, Answer: res.Answer}, nil
}

// StartStream starts the pipeline in the background and returns the run
// whose events the caller delivers. Cancelling the stream run cancels the
// pipeline.
func (s *Service) StartStream(ctx context.Context, req RunRequest) (*domain.Run, *stream.Run, error) {
	run, err := s.startRun(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	sr := stream.Start(ctx, s.config.Stream.BufferSize, func(runCtx context.Context, out *stream.Run) error {
		runCtx = WithRunID(runCtx, run.RunID)
		started := time.Now()
		res, err := s.pipeline.Run(runCtx, req.Messages, &auditEmitter{s: s, runID: run.RunID, next: out})
		s.finishRun(runCtx, run.RunID, res, err, time.Since(started))
		return err
	})
	return run, sr, nil
}

func (s *Service) startRun(ctx context.Context, req RunRequest) (*domain.Run, error) {
	query := strings.TrimSpace(domain.ConversationState(req.Messages).LastUserContent())
	if query == "" {
		return nil, ErrEmptyQuery
	}

	run := &domain.Run{
		RunID:     "run_" + uuid.New().String()[:8],
		Query:     query,
		Protocol:  req.Protocol,
		Status:    domain.RunStatusCreated,
		StartedAt: time.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := s.recordEvent(ctx, run.RunID, domain.EventTypeRunStarted, domain.RunStartedPayload{Protocol: req.Protocol}); err != nil {
		log.Warn().Err(err).Str("run_id", run.RunID).Msg("failed to record run_started event")
	}
	if err := s.recordEvent(ctx, run.RunID, domain.EventTypeUserInput, domain.UserInputPayload{Content: query}); err != nil {
		log.Warn().Err(err).Str("run_id", run.RunID).Msg("failed to record user_input event")
	}
	if err := s.store.UpdateRunStatus(ctx, run.RunID, domain.RunStatusRunning); err != nil {
		log.Warn().Err(err).Str("run_id", run.RunID).Msg("failed to update run status")
	}
	run.Status = domain.RunStatusRunning

	log.Info().Str("run_id", run.RunID).Str("protocol", req.Protocol).Msg("run started")
	return run, nil
}

func (s *Service) finishRun(ctx context.Context, runID string, res agent.Result, runErr error, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	logger := log.With().Str("run_id", runID).Str("route", string(res.Route)).Dur("elapsed", elapsed).Logger()

	var (
		status    domain.RunStatus
		eventType domain.EventType
		payload   any
		outcome   string
		errMsg    string
	)
	switch {
	case runErr == nil:
		status, eventType, outcome = domain.RunStatusDone, domain.EventTypeRunDone, "done"
		payload = domain.RunDonePayload{FinalMessage: res.Answer, DurationMs: elapsed.Milliseconds()}
		logger.Info().Msg("run done")
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, stream.ErrDetached):
		status, eventType, outcome = domain.RunStatusCancelled, domain.EventTypeRunCancelled, "cancelled"
		errMsg = "client disconnected"
		payload = domain.RunFailedPayload{Code: "cancelled", Message: errMsg}
		logger.Info().Msg("run cancelled")
	default:
		status, eventType, outcome = domain.RunStatusFailed, domain.EventTypeRunFailed, "failed"
		errMsg = runErr.Error()
		payload = domain.RunFailedPayload{Code: "run_failed", Message: errMsg}
		logger.Error().Err(runErr).Msg("run failed")
	}

	if err := s.store.UpdateRunCompleted(ctx, runID, status, res.Answer, errMsg); err != nil {
		logger.Warn().Err(err).Msg("failed to complete run")
	}
	if err := s.recordEvent(ctx, runID, eventType, payload); err != nil {
		logger.Warn().Err(err).Msg("failed to record run completion event")
	}

	route := string(res.Route)
	if route == "" {
		route = "none"
	}
	metrics.RunFinished(route, outcome)
}

// GetRun returns a run by ID.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}
