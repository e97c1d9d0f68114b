package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/agent"
	"github.com/xiaot623/opsagent/internal/domain"
)

// recordEvent records an event to the store. Recording outlives the
// cancellation of ctx so that cancelled runs keep their trail.
func (s *Service) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}

	return s.store.CreateEvent(context.WithoutCancel(ctx), event)
}

// auditEmitter records pipeline events before passing them on. Token
// fragments are not recorded; the final text is.
type auditEmitter struct {
	s     *Service
	runID string
	next  agent.Emitter
}

func (a *auditEmitter) Emit(ctx context.Context, ev domain.StreamEvent) error {
	a.record(ctx, ev)
	if a.next == nil {
		return nil
	}
	return a.next.Emit(ctx, ev)
}

func (a *auditEmitter) record(ctx context.Context, ev domain.StreamEvent) {
	var (
		eventType domain.EventType
		payload   any
	)
	switch ev.Kind {
	case domain.StreamStageStarted:
		eventType = domain.EventTypeStageStarted
		payload = stagePayload(ev)
	case domain.StreamStageFinished:
		eventType = domain.EventTypeStageFinished
		payload = stagePayload(ev)
		if ev.Route != "" {
			a.routeDecided(ctx, ev.Route)
		}
	case domain.StreamProgress:
		eventType = domain.EventTypeProgress
		payload = stagePayload(ev)
	case domain.StreamFinal:
		eventType = domain.EventTypeFinal
		payload = domain.RunDonePayload{FinalMessage: ev.Text}
	default:
		return
	}
	if err := a.s.recordEvent(ctx, a.runID, eventType, payload); err != nil {
		log.Warn().Err(err).Str("run_id", a.runID).Str("type", string(eventType)).Msg("failed to record event")
	}
}

func (a *auditEmitter) routeDecided(ctx context.Context, route domain.RoutingDecision) {
	if err := a.s.store.UpdateRunRoute(context.WithoutCancel(ctx), a.runID, route); err != nil {
		log.Warn().Err(err).Str("run_id", a.runID).Msg("failed to update run route")
	}
	if err := a.s.recordEvent(ctx, a.runID, domain.EventTypeRouteDecided, domain.RouteDecidedPayload{Route: route}); err != nil {
		log.Warn().Err(err).Str("run_id", a.runID).Msg("failed to record route_decided event")
	}
}

func stagePayload(ev domain.StreamEvent) domain.StagePayload {
	return domain.StagePayload{
		Stage:     ev.Stage,
		Status:    ev.Status,
		Text:      ev.Text,
		Plan:      ev.Plan,
		ElapsedMs: ev.Elapsed.Milliseconds(),
	}
}
