package agent

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/domain"
)

// Router picks the execution path of a run.
type Router struct {
	deps Deps
}

// NewRouter creates a router.
func NewRouter(deps Deps) *Router {
	deps.normalize()
	return &Router{deps: deps}
}

// Decide classifies the latest user message. Anything but a reply containing
// COMPLEX, including a failed call, selects SIMPLE.
func (r *Router) Decide(ctx context.Context, history []domain.Message) domain.RoutingDecision {
	window := Trim(history, r.deps.Budget.RouterKeepLast)
	question := domain.ConversationState(window).LastUserContent()

	prompt, err := r.deps.Prompts.Render(promptRouter, map[string]any{"Question": question})
	if err != nil {
		log.Error().Err(err).Msg("router prompt failed")
		return domain.RouteSimple
	}
	resp, err := r.deps.Instruct.Complete(ctx, []domain.Message{domain.UserMessage(prompt)}, nil)
	if err != nil {
		log.Warn().Err(err).Msg("router call failed, defaulting to SIMPLE")
		return domain.RouteSimple
	}
	return ParseRoute(resp.Content)
}

// ParseRoute maps a classifier reply to a decision.
func ParseRoute(reply string) domain.RoutingDecision {
	if strings.Contains(strings.ToUpper(reply), string(domain.RouteComplex)) {
		return domain.RouteComplex
	}
	return domain.RouteSimple
}
