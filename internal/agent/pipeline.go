package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/metrics"
)

// Result is the outcome of one pipeline run.
type Result struct {
	Route   domain.RoutingDecision
	Answer  string
	Plan    domain.WorkPlan
	Reports []domain.WorkerReport
}

// Pipeline wires the stages: router, then either the simple executor or
// orchestrator -> worker pool -> synthesizer.
type Pipeline struct {
	router       *Router
	simple       *SimpleExecutor
	orchestrator *Orchestrator
	pool         *WorkerPool
	synthesizer  *Synthesizer
}

// NewPipeline builds every stage from deps.
func NewPipeline(deps Deps) *Pipeline {
	deps.normalize()
	return &Pipeline{
		router:       NewRouter(deps),
		simple:       NewSimpleExecutor(deps),
		orchestrator: NewOrchestrator(deps),
		pool:         NewWorkerPool(deps),
		synthesizer:  NewSynthesizer(deps),
	}
}

// Run executes the pipeline for history, whose last user message is the
// request. Every stage reports to emit and the answer is emitted as a final
// event. A model failure at the simple executor or synthesizer still yields
// an apology as the answer, alongside the error. The caller emits EOF.
func (p *Pipeline) Run(ctx context.Context, history []domain.Message, emit Emitter) (Result, error) {
	if emit == nil {
		emit = Discard
	}
	question := domain.ConversationState(history).LastUserContent()

	var res Result
	err := p.stage(ctx, emit, domain.StageRouter, "[System] deciding router mode...", func() (string, error) {
		res.Route = p.router.Decide(ctx, history)
		return fmt.Sprintf("[System] route: %s", res.Route), nil
	}, func(ev *domain.StreamEvent) { ev.Route = res.Route })
	if err != nil {
		return res, err
	}

	if res.Route == domain.RouteComplex {
		err = p.runComplex(ctx, question, emit, &res)
	} else {
		err = p.stage(ctx, emit, domain.StageSimple, "[System] answering directly...", func() (string, error) {
			answer, err := p.simple.Run(ctx, history, emit)
			res.Answer = answer
			return "", err
		}, nil)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if err != nil {
		res.Answer = apology(err)
	}
	if emitErr := emit.Emit(ctx, domain.Final(res.Answer)); emitErr != nil && err == nil {
		err = emitErr
	}
	return res, err
}

func (p *Pipeline) runComplex(ctx context.Context, question string, emit Emitter, res *Result) error {
	err := p.stage(ctx, emit, domain.StageOrchestrator, "[System] planning work...", func() (string, error) {
		res.Plan = p.orchestrator.Plan(ctx, question)
		return planText(res.Plan), nil
	}, func(ev *domain.StreamEvent) { ev.Plan = res.Plan })
	if err != nil {
		return err
	}

	err = p.stage(ctx, emit, domain.StageWorkers, fmt.Sprintf("[System] dispatching %d parallel jobs...", len(res.Plan.Active())), func() (string, error) {
		res.Reports = p.pool.Run(ctx, res.Plan, emit)
		return fmt.Sprintf("[System] %d parallel jobs done.", len(res.Reports)), nil
	}, nil)
	if err != nil {
		return err
	}

	return p.stage(ctx, emit, domain.StageSynthesizer, "[System] synthesizing the final answer...", func() (string, error) {
		answer, err := p.synthesizer.Run(ctx, question, res.Reports, emit)
		res.Answer = answer
		return "", err
	}, nil)
}

// stage brackets fn with stage-started and stage-finished events. decorate
// may enrich the finished event.
func (p *Pipeline) stage(ctx context.Context, emit Emitter, stage domain.Stage, startText string, fn func() (string, error), decorate func(*domain.StreamEvent)) error {
	if err := emit.Emit(ctx, domain.StageStarted(stage, startText)); err != nil {
		return err
	}
	start := time.Now()
	text, err := fn()
	elapsed := time.Since(start)
	metrics.ObserveStage(string(stage), elapsed)

	status := domain.NodeSuccess
	if err != nil {
		status = domain.NodeError
		if ctx.Err() == nil {
			log.Error().Err(err).Str("stage", string(stage)).Msg("stage failed")
			text = fmt.Sprintf("[System] %s failed: %v", stage, err)
		}
	}
	ev := domain.StageFinished(stage, status, text)
	ev.Elapsed = elapsed
	if decorate != nil {
		decorate(&ev)
	}
	if emitErr := emit.Emit(ctx, ev); emitErr != nil && err == nil {
		return emitErr
	}
	return err
}
