// Package service runs pipeline requests and keeps their audit trail.
package service

import (
	"context"
	"errors"

	"github.com/xiaot623/opsagent/internal/adapter/llm"
	"github.com/xiaot623/opsagent/internal/agent"
	"github.com/xiaot623/opsagent/internal/config"
	"github.com/xiaot623/opsagent/internal/policy"
	"github.com/xiaot623/opsagent/internal/repository"
	"github.com/xiaot623/opsagent/internal/tools"
)

var (
	// ErrEmptyQuery is returned when a request has no user message.
	ErrEmptyQuery = errors.New("message is required")
	// ErrPolicyBlocked is returned for tool calls the policy rejects.
	ErrPolicyBlocked = errors.New("policy blocked")
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
)

// Service owns the pipeline and the audit store.
type Service struct {
	store        repository.Store
	tools        *tools.Registry
	policyEngine *policy.Engine
	pipeline     *agent.Pipeline
	config       *config.Config
}

// New wires a service. instruct and reasoning are the two model endpoints.
func New(store repository.Store, registry *tools.Registry, policyEngine *policy.Engine, instruct, reasoning llm.ChatModel, cfg *config.Config) *Service {
	s := &Service{
		store:        store,
		tools:        registry,
		policyEngine: policyEngine,
		config:       cfg,
	}
	s.pipeline = agent.NewPipeline(agent.Deps{
		Instruct:  instruct,
		Reasoning: reasoning,
		Tools:     &auditedToolbox{s: s},
		Budget:    cfg.Pipeline,
	})
	return s
}

type runIDKey struct{}

// WithRunID tags ctx with the run it belongs to.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run of ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
