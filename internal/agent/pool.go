package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xiaot623/opsagent/internal/domain"
	"github.com/xiaot623/opsagent/internal/metrics"
)

// WorkerPool runs the specialists of a plan under a shared permit.
type WorkerPool struct {
	deps   Deps
	worker *Worker
}

// NewWorkerPool creates a worker pool.
func NewWorkerPool(deps Deps) *WorkerPool {
	deps.normalize()
	return &WorkerPool{deps: deps, worker: NewWorker(deps)}
}

// Run starts one worker per active plan entry and waits for all of them, or
// for the stage timeout. Workers still running at the deadline are reported
// as errors. Reports follow the priority order of the plan.
func (p *WorkerPool) Run(ctx context.Context, plan domain.WorkPlan, emit Emitter) []domain.WorkerReport {
	active := plan.Active()
	if len(active) == 0 {
		return nil
	}

	budget := p.deps.Budget
	stageCtx, cancel := context.WithTimeout(ctx, budget.StageTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(int64(budget.WorkerConcurrency))
	var (
		mu       sync.Mutex
		sealed   bool
		reports  = make([]domain.WorkerReport, len(active))
		finished = make([]bool, len(active))
	)
	store := func(i int, r domain.WorkerReport) {
		mu.Lock()
		defer mu.Unlock()
		if sealed {
			return
		}
		reports[i] = r
		finished[i] = true
	}

	var g errgroup.Group
	for i, key := range active {
		g.Go(func() error {
			store(i, p.runOne(stageCtx, sem, key, plan[key], emit))
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-stageCtx.Done():
		// Give workers that observed the cancellation a moment to store their own report.
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	sealed = true
	for i, key := range active {
		if finished[i] {
			continue
		}
		log.Warn().Str("specialist", specialistName(key)).Dur("timeout", budget.StageTimeout).Msg("worker did not finish in time")
		reports[i] = domain.WorkerReport{
			Specialist: key,
			Status:     domain.ReportError,
			Body:       fmt.Sprintf("[%s] error: stage timed out after %s", specialistName(key), budget.StageTimeout),
		}
	}
	for _, r := range reports {
		metrics.WorkerReport(string(r.Specialist), string(r.Status))
	}
	return append([]domain.WorkerReport(nil), reports...)
}

// runOne staggers, takes a permit and runs one worker.
func (p *WorkerPool) runOne(ctx context.Context, sem *semaphore.Weighted, key domain.SpecialistKey, instruction string, emit Emitter) domain.WorkerReport {
	name := specialistName(key)
	if d := p.deps.Budget.WorkerStagger; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return domain.WorkerReport{Specialist: key, Status: domain.ReportError, Body: fmt.Sprintf("[%s] error: %v", name, ctx.Err())}
		}
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return domain.WorkerReport{Specialist: key, Status: domain.ReportError, Body: fmt.Sprintf("[%s] error: %v", name, err)}
	}
	defer sem.Release(1)

	return p.worker.Run(ctx, key, instruction, emit)
}
