package executor

import (
	"log"
	"sync/atomic"
	"time"
)

// CancelExecution requests cancellation of an in-flight execution. A
// running container is terminated on its node; an execution that has not
// dispatched yet is stopped at the next state transition. Terminal
// executions cannot be cancelled.
func (e *Executor) CancelExecution(id, owner string) error {
	ex, ok := e.inflight.Get(id)
	if !ok {
		if _, done := e.history.get(id); done {
			return ErrTooLate
		}
		return ErrNotFound
	}
	if ex.Owner != owner {
		return ErrUnauthorized
	}

	ex.mu.Lock()
	if ex.Status.Terminal() {
		ex.mu.Unlock()
		return ErrTooLate
	}
	ex.cancelRequested = true
	running := ex.Status == StatusRunning
	endpoint := ex.endpoint
	instanceID := ex.InstanceID
	ex.mu.Unlock()

	if running && instanceID != "" {
		if err := e.dispatcher.Terminate(endpoint, instanceID); err != nil {
			log.Printf("Cancel of %s: terminate on %s failed: %v", id, endpoint, err)
		}
	}
	return nil
}

// GetExecution returns a snapshot of an in-flight execution.
func (e *Executor) GetExecution(id, owner string) (Execution, error) {
	ex, ok := e.inflight.Get(id)
	if !ok {
		return Execution{}, ErrNotFound
	}
	if ex.Owner != owner {
		return Execution{}, ErrUnauthorized
	}
	return ex.view(), nil
}

// GetExecutionResult returns the terminal result of an execution.
func (e *Executor) GetExecutionResult(id, owner string) (*ExecutionResult, error) {
	r, ok := e.history.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if r.Owner != owner {
		return nil, ErrUnauthorized
	}
	return r, nil
}

// ListExecutions returns all retained terminal results for one owner,
// newest first.
func (e *Executor) ListExecutions(owner string) []*ExecutionResult {
	return e.history.listByOwner(owner)
}

// EstimateCost quotes a request without scheduling it. The cold start
// penalty is included unless a warm instance for the exact shape is
// already idle.
func (e *Executor) EstimateCost(req ExecutionRequest) (CostEstimate, error) {
	if err := validateRequest(&req); err != nil {
		return CostEstimate{}, err
	}
	duration := time.Duration(req.TimeoutSec) * time.Second
	if duration == 0 {
		duration = e.defaultTimeout
	}
	expectCold := !e.pool.HasIdle(req.ImageRef, req.Resources)
	return e.pricing.Estimate(req.Resources, duration, expectCold), nil
}

func (e *Executor) Stats() Stats {
	return Stats{
		Pending:       e.inflight.Len(),
		Completed:     atomic.LoadInt64(&e.completed),
		Failed:        atomic.LoadInt64(&e.failed),
		Cancelled:     atomic.LoadInt64(&e.cancelled),
		ColdStartRate: e.coldStats.rate(),
	}
}
