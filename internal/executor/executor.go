package executor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/hivegrid/hivegrid/internal/agent"
	"github.com/hivegrid/hivegrid/internal/imagecache"
	"github.com/hivegrid/hivegrid/internal/metrics"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/scheduler"
	"github.com/hivegrid/hivegrid/internal/warmpool"
	"github.com/hivegrid/hivegrid/utils"
	"github.com/lithammer/shortuuid"
)

// scheduleAttempts bounds the reserve-retry loop: losing a reservation
// race is retriable against a re-scored node set, but not forever.
const scheduleAttempts = 3

// Dispatcher is the outbound node-agent dependency, injectable for tests.
type Dispatcher interface {
	Run(endpoint string, req *agent.RunRequest) (*agent.RunResponse, error)
	Terminate(endpoint, instanceID string) error
}

// Provisioner receives dedicated-mode executions: long-running workloads
// provisioned once and held, outside the warm pool and its cold start
// accounting.
type Provisioner interface {
	Provision(executionID string, req ExecutionRequest, n *node.ComputeNode) (instanceID string, err error)
}

// ResultSink observes terminal results (e.g. to publish them to etcd).
type ResultSink func(*ExecutionResult)

// Executor owns the end-to-end lifecycle of execution requests, tying the
// scheduler, the warm pool, the image cache and billing together.
type Executor struct {
	sched       *scheduler.Scheduler
	pool        *warmpool.Manager
	cache       *imagecache.Cache
	dispatcher  Dispatcher
	provisioner Provisioner // may be nil

	pricing        Pricing
	reservationTTL time.Duration
	defaultTimeout time.Duration

	inflight  *hashmap.Map[string, *Execution]
	history   *history
	coldStats *coldStartWindow

	completed, failed, cancelled int64
	sink                         ResultSink
}

type Options struct {
	Pricing         Pricing
	ReservationTTL  time.Duration
	DefaultTimeout  time.Duration
	HistoryCapacity int
	ColdStartWindow int
	Provisioner     Provisioner
	Sink            ResultSink
}

func NewExecutor(sched *scheduler.Scheduler, pool *warmpool.Manager, cache *imagecache.Cache, dispatcher Dispatcher, opts Options) *Executor {
	if opts.ReservationTTL == 0 {
		opts.ReservationTTL = 5 * time.Minute
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 5 * time.Minute
	}
	if opts.HistoryCapacity == 0 {
		opts.HistoryCapacity = 1000
	}
	return &Executor{
		sched:          sched,
		pool:           pool,
		cache:          cache,
		dispatcher:     dispatcher,
		provisioner:    opts.Provisioner,
		pricing:        opts.Pricing,
		reservationTTL: opts.ReservationTTL,
		defaultTimeout: opts.DefaultTimeout,
		inflight:       hashmap.New[string, *Execution](),
		history:        newHistory(opts.HistoryCapacity),
		coldStats:      newColdStartWindow(opts.ColdStartWindow),
		sink:           opts.Sink,
	}
}

func validateRequest(req *ExecutionRequest) error {
	if req.ImageRef == "" {
		return fmt.Errorf("%w: imageRef is required", ErrInvalidRequest)
	}
	if req.Resources.CPUCores <= 0 || req.Resources.MemoryMB <= 0 {
		return fmt.Errorf("%w: cpu and memory must be positive", ErrInvalidRequest)
	}
	if req.TimeoutSec < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidRequest)
	}
	switch req.Mode {
	case "":
		req.Mode = ModeEphemeral
	case ModeEphemeral, ModeDedicated:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}
	if req.RiskLevel == "" {
		req.RiskLevel = scheduler.RiskLow
	}
	return nil
}

// ExecuteContainer runs one request to a terminal state and returns its
// result. Blocks for the duration of the execution (ephemeral mode).
func (e *Executor) ExecuteContainer(req ExecutionRequest, owner string) (*ExecutionResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.Mode == ModeEphemeral && req.TimeoutSec == 0 {
		req.TimeoutSec = int(e.defaultTimeout.Seconds())
	}

	ex := &Execution{
		ID:          shortuuid.New(),
		Request:     req,
		Owner:       owner,
		Status:      StatusPending,
		SubmittedAt: time.Now(),
	}
	e.inflight.Set(ex.ID, ex)
	defer e.inflight.Del(ex.ID)

	return e.run(ex)
}

// run drives the state machine. Capacity exhaustion during scheduling is
// returned as an error (retriable, no execution record); every other path
// out of here has persisted a terminal result and released whatever
// resources it held.
func (e *Executor) run(ex *Execution) (*ExecutionResult, error) {
	if !ex.transition(StatusPending, StatusScheduling) {
		// cancelled before scheduling ever started
		return e.finish(ex, StatusCancelled, "", 0, "cancelled before scheduling", false), nil
	}

	// cache accounting: a hit here keeps the layers young in the LRU,
	// a miss feeds the published miss rate
	_, cacheHit := e.cache.GetCachedImage(ex.Request.ImageRef)
	if metrics.Enabled {
		if cacheHit {
			metrics.CacheHits.Inc()
		} else {
			metrics.CacheMisses.Inc()
		}
	}

	if ex.Request.Mode == ModeDedicated {
		return e.runDedicated(ex)
	}

	// warm path first
	if wi, err := e.pool.Acquire(ex.Request.ImageRef, ex.Request.Resources); err == nil {
		return e.runWarm(ex, wi), nil
	}

	return e.runCold(ex)
}

// runWarm executes on a claimed warm instance. The pool's reservation is
// kept alive across the execution; the instance goes back to idle only on
// a clean exit.
func (e *Executor) runWarm(ex *Execution, wi *warmpool.WarmInstance) *ExecutionResult {
	ex.setPlacement(wi.NodeID, wi.Endpoint, wi.Instance.ID)

	if ex.cancelled() {
		e.pool.Put(wi, true)
		return e.finish(ex, StatusCancelled, "", 0, "cancelled before dispatch", false)
	}

	e.sched.ExtendReservation(wi.NodeID, wi.ReservationID, time.Duration(ex.Request.TimeoutSec)*time.Second+e.reservationTTL)
	resp, err := e.dispatch(ex, wi.Instance.ID)
	if err != nil || resp.ExitCode != 0 {
		// suspect container: tear down, never reuse
		e.pool.Discard(wi)
		e.dispatcher.Terminate(wi.Endpoint, wi.Instance.ID)
		e.sched.ReleaseReservation(wi.NodeID, wi.ReservationID)
		e.sched.ForgetInstance(wi.NodeID, wi.Instance.ID)
		return e.failureResult(ex, resp, err, false)
	}

	e.pool.Put(wi, true)
	return e.finish(ex, StatusCompleted, resp.Output, resp.ExitCode, "", false)
}

// runCold schedules a node, reserves resources and dispatches a fresh
// container. The retry loop absorbs lost reservation races.
func (e *Executor) runCold(ex *Execution) (*ExecutionResult, error) {
	sctx := scheduler.Context{
		ImageRef:        ex.Request.ImageRef,
		Resources:       ex.Request.Resources,
		UserAddress:     ex.Owner,
		PreferredRegion: ex.Request.PreferredRegion,
		RiskLevel:       ex.Request.RiskLevel,
	}

	var chosen *node.ComputeNode
	var reservation *scheduler.Reservation
	for attempt := 0; attempt < scheduleAttempts; attempt++ {
		n, err := e.sched.ScheduleExecution(sctx, scheduler.StrategyBestFit)
		if err != nil {
			return nil, err
		}
		r, err := e.sched.ReserveResources(n.ID, ex.Request.Resources, ex.Owner, e.executionTTL(ex))
		if err == nil {
			chosen, reservation = n, r
			break
		}
		if !errors.Is(err, scheduler.ErrInsufficientCapacity) {
			return nil, err
		}
		log.Printf("Lost reservation race on %s, rescheduling", n.ID)
	}
	if reservation == nil {
		return nil, fmt.Errorf("%w: reservation retries exhausted", scheduler.ErrNoCapacity)
	}
	if metrics.Enabled {
		metrics.ReservationsGranted.Inc()
	}

	ex.setPlacement(chosen.ID, chosen.Endpoint, "")

	// cancel may have landed while the reservation was in flight: the
	// reservation completed, now release it immediately
	if ex.cancelled() {
		e.sched.ReleaseReservation(chosen.ID, reservation.ID)
		return e.finish(ex, StatusCancelled, "", 0, "cancelled before dispatch", true), nil
	}

	resp, err := e.dispatch(ex, "")
	if resp != nil && resp.InstanceID != "" {
		// the fresh container is gone either way once we are done
		defer e.dispatcher.Terminate(chosen.Endpoint, resp.InstanceID)
	}
	e.sched.MarkImageCached(chosen.ID, ex.Request.ImageRef)
	e.sched.ReleaseReservation(chosen.ID, reservation.ID)

	if err != nil || resp.ExitCode != 0 {
		return e.failureResult(ex, resp, err, true), nil
	}
	return e.finish(ex, StatusCompleted, resp.Output, resp.ExitCode, "", true), nil
}

// runDedicated hands a long-running execution to the provisioner
// collaborator. Dedicated workloads bypass the warm pool entirely: they
// are provisioned once and held, not repeatedly cold/warm started.
func (e *Executor) runDedicated(ex *Execution) (*ExecutionResult, error) {
	if e.provisioner == nil {
		return nil, fmt.Errorf("%w: no provisioner configured for dedicated mode", ErrInvalidRequest)
	}

	sctx := scheduler.Context{
		ImageRef:        ex.Request.ImageRef,
		Resources:       ex.Request.Resources,
		UserAddress:     ex.Owner,
		PreferredRegion: ex.Request.PreferredRegion,
		RiskLevel:       ex.Request.RiskLevel,
	}
	n, err := e.sched.ScheduleExecution(sctx, scheduler.StrategyBestFit)
	if err != nil {
		return nil, err
	}
	// dedicated occupancy is not TTL-bounded; reflect it directly
	if err := e.sched.UpdateNodeResources(n.ID, -ex.Request.Resources.CPUCores, -ex.Request.Resources.MemoryMB, -ex.Request.Resources.StorageMB); err != nil {
		return nil, err
	}
	ex.setPlacement(n.ID, n.Endpoint, "")

	instanceID, err := e.provisioner.Provision(ex.ID, ex.Request, n)
	if err != nil {
		e.sched.UpdateNodeResources(n.ID, ex.Request.Resources.CPUCores, ex.Request.Resources.MemoryMB, ex.Request.Resources.StorageMB)
		return e.finish(ex, StatusFailed, "", -1, err.Error(), true), nil
	}
	ex.mu.Lock()
	ex.InstanceID = instanceID
	ex.mu.Unlock()
	e.sched.TrackInstance(n.ID, node.Instance{ID: instanceID, ImageRef: ex.Request.ImageRef, StartedAt: time.Now()})

	return e.finish(ex, StatusCompleted, "provisioned", 0, "", true), nil
}

// dispatch sends the run request to the node agent and transitions the
// execution to running.
func (e *Executor) dispatch(ex *Execution, instanceID string) (*agent.RunResponse, error) {
	if !ex.transition(StatusScheduling, StatusRunning) {
		return nil, errors.New("cancelled")
	}
	ex.mu.Lock()
	ex.StartedAt = time.Now()
	endpoint := ex.endpoint
	ex.mu.Unlock()

	req := &agent.RunRequest{
		InstanceID: instanceID,
		ImageRef:   ex.Request.ImageRef,
		Command:    ex.Request.Command,
		Env:        ex.Request.Env,
		Input:      ex.Request.Input,
		Resources:  ex.Request.Resources,
		TimeoutSec: ex.Request.TimeoutSec,
	}
	resp, err := e.dispatcher.Run(endpoint, req)
	if resp != nil {
		ex.mu.Lock()
		ex.InstanceID = resp.InstanceID
		ex.mu.Unlock()
	}
	return resp, err
}

// failureResult folds a dispatch error or a nonzero exit into a terminal
// failed (or cancelled) record. The node's error is surfaced verbatim.
func (e *Executor) failureResult(ex *Execution, resp *agent.RunResponse, err error, cold bool) *ExecutionResult {
	if ex.cancelled() {
		return e.finish(ex, StatusCancelled, "", 0, "cancelled while running", cold)
	}
	output := ""
	exitCode := -1
	msg := ""
	if resp != nil {
		output = resp.Output
		exitCode = resp.ExitCode
	}
	if err != nil {
		msg = err.Error()
	} else {
		msg = fmt.Sprintf("container exited with code %d", exitCode)
	}
	return e.finish(ex, StatusFailed, output, exitCode, msg, cold)
}

// finish persists the terminal result, updates counters and notifies the
// sink and webhook. The single exit point of the state machine.
func (e *Executor) finish(ex *Execution, status Status, output string, exitCode int, errMsg string, cold bool) *ExecutionResult {
	ex.mu.Lock()
	// a cancel that raced a clean exit still reports cancelled
	if status == StatusCompleted && ex.cancelRequested {
		status = StatusCancelled
		errMsg = "cancelled while running"
	}
	ex.Status = status
	started := ex.StartedAt
	nodeID := ex.NodeID
	ex.mu.Unlock()

	now := time.Now()
	duration := 0.0
	if !started.IsZero() {
		duration = now.Sub(started).Seconds()
	}

	cost := e.pricing.Estimate(ex.Request.Resources, time.Duration(duration*float64(time.Second)), cold)
	result := &ExecutionResult{
		ExecutionID: ex.ID,
		Owner:       ex.Owner,
		Status:      status,
		Output:      output,
		ExitCode:    exitCode,
		Error:       errMsg,
		SubmittedAt: ex.SubmittedAt,
		StartedAt:   started,
		CompletedAt: now,
		Metrics: Metrics{
			WasColdStart: cold,
			DurationSec:  duration,
			CostUSD:      cost.TotalCost,
			NodeID:       nodeID,
		},
	}
	e.history.add(result)
	e.coldStats.record(cold)

	switch status {
	case StatusCompleted:
		atomic.AddInt64(&e.completed, 1)
	case StatusFailed:
		atomic.AddInt64(&e.failed, 1)
	case StatusCancelled:
		atomic.AddInt64(&e.cancelled, 1)
	}
	if metrics.Enabled {
		metrics.ExecutionsCompleted.WithLabelValues(string(status)).Inc()
		if cold {
			metrics.ColdStarts.Inc()
		}
	}
	log.Printf("Execution %s finished: %s (cold=%v, %.2fs)", ex.ID, status, cold, duration)

	if e.sink != nil {
		e.sink(result)
	}
	if ex.Request.Webhook != "" {
		go notifyWebhook(ex.Request.Webhook, result)
	}
	return result
}

func notifyWebhook(url string, result *ExecutionResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if _, err := utils.PostJson(url, payload); err != nil {
		log.Printf("Webhook delivery for %s failed: %v", result.ExecutionID, err)
	}
}

func (e *Executor) executionTTL(ex *Execution) time.Duration {
	return time.Duration(ex.Request.TimeoutSec)*time.Second + e.reservationTTL
}

// --- execution state helpers ---

func (ex *Execution) transition(from, to Status) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.cancelRequested || ex.Status != from {
		return false
	}
	ex.Status = to
	return true
}

func (ex *Execution) cancelled() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.cancelRequested
}

func (ex *Execution) setPlacement(nodeID, endpoint, instanceID string) {
	ex.mu.Lock()
	ex.NodeID = nodeID
	ex.endpoint = endpoint
	if instanceID != "" {
		ex.InstanceID = instanceID
	}
	ex.mu.Unlock()
}
