package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/scheduler"
)

var ErrInvalidRequest = errors.New("invalid execution request")
var ErrNotFound = errors.New("execution not found")
var ErrUnauthorized = errors.New("execution belongs to another owner")

// ErrTooLate is returned when cancelling an execution that already
// reached a terminal state. History is immutable.
var ErrTooLate = errors.New("execution already terminal, cannot cancel")

type Mode string

const (
	ModeEphemeral Mode = "ephemeral"
	ModeDedicated Mode = "dedicated"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduling Status = "scheduling"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ExecutionRequest describes one container execution. Immutable once
// accepted.
type ExecutionRequest struct {
	ImageRef        string                  `json:"imageRef"`
	Command         []string                `json:"command,omitempty"`
	Env             map[string]string       `json:"env,omitempty"`
	Resources       node.ContainerResources `json:"resources"`
	Mode            Mode                    `json:"mode"`
	TimeoutSec      int                     `json:"timeoutSec,omitempty"` // 0 = unbounded (dedicated)
	Input           string                  `json:"input,omitempty"`
	Webhook         string                  `json:"webhook,omitempty"`
	PreferredRegion string                  `json:"preferredRegion,omitempty"`
	RiskLevel       scheduler.RiskLevel     `json:"riskLevel,omitempty"`
}

// Metrics is the per-execution metrics block.
type Metrics struct {
	WasColdStart bool    `json:"wasColdStart"`
	DurationSec  float64 `json:"durationSec"`
	CostUSD      string  `json:"costUsd"`
	NodeID       string  `json:"nodeId"`
}

// Execution is the live record of a request moving through the state
// machine. Mutated only by the Executor, under its own mutex.
type Execution struct {
	mu sync.Mutex

	ID          string           `json:"executionId"`
	Request     ExecutionRequest `json:"request"`
	Owner       string           `json:"owner"`
	InstanceID  string           `json:"instanceId,omitempty"`
	NodeID      string           `json:"nodeId,omitempty"`
	Status      Status           `json:"status"`
	SubmittedAt time.Time        `json:"submittedAt"`
	StartedAt   time.Time        `json:"startedAt,omitempty"`

	cancelRequested bool
	endpoint        string
}

// view returns a copy safe to hand out without the mutex.
func (ex *Execution) view() Execution {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return Execution{
		ID:          ex.ID,
		Request:     ex.Request,
		Owner:       ex.Owner,
		InstanceID:  ex.InstanceID,
		NodeID:      ex.NodeID,
		Status:      ex.Status,
		SubmittedAt: ex.SubmittedAt,
		StartedAt:   ex.StartedAt,
	}
}

// ExecutionResult is the terminal record of an execution.
type ExecutionResult struct {
	ExecutionID string    `json:"executionId"`
	Owner       string    `json:"owner"`
	Status      Status    `json:"status"`
	Output      string    `json:"output,omitempty"`
	ExitCode    int       `json:"exitCode"`
	Error       string    `json:"error,omitempty"`
	Metrics     Metrics   `json:"metrics"`
	SubmittedAt time.Time `json:"submittedAt"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// Stats aggregates executor-wide counters. ColdStartRate is the fraction
// of recent executions that missed the warm pool: the single most
// important signal for judging pool and cache tuning.
type Stats struct {
	Pending       int     `json:"pending"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	Cancelled     int64   `json:"cancelled"`
	ColdStartRate float64 `json:"coldStartRate"`
}
