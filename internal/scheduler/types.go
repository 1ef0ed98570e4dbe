package scheduler

import (
	"errors"
	"sync"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
)

var ErrNodeNotFound = errors.New("node is not registered")

// ErrNoCapacity means no registered node satisfies the request. Callers
// must treat this as retryable (resubmit or relax constraints), not fatal.
var ErrNoCapacity = errors.New("no node satisfies the requested resources")

// ErrInsufficientCapacity means a specific reservation lost a race on a
// node. Retryable immediately against a re-scored node set.
var ErrInsufficientCapacity = errors.New("not enough available resources on node")

var ErrUnknownStrategy = errors.New("unknown scheduling strategy")

type Strategy string

const (
	StrategyBestFit  Strategy = "best-fit"
	StrategyFirstFit Strategy = "first-fit"
	StrategyWorstFit Strategy = "worst-fit"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Context carries everything a placement decision depends on.
type Context struct {
	ImageRef        string
	Resources       node.ContainerResources
	UserAddress     string
	PreferredRegion string
	RiskLevel       RiskLevel
}

// Reservation is a time-bounded hold on node resources. It is released
// explicitly or swept on expiry; the sum of active reservations on a node
// never exceeds that node's total capacity.
type Reservation struct {
	ID        string                  `json:"id"`
	NodeID    string                  `json:"nodeId"`
	Owner     string                  `json:"owner"`
	Resources node.ContainerResources `json:"resources"`
	CreatedAt time.Time               `json:"createdAt"`
	ExpiresAt time.Time               `json:"expiresAt"`
}

func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// nodeEntry pairs a node with its reservation ledger. The entry mutex is
// the unit of mutual exclusion for all resource-counter writes on the
// node: check-and-decrement happens under it, never read-then-write-later.
type nodeEntry struct {
	mu           sync.Mutex
	node         *node.ComputeNode
	reservations map[string]*Reservation
}

// Stats is a read-only aggregate for dashboards.
type Stats struct {
	TotalNodes         int     `json:"totalNodes"`
	OnlineNodes        int     `json:"onlineNodes"`
	TotalCPU           float64 `json:"totalCpu"`
	AvailableCPU       float64 `json:"availableCpu"`
	TotalMemoryMB      int64   `json:"totalMemoryMb"`
	AvailableMemoryMB  int64   `json:"availableMemoryMb"`
	TotalStorageMB     int64   `json:"totalStorageMb"`
	AvailableStorageMB int64   `json:"availableStorageMb"`
	ActiveReservations int     `json:"activeReservations"`
}
