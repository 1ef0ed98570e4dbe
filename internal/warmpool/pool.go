package warmpool

import (
	"container/list"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/scheduler"
)

var ErrNoWarmInstance = errors.New("no warm instance is available")

// ReservationOwner identifies warm pool reservations in the scheduler ledger.
const ReservationOwner = "warmpool"

// Terminator stops a container on its node. Implemented by the agent client.
type Terminator interface {
	Terminate(endpoint, instanceID string) error
}

// WarmInstance is an idle, pre-initialized container instance held by a
// pool, ready to absorb a cold start.
type WarmInstance struct {
	Instance      node.Instance
	NodeID        string
	Endpoint      string
	ReservationID string
	ImageRef      string
	Resources     node.ContainerResources
	LastUsedAt    time.Time
}

// pool holds idle instances for one (imageRef, resource shape) key. The
// pool mutex serializes claims: two concurrent executions never take the
// same idle instance.
type pool struct {
	mu      sync.Mutex
	idle    *list.List // of *WarmInstance
	claimed int
}

func newPool() *pool {
	return &pool{idle: list.New()}
}

// PoolStats is a read-only snapshot of one pool, for observability.
type PoolStats struct {
	Key           string  `json:"key"`
	ImageRef      string  `json:"imageRef"`
	Shape         string  `json:"shape"`
	IdleInstances int     `json:"idleInstances"`
	Claimed       int     `json:"claimed"`
	OldestIdleSec float64 `json:"oldestIdleSec"`
}

// Manager owns every warm pool and the cooldown sweep that drains them.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*pool

	sched      *scheduler.Scheduler
	terminator Terminator

	cooldown time.Duration
	janitor  *cooldownJanitor
	driver   *prewarmDriver
}

func NewManager(sched *scheduler.Scheduler, terminator Terminator, cooldown time.Duration) *Manager {
	return &Manager{
		pools:      make(map[string]*pool),
		sched:      sched,
		terminator: terminator,
		cooldown:   cooldown,
	}
}

func poolKey(imageRef string, res node.ContainerResources) string {
	return fmt.Sprintf("%s|%s", imageRef, res.ShapeKey())
}

func (m *Manager) getPool(key string) *pool {
	m.mu.RLock()
	p, ok := m.pools[key]
	m.mu.RUnlock()
	if ok {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.pools[key]; ok {
		return p
	}
	p = newPool()
	m.pools[key] = p
	return p
}

// Acquire claims an idle warm instance for (imageRef, resources), if one
// exists. The lookup-and-claim is atomic per pool key.
func (m *Manager) Acquire(imageRef string, res node.ContainerResources) (*WarmInstance, error) {
	p := m.getPool(poolKey(imageRef, res))

	p.mu.Lock()
	defer p.mu.Unlock()

	elem := p.idle.Front()
	if elem == nil {
		return nil, ErrNoWarmInstance
	}
	p.idle.Remove(elem)
	p.claimed++

	wi := elem.Value.(*WarmInstance)
	log.Printf("Acquired warm instance %s for %s", wi.Instance.ID, imageRef)
	return wi, nil
}

// HasIdle reports whether a warm instance for (imageRef, resources) is
// idle right now. Advisory only: it may be claimed by the time the
// caller acts on it.
func (m *Manager) HasIdle(imageRef string, res node.ContainerResources) bool {
	m.mu.RLock()
	p, ok := m.pools[poolKey(imageRef, res)]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle.Len() > 0
}

// Put returns an instance to its pool as idle. Only the success path may
// do this: an instance that saw an execution error must be discarded, not
// reused.
func (m *Manager) Put(wi *WarmInstance, claimed bool) {
	wi.LastUsedAt = time.Now()
	p := m.getPool(poolKey(wi.ImageRef, wi.Resources))

	p.mu.Lock()
	defer p.mu.Unlock()
	if claimed && p.claimed > 0 {
		p.claimed--
	}
	p.idle.PushBack(wi)
}

// Discard drops the pool's claim on an instance after a failure or a
// timeout. The caller is responsible for tearing the container down and
// releasing its reservation.
func (m *Manager) Discard(wi *WarmInstance) {
	p := m.getPool(poolKey(wi.ImageRef, wi.Resources))
	p.mu.Lock()
	if p.claimed > 0 {
		p.claimed--
	}
	p.mu.Unlock()
}

// GetAllPoolStats returns a snapshot of every pool.
func (m *Manager) GetAllPoolStats() []PoolStats {
	m.mu.RLock()
	keys := make([]string, 0, len(m.pools))
	pools := make([]*pool, 0, len(m.pools))
	for k, p := range m.pools {
		keys = append(keys, k)
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	now := time.Now()
	stats := make([]PoolStats, 0, len(pools))
	for i, p := range pools {
		p.mu.Lock()
		st := PoolStats{
			Key:           keys[i],
			IdleInstances: p.idle.Len(),
			Claimed:       p.claimed,
		}
		if front := p.idle.Front(); front != nil {
			wi := front.Value.(*WarmInstance)
			st.ImageRef = wi.ImageRef
			st.Shape = wi.Resources.ShapeKey()
			st.OldestIdleSec = now.Sub(wi.LastUsedAt).Seconds()
		}
		p.mu.Unlock()
		stats = append(stats, st)
	}
	return stats
}

// DrainAll tears down every idle instance, releasing reservations.
// Used on termination.
func (m *Manager) DrainAll() {
	m.mu.RLock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	for _, p := range pools {
		p.mu.Lock()
		for elem := p.idle.Front(); elem != nil; {
			next := elem.Next()
			wi := p.idle.Remove(elem).(*WarmInstance)
			m.teardown(wi)
			elem = next
		}
		p.mu.Unlock()
	}
}

func (m *Manager) teardown(wi *WarmInstance) {
	if m.terminator != nil {
		if err := m.terminator.Terminate(wi.Endpoint, wi.Instance.ID); err != nil {
			log.Printf("Could not stop instance %s on %s: %v", wi.Instance.ID, wi.NodeID, err)
		}
	}
	if err := m.sched.ReleaseReservation(wi.NodeID, wi.ReservationID); err != nil {
		log.Printf("Could not release reservation %s: %v", wi.ReservationID, err)
	}
	m.sched.ForgetInstance(wi.NodeID, wi.Instance.ID)
}
