package scheduler

import (
	"log"
	"time"

	"github.com/hivegrid/hivegrid/internal/metrics"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/lithammer/shortuuid"
)

// ReserveResources atomically checks and decrements a node's available
// resources and records a reservation with the given TTL. The
// check-and-decrement is a single step under the node's ledger mutex: two
// racing reservations can never drive availability negative.
func (s *Scheduler) ReserveResources(nodeID string, res node.ContainerResources, owner string, ttl time.Duration) (*Reservation, error) {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNodeNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	n := entry.node
	if !n.CanFit(res) {
		return nil, ErrInsufficientCapacity
	}

	n.Resources.AvailableCPU -= res.CPUCores
	n.Resources.AvailableMemoryMB -= res.MemoryMB
	n.Resources.AvailableStorageMB -= res.StorageMB

	now := time.Now()
	r := &Reservation{
		ID:        shortuuid.New(),
		NodeID:    nodeID,
		Owner:     owner,
		Resources: res,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	entry.reservations[r.ID] = r
	if metrics.Enabled {
		metrics.ActiveReservations.Inc()
	}

	log.Printf("Reserved %v on %s for %s. Now: %v", res, nodeID, owner, n.Resources)
	return r, nil
}

// ReleaseReservation returns reserved resources to the node. Releasing an
// unknown (already released or swept) reservation is a no-op: every
// failure path releases unconditionally, so double release must be safe.
func (s *Scheduler) ReleaseReservation(nodeID, reservationID string) error {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return ErrNodeNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	r, ok := entry.reservations[reservationID]
	if !ok {
		return nil
	}
	delete(entry.reservations, reservationID)
	addBack(entry.node, r.Resources)
	if metrics.Enabled {
		metrics.ActiveReservations.Dec()
	}
	log.Printf("Released reservation %s on %s. Now: %v", reservationID, nodeID, entry.node.Resources)
	return nil
}

// ExtendReservation pushes a reservation's expiry forward. The warm pool
// keeps its idle instances alive this way between cooldown sweeps.
func (s *Scheduler) ExtendReservation(nodeID, reservationID string, ttl time.Duration) error {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return ErrNodeNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	r, ok := entry.reservations[reservationID]
	if !ok {
		return nil
	}
	r.ExpiresAt = time.Now().Add(ttl)
	return nil
}

// UpdateNodeResources applies a signed delta to a node's availability,
// outside the reservation path. Used when an external deployer occupies
// resources directly. The capacity invariant still holds: a delta that
// would drive a counter negative or above total is rejected.
func (s *Scheduler) UpdateNodeResources(nodeID string, deltaCPU float64, deltaMemoryMB, deltaStorageMB int64) error {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return ErrNodeNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	res := &entry.node.Resources
	newCPU := res.AvailableCPU + deltaCPU
	newMem := res.AvailableMemoryMB + deltaMemoryMB
	newStorage := res.AvailableStorageMB + deltaStorageMB
	if newCPU < 0 || newMem < 0 || newStorage < 0 {
		return ErrInsufficientCapacity
	}
	if newCPU > res.TotalCPU {
		newCPU = res.TotalCPU
	}
	if newMem > res.TotalMemoryMB {
		newMem = res.TotalMemoryMB
	}
	if newStorage > res.TotalStorageMB {
		newStorage = res.TotalStorageMB
	}
	res.AvailableCPU = newCPU
	res.AvailableMemoryMB = newMem
	res.AvailableStorageMB = newStorage
	return nil
}

func addBack(n *node.ComputeNode, res node.ContainerResources) {
	n.Resources.AvailableCPU += res.CPUCores
	n.Resources.AvailableMemoryMB += res.MemoryMB
	n.Resources.AvailableStorageMB += res.StorageMB
	// releases never push availability above the declared capacity
	if n.Resources.AvailableCPU > n.Resources.TotalCPU {
		n.Resources.AvailableCPU = n.Resources.TotalCPU
	}
	if n.Resources.AvailableMemoryMB > n.Resources.TotalMemoryMB {
		n.Resources.AvailableMemoryMB = n.Resources.TotalMemoryMB
	}
	if n.Resources.AvailableStorageMB > n.Resources.TotalStorageMB {
		n.Resources.AvailableStorageMB = n.Resources.TotalStorageMB
	}
}

// SweepExpiredReservations removes every expired reservation and returns
// its resources. Called by the reservation janitor; safe to call at any
// time.
func (s *Scheduler) SweepExpiredReservations() int {
	s.mu.RLock()
	entries := make([]*nodeEntry, 0, len(s.nodes))
	for _, e := range s.nodes {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	swept := 0
	now := time.Now()
	for _, e := range entries {
		e.mu.Lock()
		for id, r := range e.reservations {
			if r.Expired(now) {
				delete(e.reservations, id)
				addBack(e.node, r.Resources)
				swept++
				if metrics.Enabled {
					metrics.ActiveReservations.Dec()
				}
				log.Printf("janitor: swept expired reservation %s on %s", id, e.node.ID)
			}
		}
		e.mu.Unlock()
	}
	return swept
}

type reservationJanitor struct {
	interval time.Duration
	stop     chan bool
}

// StartReservationJanitor starts the periodic expiry sweep. Abandoned
// requests must not leak resources forever.
func (s *Scheduler) StartReservationJanitor(interval time.Duration) {
	if s.janitor != nil {
		return
	}
	j := &reservationJanitor{interval: interval, stop: make(chan bool)}
	s.janitor = j
	go func() {
		ticker := time.NewTicker(j.interval)
		for {
			select {
			case <-ticker.C:
				s.SweepExpiredReservations()
			case <-j.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (s *Scheduler) StopReservationJanitor() {
	if s.janitor != nil {
		s.janitor.stop <- true
		s.janitor = nil
	}
}
