package scheduler

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
)

// BenchmarkSource provides the performance score and honesty deviation
// measured for a node by the external benchmark service. Providers are
// economically adversarial; their claimed capacity is only trusted as far
// as these measurements allow.
type BenchmarkSource interface {
	// Score returns a performance score in [0,100] and the honesty
	// deviation (0 = claims match measurements) for a node.
	Score(nodeID string) (score int, honestyDeviation float64, ok bool)
}

// Scheduler owns the node registry and the per-node reservation ledgers.
// Placement is a pure scan over the registered nodes; reservations are
// the only path through which resource counters are written.
type Scheduler struct {
	mu    sync.RWMutex
	nodes map[string]*nodeEntry

	benchmarks BenchmarkSource // may be nil

	janitor *reservationJanitor
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		nodes: make(map[string]*nodeEntry),
	}
}

// SetBenchmarkSource wires the benchmark collaborator. Reputation is
// refreshed from it on registration and on every monitoring round.
func (s *Scheduler) SetBenchmarkSource(b BenchmarkSource) {
	s.benchmarks = b
}

// RegisterNode inserts or updates a node in the registry. No validation
// beyond shape: trust is established by the benchmark collaborator, not
// here.
func (s *Scheduler) RegisterNode(n *node.ComputeNode) {
	if n.Status == "" {
		n.Status = node.StatusOnline
	}
	if n.LastHeartbeat.IsZero() {
		n.LastHeartbeat = time.Now()
	}
	if n.Instances == nil {
		n.Instances = make(map[string]node.Instance)
	}
	if n.CachedImages == nil {
		n.CachedImages = make(map[string]bool)
	}
	// a freshly declared node advertises full availability
	if n.Resources.AvailableCPU == 0 && n.Resources.AvailableMemoryMB == 0 {
		n.Resources.AvailableCPU = n.Resources.TotalCPU
		n.Resources.AvailableMemoryMB = n.Resources.TotalMemoryMB
		n.Resources.AvailableStorageMB = n.Resources.TotalStorageMB
	}
	s.refreshReputation(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.nodes[n.ID]; ok {
		entry.mu.Lock()
		// keep the live state: re-registration must not wipe out
		// accounting for reservations still held, tracked instances,
		// advertised images or an earned reputation
		n.Resources.AvailableCPU = entry.node.Resources.AvailableCPU
		n.Resources.AvailableMemoryMB = entry.node.Resources.AvailableMemoryMB
		n.Resources.AvailableStorageMB = entry.node.Resources.AvailableStorageMB
		for id, inst := range entry.node.Instances {
			n.Instances[id] = inst
		}
		for digest := range entry.node.CachedImages {
			n.CachedImages[digest] = true
		}
		if n.Reputation == 0 {
			n.Reputation = entry.node.Reputation
		}
		entry.node = n
		entry.mu.Unlock()
		return
	}
	s.nodes[n.ID] = &nodeEntry{
		node:         n,
		reservations: make(map[string]*Reservation),
	}
	log.Printf("Registered node %v", n)
}

func (s *Scheduler) refreshReputation(n *node.ComputeNode) {
	if s.benchmarks == nil {
		return
	}
	if score, deviation, ok := s.benchmarks.Score(n.ID); ok {
		n.Reputation = score
		if deviation > 0.5 {
			// a node lying about its capacity is not trusted with
			// new placements until it is re-benchmarked
			n.Status = node.StatusDegraded
		}
	}
}

// GetNode returns a snapshot of a registered node.
func (s *Scheduler) GetNode(id string) (*node.ComputeNode, bool) {
	s.mu.RLock()
	entry, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshotNode(entry.node), true
}

// GetAllNodes returns snapshots of every registered node.
func (s *Scheduler) GetAllNodes() []*node.ComputeNode {
	s.mu.RLock()
	entries := make([]*nodeEntry, 0, len(s.nodes))
	for _, e := range s.nodes {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	nodes := make([]*node.ComputeNode, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		nodes = append(nodes, snapshotNode(e.node))
		e.mu.Unlock()
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Heartbeat refreshes a node's liveness timestamp and marks it online.
func (s *Scheduler) Heartbeat(id string) error {
	s.mu.RLock()
	entry, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNodeNotFound
	}
	entry.mu.Lock()
	entry.node.LastHeartbeat = time.Now()
	if entry.node.Status == node.StatusOffline {
		entry.node.Status = node.StatusOnline
	}
	entry.mu.Unlock()
	return nil
}

// SetNodeStatus is used by the registry monitor when heartbeats lapse.
func (s *Scheduler) SetNodeStatus(id string, status node.Status) error {
	s.mu.RLock()
	entry, ok := s.nodes[id]
	s.mu.RUnlock()
	if !ok {
		return ErrNodeNotFound
	}
	entry.mu.Lock()
	entry.node.Status = status
	entry.mu.Unlock()
	return nil
}

// MarkImageCached records that a node holds a local copy of an image.
// Placement scoring reads this set to break ties in favor of nodes that
// can skip the pull.
func (s *Scheduler) MarkImageCached(nodeID, imageDigest string) {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.node.CachedImages[imageDigest] = true
	entry.mu.Unlock()
}

// NodeHasImage reports whether a node holds a local copy of an image.
func (s *Scheduler) NodeHasImage(nodeID, imageDigest string) bool {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.node.CachedImages[imageDigest]
}

// TrackInstance records a running container on a node; forget removes it.
func (s *Scheduler) TrackInstance(nodeID string, inst node.Instance) {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.node.Instances[inst.ID] = inst
	entry.mu.Unlock()
}

func (s *Scheduler) ForgetInstance(nodeID, instanceID string) {
	s.mu.RLock()
	entry, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.node.Instances, instanceID)
	entry.mu.Unlock()
}

// Stats aggregates registry-wide capacity counts. Pure read.
func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	entries := make([]*nodeEntry, 0, len(s.nodes))
	for _, e := range s.nodes {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var st Stats
	now := time.Now()
	for _, e := range entries {
		e.mu.Lock()
		st.TotalNodes++
		if e.node.Status == node.StatusOnline {
			st.OnlineNodes++
		}
		st.TotalCPU += e.node.Resources.TotalCPU
		st.AvailableCPU += e.node.Resources.AvailableCPU
		st.TotalMemoryMB += e.node.Resources.TotalMemoryMB
		st.AvailableMemoryMB += e.node.Resources.AvailableMemoryMB
		st.TotalStorageMB += e.node.Resources.TotalStorageMB
		st.AvailableStorageMB += e.node.Resources.AvailableStorageMB
		for _, r := range e.reservations {
			if !r.Expired(now) {
				st.ActiveReservations++
			}
		}
		e.mu.Unlock()
	}
	return st
}

func snapshotNode(n *node.ComputeNode) *node.ComputeNode {
	cp := *n
	cp.Instances = make(map[string]node.Instance, len(n.Instances))
	for k, v := range n.Instances {
		cp.Instances[k] = v
	}
	cp.CachedImages = make(map[string]bool, len(n.CachedImages))
	for k, v := range n.CachedImages {
		cp.CachedImages[k] = v
	}
	cp.Capabilities = append([]string(nil), n.Capabilities...)
	cp.Resources.GPUTypes = append([]string(nil), n.Resources.GPUTypes...)
	return &cp
}
