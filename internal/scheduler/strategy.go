package scheduler

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
)

// headroomEpsilon below which two candidates are considered tied and the
// reputation/latency tie-breaks apply.
const headroomEpsilon = 1e-6

type candidate struct {
	node     *node.ComputeNode
	headroom float64
	distance time.Duration
	hasImage bool
}

// ScheduleExecution picks exactly one node for the given request. It is a
// non-blocking scan over the in-memory node set; the returned node is a
// snapshot and resources are NOT held until ReserveResources succeeds.
func (s *Scheduler) ScheduleExecution(ctx Context, strategy Strategy) (*node.ComputeNode, error) {
	switch strategy {
	case StrategyBestFit, StrategyFirstFit, StrategyWorstFit:
	default:
		return nil, ErrUnknownStrategy
	}

	candidates := s.eligibleNodes(ctx)
	if len(candidates) == 0 {
		return nil, ErrNoCapacity
	}

	if strategy == StrategyFirstFit {
		// registry iteration order is not stable; order by id so that
		// first-fit is deterministic
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].node.ID < candidates[j].node.ID })
		return candidates[0].node, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		diff := a.headroom - b.headroom
		if strategy == StrategyWorstFit {
			diff = -diff
		}
		if math.Abs(diff) > headroomEpsilon {
			return diff < 0
		}
		// a node that already holds the image skips the pull
		if a.hasImage != b.hasImage {
			return a.hasImage
		}
		if a.node.Reputation != b.node.Reputation {
			return a.node.Reputation > b.node.Reputation
		}
		return a.distance < b.distance
	})

	chosen := candidates[0]
	log.Printf("Placement for %s: node %s (headroom %.4f, reputation %d)",
		ctx.ImageRef, chosen.node.ID, chosen.headroom, chosen.node.Reputation)
	return chosen.node, nil
}

// eligibleNodes filters the registry to online nodes able to fit the
// request and scores each survivor by post-placement headroom.
func (s *Scheduler) eligibleNodes(ctx Context) []candidate {
	s.mu.RLock()
	entries := make([]*nodeEntry, 0, len(s.nodes))
	for _, e := range s.nodes {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	candidates := make([]candidate, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		n := e.node
		if n.Status != node.StatusOnline || !n.CanFit(ctx.Resources) {
			e.mu.Unlock()
			continue
		}
		if ctx.RiskLevel == RiskHigh && !n.HasCapability(node.CapabilityTEE) {
			e.mu.Unlock()
			continue
		}
		snap := snapshotNode(n)
		e.mu.Unlock()

		candidates = append(candidates, candidate{
			node:     snap,
			headroom: headroomAfter(snap, ctx.Resources),
			distance: s.regionDistance(snap, ctx.PreferredRegion),
			hasImage: s.NodeHasImage(snap.ID, ctx.ImageRef),
		})
	}
	return candidates
}

// headroomAfter computes the remaining capacity of a node after a
// hypothetical placement, normalized per dimension and summed. Best-fit
// minimizes this value: load concentrates and large contiguous free
// blocks stay available for future large requests.
func headroomAfter(n *node.ComputeNode, req node.ContainerResources) float64 {
	h := 0.0
	if n.Resources.TotalCPU > 0 {
		h += (n.Resources.AvailableCPU - req.CPUCores) / n.Resources.TotalCPU
	}
	if n.Resources.TotalMemoryMB > 0 {
		h += float64(n.Resources.AvailableMemoryMB-req.MemoryMB) / float64(n.Resources.TotalMemoryMB)
	}
	if n.Resources.TotalStorageMB > 0 {
		h += float64(n.Resources.AvailableStorageMB-req.StorageMB) / float64(n.Resources.TotalStorageMB)
	}
	return h
}

// unknownDistance ranks a node with no usable coordinate after every node
// with one.
const unknownDistance = time.Hour

// regionDistance estimates network latency from a node to the preferred
// region using the vivaldi coordinates maintained by the registry
// monitor. A node inside the region is at distance zero; otherwise the
// closest online node of that region is used as the reference point.
func (s *Scheduler) regionDistance(n *node.ComputeNode, region string) time.Duration {
	if region == "" || n.Region == region {
		return 0
	}
	if len(n.Coordinates.Vec) == 0 {
		return unknownDistance
	}

	s.mu.RLock()
	entries := make([]*nodeEntry, 0, len(s.nodes))
	for _, e := range s.nodes {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	best := unknownDistance
	for _, e := range entries {
		e.mu.Lock()
		ref := e.node
		if ref.Region == region && ref.Status == node.StatusOnline &&
			len(ref.Coordinates.Vec) == len(n.Coordinates.Vec) {
			if d := n.Coordinates.DistanceTo(&ref.Coordinates); d < best {
				best = d
			}
		}
		e.mu.Unlock()
	}
	return best
}
