package node

import (
	"fmt"
	"time"

	"github.com/hexablock/vivaldi"
)

type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// CapabilityTEE marks a node able to run workloads inside a trusted
// execution environment. High risk placements are restricted to such nodes.
const CapabilityTEE = "tee"

// Resources tracks the capacity of a node, per dimension.
// AvailableX must never exceed TotalX: a reservation race that would
// violate this is rejected, never clamped.
type Resources struct {
	TotalCPU           float64 `json:"totalCpu"`
	AvailableCPU       float64 `json:"availableCpu"`
	TotalMemoryMB      int64   `json:"totalMemoryMb"`
	AvailableMemoryMB  int64   `json:"availableMemoryMb"`
	TotalStorageMB     int64   `json:"totalStorageMb"`
	AvailableStorageMB int64   `json:"availableStorageMb"`
	GPUTypes           []string `json:"gpuTypes,omitempty"`
}

func (r Resources) String() string {
	return fmt.Sprintf("[CPUs: %f/%f - Mem: %d/%d - Storage: %d/%d]",
		r.AvailableCPU, r.TotalCPU,
		r.AvailableMemoryMB, r.TotalMemoryMB,
		r.AvailableStorageMB, r.TotalStorageMB)
}

func (r Resources) HasGPUType(gpuType string) bool {
	for _, t := range r.GPUTypes {
		if t == gpuType {
			return true
		}
	}
	return false
}

// ContainerResources is a resource request shape. It is used both as a
// request and as a delta applied to a node's available pool.
type ContainerResources struct {
	CPUCores  float64 `json:"cpuCores"`
	MemoryMB  int64   `json:"memoryMb"`
	StorageMB int64   `json:"storageMb"`
	GPUType   string  `json:"gpuType,omitempty"`
	GPUCount  int     `json:"gpuCount,omitempty"`
}

func (c ContainerResources) String() string {
	return fmt.Sprintf("[CPUs: %f - Mem: %d - Storage: %d]", c.CPUCores, c.MemoryMB, c.StorageMB)
}

// ShapeKey returns a canonical string for the resource shape, used to key
// warm pools. Two requests with the same shape can share warm instances.
func (c ContainerResources) ShapeKey() string {
	return fmt.Sprintf("c%.2f-m%d-s%d-g%s:%d", c.CPUCores, c.MemoryMB, c.StorageMB, c.GPUType, c.GPUCount)
}

// Instance is a running (or idle warm) container on a node.
type Instance struct {
	ID        string    `json:"id"`
	ImageRef  string    `json:"imageRef"`
	StartedAt time.Time `json:"startedAt"`
}

// ComputeNode is a registered execution host.
type ComputeNode struct {
	ID           string              `json:"nodeId"`
	Address      string              `json:"address"` // on-chain provider address
	Endpoint     string              `json:"endpoint"`
	Region       string              `json:"region"`
	Zone         string              `json:"zone,omitempty"`
	Resources    Resources           `json:"resources"`
	Capabilities []string            `json:"capabilities,omitempty"`
	Instances    map[string]Instance `json:"instances,omitempty"`
	CachedImages map[string]bool     `json:"cachedImages,omitempty"`
	LastHeartbeat time.Time          `json:"lastHeartbeat"`
	Status       Status              `json:"status"`
	Reputation   int                 `json:"reputation"` // 0-100

	// Coordinates approximate the node's position in network latency
	// space; filled in by the registry monitor.
	Coordinates vivaldi.Coordinate `json:"-"`
}

func (n *ComputeNode) HasCapability(cap string) bool {
	for _, c := range n.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// CanFit reports whether the node currently has enough available capacity
// for the requested resources, including every requested GPU type.
func (n *ComputeNode) CanFit(req ContainerResources) bool {
	if n.Resources.AvailableCPU < req.CPUCores {
		return false
	}
	if n.Resources.AvailableMemoryMB < req.MemoryMB {
		return false
	}
	if n.Resources.AvailableStorageMB < req.StorageMB {
		return false
	}
	if req.GPUType != "" && !n.Resources.HasGPUType(req.GPUType) {
		return false
	}
	return true
}

func (n *ComputeNode) String() string {
	return fmt.Sprintf("%s@%s %v", n.ID, n.Region, n.Resources)
}
