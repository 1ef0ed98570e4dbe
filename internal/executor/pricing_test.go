package executor

import (
	"testing"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/utils"
)

func TestEstimateBreakdown(t *testing.T) {
	p := testPricing()
	res := node.ContainerResources{
		CPUCores: 2,
		MemoryMB: 2048,
		GPUType:  "a100",
		GPUCount: 1,
	}

	est := p.Estimate(res, 10*time.Second, true)
	utils.AssertEquals(t, "0.2", est.CPUCost)
	utils.AssertEquals(t, "0.02", est.MemoryCost)
	utils.AssertEquals(t, "1", est.GPUCost)
	utils.AssertEquals(t, "0.0001", est.ColdStartPenalty)
	utils.AssertEquals(t, "1.2201", est.TotalCost)
}

func TestEstimateWithoutColdStart(t *testing.T) {
	p := testPricing()
	res := node.ContainerResources{CPUCores: 1, MemoryMB: 1024}

	est := p.Estimate(res, time.Second, false)
	utils.AssertEquals(t, "0", est.ColdStartPenalty)
	utils.AssertEquals(t, "0", est.GPUCost)
	utils.AssertEquals(t, "0.011", est.TotalCost)
}

// Estimate must be pure: identical inputs give identical quotes.
func TestEstimateIsDeterministic(t *testing.T) {
	p := testPricing()
	res := node.ContainerResources{CPUCores: 1.5, MemoryMB: 512}

	a := p.Estimate(res, 7*time.Second, true)
	b := p.Estimate(res, 7*time.Second, true)
	utils.AssertEquals(t, a, b)
}

func TestHistoryEvictsOldestBeyondCapacity(t *testing.T) {
	h := newHistory(2)
	h.add(&ExecutionResult{ExecutionID: "e1", Owner: "a"})
	h.add(&ExecutionResult{ExecutionID: "e2", Owner: "a"})
	h.add(&ExecutionResult{ExecutionID: "e3", Owner: "a"})

	_, ok := h.get("e1")
	utils.AssertFalse(t, ok)
	_, ok = h.get("e3")
	utils.AssertTrue(t, ok)

	// newest first
	results := h.listByOwner("a")
	utils.AssertEquals(t, 2, len(results))
	utils.AssertEquals(t, "e3", results[0].ExecutionID)
	utils.AssertEquals(t, "e2", results[1].ExecutionID)
}

func TestColdStartWindowRolls(t *testing.T) {
	w := newColdStartWindow(4)
	utils.AssertEquals(t, 0.0, w.rate())

	w.record(true)
	w.record(true)
	w.record(false)
	w.record(false)
	utils.AssertEquals(t, 0.5, w.rate())

	// the window forgets the oldest outcome
	w.record(false)
	utils.AssertEquals(t, 0.25, w.rate())
}
