package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/utils"
)

func testNode(id, region string, cpu float64, memMB int64) *node.ComputeNode {
	return &node.ComputeNode{
		ID:       id,
		Endpoint: "http://" + id + ":1324",
		Region:   region,
		Resources: node.Resources{
			TotalCPU:       cpu,
			TotalMemoryMB:  memMB,
			TotalStorageMB: 10240,
		},
	}
}

func request(cpu float64, memMB int64) node.ContainerResources {
	return node.ContainerResources{CPUCores: cpu, MemoryMB: memMB, StorageMB: 100}
}

func TestRegisterNodeDefaults(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	n, ok := s.GetNode("n1")
	utils.AssertTrue(t, ok)
	utils.AssertEquals(t, node.StatusOnline, n.Status)
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
	utils.AssertEquals(t, int64(8192), n.Resources.AvailableMemoryMB)
}

func TestReregisterKeepsLiveCounters(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	_, err := s.ReserveResources("n1", request(1, 1024), "owner-a", time.Minute)
	utils.AssertNil(t, err)

	// the node re-announces itself; held reservations must survive
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 3.0, n.Resources.AvailableCPU)
	utils.AssertEquals(t, int64(7168), n.Resources.AvailableMemoryMB)
}

func TestReregisterKeepsInstancesImagesAndReputation(t *testing.T) {
	s := NewScheduler()
	n1 := testNode("n1", "eu-west", 4, 8192)
	n1.Reputation = 80
	s.RegisterNode(n1)

	s.TrackInstance("n1", node.Instance{ID: "inst-1", ImageRef: "sha256:img"})
	s.MarkImageCached("n1", "sha256:img")

	// the monitor re-registers reachable nodes every round; tracked
	// instances, advertised images and reputation must all survive it
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	n, _ := s.GetNode("n1")
	_, ok := n.Instances["inst-1"]
	utils.AssertTrue(t, ok)
	utils.AssertTrue(t, s.NodeHasImage("n1", "sha256:img"))
	utils.AssertEquals(t, 80, n.Reputation)
}

func TestBestFitPicksTightestNode(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("roomy", "eu-west", 16, 32768))
	s.RegisterNode(testNode("tight", "eu-west", 2, 2048))

	n, err := s.ScheduleExecution(Context{Resources: request(1, 1024)}, StrategyBestFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "tight", n.ID)
}

func TestWorstFitPicksRoomiestNode(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("roomy", "eu-west", 16, 32768))
	s.RegisterNode(testNode("tight", "eu-west", 2, 2048))

	n, err := s.ScheduleExecution(Context{Resources: request(1, 1024)}, StrategyWorstFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "roomy", n.ID)
}

func TestFirstFitIsDeterministic(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("bbb", "eu-west", 4, 8192))
	s.RegisterNode(testNode("aaa", "eu-west", 4, 8192))

	for i := 0; i < 10; i++ {
		n, err := s.ScheduleExecution(Context{Resources: request(1, 1024)}, StrategyFirstFit)
		utils.AssertNil(t, err)
		utils.AssertEquals(t, "aaa", n.ID)
	}
}

func TestUnknownStrategyRejected(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	_, err := s.ScheduleExecution(Context{Resources: request(1, 1024)}, Strategy("round-robin"))
	utils.AssertEquals(t, ErrUnknownStrategy, err)
}

func TestReputationBreaksHeadroomTies(t *testing.T) {
	s := NewScheduler()
	trusted := testNode("trusted", "eu-west", 4, 8192)
	trusted.Reputation = 90
	shady := testNode("shady", "eu-west", 4, 8192)
	shady.Reputation = 20
	s.RegisterNode(shady)
	s.RegisterNode(trusted)

	n, err := s.ScheduleExecution(Context{Resources: request(1, 1024)}, StrategyBestFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "trusted", n.ID)
}

func TestImageResidencyBreaksHeadroomTies(t *testing.T) {
	s := NewScheduler()
	warm := testNode("warm", "eu-west", 4, 8192)
	warm.Reputation = 20
	cold := testNode("cold", "eu-west", 4, 8192)
	cold.Reputation = 90
	s.RegisterNode(cold)
	s.RegisterNode(warm)
	s.MarkImageCached("warm", "sha256:img")

	// holding the image locally outranks reputation among equal nodes
	n, err := s.ScheduleExecution(Context{ImageRef: "sha256:img", Resources: request(1, 1024)}, StrategyBestFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "warm", n.ID)
}

func TestHighRiskRequiresTEE(t *testing.T) {
	s := NewScheduler()
	plain := testNode("plain", "eu-west", 8, 16384)
	s.RegisterNode(plain)
	secure := testNode("secure", "eu-west", 4, 8192)
	secure.Capabilities = []string{node.CapabilityTEE}
	s.RegisterNode(secure)

	n, err := s.ScheduleExecution(Context{Resources: request(1, 1024), RiskLevel: RiskHigh}, StrategyBestFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "secure", n.ID)

	// low risk may go anywhere
	n, err = s.ScheduleExecution(Context{Resources: request(8, 1024)}, StrategyBestFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "plain", n.ID)
}

func TestOfflineNodesAreNotEligible(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))
	utils.AssertNil(t, s.SetNodeStatus("n1", node.StatusOffline))

	_, err := s.ScheduleExecution(Context{Resources: request(1, 1024)}, StrategyBestFit)
	utils.AssertEquals(t, ErrNoCapacity, err)

	// a heartbeat brings it back
	utils.AssertNil(t, s.Heartbeat("n1"))
	_, err = s.ScheduleExecution(Context{Resources: request(1, 1024)}, StrategyBestFit)
	utils.AssertNil(t, err)
}

func TestNoCapacityWhenRequestTooLarge(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 2, 2048))

	_, err := s.ScheduleExecution(Context{Resources: request(4, 1024)}, StrategyBestFit)
	utils.AssertEquals(t, ErrNoCapacity, err)
}

func TestGPURequestFiltersNodes(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("cpuonly", "eu-west", 8, 16384))
	gpuNode := testNode("gpu", "eu-west", 8, 16384)
	gpuNode.Resources.GPUTypes = []string{"a100"}
	s.RegisterNode(gpuNode)

	req := request(1, 1024)
	req.GPUType = "a100"
	req.GPUCount = 1
	n, err := s.ScheduleExecution(Context{Resources: req}, StrategyBestFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "gpu", n.ID)
}

func TestReserveAndReleaseRestoreAvailability(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	r, err := s.ReserveResources("n1", request(2, 4096), "owner-a", time.Minute)
	utils.AssertNil(t, err)

	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 2.0, n.Resources.AvailableCPU)
	utils.AssertEquals(t, int64(4096), n.Resources.AvailableMemoryMB)

	utils.AssertNil(t, s.ReleaseReservation("n1", r.ID))
	n, _ = s.GetNode("n1")
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
	utils.AssertEquals(t, int64(8192), n.Resources.AvailableMemoryMB)
}

func TestDoubleReleaseIsSafe(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	r, err := s.ReserveResources("n1", request(2, 4096), "owner-a", time.Minute)
	utils.AssertNil(t, err)
	utils.AssertNil(t, s.ReleaseReservation("n1", r.ID))
	utils.AssertNil(t, s.ReleaseReservation("n1", r.ID))

	// availability must not exceed the declared capacity
	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
}

func TestReservationOverCapacityRejected(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 2, 2048))

	_, err := s.ReserveResources("n1", request(1.5, 1024), "owner-a", time.Minute)
	utils.AssertNil(t, err)
	_, err = s.ReserveResources("n1", request(1, 512), "owner-b", time.Minute)
	utils.AssertEquals(t, ErrInsufficientCapacity, err)
}

// TestConcurrentReservationsNeverOversubscribe races many reservations
// for the same capacity: exactly as many may win as the node can hold,
// and availability never goes negative.
func TestConcurrentReservationsNeverOversubscribe(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReserveResources("n1", request(1, 1024), "owner", time.Minute)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	granted := 0
	for err := range results {
		if err == nil {
			granted++
		} else {
			utils.AssertEquals(t, ErrInsufficientCapacity, err)
		}
	}
	utils.AssertEquals(t, 4, granted)

	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 0.0, n.Resources.AvailableCPU)
	utils.AssertTrue(t, n.Resources.AvailableMemoryMB >= 0)
}

func TestSweepExpiredReservations(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	_, err := s.ReserveResources("n1", request(2, 4096), "owner-a", -time.Second)
	utils.AssertNil(t, err)
	r2, err := s.ReserveResources("n1", request(1, 1024), "owner-b", time.Minute)
	utils.AssertNil(t, err)

	swept := s.SweepExpiredReservations()
	utils.AssertEquals(t, 1, swept)

	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 3.0, n.Resources.AvailableCPU)

	// the live reservation is untouched
	utils.AssertNil(t, s.ReleaseReservation("n1", r2.ID))
	n, _ = s.GetNode("n1")
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
}

func TestExtendReservationSurvivesSweep(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	r, err := s.ReserveResources("n1", request(1, 1024), "owner-a", 10*time.Millisecond)
	utils.AssertNil(t, err)
	utils.AssertNil(t, s.ExtendReservation("n1", r.ID, time.Minute))

	time.Sleep(20 * time.Millisecond)
	utils.AssertEquals(t, 0, s.SweepExpiredReservations())
}

func TestUpdateNodeResourcesRejectsOverdraw(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	err := s.UpdateNodeResources("n1", -8, 0, 0)
	utils.AssertEquals(t, ErrInsufficientCapacity, err)

	utils.AssertNil(t, s.UpdateNodeResources("n1", -2, -1024, 0))
	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 2.0, n.Resources.AvailableCPU)

	// adding back clamps at total
	utils.AssertNil(t, s.UpdateNodeResources("n1", 4, 4096, 0))
	n, _ = s.GetNode("n1")
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
	utils.AssertEquals(t, int64(8192), n.Resources.AvailableMemoryMB)
}

func TestReserveOnUnknownNode(t *testing.T) {
	s := NewScheduler()
	_, err := s.ReserveResources("ghost", request(1, 1024), "owner", time.Minute)
	utils.AssertEquals(t, ErrNodeNotFound, err)
}

func TestImageTracking(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))

	utils.AssertFalse(t, s.NodeHasImage("n1", "sha256:abc"))
	s.MarkImageCached("n1", "sha256:abc")
	utils.AssertTrue(t, s.NodeHasImage("n1", "sha256:abc"))
}

func TestStatsAggregation(t *testing.T) {
	s := NewScheduler()
	s.RegisterNode(testNode("n1", "eu-west", 4, 8192))
	s.RegisterNode(testNode("n2", "us-east", 8, 16384))
	utils.AssertNil(t, s.SetNodeStatus("n2", node.StatusOffline))

	_, err := s.ReserveResources("n1", request(1, 1024), "owner", time.Minute)
	utils.AssertNil(t, err)

	st := s.Stats()
	utils.AssertEquals(t, 2, st.TotalNodes)
	utils.AssertEquals(t, 1, st.OnlineNodes)
	utils.AssertEquals(t, 12.0, st.TotalCPU)
	utils.AssertEquals(t, 11.0, st.AvailableCPU)
	utils.AssertEquals(t, 1, st.ActiveReservations)
}

type fakeBenchmarks struct {
	scores     map[string]int
	deviations map[string]float64
}

func (f *fakeBenchmarks) Score(nodeID string) (int, float64, bool) {
	score, ok := f.scores[nodeID]
	if !ok {
		return 0, 0, false
	}
	return score, f.deviations[nodeID], true
}

func TestBenchmarkSourceRefreshesReputation(t *testing.T) {
	s := NewScheduler()
	s.SetBenchmarkSource(&fakeBenchmarks{
		scores:     map[string]int{"honest": 85, "liar": 70},
		deviations: map[string]float64{"honest": 0.1, "liar": 0.9},
	})
	s.RegisterNode(testNode("honest", "eu-west", 4, 8192))
	s.RegisterNode(testNode("liar", "eu-west", 4, 8192))

	n, _ := s.GetNode("honest")
	utils.AssertEquals(t, 85, n.Reputation)
	utils.AssertEquals(t, node.StatusOnline, n.Status)

	// a node whose claims deviate from measurements is degraded and
	// excluded from placement
	n, _ = s.GetNode("liar")
	utils.AssertEquals(t, node.StatusDegraded, n.Status)
	placed, err := s.ScheduleExecution(Context{Resources: request(1, 1024)}, StrategyBestFit)
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "honest", placed.ID)
}
