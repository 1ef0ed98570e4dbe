package warmpool

import (
	"sync"
	"testing"
	"time"

	"github.com/hivegrid/hivegrid/internal/imagecache"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/scheduler"
	"github.com/hivegrid/hivegrid/utils"
)

type fakeTerminator struct {
	mu         sync.Mutex
	terminated []string
}

func (f *fakeTerminator) Terminate(endpoint, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, instanceID)
	return nil
}

func (f *fakeTerminator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.terminated)
}

type fakeSpawner struct {
	mu      sync.Mutex
	spawned int
	fail    bool
}

func (f *fakeSpawner) Spawn(endpoint, imageRef string, res node.ContainerResources) (node.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return node.Instance{}, ErrNoWarmInstance
	}
	f.spawned++
	return node.Instance{ID: "inst-" + imageRef, ImageRef: imageRef, StartedAt: time.Now()}, nil
}

func shape() node.ContainerResources {
	return node.ContainerResources{CPUCores: 1, MemoryMB: 256}
}

func testScheduler() *scheduler.Scheduler {
	s := scheduler.NewScheduler()
	s.RegisterNode(&node.ComputeNode{
		ID:       "n1",
		Endpoint: "http://n1:1324",
		Region:   "eu-west",
		Resources: node.Resources{
			TotalCPU:       4,
			TotalMemoryMB:  8192,
			TotalStorageMB: 10240,
		},
	})
	return s
}

func idleInstance(m *Manager, s *scheduler.Scheduler, id string) *WarmInstance {
	r, _ := s.ReserveResources("n1", shape(), ReservationOwner, time.Minute)
	wi := &WarmInstance{
		Instance:      node.Instance{ID: id, ImageRef: "sha256:img"},
		NodeID:        "n1",
		Endpoint:      "http://n1:1324",
		ReservationID: r.ID,
		ImageRef:      "sha256:img",
		Resources:     shape(),
	}
	m.Put(wi, false)
	return wi
}

func TestAcquireFromEmptyPool(t *testing.T) {
	m := NewManager(testScheduler(), &fakeTerminator{}, time.Minute)
	_, err := m.Acquire("sha256:img", shape())
	utils.AssertEquals(t, ErrNoWarmInstance, err)
}

func TestAcquireAndPutBack(t *testing.T) {
	s := testScheduler()
	m := NewManager(s, &fakeTerminator{}, time.Minute)
	idleInstance(m, s, "inst-1")

	utils.AssertTrue(t, m.HasIdle("sha256:img", shape()))

	wi, err := m.Acquire("sha256:img", shape())
	utils.AssertNil(t, err)
	utils.AssertEquals(t, "inst-1", wi.Instance.ID)
	utils.AssertFalse(t, m.HasIdle("sha256:img", shape()))

	m.Put(wi, true)
	utils.AssertTrue(t, m.HasIdle("sha256:img", shape()))
}

func TestAcquireMatchesShapeExactly(t *testing.T) {
	s := testScheduler()
	m := NewManager(s, &fakeTerminator{}, time.Minute)
	idleInstance(m, s, "inst-1")

	other := shape()
	other.MemoryMB = 512
	_, err := m.Acquire("sha256:img", other)
	utils.AssertEquals(t, ErrNoWarmInstance, err)

	_, err = m.Acquire("sha256:other", shape())
	utils.AssertEquals(t, ErrNoWarmInstance, err)
}

// TestConcurrentAcquireNeverDoubleClaims races many claims for a handful
// of idle instances: every instance may be handed out once.
func TestConcurrentAcquireNeverDoubleClaims(t *testing.T) {
	s := testScheduler()
	m := NewManager(s, &fakeTerminator{}, time.Minute)
	idleInstance(m, s, "inst-1")
	idleInstance(m, s, "inst-2")
	idleInstance(m, s, "inst-3")

	const attempts = 12
	results := make(chan *WarmInstance, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wi, err := m.Acquire("sha256:img", shape())
			if err == nil {
				results <- wi
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for wi := range results {
		utils.AssertFalseMsg(t, seen[wi.Instance.ID], "instance claimed twice")
		seen[wi.Instance.ID] = true
	}
	utils.AssertEquals(t, 3, len(seen))
}

func TestCooldownSweepDrainsIdleInstances(t *testing.T) {
	s := testScheduler()
	term := &fakeTerminator{}
	m := NewManager(s, term, 20*time.Millisecond)
	wi := idleInstance(m, s, "inst-1")

	time.Sleep(40 * time.Millisecond)
	m.sweep()

	utils.AssertEquals(t, 1, term.count())
	utils.AssertFalse(t, m.HasIdle("sha256:img", shape()))

	// the drained instance's reservation was returned
	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
	_ = wi
}

func TestCooldownSweepIsIdempotent(t *testing.T) {
	s := testScheduler()
	term := &fakeTerminator{}
	m := NewManager(s, term, 20*time.Millisecond)
	idleInstance(m, s, "inst-1")

	time.Sleep(40 * time.Millisecond)
	m.sweep()
	m.sweep()
	m.sweep()

	utils.AssertEquals(t, 1, term.count())
}

func TestCooldownSweepSparesFreshInstances(t *testing.T) {
	s := testScheduler()
	term := &fakeTerminator{}
	m := NewManager(s, term, time.Minute)
	idleInstance(m, s, "inst-1")

	m.sweep()
	utils.AssertEquals(t, 0, term.count())
	utils.AssertTrue(t, m.HasIdle("sha256:img", shape()))
}

func TestDrainAllTearsDownEverything(t *testing.T) {
	s := testScheduler()
	term := &fakeTerminator{}
	m := NewManager(s, term, time.Minute)
	idleInstance(m, s, "inst-1")
	idleInstance(m, s, "inst-2")

	m.DrainAll()
	utils.AssertEquals(t, 2, term.count())

	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
}

func TestPoolStatsSnapshot(t *testing.T) {
	s := testScheduler()
	m := NewManager(s, &fakeTerminator{}, time.Minute)
	idleInstance(m, s, "inst-1")

	wi, err := m.Acquire("sha256:img", shape())
	utils.AssertNil(t, err)
	m.Put(wi, true)
	idleInstance(m, s, "inst-2")

	stats := m.GetAllPoolStats()
	utils.AssertEquals(t, 1, len(stats))
	utils.AssertEquals(t, 2, stats[0].IdleInstances)
	utils.AssertEquals(t, 0, stats[0].Claimed)
	utils.AssertEquals(t, "sha256:img", stats[0].ImageRef)
}

func TestPrewarmGrowsPoolAndAccountsResources(t *testing.T) {
	s := testScheduler()
	m := NewManager(s, &fakeTerminator{}, time.Minute)
	cache := imagecache.NewCache(0, 0)
	spawner := &fakeSpawner{}

	cache.QueuePrewarm([]string{"sha256:img"}, imagecache.PriorityHigh)
	req, ok := cache.DequeuePrewarm()
	utils.AssertTrue(t, ok)
	m.prewarmOne(req, spawner, shape())

	utils.AssertTrue(t, m.HasIdle("sha256:img", shape()))
	utils.AssertTrue(t, s.NodeHasImage("n1", "sha256:img"))

	// the warm instance holds a reservation until it is drained
	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 3.0, n.Resources.AvailableCPU)
}

func TestPrewarmReleasesReservationOnSpawnFailure(t *testing.T) {
	s := testScheduler()
	m := NewManager(s, &fakeTerminator{}, time.Minute)
	spawner := &fakeSpawner{fail: true}

	m.prewarmOne(imagecache.PrewarmRequest{ImageDigest: "sha256:img"}, spawner, shape())

	utils.AssertFalse(t, m.HasIdle("sha256:img", shape()))
	n, _ := s.GetNode("n1")
	utils.AssertEquals(t, 4.0, n.Resources.AvailableCPU)
}
