package warmpool

import (
	"log"
	"time"

	"github.com/hivegrid/hivegrid/internal/imagecache"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/hivegrid/hivegrid/internal/scheduler"
)

// Spawner starts a fresh idle container on a node. Implemented by the
// agent client.
type Spawner interface {
	Spawn(endpoint, imageRef string, res node.ContainerResources) (node.Instance, error)
}

type prewarmDriver struct {
	interval time.Duration
	stop     chan bool
}

// StartPrewarmDriver consumes the image cache's prewarm queue and grows
// warm pools asynchronously. A failed prewarm is logged and dropped: the
// queue carries intents, not obligations.
func (m *Manager) StartPrewarmDriver(cache *imagecache.Cache, spawner Spawner, shape node.ContainerResources, interval time.Duration) {
	if m.driver != nil {
		return
	}
	d := &prewarmDriver{interval: interval, stop: make(chan bool)}
	m.driver = d
	go func() {
		ticker := time.NewTicker(d.interval)
		for {
			select {
			case <-ticker.C:
				for {
					req, ok := cache.DequeuePrewarm()
					if !ok {
						break
					}
					m.prewarmOne(req, spawner, shape)
				}
			case <-d.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (m *Manager) StopPrewarmDriver() {
	if m.driver != nil {
		m.driver.stop <- true
		m.driver = nil
	}
}

func (m *Manager) prewarmOne(req imagecache.PrewarmRequest, spawner Spawner, shape node.ContainerResources) {
	ctx := scheduler.Context{
		ImageRef:  req.ImageDigest,
		Resources: shape,
		RiskLevel: scheduler.RiskLow,
	}
	n, err := m.sched.ScheduleExecution(ctx, scheduler.StrategyBestFit)
	if err != nil {
		log.Printf("prewarm: no placement for %s: %v", req.ImageDigest, err)
		return
	}
	reservation, err := m.sched.ReserveResources(n.ID, shape, ReservationOwner, m.cooldown+time.Minute)
	if err != nil {
		log.Printf("prewarm: reservation on %s failed: %v", n.ID, err)
		return
	}
	inst, err := spawner.Spawn(n.Endpoint, req.ImageDigest, shape)
	if err != nil {
		log.Printf("prewarm: spawn on %s failed: %v", n.ID, err)
		m.sched.ReleaseReservation(n.ID, reservation.ID)
		return
	}
	m.sched.TrackInstance(n.ID, inst)
	m.sched.MarkImageCached(n.ID, req.ImageDigest)

	m.Put(&WarmInstance{
		Instance:      inst,
		NodeID:        n.ID,
		Endpoint:      n.Endpoint,
		ReservationID: reservation.ID,
		ImageRef:      req.ImageDigest,
		Resources:     shape,
	}, false)
	log.Printf("prewarm: instance %s ready for %s on %s", inst.ID, req.ImageDigest, n.ID)
}
