package warmpool

import (
	"log"
	"time"
)

type cooldownJanitor struct {
	interval time.Duration
	stop     chan bool
}

// StartCooldownManager starts the recurring sweep that drains idle
// instances past their cooldown. This is the only writer that terminates
// idle instances; repeated ticks over an already drained pool are no-ops.
func (m *Manager) StartCooldownManager(interval time.Duration) {
	if m.janitor != nil {
		return
	}
	j := &cooldownJanitor{interval: interval, stop: make(chan bool)}
	m.janitor = j
	go func() {
		ticker := time.NewTicker(j.interval)
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-j.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (m *Manager) StopCooldownManager() {
	if m.janitor != nil {
		m.janitor.stop <- true
		m.janitor = nil
	}
}

// sweep evicts every idle instance whose idle time exceeds the cooldown
// and keeps the reservations of surviving instances alive.
func (m *Manager) sweep() {
	m.mu.RLock()
	pools := make([]*pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	now := time.Now()
	keepAlive := m.cooldown + 2*m.janitorInterval()

	for _, p := range pools {
		var expired []*WarmInstance
		p.mu.Lock()
		for elem := p.idle.Front(); elem != nil; {
			next := elem.Next()
			wi := elem.Value.(*WarmInstance)
			if now.Sub(wi.LastUsedAt) > m.cooldown {
				p.idle.Remove(elem)
				expired = append(expired, wi)
			} else {
				m.sched.ExtendReservation(wi.NodeID, wi.ReservationID, keepAlive)
			}
			elem = next
		}
		p.mu.Unlock()

		// teardown happens outside the pool lock: stopping a remote
		// container is a network call
		for _, wi := range expired {
			log.Printf("cooldown: draining idle instance %s (%s)", wi.Instance.ID, wi.ImageRef)
			m.teardown(wi)
		}
	}
}

func (m *Manager) janitorInterval() time.Duration {
	if m.janitor != nil {
		return m.janitor.interval
	}
	return time.Minute
}
