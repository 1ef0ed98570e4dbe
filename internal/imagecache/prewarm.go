package imagecache

import (
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// PrewarmRequest is an intent to grow a warm pool for an image. It is a
// request, not a guarantee: completion is observed only indirectly, via
// subsequent warm hits.
type PrewarmRequest struct {
	ImageDigest string    `json:"imageDigest"`
	Priority    Priority  `json:"priority"`
	QueuedAt    time.Time `json:"queuedAt"`
}

// prewarmQueue is priority ordered (high > normal > low), FIFO within a
// priority, deduplicated by digest. Ordered maps keep the FIFO order
// while allowing O(1) dedup lookups.
type prewarmQueue struct {
	mu      sync.Mutex
	buckets [3]*orderedmap.OrderedMap[string, PrewarmRequest]
}

func newPrewarmQueue() *prewarmQueue {
	q := &prewarmQueue{}
	for i := range q.buckets {
		q.buckets[i] = orderedmap.NewOrderedMap[string, PrewarmRequest]()
	}
	return q
}

// QueuePrewarm enqueues prewarm intents for the given image digests. A
// digest already queued is promoted if the new priority is higher,
// otherwise left where it is.
func (c *Cache) QueuePrewarm(imageDigests []string, priority Priority) {
	q := c.prewarm
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, digest := range imageDigests {
		existing := -1
		for i, b := range q.buckets {
			if _, ok := b.Get(digest); ok {
				existing = i
				break
			}
		}
		if existing >= 0 {
			if priority.rank() >= existing {
				continue
			}
			q.buckets[existing].Delete(digest)
		}
		q.buckets[priority.rank()].Set(digest, PrewarmRequest{
			ImageDigest: digest,
			Priority:    priority,
			QueuedAt:    time.Now(),
		})
	}
}

// GetPrewarmQueue returns the queue contents in consumption order.
func (c *Cache) GetPrewarmQueue() []PrewarmRequest {
	q := c.prewarm
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PrewarmRequest, 0)
	for _, b := range q.buckets {
		for el := b.Front(); el != nil; el = el.Next() {
			out = append(out, el.Value)
		}
	}
	return out
}

// DequeuePrewarm pops the highest priority, oldest intent. Consumed by
// the warm pool prewarm driver.
func (c *Cache) DequeuePrewarm() (PrewarmRequest, bool) {
	q := c.prewarm
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, b := range q.buckets {
		if el := b.Front(); el != nil {
			req := el.Value
			b.Delete(el.Key)
			return req, true
		}
	}
	return PrewarmRequest{}, false
}
