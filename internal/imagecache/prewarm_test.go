package imagecache

import (
	"testing"

	"github.com/hivegrid/hivegrid/utils"
)

func TestPrewarmQueueOrdering(t *testing.T) {
	c := NewCache(0, 0)
	c.QueuePrewarm([]string{"sha256:low1"}, PriorityLow)
	c.QueuePrewarm([]string{"sha256:norm1", "sha256:norm2"}, PriorityNormal)
	c.QueuePrewarm([]string{"sha256:high1"}, PriorityHigh)

	queued := c.GetPrewarmQueue()
	utils.AssertEquals(t, 4, len(queued))
	utils.AssertEquals(t, "sha256:high1", queued[0].ImageDigest)
	utils.AssertEquals(t, "sha256:norm1", queued[1].ImageDigest)
	utils.AssertEquals(t, "sha256:norm2", queued[2].ImageDigest)
	utils.AssertEquals(t, "sha256:low1", queued[3].ImageDigest)
}

func TestPrewarmDequeueConsumesInOrder(t *testing.T) {
	c := NewCache(0, 0)
	c.QueuePrewarm([]string{"sha256:a"}, PriorityLow)
	c.QueuePrewarm([]string{"sha256:b"}, PriorityHigh)

	req, ok := c.DequeuePrewarm()
	utils.AssertTrue(t, ok)
	utils.AssertEquals(t, "sha256:b", req.ImageDigest)

	req, ok = c.DequeuePrewarm()
	utils.AssertTrue(t, ok)
	utils.AssertEquals(t, "sha256:a", req.ImageDigest)

	_, ok = c.DequeuePrewarm()
	utils.AssertFalse(t, ok)
}

func TestPrewarmDeduplicatesAndPromotes(t *testing.T) {
	c := NewCache(0, 0)
	c.QueuePrewarm([]string{"sha256:a"}, PriorityLow)
	c.QueuePrewarm([]string{"sha256:a"}, PriorityLow)
	utils.AssertEquals(t, 1, len(c.GetPrewarmQueue()))

	// re-queueing at a higher priority promotes the intent
	c.QueuePrewarm([]string{"sha256:a"}, PriorityHigh)
	queued := c.GetPrewarmQueue()
	utils.AssertEquals(t, 1, len(queued))
	utils.AssertEquals(t, PriorityHigh, queued[0].Priority)

	// re-queueing at a lower priority does not demote it
	c.QueuePrewarm([]string{"sha256:a"}, PriorityNormal)
	queued = c.GetPrewarmQueue()
	utils.AssertEquals(t, 1, len(queued))
	utils.AssertEquals(t, PriorityHigh, queued[0].Priority)
}
