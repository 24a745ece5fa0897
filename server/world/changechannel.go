package world

import "sync"

// ChangeChannel is the bounded, coalescing mailbox: it carries at most one pending
// level-delta batch from the LevelField to the Scheduler at a time. Concurrent senders compose their
// batches into the single pending slot rather than queueing, so the scheduler only ever sees the net
// effect of everything that happened since its last receive.
type ChangeChannel struct {
	mu sync.Mutex
	cond *sync.Cond
	pending map[ChunkPos]stageChange
	priority []ChunkPos
	prioSet bool
	closed bool
}

// NewChangeChannel returns an empty, open ChangeChannel.
func NewChangeChannel() *ChangeChannel {
	c := &ChangeChannel{pending: make(map[ChunkPos]stageChange)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Send folds batch into the pending slot, composing per-position entries with whatever is already
// pending using the same rule as LevelField.recordChange, and wakes any blocked receiver.
func (c *ChangeChannel) Send(batch ChangeBatch) {
	c.mu.Lock()
	for pos, change := range batch.Changes {
		if existing, ok := c.pending[pos]; ok {
			if existing.new != change.old {
				panic("world: change channel composition violated: pending.new must equal incoming.old")
			}
			merged := stageChange{old: existing.old, new: change.new}
			if merged.old == merged.new {
				delete(c.pending, pos)
			} else {
				c.pending[pos] = merged
			}
			continue
		}
		c.pending[pos] = change
	}
	if batch.PrioritySet {
		c.priority = batch.HighPriority
		c.prioSet = true
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Close raises the shutdown flag and wakes any blocked receiver.
func (c *ChangeChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

// TryReceive atomically takes both the pending delta map and the pending priority vector without
// blocking. ok is false if nothing was pending.
func (c *ChangeChannel) TryReceive() (batch ChangeBatch, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked()
}

// Receive blocks until a batch is available or the channel is closed, in which case ok is false.
func (c *ChangeChannel) Receive() (batch ChangeBatch, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) == 0 && !c.prioSet && !c.closed {
		c.cond.Wait()
	}
	if c.closed && len(c.pending) == 0 && !c.prioSet {
		return ChangeBatch{}, false
	}
	return c.takeLocked()
}

func (c *ChangeChannel) takeLocked() (ChangeBatch, bool) {
	if len(c.pending) == 0 && !c.prioSet {
		return ChangeBatch{}, false
	}
	batch := ChangeBatch{Changes: c.pending}
	c.pending = make(map[ChunkPos]stageChange)
	if c.prioSet {
		batch.HighPriority = c.priority
		batch.PrioritySet = true
		c.priority = nil
		c.prioSet = false
	}
	return batch, true
}
