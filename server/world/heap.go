package world

import "container/heap"

// priority computes the dispatch priority key for a task node: lower is better. A position
// within Chebyshev radius 2 of a high-priority position gets a large bonus (is dispatched sooner) when
// its stage is one of the three final stages, modelling the "finish what a force-loaded neighbourhood
// needs right now" behaviour that force tickets are meant to produce.
func priority(level int8, stage Stage, pos ChunkPos, highPriority []ChunkPos) int {
	p := int(level) + int(stage)
	if stage != StageFull && stage != StageFeatures && stage != StageSurface {
		return p
	}
	for _, hp := range highPriority {
		if chebyshev(pos, hp) <= 2 {
			return p - 100
		}
	}
	return p
}

// heapItem is one entry in the scheduler's priority queue: a snapshot of a task node's priority at the
// time it was pushed, and the generational key of the node it refers to.
type heapItem struct {
	pri int
	key nodeKey
	heapIndex int
}

// taskHeap is a binary min-heap over heapItem.pri, implementing container/heap.Interface. Entries
// whose node has since been removed are skipped lazily on pop by the scheduler rather than removed
// eagerly; the scheduler re-keys the whole queue after applying each change batch.
type taskHeap struct {
	items []*heapItem
}

func (h taskHeap) Len() int { return len(h.items) }
func (h taskHeap) Less(i, j int) bool { return h.items[i].pri < h.items[j].pri }
func (h taskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}
func (h *taskHeap) Push(x any) {
	item := x.(*heapItem)
	item.heapIndex = len(h.items)
	h.items = append(h.items, item)
}
func (h *taskHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

// priorityQueue wraps taskHeap with the push/pop API the scheduler actually uses.
type priorityQueue struct {
	h taskHeap
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{}
}

func (q *priorityQueue) push(key nodeKey, pri int) {
	heap.Push(&q.h, &heapItem{pri: pri, key: key})
}

// pop removes and returns the best (lowest-priority-value) entry, or ok=false if the queue is empty.
func (q *priorityQueue) pop() (nodeKey, bool) {
	if q.h.Len() == 0 {
		return nodeKey{}, false
	}
	item := heap.Pop(&q.h).(*heapItem)
	return item.key, true
}

func (q *priorityQueue) len() int {
	return q.h.Len()
}
