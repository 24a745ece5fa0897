package world

import (
	"sync"

	"github.com/brentp/intintmap"
	)

// stageChange is a single entry of the level change map handed to the Change Channel: the stage a
// position used to resolve to and the stage it resolves to now.
type stageChange struct {
	old, new Stage
}

// heapEntry is a (position, level) pair used to seed and drive the propagation floods.
type heapEntry struct {
	pos ChunkPos
	level int8
}

// levelHeap is a binary min-heap over heapEntry.level, used by both propagation phases. It is a plain
// slice-backed heap rather than container/heap to avoid the interface-dispatch overhead of pushing one
// entry per neighbour edge during a flood, which is the hottest loop in the level field.
type levelHeap struct {
	entries []heapEntry
}

func (h *levelHeap) push(e heapEntry) {
	h.entries = append(h.entries, e)
	i := len(h.entries) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if h.entries[parent].level <= h.entries[i].level {
			break
		}
		h.entries[parent], h.entries[i] = h.entries[i], h.entries[parent]
		i = parent
	}
}

func (h *levelHeap) pop() (heapEntry, bool) {
	if len(h.entries) == 0 {
		return heapEntry{}, false
	}
	top := h.entries[0]
	last := len(h.entries) - 1
	h.entries[0] = h.entries[last]
	h.entries = h.entries[:last]
	i := 0
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < len(h.entries) && h.entries[left].level < h.entries[smallest].level {
			smallest = left
		}
		if right < len(h.entries) && h.entries[right].level < h.entries[smallest].level {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.entries[i], h.entries[smallest] = h.entries[smallest], h.entries[i]
		i = smallest
	}
	return top, true
}

// LevelField maintains, for every chunk position, the minimum level reachable by Chebyshev
// propagation from the multiset of tickets posted across the world, and batches the resulting stage
// transitions for delivery to the scheduler over a Change Channel.
type LevelField struct {
	mu sync.Mutex

	tickets map[ChunkPos]*ticketSet
	// current is the hot per-position committed-level cache, keyed by a packed int64 position rather
	// than map[ChunkPos]int8: propagation floods touch it on every relaxed edge, and intintmap's flat
	// open-addressed layout avoids the interface/hash overhead of the built-in map on that path.
	current *intintmap.Map

	highPriority []ChunkPos
	isPriorityDirty bool
	pending map[ChunkPos]stageChange
}

// NewLevelField returns an empty LevelField with no tickets posted.
func NewLevelField() *LevelField {
	return &LevelField{
		tickets: make(map[ChunkPos]*ticketSet),
		current: intintmap.New(1024, 0.75),
		pending: make(map[ChunkPos]stageChange),
	}
}

// levelOf returns the committed level of pos, or MaxLevel if the position has never been touched.
func (f *LevelField) levelOf(pos ChunkPos) int8 {
	if l, ok := f.current.Get(packPos(pos)); ok {
		return int8(l)
	}
	return MaxLevel
}

// setLevel commits level as pos's current level in the hot cache.
func (f *LevelField) setLevel(pos ChunkPos, level int8) {
	f.current.Put(packPos(pos), int64(level))
}

// recordChange folds a (pos, oldLevel, newLevel) transition into the pending change map, composing it
// with any prior pending entry for pos and suppressing net no-ops.
func (f *LevelField) recordChange(pos ChunkPos, oldLevel, newLevel int8) {
	oldStage, newStage := LevelToStage(oldLevel), LevelToStage(newLevel)
	if oldStage == newStage {
		return
	}
	if entry, ok := f.pending[pos]; ok {
		entry.new = newStage
		if entry.old == entry.new {
			delete(f.pending, pos)
			return
		}
		f.pending[pos] = entry
		return
	}
	f.pending[pos] = stageChange{old: oldStage, new: newStage}
}

// AddTicket appends level to the multiset at pos and, if it improves (lowers) the effective level
// there, seeds a decrease propagation from (pos, level). level must be below MaxLevel.
func (f *LevelField) AddTicket(pos ChunkPos, level int8) {
	if level >= MaxLevel {
		panic("world: ticket level must be below MaxLevel")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.tickets[pos]
	if !ok {
		set = &ticketSet{}
		f.tickets[pos] = set
	}
	set.add(level)

	if level < f.levelOf(pos) {
		f.runDecrease(pos, level)
	}
}

// RemoveTicket removes one occurrence of level from the multiset at pos. If level was the strict
// minimum and its removal raises the multiset's minimum, an increase propagation bounded to the
// affected square is seeded from (pos, level).
func (f *LevelField) RemoveTicket(pos ChunkPos, level int8) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.tickets[pos]
	if !ok {
		return
	}
	prevMin := set.min()
	if !set.remove(level) {
		return
	}
	newMin := set.min()
	if set.empty() {
		delete(f.tickets, pos)
	}
	if prevMin == level && newMin != prevMin {
		f.runIncrease(pos, level)
	}
}

// AddForceTicket is shorthand for AddTicket(pos, FullChunkLevel) that additionally marks pos as
// high-priority for dispatch re-keying.
func (f *LevelField) AddForceTicket(pos ChunkPos) {
	f.mu.Lock()
	f.highPriority = append(f.highPriority, pos)
	f.isPriorityDirty = true
	f.mu.Unlock()
	f.AddTicket(pos, FullChunkLevel)
}

// RemoveForceTicket is the inverse of AddForceTicket.
func (f *LevelField) RemoveForceTicket(pos ChunkPos) {
	f.mu.Lock()
	for i, p := range f.highPriority {
		if p == pos {
			f.highPriority = append(f.highPriority[:i], f.highPriority[i+1:]...)
			f.isPriorityDirty = true
			break
		}
	}
	f.mu.Unlock()
	f.RemoveTicket(pos, FullChunkLevel)
}

// runDecrease floods a level improvement outward from (pos, level) across the 8-neighbourhood,
// writing directly into the canonical map and recording stage transitions as it goes. Monotone: a
// cell's committed level only ever decreases within a single call.
func (f *LevelField) runDecrease(pos ChunkPos, level int8) {
	var h levelHeap
	h.push(heapEntry{pos, level})
	for {
		e, ok := h.pop()
		if !ok {
			break
		}
		old := f.levelOf(e.pos)
		if e.level >= old {
			continue
		}
		f.setLevel(e.pos, e.level)
		f.recordChange(e.pos, old, e.level)

		if e.level+1 >= MaxLevel {
			continue
		}
		for _, n := range neighbours8(e.pos) {
			proposed := e.level + 1
			if proposed < f.levelOf(n) {
				h.push(heapEntry{n, proposed})
			}
		}
	}
}

// runIncrease performs the two-phase increase propagation: it first resets every
// cell within the affected square whose level was exactly derivable from the removed source back to
// MaxLevel, then re-floods decrease propagations into those cells from the neighbours bordering them
// and from every surviving ticket source located within that square, so that cells still covered by
// another source settle back to their correct level.
func (f *LevelField) runIncrease(source ChunkPos, removedLevel int8) {
	radius := int32(MaxLevel - removedLevel - 1)
	if radius < 0 {
		return
	}
	affected := square(source, radius)
	affectedSet := make(map[ChunkPos]struct{}, len(affected))
	for _, p := range affected {
		affectedSet[p] = struct{}{}
	}

	var resetHeap levelHeap
	resetHeap.push(heapEntry{source, removedLevel})
	reset := make(map[ChunkPos]struct{})
	for {
		e, ok := resetHeap.pop()
		if !ok {
			break
		}
		if _, done := reset[e.pos]; done {
			continue
		}
		cur := f.levelOf(e.pos)
		if cur != e.level {
			// This cell's level was not (or no longer) derived from the removed source at this
			// distance; some other surviving source already dominates here, so stop the reset walk
			// along this branch.
			continue
		}
		reset[e.pos] = struct{}{}
		old := cur
		f.setLevel(e.pos, MaxLevel)
		f.recordChange(e.pos, old, MaxLevel)

		for _, n := range neighbours8(e.pos) {
			if _, inSquare := affectedSet[n]; !inSquare {
				continue
			}
			if _, done := reset[n]; done {
				continue
			}
			resetHeap.push(heapEntry{n, e.level + 1})
		}
	}

	// Re-derive the reset cells: each one bordering a cell that kept its level is re-seeded one level
	// above that neighbour, and every surviving ticket source physically located within the affected
	// square re-floods from its own minimum. Any cell still genuinely covered by another ticket
	// settles back down from MaxLevel to its real level; cells with no surviving source remain at
	// MaxLevel (i.e. are no longer loaded).
	for p := range reset {
		for _, n := range neighbours8(p) {
			if _, done := reset[n]; !done && f.levelOf(n)+1 < f.levelOf(p) {
				f.runDecrease(p, f.levelOf(n)+1)
			}
		}
	}
	for srcPos, set := range f.tickets {
		if set.empty() {
			continue
		}
		if chebyshev(srcPos, source) > radius {
			continue
		}
		if m := set.min(); m < MaxLevel {
			f.runDecrease(srcPos, m)
		}
	}
}

// ChangeBatch is the payload handed to the Change Channel by SendChange: the accumulated level
// transitions and, when dirty, the current high-priority vector.
type ChangeBatch struct {
	Changes map[ChunkPos]stageChange
	HighPriority []ChunkPos
	PrioritySet bool
}

// SendChange atomically takes the accumulated (position → (old, new) stage) map and, if the
// high-priority set has changed since the last call, the high-priority vector, clearing both locally.
// An empty batch (no changes, no priority update) is reported via the ok return.
func (f *LevelField) SendChange() (ChangeBatch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 && !f.isPriorityDirty {
		return ChangeBatch{}, false
	}
	batch := ChangeBatch{Changes: f.pending}
	f.pending = make(map[ChunkPos]stageChange)
	if f.isPriorityDirty {
		batch.HighPriority = append([]ChunkPos(nil), f.highPriority...)
		batch.PrioritySet = true
		f.isPriorityDirty = false
	}
	return batch, true
}

// effectiveLevel returns the level field's current idea of the level at pos; used by tests to cross
// check against a brute-force reference.
func (f *LevelField) effectiveLevel(pos ChunkPos) int8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levelOf(pos)
}
