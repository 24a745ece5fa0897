package world

import "sync/atomic"

// chunkHolder is the per-position record owned exclusively by the scheduler. Nothing outside the
// scheduler goroutine may read or write it; consumers only ever see chunks through the publication map
// or through GetChunk/TryGetChunk.
type chunkHolder struct {
	pos ChunkPos

	targetStage Stage
	currentStage Stage

	// dependencyTarget is the highest stage any other position's task has required of this holder
	// as a dependency, independent of (and possibly exceeding) targetStage. It only ever grows: once
	// a dependent no longer needs the stage, this holder may simply stay generated further than its
	// own ticket requires until the next time it is fully demoted.
	dependencyTarget Stage

	// loadPending is set between the point a holder is created and the point its I/O read result
	// arrives; the task chain for stages above Empty isn't built until the true persisted stage is
	// known.
	loadPending bool

	chunk *ChunkData

	public bool

	// tasks holds, for every stage from Empty to Full, the DAG key of the node scheduled to produce
	// it, or the zero nodeKey if no such node exists.
	tasks [StageFull + 1]nodeKey

	// occupied is the DAG key of the occupier node owning a worker that is currently mutating this
	// chunk (or the zero key if nothing is in flight). A task that wants this position while it is
	// occupied is simply requeued rather than wired onto an explicit wait list.
	occupied nodeKey

	externalRefs atomic.Int32
}

func newChunkHolder(pos ChunkPos) *chunkHolder {
	return &chunkHolder{pos: pos, targetStage: StageNone, currentStage: StageNone}
}

// taskAt returns the scheduled node key for stage, and whether one is set.
func (h *chunkHolder) taskAt(stage Stage) (nodeKey, bool) {
	k := h.tasks[stage]
	return k, k != (nodeKey{})
}

func (h *chunkHolder) setTaskAt(stage Stage, key nodeKey) {
	h.tasks[stage] = key
}

func (h *chunkHolder) clearTaskAt(stage Stage) {
	h.tasks[stage] = nodeKey{}
}

// requiredStage is the highest stage anything currently demands of this holder: its own ticket-driven
// target, or a higher stage borrowed by a neighbouring task's dependency, whichever is greater.
func (h *chunkHolder) requiredStage() Stage {
	return max(h.targetStage, h.dependencyTarget)
}
