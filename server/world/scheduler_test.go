package world

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeSaver is an in-memory Saver used to observe what the scheduler persists without touching disk.
type fakeSaver struct {
	mu     sync.Mutex
	saved  []SaveEntry
	missed bool // if true, Fetch always reports Missing regardless of prior saves
}

func (s *fakeSaver) Fetch(_ context.Context, positions []ChunkPos) ([]FetchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FetchResult, len(positions))
	for i, p := range positions {
		if s.missed {
			out[i] = FetchResult{Pos: p, Outcome: Missing}
			continue
		}
		found := false
		for _, e := range s.saved {
			if e.Pos == p {
				out[i] = FetchResult{Pos: p, Outcome: Loaded, Chunk: e.Chunk.Clone()}
				found = true
			}
		}
		if !found {
			out[i] = FetchResult{Pos: p, Outcome: Missing}
		}
	}
	return out, nil
}

func (s *fakeSaver) Save(_ context.Context, batch []SaveEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, batch...)
	return nil
}

func (s *fakeSaver) Close() error { return nil }

func (s *fakeSaver) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// instantAdvancer promotes the centre chunk to stage immediately, with no terrain of its own.
type instantAdvancer struct{}

func (instantAdvancer) Advance(stage Stage, cache *Cache, _ GenerationSettings, _ int64, _ *NoiseRouters, _ Dimension) {
	cache.Centred().Stage = stage
}

func newTestScheduler(t *testing.T, saver Saver) *Scheduler {
	t.Helper()
	cfg := Config{
		IOReadThreads:     1,
		GenerationThreads: 1,
		Saver:             saver,
		Advancer:          instantAdvancer{},
	}
	return NewScheduler(cfg, NewLevelField(), NewChangeChannel(), newPublication())
}

// drive repeatedly dispatches and integrates worker results until pos's holder reaches want or the
// deadline elapses, at which point it fails the test.
func drive(t *testing.T, s *Scheduler, pos ChunkPos, want Stage) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.dispatch()
		h := s.holders[pos]
		if h != nil && h.currentStage >= want {
			return
		}
		select {
		case res := <-s.results:
			s.integrate(res)
		case <-deadline:
			t.Fatalf("timed out waiting for %v to reach stage %v (at %v)", pos, want, h)
		}
	}
}

func TestSchedulerReconcileGrowsChainToRequestedStage(t *testing.T) {
	saver := &fakeSaver{missed: true}
	s := newTestScheduler(t, saver)
	pos := ChunkPos{0, 0}

	s.reconcileOne(pos, StageFull)
	drive(t, s, pos, StageFull)

	chunk, ok := s.pub.Get(pos)
	if !ok {
		t.Fatal("expected chunk to be published once it reached StageFull")
	}
	if chunk.Stage != StageFull {
		t.Fatalf("published chunk at stage %v, want StageFull", chunk.Stage)
	}
}

func TestSchedulerDependencyPullsInNeighbours(t *testing.T) {
	saver := &fakeSaver{missed: true}
	s := newTestScheduler(t, saver)
	centre := ChunkPos{5, 5}

	s.reconcileOne(centre, StageFeatures)
	drive(t, s, centre, StageFeatures)

	for _, n := range neighbours8(centre) {
		h, ok := s.holders[n]
		if !ok {
			t.Fatalf("expected a dependency-only holder at neighbour %v", n)
		}
		if h.currentStage < StageSurface {
			t.Fatalf("neighbour %v only reached %v, want at least StageSurface", n, h.currentStage)
		}
	}
}

func TestSchedulerDemotionCancelsUndispatchedTask(t *testing.T) {
	saver := &fakeSaver{missed: true}
	s := newTestScheduler(t, saver)
	pos := ChunkPos{1, 1}

	s.reconcileOne(pos, StageFull)
	// Let the load complete so the chain above Empty is grown, but dispatch nothing further.
	s.dispatch()
	s.integrate(<-s.results)
	h := s.holders[pos]
	// Demote before any grown task has dispatched: every grown task node should still be queued, not
	// dispatched, so shrinkTasks can cancel all of them immediately.
	s.reconcileOne(pos, StageNone)

	for stage := StageEmpty; stage <= StageFull; stage++ {
		if _, ok := h.taskAt(stage); ok {
			t.Fatalf("expected no surviving task at stage %v after demotion to none", stage)
		}
	}
}

func TestSchedulerUnloadPromotesBelowFullChunkOnSave(t *testing.T) {
	saver := &fakeSaver{missed: true}
	s := newTestScheduler(t, saver)
	pos := ChunkPos{2, 2}

	s.reconcileOne(pos, StageSurface)
	drive(t, s, pos, StageSurface)

	s.reconcileOne(pos, StageNone)
	// Nothing was in flight, so the demotion's shrinkTasks call should unload immediately.
	if _, ok := s.holders[pos]; ok {
		t.Fatal("expected holder to be removed once no stage is required")
	}
	s.writePool.close() // wait for the asynchronous write worker to drain
	if saver.savedCount() != 1 {
		t.Fatalf("expected exactly one save, got %d", saver.savedCount())
	}
	if saver.saved[0].Chunk.Stage != StageFull {
		t.Fatalf("expected unload to promote the chunk to StageFull before saving, got %v", saver.saved[0].Chunk.Stage)
	}
}

func TestSchedulerSaveSnapshotDoesNotPromoteOrRemove(t *testing.T) {
	saver := &fakeSaver{missed: true}
	s := newTestScheduler(t, saver)
	pos := ChunkPos{3, 3}

	s.reconcileOne(pos, StageSurface)
	drive(t, s, pos, StageSurface)

	s.saveSnapshot()
	if _, ok := s.holders[pos]; !ok {
		t.Fatal("saveSnapshot must not remove the holder")
	}
	s.writePool.close() // wait for the asynchronous write worker to drain
	if saver.savedCount() != 1 {
		t.Fatalf("expected exactly one snapshot save, got %d", saver.savedCount())
	}
	if saver.saved[0].Chunk.Stage != StageSurface {
		t.Fatalf("saveSnapshot must persist the true stage, got %v", saver.saved[0].Chunk.Stage)
	}
}

func TestSchedulerLoadedChunkSkipsAlreadySatisfiedStages(t *testing.T) {
	saver := &fakeSaver{}
	saver.saved = []SaveEntry{{Pos: ChunkPos{7, 7}, Chunk: &ChunkData{Pos: ChunkPos{7, 7}, Stage: StageSurface}}}
	s := newTestScheduler(t, saver)
	pos := ChunkPos{7, 7}

	s.reconcileOne(pos, StageFull)
	drive(t, s, pos, StageFull)

	h := s.holders[pos]
	if _, ok := h.taskAt(StageEmpty); ok {
		t.Fatal("expected no task for a stage the persisted load already satisfied")
	}
}
