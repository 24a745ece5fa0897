package world

import "testing"

// bruteForceLevel recomputes the effective level at pos by iterating every ticket and taking the
// minimum Chebyshev-propagated contribution, used as a reference oracle for the incremental field.
func bruteForceLevel(tickets map[ChunkPos]*ticketSet, pos ChunkPos) int8 {
	best := MaxLevel
	for src, set := range tickets {
		for _, l := range set.levels {
			contributed := int32(l) + chebyshev(src, pos)
			if contributed < int32(best) {
				best = int8(contributed)
			}
		}
	}
	return best
}

func TestLevelFieldBasicPromote(t *testing.T) {
	f := NewLevelField()
	f.AddTicket(ChunkPos{0, 0}, FullChunkLevel)

	if got := f.effectiveLevel(ChunkPos{0, 0}); got != FullChunkLevel {
		t.Fatalf("centre level = %d, want %d", got, FullChunkLevel)
	}
	if got := LevelToStage(f.effectiveLevel(ChunkPos{0, 0})); got != StageFull {
		t.Fatalf("centre stage = %v, want Full", got)
	}
	if got := f.effectiveLevel(ChunkPos{20, 20}); got != MaxLevel {
		t.Fatalf("far level = %d, want untouched MaxLevel", got)
	}
}

func TestLevelFieldCascade(t *testing.T) {
	f := NewLevelField()
	f.AddTicket(ChunkPos{0, 0}, 33)

	for dx := int32(-2); dx <= 2; dx++ {
		for dz := int32(-2); dz <= 2; dz++ {
			pos := ChunkPos{dx, dz}
			if got := LevelToStage(f.effectiveLevel(pos)); got != StageFull {
				t.Fatalf("pos %v stage = %v, want Full", pos, got)
			}
		}
	}
	if got := f.effectiveLevel(ChunkPos{10, 0}); got != 43 {
		t.Fatalf("distance 10 level = %d, want 43", got)
	}
	if got := f.effectiveLevel(ChunkPos{13, 0}); got != MaxLevel {
		t.Fatalf("distance 13 level = %d, want untouched (>=MaxLevel)", got)
	}
}

func TestLevelFieldAddRemoveRoundTrip(t *testing.T) {
	f := NewLevelField()
	pos := ChunkPos{5, -3}

	before := map[ChunkPos]int8{}
	for _, p := range square(pos, 6) {
		before[p] = f.effectiveLevel(p)
	}

	f.AddTicket(pos, 30)
	f.RemoveTicket(pos, 30)

	for _, p := range square(pos, 6) {
		if got := f.effectiveLevel(p); got != before[p] {
			t.Fatalf("pos %v level after add/remove = %d, want %d (restored)", p, got, before[p])
		}
	}
}

func TestLevelFieldDuplicateLevelsUnaffectedByOneRemoval(t *testing.T) {
	f := NewLevelField()
	pos := ChunkPos{0, 0}
	f.AddTicket(pos, 40)
	f.AddTicket(pos, 40)

	before := f.effectiveLevel(pos)
	f.RemoveTicket(pos, 40)
	if got := f.effectiveLevel(pos); got != before {
		t.Fatalf("level after removing one of two equal tickets = %d, want unchanged %d", got, before)
	}
}

func TestLevelFieldTicketChurnMatchesBruteForce(t *testing.T) {
	f := NewLevelField()

	type op struct {
		pos      ChunkPos
		level    int8
		isRemove bool
	}
	ops := []op{
		{ChunkPos{0, 0}, 44, false},
		{ChunkPos{0, 1}, 44, false},
		{ChunkPos{0, 0}, 44, true},
		{ChunkPos{0, 0}, 30, false},
		{ChunkPos{1, 1}, 38, false},
		{ChunkPos{0, 1}, 44, true},
		{ChunkPos{1, 1}, 38, true},
		{ChunkPos{2, 2}, 20, false},
	}
	for _, o := range ops {
		if o.isRemove {
			f.RemoveTicket(o.pos, o.level)
		} else {
			f.AddTicket(o.pos, o.level)
		}
	}

	check := square(ChunkPos{0, 0}, 30)
	for _, p := range check {
		want := bruteForceLevel(f.tickets, p)
		if got := f.effectiveLevel(p); got != want {
			t.Fatalf("pos %v level = %d, want %d (brute force)", p, got, want)
		}
	}
}

func TestLevelFieldBoundaryMaxMinusOneAffectsOnlySelf(t *testing.T) {
	f := NewLevelField()
	pos := ChunkPos{7, 7}
	f.AddTicket(pos, MaxLevel-1)

	if got := f.effectiveLevel(pos); got != MaxLevel-1 {
		t.Fatalf("self level = %d, want %d", got, MaxLevel-1)
	}
	for _, n := range neighbours8(pos) {
		if got := f.effectiveLevel(n); got != MaxLevel {
			t.Fatalf("neighbour %v level = %d, want untouched MaxLevel", n, got)
		}
	}
}

func TestLevelFieldForceTicketMarksHighPriority(t *testing.T) {
	f := NewLevelField()
	pos := ChunkPos{1, 1}
	f.AddForceTicket(pos)

	batch, ok := f.SendChange()
	if !ok || !batch.PrioritySet {
		t.Fatalf("expected a priority-dirty batch after AddForceTicket")
	}
	if len(batch.HighPriority) != 1 || batch.HighPriority[0] != pos {
		t.Fatalf("high priority set = %v, want [%v]", batch.HighPriority, pos)
	}

	f.RemoveForceTicket(pos)
	batch2, ok2 := f.SendChange()
	if !ok2 || !batch2.PrioritySet || len(batch2.HighPriority) != 0 {
		t.Fatalf("expected empty high priority set after removal, got %v", batch2)
	}
}

func TestLevelFieldSendChangeComposesAndSuppressesNoOps(t *testing.T) {
	f := NewLevelField()
	pos := ChunkPos{0, 0}

	f.AddTicket(pos, 43)
	f.RemoveTicket(pos, 43)

	batch, ok := f.SendChange()
	if ok {
		if _, present := batch.Changes[pos]; present {
			t.Fatalf("expected net no-op change to be suppressed, got %v", batch.Changes[pos])
		}
	}
}
