package world

import "testing"

func TestDAGDropMakesSuccessorSchedulable(t *testing.T) {
	d := NewDAG()
	a := d.NewTaskNode(ChunkPos{0, 0}, StageBiomes)
	b := d.NewTaskNode(ChunkPos{0, 0}, StageStructureStart)
	d.AddEdge(a, b)

	if d.Schedulable(b) {
		t.Fatalf("b should not be schedulable while a is outstanding")
	}
	ready := d.Drop(a)
	if len(ready) != 1 || ready[0] != b {
		t.Fatalf("Drop(a) ready = %v, want [b]", ready)
	}
	if !d.Schedulable(b) {
		t.Fatalf("b should be schedulable after a is dropped")
	}
}

func TestDAGStaleKeyAfterRemoval(t *testing.T) {
	d := NewDAG()
	a := d.NewTaskNode(ChunkPos{0, 0}, StageBiomes)
	d.Drop(a)
	if d.Valid(a) {
		t.Fatalf("key should be invalid after Drop")
	}
	// Recycle the slot and confirm the old key still doesn't alias the new node.
	b := d.NewTaskNode(ChunkPos{1, 1}, StageNoise)
	if d.Valid(a) {
		t.Fatalf("old generational key must not become valid again after slot reuse")
	}
	if !d.Valid(b) {
		t.Fatalf("freshly allocated node must be valid")
	}
}

func TestDAGAcyclicAfterDiamond(t *testing.T) {
	d := NewDAG()
	a := d.NewTaskNode(ChunkPos{0, 0}, StageEmpty)
	b := d.NewTaskNode(ChunkPos{0, 0}, StageBiomes)
	c := d.NewTaskNode(ChunkPos{1, 0}, StageBiomes)
	e := d.NewTaskNode(ChunkPos{0, 0}, StageStructureStart)
	d.AddEdge(a, b)
	d.AddEdge(a, c)
	d.AddEdge(b, e)
	d.AddEdge(c, e)

	if !d.acyclic() {
		t.Fatalf("diamond dependency graph must be acyclic")
	}
}

func TestDAGDropSkipsAlreadyQueuedSuccessor(t *testing.T) {
	d := NewDAG()
	a := d.NewTaskNode(ChunkPos{0, 0}, StageEmpty)
	b := d.NewTaskNode(ChunkPos{0, 0}, StageBiomes)
	d.AddEdge(a, b)

	// Simulate b already having reached zero in-degree and been queued through another path.
	bn, _ := d.Node(b)
	bn.inDegree = 0
	bn.inQueue = true

	ready := d.Drop(a)
	if len(ready) != 0 {
		t.Fatalf("already-queued successor should not be reported again, got %v", ready)
	}
}
