package world

import (
	"testing"
	"time"
)

func TestChangeChannelComposesConsecutiveSends(t *testing.T) {
	c := NewChangeChannel()
	pos := ChunkPos{0, 0}

	c.Send(ChangeBatch{Changes: map[ChunkPos]stageChange{pos: {old: StageNone, new: StageEmpty}}})
	c.Send(ChangeBatch{Changes: map[ChunkPos]stageChange{pos: {old: StageEmpty, new: StageFull}}})

	batch, ok := c.TryReceive()
	if !ok {
		t.Fatalf("expected a pending batch")
	}
	change, present := batch.Changes[pos]
	if !present {
		t.Fatalf("expected pos to be present in composed batch")
	}
	if change.old != StageNone || change.new != StageFull {
		t.Fatalf("composed change = %+v, want {None Full}", change)
	}
}

func TestChangeChannelSuppressesNetNoOp(t *testing.T) {
	c := NewChangeChannel()
	pos := ChunkPos{1, 1}

	c.Send(ChangeBatch{Changes: map[ChunkPos]stageChange{pos: {old: StageFull, new: StageEmpty}}})
	c.Send(ChangeBatch{Changes: map[ChunkPos]stageChange{pos: {old: StageEmpty, new: StageFull}}})

	batch, ok := c.TryReceive()
	if ok {
		if _, present := batch.Changes[pos]; present {
			t.Fatalf("expected net no-op to be suppressed")
		}
	}
}

func TestChangeChannelReceiveBlocksUntilSend(t *testing.T) {
	c := NewChangeChannel()
	done := make(chan ChangeBatch, 1)
	go func() {
		batch, ok := c.Receive()
		if !ok {
			t.Error("expected Receive to succeed")
		}
		done <- batch
	}()

	time.Sleep(10 * time.Millisecond)
	pos := ChunkPos{2, 2}
	c.Send(ChangeBatch{Changes: map[ChunkPos]stageChange{pos: {old: StageNone, new: StageEmpty}}})

	select {
	case batch := <-done:
		if _, ok := batch.Changes[pos]; !ok {
			t.Fatalf("received batch missing pos")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock after Send")
	}
}

func TestChangeChannelReceiveUnblocksOnClose(t *testing.T) {
	c := NewChangeChannel()
	done := make(chan bool, 1)
	go func() {
		_, ok := c.Receive()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected Receive to report closed (ok=false)")
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not unblock after Close")
	}
}
