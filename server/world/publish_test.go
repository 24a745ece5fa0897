package world

import "testing"

func TestPublicationListenOnceBeforePublish(t *testing.T) {
	pub := newPublication()
	pos := ChunkPos{1, 2}
	ch := make(chan *ChunkData, 1)
	pub.ListenOnce(pos, ch)

	data := NewEmptyChunkData(pos)
	data.Stage = StageFull
	pub.Publish(pos, data)

	got := <-ch
	if got != data {
		t.Fatalf("listener received %v, want %v", got, data)
	}
}

func TestPublicationListenOnceAfterPublishSignalsImmediately(t *testing.T) {
	pub := newPublication()
	pos := ChunkPos{3, 4}
	data := NewEmptyChunkData(pos)
	pub.Publish(pos, data)

	ch := make(chan *ChunkData, 1)
	pub.ListenOnce(pos, ch)

	got := <-ch
	if got != data {
		t.Fatalf("listener received %v, want %v", got, data)
	}
}

func TestPublicationBroadcastReceivesEveryPromotion(t *testing.T) {
	pub := newPublication()
	ch := make(chan Promotion, 4)
	pub.ListenBroadcast(ch)

	a, b := ChunkPos{0, 0}, ChunkPos{1, 0}
	pub.Publish(a, NewEmptyChunkData(a))
	pub.Publish(b, NewEmptyChunkData(b))

	first := <-ch
	second := <-ch
	if first.Pos != a || second.Pos != b {
		t.Fatalf("unexpected promotion order: %v, %v", first.Pos, second.Pos)
	}
}

func TestPublicationUnpublishRemovesEntry(t *testing.T) {
	pub := newPublication()
	pos := ChunkPos{5, 5}
	pub.Publish(pos, NewEmptyChunkData(pos))
	if _, ok := pub.Get(pos); !ok {
		t.Fatal("expected chunk to be published")
	}
	pub.Unpublish(pos)
	if _, ok := pub.Get(pos); ok {
		t.Fatal("expected chunk to be gone after unpublish")
	}
}

func TestPublicationGetMissing(t *testing.T) {
	pub := newPublication()
	if _, ok := pub.Get(ChunkPos{9, 9}); ok {
		t.Fatal("expected miss for never-published position")
	}
}
