package world

import "sync"

// publication is the externally visible index of promoted (StageFull) chunks, plus the listener
// registries. The scheduler is the sole writer; consumers only read.
type publication struct {
	mu sync.RWMutex
	m map[ChunkPos]*ChunkData

	singleShot map[ChunkPos][]chan *ChunkData
	broadcast []*broadcastListener
}

type broadcastListener struct {
	ch chan Promotion
	closed bool
}

// Promotion is a single (position, chunk) event delivered to every broadcast listener.
type Promotion struct {
	Pos ChunkPos
	Chunk *ChunkData
}

func newPublication() *publication {
	return &publication{
		m: make(map[ChunkPos]*ChunkData),
		singleShot: make(map[ChunkPos][]chan *ChunkData),
	}
}

// Get performs a non-blocking lookup in the publication map.
func (p *publication) Get(pos ChunkPos) (*ChunkData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.m[pos]
	return c, ok
}

// ListenOnce registers a single-shot listener for pos: ch receives exactly one value the next time
// pos is published, then is never written to again.
func (p *publication) ListenOnce(pos ChunkPos, ch chan *ChunkData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.m[pos]; ok {
		// Already published: signal immediately, don't register.
		go func() { ch <- c }()
		return
	}
	p.singleShot[pos] = append(p.singleShot[pos], ch)
}

// ListenBroadcast registers a channel that receives every future promotion across every position.
// Listeners are never removed and a closed channel is not detected, so ch must stay open: a send on a
// closed channel panics.
func (p *publication) ListenBroadcast(ch chan Promotion) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcast = append(p.broadcast, &broadcastListener{ch: ch})
}

// Publish inserts chunk into the publication map and notifies listeners. It must be called at most
// once per position over the chunk's lifetime; the scheduler enforces this via chunkHolder.public.
func (p *publication) Publish(pos ChunkPos, chunk *ChunkData) {
	p.mu.Lock()
	p.m[pos] = chunk
	waiters := p.singleShot[pos]
	delete(p.singleShot, pos)
	live := p.broadcast[:0]
	for _, l := range p.broadcast {
		if l.closed {
			continue
		}
		live = append(live, l)
	}
	p.broadcast = live
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- chunk
	}
	for _, l := range p.broadcast {
		select {
		case l.ch <- Promotion{Pos: pos, Chunk: chunk}:
		default:
			// A slow broadcast consumer doesn't block promotion of other chunks; it simply misses
			// this one. Consumers that need lossless delivery should drain promptly.
		}
	}
}

// Unpublish removes pos from the map, called when a published chunk is unloaded.
func (p *publication) Unpublish(pos ChunkPos) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, pos)
}
