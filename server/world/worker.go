package world

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ioLock is the single shared mutex outside the scheduler goroutine: a map from position
// to the number of writes currently draining for it, guarded by a condition variable. A read worker
// blocks on it before fetching so it can never race a write still in flight for the same position.
type ioLock struct {
	mu     sync.Mutex
	cond   *sync.Cond
	counts map[ChunkPos]int
}

func newIOLock() *ioLock {
	l := &ioLock{counts: make(map[ChunkPos]int)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// waitForDrain blocks until no write is in flight for pos.
func (l *ioLock) waitForDrain(pos ChunkPos) {
	l.mu.Lock()
	for l.counts[pos] > 0 {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// beginWrite marks a write as in flight for pos.
func (l *ioLock) beginWrite(pos ChunkPos) {
	l.mu.Lock()
	l.counts[pos]++
	l.mu.Unlock()
}

// endWrite clears an in-flight write for pos, waking every reader blocked in waitForDrain once the
// count reaches zero.
func (l *ioLock) endWrite(pos ChunkPos) {
	l.mu.Lock()
	l.counts[pos]--
	if l.counts[pos] <= 0 {
		delete(l.counts, pos)
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// resultKind distinguishes the two message shapes a worker pool can post to the scheduler's result
// queue.
type resultKind uint8

const (
	resultLoad resultKind = iota
	resultGeneration
)

type loadResult struct {
	pos     ChunkPos
	chunk   *ChunkData
	outcome FetchOutcome
}

type generationResult struct {
	centre ChunkPos
	stage  Stage
	cache  *Cache
}

// workerResult is the tagged union carried on the scheduler's inbound results channel.
type workerResult struct {
	kind resultKind
	load loadResult
	gen  generationResult
}

// ioReadPool resolves chunk positions to either a persisted chunk at any stage or a freshly synthesised
// empty chunk.
type ioReadPool struct {
	requests chan ChunkPos
	results  chan<- workerResult
	saver    Saver
	lock     *ioLock
	log      *slog.Logger
	metrics  *SchedulerMetrics

	group errgroup.Group
}

func newIOReadPool(n, queueSize int, saver Saver, lock *ioLock, results chan<- workerResult, metrics *SchedulerMetrics, log *slog.Logger) *ioReadPool {
	p := &ioReadPool{
		requests: make(chan ChunkPos, queueSize),
		results:  results,
		saver:    saver,
		lock:     lock,
		metrics:  metrics,
		log:      log,
	}
	for i := 0; i < n; i++ {
		p.group.Go(func() error {
			p.loop()
			return nil
		})
	}
	return p
}

func (p *ioReadPool) loop() {
	for pos := range p.requests {
		// Step 1: wait for any write draining this position before fetching, so a load can never
		// observe a half-written record.
		p.lock.waitForDrain(pos)

		fetched, err := p.saver.Fetch(context.Background(), []ChunkPos{pos})
		var res loadResult
		switch {
		case err != nil:
			ioErr := &TransientIOError{Pos: pos, Err: err}
			p.log.Warn("chunk load failed, treating as missing", "pos", pos, "err", ioErr)
			p.metrics.incLoadError()
			res = loadResult{pos: pos, chunk: NewEmptyChunkData(pos), outcome: FetchError}
		case fetched[0].Outcome == Loaded:
			res = loadResult{pos: pos, chunk: fetched[0].Chunk, outcome: Loaded}
		case fetched[0].Outcome == FetchError:
			malformedErr := &MalformedChunkError{Pos: pos, Err: fetched[0].Err}
			p.log.Warn("persisted chunk malformed, treating as missing", "pos", pos, "err", malformedErr)
			p.metrics.incLoadError()
			res = loadResult{pos: pos, chunk: NewEmptyChunkData(pos), outcome: FetchError}
		default:
			p.metrics.incLoadMiss()
			res = loadResult{pos: pos, chunk: NewEmptyChunkData(pos), outcome: Missing}
		}
		p.results <- workerResult{kind: resultLoad, load: res}
	}
}

// submit enqueues a load request. It never blocks: a full queue reports false so the caller can leave
// the task on the heap for a later dispatch pass rather than stalling the scheduler goroutine.
func (p *ioReadPool) submit(pos ChunkPos) bool {
	select {
	case p.requests <- pos:
		return true
	default:
		return false
	}
}

func (p *ioReadPool) close() {
	close(p.requests)
	_ = p.group.Wait()
}

// generationRequest is a single stage advance, bound to the cache the scheduler assembled for it per
// the stage's declared read dependencies.
type generationRequest struct {
	centre ChunkPos
	stage  Stage
	cache  *Cache
}

// genPool advances a centred neighbourhood by exactly one stage per request. Each call is a pure,
// synchronous transform over the Cache it was handed; workers never touch scheduler state directly.
type genPool struct {
	requests chan generationRequest
	results  chan<- workerResult
	advancer StageAdvancer
	settings GenerationSettings
	seed     int64
	routers  *NoiseRouters
	dim      Dimension

	group errgroup.Group
}

func newGenPool(n, queueSize int, advancer StageAdvancer, settings GenerationSettings, seed int64, routers *NoiseRouters, dim Dimension, results chan<- workerResult) *genPool {
	p := &genPool{
		requests: make(chan generationRequest, queueSize),
		results:  results,
		advancer: advancer,
		settings: settings,
		seed:     seed,
		routers:  routers,
		dim:      dim,
	}
	for i := 0; i < n; i++ {
		p.group.Go(func() error {
			p.loop()
			return nil
		})
	}
	return p
}

func (p *genPool) loop() {
	for req := range p.requests {
		p.advancer.Advance(req.stage, req.cache, p.settings, p.seed, p.routers, p.dim)
		p.results <- workerResult{kind: resultGeneration, gen: generationResult{centre: req.centre, stage: req.stage, cache: req.cache}}
	}
}

func (p *genPool) submit(req generationRequest) bool {
	select {
	case p.requests <- req:
		return true
	default:
		return false
	}
}

func (p *genPool) close() {
	close(p.requests)
	_ = p.group.Wait()
}

// writePool is the single I/O write worker that durably persists chunks handed to it from the unload
// and periodic-save passes. It is deliberately not parallelised: the reference design accepts write
// throughput as the bottleneck in exchange for one simply-ordered point of contention on ioLock.
type writePool struct {
	requests chan []SaveEntry
	saver    Saver
	lock     *ioLock
	log      *slog.Logger
	metrics  *SchedulerMetrics

	done chan struct{}
}

func newWritePool(queueSize int, saver Saver, lock *ioLock, metrics *SchedulerMetrics, log *slog.Logger) *writePool {
	p := &writePool{
		requests: make(chan []SaveEntry, queueSize),
		saver:    saver,
		lock:     lock,
		metrics:  metrics,
		log:      log,
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *writePool) loop() {
	defer close(p.done)
	for batch := range p.requests {
		for _, e := range batch {
			p.lock.beginWrite(e.Pos)
		}
		if err := p.saver.Save(context.Background(), batch); err != nil {
			positions := make([]ChunkPos, len(batch))
			for i, e := range batch {
				positions[i] = e.Pos
			}
			writeErr := &WriteFailureError{Positions: positions, Err: err}
			p.log.Error("chunk write failed, not retrying", "err", writeErr, "count", len(batch))
			p.metrics.incWriteError()
		}
		for _, e := range batch {
			p.lock.endWrite(e.Pos)
		}
	}
}

// submit enqueues a batch for durable persistence. Unlike reads and generation, writes are never
// dropped: this blocks if the queue is full. The scheduler only calls it from the unload and
// periodic-save passes, never from the hot per-tick dispatch loop, so a momentary stall here does not
// stall task dispatch.
func (p *writePool) submit(batch []SaveEntry) {
	if len(batch) == 0 {
		return
	}
	p.requests <- batch
}

func (p *writePool) close() {
	close(p.requests)
	<-p.done
}

// promoteForWrite returns a clone of c with its stage forced to StageFull for serialisation, mirroring
// the reference implementation's unload path: a proto-chunk below Full is promoted in-place before
// being handed to the write worker, so the on-disk format never needs to represent partial stages for
// a chunk reached via unload. Whether this silently discards recoverable partial work on crash is left
// an open question by the design this was ported from; this port preserves the behaviour unchanged
// rather than inventing a new on-disk partial-stage representation.
func promoteForWrite(c *ChunkData) *ChunkData {
	clone := c.Clone()
	clone.Stage = StageFull
	return clone
}
