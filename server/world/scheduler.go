package world

// Scheduler owns the chunk-state table, the task DAG and the dispatch priority queue. Every field
// below is touched only from the single goroutine Run executes on; everything
// external — LevelField, ChangeChannel, publication — is safe to call from any goroutine precisely
// because the Scheduler never reaches across that boundary except through those types' own locks.
type Scheduler struct {
	cfg Config

	level *LevelField
	changes *ChangeChannel
	pub *publication

	dag *DAG
	pq *priorityQueue

	holders map[ChunkPos]*chunkHolder

	lock *ioLock
	readPool *ioReadPool
	genPool *genPool
	writePool *writePool
	results chan workerResult

	highPriority []ChunkPos
	tick int64

	tickCh chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewScheduler wires a Scheduler against a shared LevelField, ChangeChannel and publication map,
// starting its worker pools immediately. Run must be called (typically in its own goroutine) to begin
// consuming change batches and dispatching work.
func NewScheduler(cfg Config, level *LevelField, changes *ChangeChannel, pub *publication) *Scheduler {
	cfg = cfg.withDefaults()
	results := make(chan workerResult, cfg.ResultQueueSize)
	lock := newIOLock()

	s := &Scheduler{
		cfg: cfg,
		level: level,
		changes: changes,
		pub: pub,
		dag: NewDAG(),
		pq: newPriorityQueue(),
		holders: make(map[ChunkPos]*chunkHolder),
		lock: lock,
		results: results,
		tickCh: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	s.readPool = newIOReadPool(cfg.IOReadThreads, cfg.DispatchQueueSize, cfg.Saver, lock, results, cfg.Metrics, cfg.Log)
	s.genPool = newGenPool(cfg.GenerationThreads, cfg.DispatchQueueSize, cfg.Advancer, cfg.Settings, cfg.Seed, cfg.Routers, cfg.Dimension, results)
	s.writePool = newWritePool(cfg.DispatchQueueSize, cfg.Saver, lock, cfg.Metrics, cfg.Log)
	return s
}

// Tick signals one game tick has elapsed, advancing the auto-unload and auto-save cadences. It is
// safe to call from any goroutine; the actual scan work happens on the Run goroutine. A tick arriving
// while a previous signal is still unconsumed is coalesced, which is harmless since the cadence checks
// below key off an internal counter rather than the number of signals received.
func (s *Scheduler) Tick() {
	select {
	case s.tickCh <- struct{}{}:
	default:
	}
}

// Run consumes change batches and worker results until Shutdown is called. It should be started in
// its own goroutine.
func (s *Scheduler) Run() {
	defer close(s.done)

	changeCh := make(chan ChangeBatch)
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		for {
			batch, ok := s.changes.Receive()
			if !ok {
				return
			}
			select {
			case changeCh <- batch:
			case <-s.quit:
				return
			}
		}
	}()

	for {
		select {
		case <-s.quit:
			<-forwarderDone
			return
		case batch := <-changeCh:
			s.reconcile(batch)
		case res := <-s.results:
			s.integrate(res)
		case <-s.tickCh:
			s.tick++
			if s.cfg.AutoUnloadPeriodTicks > 0 && s.tick%s.cfg.AutoUnloadPeriodTicks == 0 {
				s.scanUnload()
			}
			if s.cfg.AutoSavePeriodTicks > 0 && s.tick%s.cfg.AutoSavePeriodTicks == 0 {
				s.saveSnapshot()
			}
		}
		s.dispatch()
		s.cfg.Metrics.setQueueDepth(s.pq.len())
	}
}

// Shutdown closes the change channel, stops the Run goroutine, flushes every resident chunk to
// persistence and tears down the worker pools. It blocks until every in-flight write has completed.
func (s *Scheduler) Shutdown() {
	s.changes.Close()
	close(s.quit)
	<-s.done
	s.saveSnapshot()
	s.readPool.close()
	s.genPool.close()
	s.writePool.close()
	_ = s.cfg.Saver.Close()
}

// reconcile applies one ChangeBatch from the level field: a set of per-position target-stage
// transitions, plus possibly a refreshed high-priority position list.
func (s *Scheduler) reconcile(batch ChangeBatch) {
	if batch.PrioritySet {
		s.highPriority = batch.HighPriority
	}
	for pos, change := range batch.Changes {
		s.reconcileOne(pos, change.new)
	}
	// Re-key every queued task, since levels and the high-priority set may have changed.
	var queued []nodeKey
	for key, ok := s.pq.pop(); ok; key, ok = s.pq.pop() {
		if node, live := s.dag.Node(key); live && !node.dispatched {
			queued = append(queued, key)
		}
	}
	s.pushReady(queued)
}

func (s *Scheduler) reconcileOne(pos ChunkPos, newTarget Stage) {
	h, ok := s.holders[pos]
	if newTarget == StageNone {
		if !ok {
			return
		}
		h.targetStage = StageNone
		s.shrinkTasks(h)
		return
	}
	if !ok {
		h = newChunkHolder(pos)
		h.targetStage = newTarget
		s.holders[pos] = h
		s.beginLoad(h)
		return
	}
	h.targetStage = newTarget
	if h.loadPending {
		return
	}
	s.growTasks(h)
	s.shrinkTasks(h)
}

// beginLoad submits the I/O load that must complete before any generation task chain can be built,
// since only the load result reveals the chunk's true persisted stage.
func (s *Scheduler) beginLoad(h *chunkHolder) {
	h.loadPending = true
	node := s.dag.NewTaskNode(h.pos, StageNone)
	h.setTaskAt(StageNone, node)
	s.pushNode(node)
}

// growTasks extends h's task chain from its current stage up to h.requiredStage(), wiring each new
// node's direct dependencies per the stage dependency table and
// recursively pulling in neighbouring chunks as dependency-only holders where needed.
func (s *Scheduler) growTasks(h *chunkHolder) {
	target := h.requiredStage()
	for stage := h.currentStage + 1; stage <= target; stage++ {
		if _, ok := h.taskAt(stage); ok {
			continue
		}
		node := s.dag.NewTaskNode(h.pos, stage)
		h.setTaskAt(stage, node)
		for _, dep := range stageDependencies[stage] {
			for _, npos := range neighboursAtRadius(h.pos, dep.radius) {
				if npos == h.pos {
					// The holder's own earlier stage: wait on its task unless already reached.
					if depKey, ok := h.taskAt(dep.stage); ok && h.currentStage < dep.stage {
						s.dag.AddEdge(depKey, node)
					}
					continue
				}
				if depKey, needed := s.ensureDependency(npos, dep.stage); needed {
					s.dag.AddEdge(depKey, node)
				}
			}
		}
		if s.dag.Schedulable(node) {
			s.pushNode(node)
		}
	}
}

// shrinkTasks cancels any task above h.requiredStage() that hasn't yet been dispatched to a worker.
// Tasks already in flight are left to run to completion rather than cancelled mid-flight.
func (s *Scheduler) shrinkTasks(h *chunkHolder) {
	required := h.requiredStage()
	for stage := StageFull; stage > required; stage-- {
		key, ok := h.taskAt(stage)
		if !ok {
			continue
		}
		node, ok := s.dag.Node(key)
		if !ok {
			h.clearTaskAt(stage)
			continue
		}
		if node.dispatched {
			continue
		}
		s.dag.Drop(key)
		h.clearTaskAt(stage)
	}
	if h.targetStage == StageNone {
		s.tryUnload(h)
	}
}

// ensureDependency guarantees a holder exists at npos and is on track to reach at least stage,
// creating a dependency-only ("shadow") holder if npos has no ticket-driven target of its own. It
// returns the task node dependents should wait on, or ok=false if the dependency is already
// satisfied and no edge is required.
func (s *Scheduler) ensureDependency(npos ChunkPos, stage Stage) (nodeKey, bool) {
	h, ok := s.holders[npos]
	if !ok {
		h = newChunkHolder(npos)
		s.holders[npos] = h
		h.dependencyTarget = stage
		s.beginLoad(h)
		return h.tasks[StageNone], true
	}
	if h.loadPending {
		if stage > h.dependencyTarget {
			h.dependencyTarget = stage
		}
		return h.tasks[StageNone], true
	}
	if h.currentStage >= stage {
		return nodeKey{}, false
	}
	if stage > h.dependencyTarget {
		h.dependencyTarget = stage
	}
	s.growTasks(h)
	key, ok := h.taskAt(stage)
	return key, ok
}

// neighboursAtRadius returns the positions a dependency at the given Chebyshev radius covers. Radius
// zero is just pos itself; radius one is its eight neighbours, excluding pos (which any accompanying
// radius-zero entry for the same stage already covers). No declared dependency in stageDependencies
// uses a radius beyond one.
func neighboursAtRadius(pos ChunkPos, radius int32) []ChunkPos {
	if radius <= 0 {
		return []ChunkPos{pos}
	}
	n := neighbours8(pos)
	return n[:]
}

// pushNode marks node as queued and pushes it onto the priority heap at its current priority key.
func (s *Scheduler) pushNode(key nodeKey) {
	node, ok := s.dag.Node(key)
	if !ok {
		return
	}
	node.inQueue = true
	node.dispatched = false
	s.pq.push(key, priority(s.level.effectiveLevel(node.pos), node.stage, node.pos, s.highPriority))
}

// pushReady pushes every node in keys that is still valid.
func (s *Scheduler) pushReady(keys []nodeKey) {
	for _, k := range keys {
		s.pushNode(k)
	}
}

// dispatch pops ready tasks off the priority heap and hands them to the appropriate worker pool until
// the heap is empty or a pool reports back-pressure: a full dispatch channel
// leaves the task on the heap rather than blocking the scheduler goroutine. A task whose footprint is
// already occupied is put back on the heap when this pass ends, for the next dispatch pass.
func (s *Scheduler) dispatch() {
	var deferred []nodeKey
	defer func() { s.pushReady(deferred) }()
	for {
		key, ok := s.pq.pop()
		if !ok {
			return
		}
		node, ok := s.dag.Node(key)
		if !ok {
			continue
		}
		node.inQueue = false
		h := s.holders[node.pos]
		if h == nil {
			continue
		}

		if node.stage == StageNone {
			if !s.readPool.submit(node.pos) {
				s.pushNode(key)
				return
			}
			node.dispatched = true
			s.cfg.Metrics.incDispatched(StageNone)
			continue
		}

		if !s.claimOccupancy(node.pos, node.stage, key) {
			deferred = append(deferred, key)
			continue
		}
		cache := s.buildCache(h, node.stage)
		req := generationRequest{centre: node.pos, stage: node.stage, cache: cache}
		if !s.genPool.submit(req) {
			s.releaseOccupancy(node.pos, node.stage)
			s.pushNode(key)
			return
		}
		node.dispatched = true
		s.cfg.Metrics.incDispatched(node.stage)
	}
}

// footprint returns every position a task for stage touches: just pos for every stage except
// Features, whose worker also mutates its eight neighbours.
func (s *Scheduler) footprint(pos ChunkPos, stage Stage) []ChunkPos {
	wr := writeRadius(stage)
	if wr == 0 {
		return []ChunkPos{pos}
	}
	return square(pos, wr)
}

// claimOccupancy marks every position in stage's footprint as owned by node, refusing the claim if
// any of them is already occupied by another in-flight task. This is what prevents two generation
// workers from concurrently mutating overlapping neighbourhoods.
func (s *Scheduler) claimOccupancy(pos ChunkPos, stage Stage, node nodeKey) bool {
	fp := s.footprint(pos, stage)
	for _, p := range fp {
		if nh := s.holders[p]; nh != nil && nh.occupied != (nodeKey{}) {
			return false
		}
	}
	for _, p := range fp {
		nh, ok := s.holders[p]
		if !ok {
			nh = newChunkHolder(p)
			s.holders[p] = nh
		}
		nh.occupied = node
	}
	return true
}

func (s *Scheduler) releaseOccupancy(pos ChunkPos, stage Stage) {
	for _, p := range s.footprint(pos, stage) {
		if nh := s.holders[p]; nh != nil {
			nh.occupied = nodeKey{}
		}
	}
}

// buildCache assembles the stage's write window (the same square claimOccupancy marks), padding any position
// without a resident chunk with a fresh empty one (this can only happen for positions right at the
// edge of the loaded area, since every true dependency was wired through ensureDependency). Ownership
// of every entry transfers into the cache: each covered holder's chunk slot is set nil for the
// duration of the call, so nothing else running on the scheduler goroutine (saveSnapshot, in
// particular) can alias a *ChunkData the generation worker is concurrently mutating. integrateGeneration
// restores every entry once the worker returns.
func (s *Scheduler) buildCache(h *chunkHolder, stage Stage) *Cache {
	r := writeRadius(stage)
	cache := NewCache(h.pos, r)
	for _, p := range square(h.pos, r) {
		nh := s.holders[p]
		if nh == nil || nh.chunk == nil {
			cache.Set(p, NewEmptyChunkData(p))
			continue
		}
		cache.Set(p, nh.chunk)
		nh.chunk = nil
	}
	return cache
}

// integrate applies one worker result to the chunk-state table: a load result reveals a holder's true
// starting stage and unblocks its task chain; a generation result advances a holder (and, for
// Features, its neighbours) by exactly one stage and unblocks whatever depended on it.
func (s *Scheduler) integrate(res workerResult) {
	switch res.kind {
	case resultLoad:
		s.integrateLoad(res.load)
	case resultGeneration:
		s.integrateGeneration(res.gen)
	}
}

func (s *Scheduler) integrateLoad(res loadResult) {
	h, ok := s.holders[res.pos]
	if !ok {
		return
	}
	h.loadPending = false
	h.chunk = res.chunk
	h.currentStage = res.chunk.Stage

	key, ok := h.taskAt(StageNone)
	if ok {
		h.clearTaskAt(StageNone)
		// Tasks elsewhere that waited on this load need the chunk at their dependency stage, not just
		// loaded: grow the chain now and re-wire each onto the task producing that stage.
		if h.requiredStage() != StageNone {
			s.growTasks(h)
		}
		if node, live := s.dag.Node(key); live {
			for _, succ := range node.out {
				if sn, ok := s.dag.Node(succ); ok {
					if dep, ok := h.taskAt(stageDependencies[sn.stage][0].stage); ok {
						s.dag.AddEdge(dep, succ)
					}
				}
			}
		}
		s.pushReady(s.dag.Drop(key))
	}
	s.cfg.Metrics.incCompleted(StageNone)

	if h.currentStage >= StageFull {
		s.publishIfNeeded(h)
	}
	if h.requiredStage() == StageNone {
		s.tryUnload(h)
		return
	}
	s.growTasks(h)
}

func (s *Scheduler) integrateGeneration(res generationResult) {
	s.releaseOccupancy(res.centre, res.stage)

	if centre, ok := res.cache.At(res.centre); ok {
		if h := s.holders[res.centre]; h != nil {
			h.chunk = centre
			h.currentStage = res.stage
		}
	}
	// Features also mutates its eight neighbours; propagate those back onto their holders too.
	for _, p := range res.cache.Positions() {
		if p == res.centre {
			continue
		}
		data, ok := res.cache.At(p)
		if !ok || data == nil {
			continue
		}
		if nh := s.holders[p]; nh != nil {
			nh.chunk = data
		}
	}

	h := s.holders[res.centre]
	if h == nil {
		return
	}
	key, ok := h.taskAt(res.stage)
	if ok {
		h.clearTaskAt(res.stage)
		s.pushReady(s.dag.Drop(key))
	}
	s.cfg.Metrics.incCompleted(res.stage)

	if h.currentStage >= StageFull {
		s.publishIfNeeded(h)
	}
	if h.requiredStage() == StageNone {
		s.tryUnload(h)
	}
}

func (s *Scheduler) publishIfNeeded(h *chunkHolder) {
	if h.public || h.chunk == nil {
		return
	}
	h.public = true
	s.pub.Publish(h.pos, h.chunk)
}

// tryUnload removes a holder once nothing requires it any longer: no ticket- or dependency-driven
// target stage, no pending load, no outstanding task nodes and no in-flight occupancy.
func (s *Scheduler) tryUnload(h *chunkHolder) {
	if h.requiredStage() != StageNone || h.loadPending || h.occupied != (nodeKey{}) {
		return
	}
	if h.externalRefs.Load() > 0 {
		return
	}
	for stage := StageNone; stage <= StageFull; stage++ {
		if _, ok := h.taskAt(stage); ok {
			return
		}
	}
	s.unload(h)
}

func (s *Scheduler) unload(h *chunkHolder) {
	delete(s.holders, h.pos)
	if h.public {
		s.pub.Unpublish(h.pos)
	}
	if h.chunk != nil {
		entry := SaveEntry{Pos: h.pos, Chunk: h.chunk}
		if entry.Chunk.Stage < StageFull {
			entry.Chunk = promoteForWrite(h.chunk)
		}
		s.writePool.submit([]SaveEntry{entry})
	}
	s.cfg.Metrics.incUnload()
}

// scanUnload walks every holder whose ticket-driven target has dropped to None and retries
// tryUnload, catching positions whose in-flight work has finished since the transition that first
// asked for their removal.
func (s *Scheduler) scanUnload() {
	for _, h := range s.holders {
		if h.targetStage == StageNone {
			s.tryUnload(h)
		}
	}
}

// saveSnapshot walks every resident chunk and submits it to the write worker as-is, without removing
// it from the store: the periodic and shutdown-time save pass, distinct from the
// per-position promote-and-unload path.
func (s *Scheduler) saveSnapshot() {
	var batch []SaveEntry
	for _, h := range s.holders {
		if h.chunk == nil {
			continue
		}
		batch = append(batch, SaveEntry{Pos: h.pos, Chunk: h.chunk.Clone()})
	}
	s.writePool.submit(batch)
}
