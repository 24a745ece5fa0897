package world

// nodeKey is a generational arena key identifying a DAG node. A key becomes invalid the instant its
// node is removed: any heap entry or edge still referencing it is detected as stale by comparing gen
// against the slot's current generation, rather than by keeping the node alive.
type nodeKey struct {
	index uint32
	gen uint32
}

type dagNode struct {
	alive bool
	gen uint32

	pos ChunkPos
	stage Stage

	inDegree int
	inQueue bool
	dispatched bool

	// out holds the keys of every node that depends on this one; dropping this node decrements the
	// in-degree of each.
	out []nodeKey
}

// DAG is the scheduler's task dependency graph: nodes are (position, stage) units of work, edges point
// from prerequisite to dependent, and a node becomes schedulable once its in-degree reaches zero.
type DAG struct {
	nodes []dagNode
	freeList []uint32
}

// NewDAG returns an empty dependency graph.
func NewDAG() *DAG {
	return &DAG{}
}

// NewTaskNode allocates a node representing "advance pos to stage" and returns its key.
func (d *DAG) NewTaskNode(pos ChunkPos, stage Stage) nodeKey {
	return d.alloc(dagNode{alive: true, pos: pos, stage: stage})
}

func (d *DAG) alloc(n dagNode) nodeKey {
	if len(d.freeList) > 0 {
		idx := d.freeList[len(d.freeList)-1]
		d.freeList = d.freeList[:len(d.freeList)-1]
		gen := d.nodes[idx].gen + 1
		n.gen = gen
		d.nodes[idx] = n
		return nodeKey{index: idx, gen: gen}
	}
	n.gen = 1
	d.nodes = append(d.nodes, n)
	return nodeKey{index: uint32(len(d.nodes) - 1), gen: n.gen}
}

// Valid reports whether key still refers to a live node, i.e. hasn't been removed (and the slot
// hasn't been recycled into a different node) since the key was obtained.
func (d *DAG) Valid(key nodeKey) bool {
	if int(key.index) >= len(d.nodes) {
		return false
	}
	n := &d.nodes[key.index]
	return n.alive && n.gen == key.gen
}

// Node returns the node data for key, if it is still valid.
func (d *DAG) Node(key nodeKey) (*dagNode, bool) {
	if !d.Valid(key) {
		return nil, false
	}
	return &d.nodes[key.index], true
}

// AddEdge records a dependency edge from prerequisite to dependent, incrementing the dependent's
// in-degree. Both keys must be valid; AddEdge panics otherwise since the scheduler never wires edges
// to nodes it hasn't just created or looked up.
func (d *DAG) AddEdge(prerequisite, dependent nodeKey) {
	from, ok := d.Node(prerequisite)
	if !ok {
		panic("world: AddEdge: prerequisite node is not valid")
	}
	if !d.Valid(dependent) {
		panic("world: AddEdge: dependent node is not valid")
	}
	checkInvariant(prerequisite != dependent, "DAG.AddEdge: self-referential edge")
	from.out = append(from.out, dependent)
	to := &d.nodes[dependent.index]
	to.inDegree++
}

// Drop removes key's node, decrementing the in-degree of every node it pointed to, and returns the
// keys of successors that became schedulable (in-degree reached zero) as a result. It is a no-op if
// key is already stale.
func (d *DAG) Drop(key nodeKey) []nodeKey {
	n, ok := d.Node(key)
	if !ok {
		return nil
	}
	var ready []nodeKey
	for _, succ := range n.out {
		sn, ok := d.Node(succ)
		if !ok {
			continue
		}
		sn.inDegree--
		if sn.inDegree <= 0 && !sn.inQueue {
			ready = append(ready, succ)
		}
	}
	n.alive = false
	n.out = nil
	d.freeList = append(d.freeList, key.index)
	return ready
}

// Schedulable reports whether the node is still valid and has in-degree zero.
func (d *DAG) Schedulable(key nodeKey) bool {
	n, ok := d.Node(key)
	return ok && n.inDegree <= 0
}

// acyclic reports whether the graph currently contains no cycle, computed via Kahn's algorithm over a
// snapshot of live nodes. Used by debug-build invariant checks; not on any hot path.
func (d *DAG) acyclic() bool {
	indeg := make(map[uint32]int)
	adj := make(map[uint32][]uint32)
	for i := range d.nodes {
		n := &d.nodes[i]
		if !n.alive {
			continue
		}
		if _, ok := indeg[uint32(i)]; !ok {
			indeg[uint32(i)] = 0
		}
		for _, succ := range n.out {
			if !d.Valid(succ) {
				continue
			}
			adj[uint32(i)] = append(adj[uint32(i)], succ.index)
			indeg[succ.index]++
		}
	}
	var queue []uint32
	for idx, deg := range indeg {
		if deg == 0 {
			queue = append(queue, idx)
		}
	}
	visited := 0
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range adj[idx] {
			indeg[succ]--
			if indeg[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}
	return visited == len(indeg)
}
