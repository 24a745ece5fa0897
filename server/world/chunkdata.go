package world

import "github.com/segmentio/fasthash/fnv1a"

// Dimension identifies the logical dimension a World belongs to. It is passed through to stage
// transforms unchanged; the scheduler assigns it no meaning of its own.
type Dimension uint8

const (
	Overworld Dimension = iota
	Nether
	End
	)

// StructureStart records that a structure was placed with its origin at Pos during the
// StructureStart stage; Pieces is an opaque blob interpreted by the (external) structure generator.
// IDHash is a stable 64-bit fold of ID, used by the StructureReferences stage to index starts by
// identity without repeatedly hashing the string form.
type StructureStart struct {
	ID string
	IDHash uint64
	Pos ChunkPos
	Pieces []byte
}

// NewStructureStart builds a StructureStart, deriving IDHash from id.
func NewStructureStart(id string, pos ChunkPos, pieces []byte) StructureStart {
	return StructureStart{ID: id, IDHash: fnv1a.HashString64(id), Pos: pos, Pieces: pieces}
}

// ChunkData is the mutable payload carried by a chunk holder: a proto-chunk while Stage is below
// StageFull, and an immutable, promoted chunk exactly once Stage reaches StageFull. The concrete
// block/biome encoding is treated as an opaque compound by the scheduling core; only its stage and
// position matter for scheduling decisions.
type ChunkData struct {
	Pos ChunkPos
	Stage Stage

	// Blocks is a flat, section-major array of block-state palette indices. Its layout is owned by
	// the (external) terrain and block-behaviour systems; the core never interprets it.
	Blocks []uint16
	// Biomes is a flat per-column biome palette index array.
	Biomes []uint8
	// Heightmap stores the surface height sampled at each of the 16x16 columns.
	Heightmap []int16
	// StructureStarts indexes structures whose origin lies in this chunk, keyed by structure ID.
	StructureStarts map[string]StructureStart
}

// NewEmptyChunkData returns a freshly allocated proto-chunk at StageEmpty, the shape produced by a
// synthesised chunk on an I/O miss or parse error.
func NewEmptyChunkData(pos ChunkPos) *ChunkData {
	return &ChunkData{
		Pos: pos,
		Stage: StageEmpty,
		Heightmap: make([]int16, 16*16),
		StructureStarts: make(map[string]StructureStart),
	}
}

// Clone returns a deep copy, used when a chunk needs to be duplicated across a cache boundary rather
// than transferred (periodic save snapshots; see Scheduler.saveSnapshot).
func (c *ChunkData) Clone() *ChunkData {
	if c == nil {
		return nil
	}
	out := &ChunkData{Pos: c.Pos, Stage: c.Stage}
	if c.Blocks != nil {
		out.Blocks = append([]uint16(nil), c.Blocks...)
	}
	if c.Biomes != nil {
		out.Biomes = append([]uint8(nil), c.Biomes...)
	}
	if c.Heightmap != nil {
		out.Heightmap = append([]int16(nil), c.Heightmap...)
	}
	if c.StructureStarts != nil {
		out.StructureStarts = make(map[string]StructureStart, len(c.StructureStarts))
		for k, v := range c.StructureStarts {
			out.StructureStarts[k] = v
		}
	}
	return out
}

// GenerationSettings carries the world-generation tunables a stage transform needs beyond the cache
// itself. The concrete field set belongs to the (external) terrain generator; the core only threads
// the value through.
type GenerationSettings struct {
	MinY, MaxY int
	SeaLevel int
}

// NoiseRouters is an opaque handle to the (external) density-function graph used by noise-dependent
// stages. The scheduling core never inspects it.
type NoiseRouters struct {
	Data any
}

// Cache is the bundle of chunk references handed to a generation worker: a (2*writeRadius+1) square
// of holder chunks centred on the position being advanced. Ownership of every entry
// transfers into the Cache for the duration of the call; the scheduler's holders hold a nil chunk
// slot while a Cache referencing them is in flight.
type Cache struct {
	Centre ChunkPos
	Radius int32

	entries map[ChunkPos]*ChunkData
}

// NewCache returns an empty cache for the square of the given radius around centre.
func NewCache(centre ChunkPos, radius int32) *Cache {
	return &Cache{Centre: centre, Radius: radius, entries: make(map[ChunkPos]*ChunkData)}
}

// Set installs data at pos within the cache.
func (c *Cache) Set(pos ChunkPos, data *ChunkData) {
	c.entries[pos] = data
}

// At returns the chunk at pos, if the cache covers it.
func (c *Cache) At(pos ChunkPos) (*ChunkData, bool) {
	d, ok := c.entries[pos]
	return d, ok
}

// Centred returns the chunk at the cache's centre, which must always be present.
func (c *Cache) Centred() *ChunkData {
	return c.entries[c.Centre]
}

// Positions returns every position covered by the cache.
func (c *Cache) Positions() []ChunkPos {
	out := make([]ChunkPos, 0, len(c.entries))
	for p := range c.entries {
		out = append(out, p)
	}
	return out
}

// StageAdvancer is the external, opaque per-stage terrain transform contract: it mutates the centre chunk of cache in place (and, for StageFeatures, the full 3x3
// neighbourhood) to bring it from stage-1 to stage. The scheduler guarantees, before calling Advance,
// that the centre's current stage is stage-1 and that every direct dependency at its declared radius
// has already reached the required stage. Advance must not fail: a panic aborts the world.
type StageAdvancer interface {
	Advance(stage Stage, cache *Cache, settings GenerationSettings, seed int64, routers *NoiseRouters, dim Dimension)
}

// StageAdvancerFunc adapts a function to a StageAdvancer.
type StageAdvancerFunc func(stage Stage, cache *Cache, settings GenerationSettings, seed int64, routers *NoiseRouters, dim Dimension)

func (f StageAdvancerFunc) Advance(stage Stage, cache *Cache, settings GenerationSettings, seed int64, routers *NoiseRouters, dim Dimension) {
	f(stage, cache, settings, seed, routers, dim)
}
