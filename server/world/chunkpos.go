package world

import "fmt"

// ChunkPos is the position of a chunk. It is composed of two integers and is used to locate a chunk
// within a World, which are separated into a grid of chunks throughout the World. ChunkPos is a
// separate type from the block position types found throughout the package, because it is a position
// that identifies a chunk rather than a block.
type ChunkPos [2]int32

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 { return p[0] }

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 { return p[1] }

// String implements fmt.Stringer.
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v)", p[0], p[1])
}

// Add adds two ChunkPos instances together and returns a new one with the combined values.
func (p ChunkPos) Add(pos ChunkPos) ChunkPos {
	return ChunkPos{p[0] + pos[0], p[1] + pos[1]}
}

// packPos folds a ChunkPos into a single int64 key, used to index the level field's hot per-position
// level cache with a flat int64-keyed map instead of Go's built-in map[ChunkPos]int8.
func packPos(p ChunkPos) int64 {
	return int64(p[0])<<32 | int64(uint32(p[1]))
}

// chebyshev returns the Chebyshev (L∞) distance between two chunk positions, the metric used
// throughout ticket propagation and the stage dependency radii.
func chebyshev(a, b ChunkPos) int32 {
	dx, dz := abs32(a[0]-b[0]), abs32(a[1]-b[1])
	if dx > dz {
		return dx
	}
	return dz
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// neighbours8 returns the eight Chebyshev neighbours of pos, in a deterministic order, used by the
// level field flood and by the scheduler's dependency wiring.
func neighbours8(pos ChunkPos) [8]ChunkPos {
	return [8]ChunkPos{
		{pos[0] - 1, pos[1] - 1}, {pos[0], pos[1] - 1}, {pos[0] + 1, pos[1] - 1},
		{pos[0] - 1, pos[1]}, {pos[0] + 1, pos[1]},
		{pos[0] - 1, pos[1] + 1}, {pos[0], pos[1] + 1}, {pos[0] + 1, pos[1] + 1},
	}
}

// square returns every ChunkPos within Chebyshev radius r of centre, centre included, iterated in
// row-major order.
func square(centre ChunkPos, r int32) []ChunkPos {
	if r < 0 {
		return nil
	}
	out := make([]ChunkPos, 0, (2*r+1)*(2*r+1))
	for dz := -r; dz <= r; dz++ {
		for dx := -r; dx <= r; dx++ {
			out = append(out, ChunkPos{centre[0] + dx, centre[1] + dz})
		}
	}
	return out
}
