package world

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	)

// FetchOutcome distinguishes the three results a Saver may report for a single position.
type FetchOutcome uint8

const (
	Loaded FetchOutcome = iota
	Missing
	FetchError
	)

// FetchResult is the per-position result of a Saver.Fetch call.
type FetchResult struct {
	Pos ChunkPos
	Outcome FetchOutcome
	Chunk *ChunkData
	Err error
}

// SaveEntry pairs a position with the chunk data to persist for it.
type SaveEntry struct {
	Pos ChunkPos
	Chunk *ChunkData
}

// Saver is the persistence contract: fetch resolves positions to persisted chunks
// (at any stage) or reports them missing/errored, and save durably writes a batch. Both operations
// treat a (position, chunk) pair as an opaque compound; wire-level bytes belong to the persistence
// layer, not the scheduling core.
type Saver interface {
	Fetch(ctx context.Context, positions []ChunkPos) ([]FetchResult, error)
	Save(ctx context.Context, batch []SaveEntry) error
	Close() error
}

// NopSaver implements Saver by reporting every position missing and discarding every save. It is the
// default when a World is configured without persistence, giving every chunk a fresh generation path.
type NopSaver struct{}

func (NopSaver) Fetch(_ context.Context, positions []ChunkPos) ([]FetchResult, error) {
	out := make([]FetchResult, len(positions))
	for i, p := range positions {
		out[i] = FetchResult{Pos: p, Outcome: Missing}
	}
	return out, nil
}

func (NopSaver) Save(context.Context, []SaveEntry) error { return nil }
func (NopSaver) Close() error { return nil }

// LevelDBSaver persists chunks as opaque compounds in a single LevelDB database, keyed by chunk
// position. It plays the role of the append-only log format: unlike a fixed-slot
// region file, a position's record may change size freely between saves since LevelDB's LSM tree
// handles variable-length values natively. The exact on-disk encoding below is a minimal codec
// sufficient to round-trip a ChunkData; it is not a specified wire format.
type LevelDBSaver struct {
	db *leveldb.DB
}

// OpenLevelDBSaver opens (creating if necessary) a LevelDB database at dir.
func OpenLevelDBSaver(dir string) (*LevelDBSaver, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{Compression: opt.SnappyCompression})
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDBSaver{db: db}, nil
}

// chunkKey derives the LevelDB key for a position from an xxhash-folded 16-byte encoding of its
// coordinates; collisions are accepted as effectively impossible for the position space in play and
// are not detected (a region-file style fixed-slot layout would index by coordinate directly instead,
// trading a hash computation for wasted slot space).
func chunkKey(pos ChunkPos) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(pos[0]))
	binary.BigEndian.PutUint32(buf[4:8], uint32(pos[1]))
	h := xxhash.Sum64(buf[:])
	var key [16]byte
	copy(key[0:8], buf[:])
	binary.BigEndian.PutUint64(key[8:16], h)
	return key[:]
}

func (s *LevelDBSaver) Fetch(_ context.Context, positions []ChunkPos) ([]FetchResult, error) {
	out := make([]FetchResult, len(positions))
	for i, p := range positions {
		raw, err := s.db.Get(chunkKey(p), nil)
		switch {
		case err == leveldb.ErrNotFound:
			out[i] = FetchResult{Pos: p, Outcome: Missing}
		case err != nil:
			out[i] = FetchResult{Pos: p, Outcome: FetchError, Err: err}
		default:
			chunk, decErr := decodeChunk(p, raw)
			if decErr != nil {
				out[i] = FetchResult{Pos: p, Outcome: FetchError, Err: decErr}
				continue
			}
			out[i] = FetchResult{Pos: p, Outcome: Loaded, Chunk: chunk}
		}
	}
	return out, nil
}

func (s *LevelDBSaver) Save(_ context.Context, batch []SaveEntry) error {
	wb := new(leveldb.Batch)
	for _, entry := range batch {
		wb.Put(chunkKey(entry.Pos), encodeChunk(entry.Chunk))
	}
	return s.db.Write(wb, nil)
}

func (s *LevelDBSaver) Close() error { return s.db.Close() }

// encodeChunk serialises a ChunkData into the minimal length-prefixed binary layout this package
// reads back in decodeChunk.
func encodeChunk(c *ChunkData) []byte {
	size := 1 + 4 + 4*len(c.Blocks) + 4 + len(c.Biomes) + 4 + 2*len(c.Heightmap)
	buf := make([]byte, 0, size)
	buf = append(buf, byte(c.Stage))

	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(c.Blocks)))
	buf = append(buf, tmp[:]...)
	for _, b := range c.Blocks {
		var b2 [2]byte
		binary.BigEndian.PutUint16(b2[:], b)
		buf = append(buf, b2[:]...)
	}

	binary.BigEndian.PutUint32(tmp[:], uint32(len(c.Biomes)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, c.Biomes...)

	binary.BigEndian.PutUint32(tmp[:], uint32(len(c.Heightmap)))
	buf = append(buf, tmp[:]...)
	for _, h := range c.Heightmap {
		var h2 [2]byte
		binary.BigEndian.PutUint16(h2[:], uint16(h))
		buf = append(buf, h2[:]...)
	}
	return buf
}

func decodeChunk(pos ChunkPos, buf []byte) (*ChunkData, error) {
	if len(buf) < 1+4 {
		return nil, fmt.Errorf("world: malformed persisted chunk at %v: truncated header", pos)
	}
	c := &ChunkData{Pos: pos, Stage: Stage(buf[0]), StructureStarts: make(map[string]StructureStart)}
	off := 1

	blockCount := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(blockCount)*2 > uint64(len(buf)) {
		return nil, fmt.Errorf("world: malformed persisted chunk at %v: truncated blocks", pos)
	}
	c.Blocks = make([]uint16, blockCount)
	for i := range c.Blocks {
		c.Blocks[i] = binary.BigEndian.Uint16(buf[off:])
		off += 2
	}

	if off+4 > len(buf) {
		return nil, fmt.Errorf("world: malformed persisted chunk at %v: truncated biome header", pos)
	}
	biomeCount := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(biomeCount) > uint64(len(buf)) {
		return nil, fmt.Errorf("world: malformed persisted chunk at %v: truncated biomes", pos)
	}
	c.Biomes = append([]byte(nil), buf[off:off+int(biomeCount)]...)
	off += int(biomeCount)

	if off+4 > len(buf) {
		return nil, fmt.Errorf("world: malformed persisted chunk at %v: truncated heightmap header", pos)
	}
	heightCount := binary.BigEndian.Uint32(buf[off:])
	off += 4
	if uint64(off)+uint64(heightCount)*2 > uint64(len(buf)) {
		return nil, fmt.Errorf("world: malformed persisted chunk at %v: truncated heightmap", pos)
	}
	c.Heightmap = make([]int16, heightCount)
	for i := range c.Heightmap {
		c.Heightmap[i] = int16(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	}
	return c, nil
}
