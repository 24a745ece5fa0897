package world

// Stage is a totally ordered step in the chunk generation staircase. A chunk advances through the
// stages one at a time; it may never skip a stage and may never regress except through the Empty
// reset that follows a failed or missing load.
type Stage uint8

const (
	// StageNone means nothing is known about the chunk: it is not loaded, not queued, and has no
	// holder. A chunk at StageNone does not exist from the scheduler's point of view.
	StageNone Stage = iota
	// StageEmpty is a bare proto-chunk with no terrain data, either freshly allocated or read back
	// from a miss/error on the persistence layer.
	StageEmpty
	StageBiomes
	StageStructureStart
	StageStructureReferences
	StageNoise
	StageSurface
	StageFeatures
	// StageFull is the terminal stage: the chunk is playable and has been promoted into the
	// publication map.
	StageFull
)

// String returns the human-readable name of the stage, used in logging.
func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageEmpty:
		return "empty"
	case StageBiomes:
		return "biomes"
	case StageStructureStart:
		return "structure_start"
	case StageStructureReferences:
		return "structure_references"
	case StageNoise:
		return "noise"
	case StageSurface:
		return "surface"
	case StageFeatures:
		return "features"
	case StageFull:
		return "full"
	default:
		return "unknown"
	}
}

// MaxLevel is the level at and above which a position is not loaded at all (level 46 unloads).
const MaxLevel int8 = 46

// FullChunkLevel is the ticket level that maps to StageFull. It is also the level used internally for
// force tickets.
const FullChunkLevel int8 = 43

// ChunkFetchLevel is the ticket level GetChunk posts. It is well below FullChunkLevel (31 vs. 43): a
// fetch needs the wider neighbourhood that backs entity ticking around the fetched chunk, not just the
// single position, so it imposes a larger affected radius than a bare view-distance ticket at the same
// stage would.
const ChunkFetchLevel int8 = 31

// LevelToStage maps an effective ticket level to the stage the level field demands, following the
// piecewise rule: L ≤ FullChunkLevel maps to Full, L == FullChunkLevel+1 to Features, L ==
// FullChunkLevel+2 to Surface, and L ≥ MaxLevel means the chunk shouldn't be loaded at all.
func LevelToStage(level int8) Stage {
	switch {
	case level >= MaxLevel:
		return StageNone
	case level == MaxLevel-1:
		return StageSurface
	case level == MaxLevel-2:
		return StageFeatures
	default:
		return StageFull
	}
}

// readDependency is one direct dependency of a target stage: the stage a neighbour must have reached,
// at a given Chebyshev offset from the position being advanced.
type readDependency struct {
	stage Stage
	// radius is the Chebyshev radius over which the dependency applies: 0 means only the position
	// itself, 1 means the position and its 8 neighbours.
	radius int32
}

// stageDependencies holds, for every stage above StageEmpty, the direct dependencies that must be
// satisfied before the stage can run. StageEmpty has none: it is produced directly by an I/O read.
var stageDependencies = map[Stage][]readDependency{
	StageBiomes:              {{StageEmpty, 0}},
	StageStructureStart:      {{StageBiomes, 0}},
	StageStructureReferences: {{StageStructureStart, 0}},
	StageNoise:               {{StageStructureReferences, 0}},
	StageSurface:             {{StageNoise, 0}},
	StageFeatures:            {{StageSurface, 0}, {StageSurface, 1}},
	StageFull:                {{StageFeatures, 0}, {StageFeatures, 1}},
}

// writeRadius returns the Chebyshev radius of the neighbourhood a worker mutates in order to produce
// the stage: zero for every stage except Features, which also touches its 8 neighbours.
func writeRadius(s Stage) int32 {
	if s == StageFeatures {
		return 1
	}
	return 0
}

// readRadius returns the largest Chebyshev radius at which stage s has a direct dependency.
func readRadius(s Stage) int32 {
	var r int32
	for _, dep := range stageDependencies[s] {
		if dep.radius > r {
			r = dep.radius
		}
	}
	return r
}
