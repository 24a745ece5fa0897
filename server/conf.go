package server

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chunkward/corelands/server/world"
	"github.com/pelletier/go-toml"
	)

// Config controls the set of worlds a Server hosts and the cadence at which they're ticked.
type Config struct {
	// Log is used for server-level lifecycle logging; each world.World gets its own Logger, defaulted
	// from this one unless it already has one.
	Log *slog.Logger
	// TickInterval is the real-time period of one scheduler tick. Default 50ms (20 ticks per second).
	TickInterval time.Duration
	// Worlds maps each dimension to host to the world.Config it should be constructed with. Note is
	// still required to set Advancer on each entry: there is no safe default stage transform.
	Worlds map[world.Dimension]world.Config
}

func (conf Config) withDefaults() Config {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = 50 * time.Millisecond
	}
	if conf.Worlds == nil {
		conf.Worlds = map[world.Dimension]world.Config{world.Overworld: {}}
	}
	return conf
}

// Server owns one *world.World per configured dimension and drives their shared tick cadence.
type Server struct {
	conf Config
	worlds map[world.Dimension]*world.World

	quit chan struct{}
	done chan struct{}
}

// New constructs every configured world. Worlds are not started until Start is called.
func New(conf Config) *Server {
	conf = conf.withDefaults()
	srv := &Server{
		conf: conf,
		worlds: make(map[world.Dimension]*world.World, len(conf.Worlds)),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	for dim, wc := range conf.Worlds {
		wc.Dimension = dim
		if wc.Log == nil {
			wc.Log = conf.Log
		}
		srv.worlds[dim] = world.New(wc)
	}
	return srv
}

// World returns the hosted World for dim, or nil if dim was not configured.
func (s *Server) World(dim world.Dimension) *world.World {
	return s.worlds[dim]
}

// Start launches every hosted world's scheduler and begins the shared tick loop.
func (s *Server) Start() {
	for _, w := range s.worlds {
		w.Start()
	}
	go s.run()
}

func (s *Server) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.conf.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			for _, w := range s.worlds {
				w.Tick()
			}
		}
	}
}

// Shutdown stops the tick loop, then shuts down every hosted world in turn, flushing persisted
// chunks before returning.
func (s *Server) Shutdown() {
	close(s.quit)
	<-s.done
	for _, w := range s.worlds {
		w.Shutdown()
	}
}

// WorldUserConfig is the TOML-serialisable per-dimension settings that feed world.Config.
type WorldUserConfig struct {
	// SaveData controls whether this world persists to a LevelDB database on disk. If false, every
	// chunk is generated fresh every time and nothing is durably written (world.NopSaver).
	SaveData bool
	// Folder is the directory the LevelDB database for this world lives in.
	Folder string
	// Seed is passed unmodified to the (external) terrain generator.
	Seed int64
	// IOReadThreads and GenerationThreads size the two worker pools. 0 selects the package default.
	IOReadThreads int
	GenerationThreads int
	// AutoUnloadPeriodTicks and AutoSavePeriodTicks control the periodic unload-scan and save-
	// snapshot cadences, in ticks. 0 selects the package default.
	AutoUnloadPeriodTicks int64
	AutoSavePeriodTicks int64
}

// UserConfig is the TOML-serialisable form of Config, round-tripped to and from disk the same way
// the player whitelist is.
type UserConfig struct {
	Server struct {
		// TickIntervalMS is the real-time length of one tick in milliseconds.
		TickIntervalMS int
	}
	// Worlds maps a dimension name ("overworld", "nether", "end") to its settings.
	Worlds map[string]WorldUserConfig
}

// DefaultConfig returns a UserConfig with one world (the overworld) configured with sensible
// defaults and persistence enabled.
func DefaultConfig() UserConfig {
	uc := UserConfig{Worlds: make(map[string]WorldUserConfig, 1)}
	uc.Server.TickIntervalMS = 50
	uc.Worlds["overworld"] = WorldUserConfig{
		SaveData: true,
		Folder: "worlds/overworld",
		AutoUnloadPeriodTicks: 100,
		AutoSavePeriodTicks: 300,
	}
	return uc
}

// LoadUserConfig reads a UserConfig from the TOML file at path, writing out DefaultConfig's encoding
// first if the file doesn't yet exist.
func LoadUserConfig(path string) (UserConfig, error) {
	uc := DefaultConfig()
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		data, mErr := toml.Marshal(uc)
		if mErr != nil {
			return uc, fmt.Errorf("marshal default config: %w", mErr)
		}
		if wErr := os.WriteFile(path, data, 0644); wErr != nil {
			return uc, fmt.Errorf("write default config: %w", wErr)
		}
		return uc, nil
	} else if err != nil {
		return uc, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(contents, &uc); err != nil {
		return uc, fmt.Errorf("decode config: %w", err)
	}
	return uc, nil
}

// Config converts a UserConfig to a Config. Every returned world.Config still needs its Advancer set
// by the caller before being passed to New: the per-stage terrain transform is wholly external to
// this module and has no safe default.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	conf := Config{
		Log: log,
		TickInterval: time.Duration(uc.Server.TickIntervalMS) * time.Millisecond,
		Worlds: make(map[world.Dimension]world.Config, len(uc.Worlds)),
	}
	for name, wuc := range uc.Worlds {
		dim, ok := parseDimension(name)
		if !ok {
			return conf, fmt.Errorf("config: unknown dimension %q", name)
		}
		wc := world.Config{
			Log: log,
			IOReadThreads: wuc.IOReadThreads,
			GenerationThreads: wuc.GenerationThreads,
			AutoUnloadPeriodTicks: wuc.AutoUnloadPeriodTicks,
			AutoSavePeriodTicks: wuc.AutoSavePeriodTicks,
			Seed: wuc.Seed,
			Dimension: dim,
		}
		if wuc.SaveData {
			saver, err := world.OpenLevelDBSaver(wuc.Folder)
			if err != nil {
				return conf, fmt.Errorf("config: open world %q: %w", name, err)
			}
			wc.Saver = saver
		}
		conf.Worlds[dim] = wc
	}
	return conf, nil
}

func parseDimension(name string) (world.Dimension, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "overworld", "world", "default":
		return world.Overworld, true
	case "nether", "hell":
		return world.Nether, true
	case "end", "the_end", "end_dimension":
		return world.End, true
	}
	return 0, false
}
