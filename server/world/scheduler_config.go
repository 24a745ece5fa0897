package world

import (
	"log/slog"
	"runtime"
	)

// Config holds the tunable parameters of a World's chunk lifecycle scheduler. The zero value is
// usable; sensible defaults are applied by withDefaults.
type Config struct {
	// Log is the Logger used for scheduler, worker and persistence diagnostics. Defaults to
	// slog.Default() if nil.
	Log *slog.Logger

	// IOReadThreads is the size of the I/O read worker pool. Default 4.
	IOReadThreads int
	// GenerationThreads is the size of the generation worker pool. Default max(1, NumCPU-2).
	GenerationThreads int
	// ResultQueueSize bounds the many-to-one channel workers use to report results back to the
	// scheduler. Default 256.
	ResultQueueSize int
	// DispatchQueueSize bounds the channel the scheduler uses to hand work to each pool; a full
	// channel causes the scheduler to postpone that heap pop without losing the task. Default
	// GenerationThreads + 2; the same bound is used for the read, generation and write channels.
	DispatchQueueSize int

	// AutoUnloadPeriodTicks is the cadence, in ticks, at which the scheduler scans for unloadable
	// positions. Default 100.
	AutoUnloadPeriodTicks int64
	// AutoSavePeriodTicks is the cadence, in ticks, at which the scheduler walks the store and
	// submits snapshots without removing anything. Default 300.
	AutoSavePeriodTicks int64

	// Saver is the persistence backend. Defaults to NopSaver{}, under which every chunk is always
	// generated fresh and nothing is ever durably written.
	Saver Saver
	// Advancer performs the per-stage terrain transform. Must be supplied; there is no safe default
	// since it is wholly external to this core.
	Advancer StageAdvancer
	// Settings and Seed are threaded unmodified into every Advancer.Advance call.
	Settings GenerationSettings
	Seed int64
	Routers *NoiseRouters
	Dimension Dimension

	// Metrics receives scheduler counters. Defaults to a fresh SchedulerMetrics if nil.
	Metrics *SchedulerMetrics
}

func (c Config) withDefaults() Config {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.IOReadThreads <= 0 {
		c.IOReadThreads = 4
	}
	if c.GenerationThreads <= 0 {
		c.GenerationThreads = max(1, runtime.NumCPU()-2)
	}
	if c.ResultQueueSize <= 0 {
		c.ResultQueueSize = 256
	}
	if c.DispatchQueueSize <= 0 {
		c.DispatchQueueSize = c.GenerationThreads + 2
	}
	if c.AutoUnloadPeriodTicks <= 0 {
		c.AutoUnloadPeriodTicks = 100
	}
	if c.AutoSavePeriodTicks <= 0 {
		c.AutoSavePeriodTicks = 300
	}
	if c.Saver == nil {
		c.Saver = NopSaver{}
	}
	if c.Advancer == nil {
		panic("world: Config.Advancer must be set")
	}
	if c.Metrics == nil {
		c.Metrics = NewSchedulerMetrics()
	}
	return c
}
