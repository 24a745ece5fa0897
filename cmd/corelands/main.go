// Command corelands runs a standalone chunk lifecycle server: it hosts one or more worlds and drives
// their schedulers on a fixed tick cadence. It posts no tickets of its own. It carries
// no terrain algorithm of its own; flatAdvancer below is a placeholder stage transform suitable only
// for smoke-testing the scheduler, not for producing real terrain.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chunkward/corelands/server"
	"github.com/chunkward/corelands/server/world"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	uc, err := server.LoadUserConfig("config.toml")
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}
	conf, err := uc.Config(log)
	if err != nil {
		log.Error("build config", "err", err)
		os.Exit(1)
	}
	for dim, wc := range conf.Worlds {
		wc.Advancer = flatAdvancer{}
		conf.Worlds[dim] = wc
	}

	srv := server.New(conf)
	srv.Start()
	log.Info("corelands started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	srv.Shutdown()
}

// flatAdvancer is a minimal, deterministic stand-in for the real terrain generator: it sets the centre
// chunk's stage and, at StageNoise only, fills every block layer at or below sea level with palette
// index 1; neighbours are left untouched. It
// exists only so this command is runnable end to end without depending on an external generator;
// production deployments supply their own world.StageAdvancer.
type flatAdvancer struct{}

func (flatAdvancer) Advance(stage world.Stage, cache *world.Cache, settings world.GenerationSettings, seed int64, routers *world.NoiseRouters, dim world.Dimension) {
	c := cache.Centred()
	c.Stage = stage
	if stage != world.StageNoise {
		return
	}
	height := settings.MaxY - settings.MinY
	if height <= 0 {
		height = 16
	}
	if len(c.Blocks) == 0 {
		c.Blocks = make([]uint16, 16*16*height)
	}
	for y := 0; y < height && y*16*16 < len(c.Blocks); y++ {
		if settings.MinY+y > settings.SeaLevel {
			continue
		}
		for i := 0; i < 16*16; i++ {
			c.Blocks[y*16*16+i] = 1
		}
	}
}
