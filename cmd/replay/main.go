// Command replay plays a recorded scene back headless: it reconciles the
// scene's per-sensor recordings into one timeline and renders each
// presented frame to PNG, either auto-playing to the end or following a
// scripted command sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gridframe-data/gridframe/internal/replay"
	"github.com/gridframe-data/gridframe/internal/store"
	"github.com/gridframe-data/gridframe/internal/timeline"
	"github.com/gridframe-data/gridframe/internal/version"
)

var (
	dbPath  = flag.String("db", "dataset/index.db", "Sample index path")
	sceneID = flag.Int("scene", 0, "Scene to replay (0 lists recorded scenes)")
	outDir  = flag.String("out", "rendered", "Directory for rendered frames")
	cadence = flag.Duration("cadence", replay.DefaultCadence, "Auto-advance interval while playing")
	script  = flag.String("script", "", "Comma-separated commands (play,forward,back,quit) instead of auto-play")
	showVer = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("replay %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, err := store.NewIndex(*dbPath)
	if err != nil {
		log.Fatalf("open index: %v", err)
	}
	defer index.Close()

	if *sceneID == 0 {
		scenes, err := index.Scenes()
		if err != nil {
			log.Fatalf("list scenes: %v", err)
		}
		for _, id := range scenes {
			fmt.Printf("scene %d\n", id)
		}
		return
	}

	reader, err := store.NewSceneReader(index, *sceneID)
	if err != nil {
		log.Fatalf("open scene %d: %v", *sceneID, err)
	}
	observed, err := reader.ObservedIndices()
	if err != nil {
		log.Fatalf("load indices: %v", err)
	}
	tl := timeline.Reconcile(observed)
	log.Printf("scene %d: %d sensors, %d presentable frames", *sceneID, len(tl.Sensors()), tl.Len())

	player, err := replay.NewPlayer(tl, *cadence)
	if err != nil {
		log.Fatalf("create player: %v", err)
	}
	renderer, err := replay.NewRenderer(reader, *outDir)
	if err != nil {
		log.Fatalf("create renderer: %v", err)
	}

	commands := make(chan replay.Command)
	go drive(ctx, player, commands, *script, tl.Len()-1)

	if err := player.Run(ctx, commands, renderer.Present); err != nil && ctx.Err() == nil {
		log.Fatalf("replay failed: %v", err)
	}
	log.Printf("replay finished at position %d/%d, frames rendered to %s",
		player.Position()+1, tl.Len(), *outDir)
}

// drive feeds the player's command channel: either the scripted sequence,
// or toggle play and quit once playback halts at the end.
func drive(ctx context.Context, player *replay.Player, commands chan<- replay.Command, script string, last int) {
	defer close(commands)

	if script != "" {
		for _, word := range strings.Split(script, ",") {
			var cmd replay.Command
			switch strings.TrimSpace(word) {
			case "play":
				cmd = replay.CmdTogglePlay
			case "forward":
				cmd = replay.CmdStepForward
			case "back":
				cmd = replay.CmdStepBack
			case "quit":
				cmd = replay.CmdQuit
			default:
				log.Printf("ignoring unknown command %q", word)
				continue
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return
			}
		}
		return
	}

	select {
	case commands <- replay.CmdTogglePlay:
	case <-ctx.Done():
		return
	}
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	started := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if player.State() == replay.Playing {
				started = true
				continue
			}
			// Paused: either playback was observed and has since halted
			// at the end, or the timeline was short enough that playback
			// halted before any poll saw it running. The position check
			// covers the latter, including a single-frame timeline.
			if started || player.Position() == last {
				select {
				case commands <- replay.CmdQuit:
				case <-ctx.Done():
				}
				return
			}
		}
	}
}
