// Command capture records multi-sensor scenes: it loads a rig config,
// drives the capture session against the synthetic source (or replays a
// pcap recording with -pcap), and writes samples, annotations, the
// SQLite index, and a coverage report. -migrate runs index schema
// migrations and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridframe-data/gridframe/internal/annotate"
	"github.com/gridframe-data/gridframe/internal/capture"
	"github.com/gridframe-data/gridframe/internal/pcapsource"
	"github.com/gridframe-data/gridframe/internal/report"
	"github.com/gridframe-data/gridframe/internal/rig"
	"github.com/gridframe-data/gridframe/internal/simsource"
	"github.com/gridframe-data/gridframe/internal/store"
	"github.com/gridframe-data/gridframe/internal/timeline"
	"github.com/gridframe-data/gridframe/internal/version"
)

var (
	configPath  = flag.String("config", "rig.yaml", "Rig configuration file")
	outPath     = flag.String("out", "", "Dataset root (overrides base_save_path from the config)")
	dbPath      = flag.String("db", "", "Sample index path (default <out>/index.db)")
	seed        = flag.Int64("seed", 0, "Synthetic source seed")
	dropRate    = flag.Float64("drop-rate", 0, "Per-sensor per-tick probability of a missed callback")
	timeout     = flag.Duration("timeout", capture.DefaultAwaitTimeout, "Frame barrier await timeout")
	reportPath  = flag.String("report", "", "Write an HTML coverage report to this path")
	minPixels   = flag.Int("min-pixels", annotate.NoiseMinPixels, "Minimum pixel count for derived bounding boxes")
	vehicleOnly = flag.Bool("vehicles-only", true, "Restrict annotations to vehicle classes")
	pcapFile    = flag.String("pcap", "", "Replay recorded sensor datagrams from this pcap file instead of the synthetic source (requires a -tags=pcap build)")
	pcapPort    = flag.Int("pcap-port", 5005, "UDP port carrying sensor datagrams in the pcap file")
	migrateCmd  = flag.String("migrate", "", "Run a schema migration command (up, down, version, force=<n>) against -db and exit")
	migrations  = flag.String("migrations", "db/migrations", "Migration SQL directory for -migrate")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("capture %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *migrateCmd != "" {
		path := *dbPath
		if path == "" {
			path = "dataset/index.db"
		}
		index, err := store.NewIndex(path)
		if err != nil {
			log.Fatalf("open index: %v", err)
		}
		defer index.Close()
		if err := index.RunMigrateCommand(*migrations, *migrateCmd); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := rig.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *outPath != "" {
		cfg.Simulation.BaseSavePath = *outPath
	}
	if cfg.Simulation.BaseSavePath == "" {
		cfg.Simulation.BaseSavePath = "dataset"
	}
	base := cfg.Simulation.BaseSavePath
	if err := os.MkdirAll(base, 0o755); err != nil {
		log.Fatalf("create dataset root: %v", err)
	}

	indexPath := *dbPath
	if indexPath == "" {
		indexPath = base + "/index.db"
	}
	index, err := store.NewIndex(indexPath)
	if err != nil {
		log.Fatalf("open index: %v", err)
	}
	defer index.Close()

	opts := annotate.Options{MinPixels: *minPixels}
	if *vehicleOnly {
		opts.ClassFilter = annotate.VehicleClasses
	}

	started := time.Now()
	var stats []capture.SceneStats
	if *pcapFile != "" {
		s, err := replayRecording(ctx, cfg, index, base, opts)
		if err != nil {
			log.Fatalf("pcap replay failed: %v", err)
		}
		stats = []capture.SceneStats{s}
	} else {
		source := simsource.New(simsource.Config{
			Seed:     *seed,
			TickRate: cfg.Simulation.TickRate,
			DropRate: *dropRate,
		})

		session, err := capture.NewSession(capture.SessionConfig{
			Rig:    cfg,
			Source: source,
			Sinks: func(sceneID int, specs []rig.SensorSpec, steps int) (capture.SampleSink, capture.AnnotationSink, error) {
				sw, err := store.NewSceneWriter(base, sceneID, "", steps, specs, index)
				if err != nil {
					return nil, nil, err
				}
				return sw, sw, nil
			},
			AwaitTimeout:    *timeout,
			AnnotateOptions: opts,
		})
		if err != nil {
			log.Fatalf("configure session: %v", err)
		}
		stats, err = session.Run(ctx)
		if err != nil {
			log.Fatalf("capture failed after %d scenes: %v", len(stats), err)
		}
	}
	log.Printf("capture complete: %d scenes in %v", len(stats), time.Since(started))

	summaries := make([]report.SceneSummary, 0, len(stats))
	for _, s := range stats {
		observed, err := index.ObservedIndices(s.SceneID)
		if err != nil {
			log.Fatalf("scene %d coverage: %v", s.SceneID, err)
		}
		summary := report.Summarize(s, timeline.Reconcile(observed).Coverage())
		if err := summary.WriteText(os.Stdout); err != nil {
			log.Fatalf("write summary: %v", err)
		}
		summaries = append(summaries, summary)
	}

	if *reportPath != "" {
		f, err := os.Create(*reportPath)
		if err != nil {
			log.Fatalf("create report: %v", err)
		}
		defer f.Close()
		if err := report.RenderHTML(f, summaries); err != nil {
			log.Fatalf("render report: %v", err)
		}
		log.Printf("coverage report written to %s", *reportPath)
	}
}

// replayRecording rebuilds one scene from the sensor datagrams in the
// -pcap capture instead of driving the synthetic source.
func replayRecording(ctx context.Context, cfg *rig.Config, index *store.Index, base string, opts annotate.Options) (capture.SceneStats, error) {
	specs, err := cfg.ExpandedSensors()
	if err != nil {
		return capture.SceneStats{}, err
	}
	existing, err := index.Scenes()
	if err != nil {
		return capture.SceneStats{}, err
	}
	sceneID := 1
	for _, id := range existing {
		if id >= sceneID {
			sceneID = id + 1
		}
	}

	steps := cfg.Simulation.TicksPerScene()
	sw, err := store.NewSceneWriter(base, sceneID, "", steps, specs, index)
	if err != nil {
		return capture.SceneStats{}, err
	}
	orch, err := capture.NewOrchestrator(capture.Config{
		Sink:            sw,
		Annotations:     sw,
		AwaitTimeout:    *timeout,
		AnnotateOptions: opts,
	})
	if err != nil {
		return capture.SceneStats{}, err
	}
	if err := orch.StartScene(sceneID, specs, steps); err != nil {
		return capture.SceneStats{}, err
	}

	replayer := pcapsource.NewReplayer(orch, specs, cfg.Simulation.TickRate)
	if err := pcapsource.ReplayPCAP(ctx, *pcapFile, *pcapPort, replayer.HandleDatagram); err != nil {
		return capture.SceneStats{}, err
	}
	if err := replayer.Finish(); err != nil {
		return capture.SceneStats{}, err
	}
	return orch.EndScene()
}
