package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/loopcast/loopcast/internal/capture"
	"github.com/loopcast/loopcast/internal/catalog"
	"github.com/loopcast/loopcast/internal/config"
	"github.com/loopcast/loopcast/internal/logging"
	"github.com/loopcast/loopcast/internal/playback"
	"github.com/loopcast/loopcast/internal/producer"
	"github.com/loopcast/loopcast/internal/quantize"
	"github.com/loopcast/loopcast/internal/state"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	logger, err := logging.New(logging.Config{Level: os.Getenv("LOOPCAST_LOG_LEVEL")})
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Errorw("config error", "error", err)
		os.Exit(1)
	}

	catalogBaseURL := os.Getenv("LOOPCAST_CATALOG_URL")
	if catalogBaseURL == "" {
		logger.Errorw("LOOPCAST_CATALOG_URL is required")
		os.Exit(1)
	}
	cat := catalog.NewHTTPClient(catalogBaseURL)

	if err := checkDecoderAvailable(cfg.DecoderPath); err != nil {
		logger.Errorw("decoder binary unavailable", "error", err)
		os.Exit(1)
	}

	store := state.NewStore(cfg.Bars, toStateBPMMode(cfg.BPMMode))
	control := state.NewControl()

	engine, err := playback.NewEngine(logger)
	if err != nil {
		logger.Errorw("audio device init failed", "error", err)
		os.Exit(1)
	}
	if err := engine.Start(); err != nil {
		logger.Errorw("audio stream start failed", "error", err)
		os.Exit(1)
	}

	prod := producer.New(cat, store, logger, producer.Config{
		StationChangeInterval: time.Duration(cfg.StationChangeSeconds) * time.Second,
		Quantize: quantize.Config{
			Mode:        cfg.BPMMode,
			BPMFixed:    cfg.BPMFixed,
			BPMMin:      cfg.BPMMin,
			BPMMax:      cfg.BPMMax,
			Bars:        cfg.Bars,
			BeatsPerBar: cfg.BeatsPerBar,
		},
		Capture: capture.Config{
			ListenSeconds: cfg.ListenSeconds,
			ClipSeconds:   cfg.ClipSeconds,
			DecoderPath:   cfg.DecoderPath,
		},
	}, producer.Filters{Random: true, Seed: cfg.Seed})

	go prod.Run(ctx)
	go pumpControl(ctx, control, prod, engine)
	go pumpHandoff(ctx, prod, engine, store)

	logger.Infow("loopcast started")
	<-ctx.Done()

	engine.Shutdown()
	logger.Infow("shutdown complete")
}

// pumpHandoff moves LoopBuffers from the producer's newest-wins channel
// onto the playback engine and refreshes the station-facing part of the
// snapshot. It resets ProducerStatus to idle and leaves ErrorMessage, the
// last error RecordError stored, as it is.
func pumpHandoff(ctx context.Context, prod *producer.Producer, engine *playback.PlaybackEngine, store *state.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case lb := <-prod.Out():
			engine.Submit(lb)
			store.Update(func(snap *state.Snapshot) {
				snap.StationName = lb.Origin.Station.Name
				snap.StationCountry = lb.Origin.Station.Country
				snap.HasStation = true
				snap.BPM = lb.BPM
				snap.HasBPM = true
				snap.Bars = lb.Bars
				snap.ProducerStatus = state.ProducerIdle
				snap.QueueHasPending = false
			})
		}
	}
}

// pumpControl dispatches control-surface intents (spec.md §6) to the
// producer and engine.
func pumpControl(ctx context.Context, control *state.Control, prod *producer.Producer, engine *playback.PlaybackEngine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-control.ShutdownCh():
			engine.Shutdown()
			return
		case <-control.SkipNowCh():
			prod.SkipNow()
		case <-control.ToggleBPMModeCh():
			prod.ToggleBPMMode()
		case bars := <-control.SetBarsCh():
			prod.SetBars(bars)
		}
	}
}

// checkDecoderAvailable resolves the configured decoder binary on PATH
// before any producer cycle runs. A missing decoder is fatal at startup
// (spec.md §7: "Decoder missing" splits into a startup case and a
// runtime case; capture.spawnDecoder already covers the runtime half by
// feeding producer.recordError, this covers the startup half).
func checkDecoderAvailable(path string) error {
	if path == "" {
		path = "decoder"
	}
	_, err := exec.LookPath(path)
	return err
}

func toStateBPMMode(m quantize.BPMMode) state.BPMMode {
	if m == quantize.BPMModeFixed {
		return state.BPMModeFixed
	}
	return state.BPMModeAuto
}
