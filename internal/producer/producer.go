// Package producer runs the background capture/decode/quantize cycle: on
// each tick it picks a station, captures and quantizes a clip, and hands
// the resulting LoopBuffer to the playback engine on a newest-wins
// channel, recording any failure into shared state without disrupting
// playback.
package producer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/loopcast/loopcast/internal/audioio"
	"github.com/loopcast/loopcast/internal/capture"
	"github.com/loopcast/loopcast/internal/catalog"
	"github.com/loopcast/loopcast/internal/quantize"
)

// ErrNoStations is surfaced when the catalog returns empty across every
// retry attempt (spec.md §4.3 step 1).
var ErrNoStations = errors.New("producer: no stations available")

// historyLimit bounds the recently-played station ring used to avoid
// immediate repeats under random selection (spec.md §4.3 enrichment).
const historyLimit = 8

// retryAttempts and retryBackoff implement spec.md §4.3 step 1's
// "back off 1s and retry up to 3 times" contract: retryAttempts counts the
// first catalog request plus the three retries.
const retryAttempts = 4

const retryBackoff = time.Second

// Filters mirror the UI-controlled catalog query (spec.md §6).
type Filters struct {
	Search string
	Region string
	Random bool
	Seed   string
}

// Config holds the knobs the producer needs beyond what flows through
// Filters (spec.md §6's station_change_seconds plus the quantizer config
// threaded through each cycle).
type Config struct {
	StationChangeInterval time.Duration
	Quantize              quantize.Config
	Capture               capture.Config
}

// ErrorRecorder receives non-fatal per-cycle failures so they can be
// surfaced in the shared state snapshot without stopping playback
// (spec.md §4.3 step 5).
type ErrorRecorder interface {
	RecordError(cycleID string, err error)
}

// Producer runs the tick → capture → quantize → enqueue cycle.
type Producer struct {
	catalog     catalog.Client
	out         chan audioio.LoopBuffer
	errs        ErrorRecorder
	logger      *zap.SugaredLogger
	cfg         Config
	quantCfg    atomic.Pointer[quantize.Config]
	filters     Filters
	skipNow     chan struct{}
	history     deque.Deque[string]
	captureFunc func(ctx context.Context, streamURL string, cfg capture.Config) (audioio.RawAudio, error)
}

// New builds a Producer emitting onto a capacity-1 newest-wins channel.
func New(cat catalog.Client, errs ErrorRecorder, logger *zap.SugaredLogger, cfg Config, filters Filters) *Producer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Producer{
		catalog:     cat,
		out:         make(chan audioio.LoopBuffer, 1),
		errs:        errs,
		logger:      logger,
		cfg:         cfg,
		filters:     filters,
		skipNow:     make(chan struct{}, 1),
		captureFunc: capture.Capture,
	}
	quantCfg := cfg.Quantize
	p.quantCfg.Store(&quantCfg)
	return p
}

// Out is the producer→engine handoff channel (capacity 1, newest-wins).
func (p *Producer) Out() <-chan audioio.LoopBuffer { return p.out }

// SkipNow short-circuits the current wait and triggers an immediate cycle
// (spec.md §4.3).
func (p *Producer) SkipNow() {
	select {
	case p.skipNow <- struct{}{}:
	default:
	}
}

// SetFilters updates the catalog query used by subsequent cycles.
func (p *Producer) SetFilters(f Filters) { p.filters = f }

// SetBars changes the bar count the next cycle quantizes to (spec.md §6
// control intent SetBars, §9 "mutable knobs are communicated via the
// control-intent channel"). An in-flight cycle finishes with whatever
// config it already loaded.
func (p *Producer) SetBars(bars int) {
	next := *p.quantCfg.Load()
	next.Bars = bars
	p.quantCfg.Store(&next)
}

// ToggleBPMMode flips auto/fixed tempo detection for subsequent cycles
// (spec.md §6 control intent ToggleBpmMode).
func (p *Producer) ToggleBPMMode() {
	next := *p.quantCfg.Load()
	if next.Mode == quantize.BPMModeAuto {
		next.Mode = quantize.BPMModeFixed
	} else {
		next.Mode = quantize.BPMModeAuto
	}
	p.quantCfg.Store(&next)
}

// Run drives the periodic cycle until ctx is canceled. An in-flight
// decoder is killed at cancellation since every sub-step is bound to ctx.
func (p *Producer) Run(ctx context.Context) {
	interval := p.cfg.StationChangeInterval
	if interval <= 0 {
		interval = 12 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(ctx)
		case <-p.skipNow:
			ticker.Reset(interval)
			p.runCycle(ctx)
		}
	}
}

func (p *Producer) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	logger := p.logger.With("cycle_id", cycleID)

	ref, err := p.pickStation(ctx, logger)
	if err != nil {
		logger.Errorw("producer: no stations available", "error", err)
		p.recordError(cycleID, err)
		return
	}

	resolved, err := p.catalog.Resolve(ctx, ref)
	if err != nil {
		logger.Errorw("producer: resolve failed", "station_id", ref.ID, "error", err)
		p.recordError(cycleID, err)
		return
	}

	raw, err := p.captureFunc(ctx, resolved.StreamURL, p.cfg.Capture)
	if err != nil {
		logger.Errorw("producer: capture failed", "station_id", ref.ID, "error", err)
		p.recordError(cycleID, err)
		return
	}

	lb, err := quantize.Quantize(raw, *p.quantCfg.Load())
	if err != nil {
		logger.Errorw("producer: quantize failed", "station_id", ref.ID, "error", err)
		p.recordError(cycleID, err)
		return
	}
	lb.Origin = audioio.Origin{
		Station:   audioio.StationRef{ID: ref.ID, Name: resolved.Name, Country: resolved.Country},
		FetchedAt: time.Now(),
		CycleID:   cycleID,
	}

	p.rememberStation(ref.ID)
	p.enqueue(lb)
	logger.Infow("producer: cycle complete", "station_id", ref.ID, "bpm", lb.BPM, "bars", lb.Bars)
}

// pickStation implements spec.md §4.3 step 1: list the catalog under the
// current filters, prefer a candidate absent from recent history, and on
// an empty catalog list up to retryAttempts times in all, backing off
// retryBackoff between tries.
func (p *Producer) pickStation(ctx context.Context, logger *zap.SugaredLogger) (catalog.StationRef, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		refs, err := p.catalog.List(ctx, catalog.Query{
			Text:   p.filters.Search,
			Region: p.filters.Region,
			Random: p.filters.Random,
			Seed:   p.filters.Seed,
		})
		if err != nil {
			lastErr = err
		} else if len(refs) > 0 {
			return p.pickFreshest(refs), nil
		}

		if attempt < retryAttempts-1 {
			logger.Warnw("producer: catalog empty, backing off", "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return catalog.StationRef{}, ctx.Err()
			case <-time.After(retryBackoff):
			}
		}
	}
	return catalog.StationRef{}, multierr.Append(ErrNoStations, lastErr)
}

// pickFreshest returns the first candidate not present in recent history,
// falling back to refs[0] if every candidate has been played recently.
func (p *Producer) pickFreshest(refs []catalog.StationRef) catalog.StationRef {
	for _, ref := range refs {
		if !p.inHistory(ref.ID) {
			return ref
		}
	}
	return refs[0]
}

func (p *Producer) inHistory(id string) bool {
	for i := 0; i < p.history.Len(); i++ {
		if p.history.At(i) == id {
			return true
		}
	}
	return false
}

func (p *Producer) rememberStation(id string) {
	p.history.PushBack(id)
	for p.history.Len() > historyLimit {
		p.history.PopFront()
	}
}

// enqueue implements the newest-wins handoff: if the channel is already
// full, the stale pending buffer is drained and replaced.
func (p *Producer) enqueue(lb audioio.LoopBuffer) {
	select {
	case p.out <- lb:
		return
	default:
	}
	select {
	case <-p.out:
	default:
	}
	select {
	case p.out <- lb:
	default:
	}
}

func (p *Producer) recordError(cycleID string, err error) {
	if p.errs != nil {
		p.errs.RecordError(cycleID, err)
	}
}
