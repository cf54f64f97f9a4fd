// Package state holds the versioned snapshot the UI polls and the
// bounded control-intent channels the UI publishes to (spec.md §6).
package state

import (
	"sync/atomic"
)

// ProducerStatus is the coarse-grained phase the producer is in, for
// display (spec.md §6).
type ProducerStatus int

const (
	ProducerIdle ProducerStatus = iota
	ProducerFetching
	ProducerDecoding
	ProducerQuantizing
	ProducerError
	ProducerNoStations
)

func (s ProducerStatus) String() string {
	switch s {
	case ProducerIdle:
		return "idle"
	case ProducerFetching:
		return "fetching"
	case ProducerDecoding:
		return "decoding"
	case ProducerQuantizing:
		return "quantizing"
	case ProducerError:
		return "error"
	case ProducerNoStations:
		return "no_stations"
	default:
		return "unknown"
	}
}

// BPMMode mirrors quantize.BPMMode without importing the DSP package into
// the UI-facing state surface.
type BPMMode int

const (
	BPMModeAuto BPMMode = iota
	BPMModeFixed
)

// Snapshot is the full published state (spec.md §6): `{station?, bpm?,
// bars, bpm_mode, producer_status, queue_has_pending}`.
type Snapshot struct {
	Version         uint64
	StationName     string
	StationCountry  string
	HasStation      bool
	BPM             float64
	HasBPM          bool
	Bars            int
	BPMMode         BPMMode
	ProducerStatus  ProducerStatus
	ErrorMessage    string
	QueueHasPending bool
	UnderflowCount  uint64
}

// Store is a versioned broadcast cell: writers (the producer's error
// recording and the handoff loop) publish whole snapshots, many readers
// (the UI) observe the latest. The underflow counter is tracked separately
// from the snapshot pointer so the real-time audio callback can bump it
// without the allocation a Publish would cost.
type Store struct {
	current   atomic.Pointer[Snapshot]
	version   atomic.Uint64
	underflow atomic.Uint64
}

// NewStore returns a Store seeded with an idle, station-less snapshot.
func NewStore(bars int, mode BPMMode) *Store {
	s := &Store{}
	s.current.Store(&Snapshot{Bars: bars, BPMMode: mode, ProducerStatus: ProducerIdle})
	return s
}

// Load returns the latest published snapshot, with the live underflow
// count merged in.
func (s *Store) Load() Snapshot {
	snap := *s.current.Load()
	snap.UnderflowCount = s.underflow.Load()
	return snap
}

// Publish stores a new snapshot, stamping it with the next version.
func (s *Store) Publish(next Snapshot) {
	next.Version = s.version.Add(1)
	s.current.Store(&next)
}

// Update atomically reads the current snapshot, applies fn, and
// publishes the result. fn mutates in place.
// If another writer publishes in between, fn is applied again to the
// newer snapshot, so fn may run more than once.
func (s *Store) Update(fn func(*Snapshot)) {
	for {
		old := s.current.Load()
		next := *old
		fn(&next)
		next.Version = s.version.Add(1)
		if s.current.CompareAndSwap(old, &next) {
			return
		}
	}
}

// RecordError implements producer.ErrorRecorder: it publishes an Error
// status snapshot without touching bars/bpm_mode/station fields, so a
// station-level failure never disrupts what's currently playing.
func (s *Store) RecordError(cycleID string, err error) {
	s.Update(func(snap *Snapshot) {
		snap.ProducerStatus = ProducerError
		snap.ErrorMessage = err.Error()
	})
}

// IncrementUnderflow bumps the underflow counter (spec.md §7: "logs
// underruns via a counter in the snapshot"). A single atomic add, no
// allocation, safe to call from the real-time audio callback; the
// updated count is picked up by the next Load.
func (s *Store) IncrementUnderflow() {
	s.underflow.Add(1)
}
