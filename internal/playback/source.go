// Package playback owns the audio output stream: LoopSource is the
// sample producer pulled by the real-time audio callback, and
// PlaybackEngine wires it to an audio backend and exposes the
// submit/shutdown control surface (spec.md §4.4).
package playback

import (
	"go.uber.org/atomic"

	"github.com/loopcast/loopcast/internal/audioio"
)

// LoopSource holds the currently playing LoopBuffer, an at-most-one
// pending replacement, and the read position within current. Submit runs
// from the producer goroutine; Read runs from the real-time audio
// callback. The two communicate only through the atomic pointer below —
// Read never blocks, never allocates, and never takes a lock.
type LoopSource struct {
	pending atomic.Pointer[audioio.LoopBuffer]
	// snapshot mirrors current for readers outside the audio callback
	// (e.g. the state snapshot poller); written only at swap boundaries,
	// which are infrequent enough that an atomic store off the
	// per-sample path is not a real-time concern.
	snapshot atomic.Pointer[audioio.LoopBuffer]

	current  *audioio.LoopBuffer
	position int
}

// NewLoopSource returns a LoopSource with no current buffer: Read emits
// silence until the first Submit lands.
func NewLoopSource() *LoopSource {
	return &LoopSource{}
}

// Submit atomically replaces the pending slot. A previous pending value,
// if any and not yet consumed, is dropped unconsumed — newest-wins
// (spec.md §4.4).
func (s *LoopSource) Submit(lb audioio.LoopBuffer) {
	s.pending.Store(&lb)
}

// Read fills dst (interleaved stereo float32) with the next len(dst)/
// audioio.Channels frames, performing bar-boundary swaps and loop-end
// wraps as it goes. It never blocks and never allocates.
func (s *LoopSource) Read(dst []float32) {
	filled := 0
	for filled < len(dst) {
		if s.current == nil {
			if !s.tryPromote() {
				zero(dst[filled:])
				return
			}
			continue
		}

		avail := len(s.current.Frames) - s.position
		need := len(dst) - filled
		n := avail
		if n > need {
			n = need
		}
		copy(dst[filled:filled+n], s.current.Frames[s.position:s.position+n])
		filled += n
		s.position += n

		if s.position >= len(s.current.Frames) {
			if s.tryPromote() {
				continue
			}
			s.position = 0
		}
	}
}

// tryPromote swaps pending into current if present, resetting position
// to 0. Returns false, leaving current and position untouched, when there
// is nothing pending; Read then wraps position back to 0 itself.
func (s *LoopSource) tryPromote() bool {
	next := s.pending.Swap(nil)
	if next == nil {
		return false
	}
	s.current = next
	s.position = 0
	s.snapshot.Store(next)
	return true
}

// Current reports the LoopBuffer presently playing, or nil if none. Safe
// to call from any goroutine; it reflects the state as of the last
// bar-boundary swap, not the exact read position.
func (s *LoopSource) Current() *audioio.LoopBuffer {
	return s.snapshot.Load()
}

func zero(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}
