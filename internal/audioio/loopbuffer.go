package audioio

import (
	"fmt"
	"time"
)

// Channels is the canonical internal channel count: interleaved stereo.
const Channels = 2

// SampleRate is the canonical internal sample rate in Hz.
const SampleRate = 48000

// EdgeFadeFrames is the number of frames linearly ramped to/from zero at
// the start and end of every LoopBuffer, per the loop-and-swap click
// suppression requirement.
const EdgeFadeFrames = 128

// StationRef identifies a station well enough to re-resolve or display it,
// without pulling catalog-service details into the audio path.
type StationRef struct {
	ID      string
	Name    string
	Country string
}

// Origin is audio-opaque metadata carried alongside a LoopBuffer for the
// UI and logs: which station it came from, when, and which producer cycle
// produced it.
type Origin struct {
	Station   StationRef
	FetchedAt time.Time
	CycleID   string
}

// LoopBuffer is the unit of playback: an integer number of bars of
// interleaved float32 stereo frames at a fixed tempo, with edge fades
// already baked in.
type LoopBuffer struct {
	Frames      []float32
	BPM         float64
	Bars        int
	BeatsPerBar int
	Origin      Origin
}

// FramesPerBeat returns round(SampleRate * 60 / bpm).
func FramesPerBeat(bpm float64) int {
	if bpm <= 0 {
		return 0
	}
	return int(SampleRate*60/bpm + 0.5)
}

// FrameCount returns the number of stereo frames (len(Frames)/Channels).
func (l LoopBuffer) FrameCount() int {
	return len(l.Frames) / Channels
}

// Validate checks the length-law invariant: len(frames) must equal
// bars * beats_per_bar * frames_per_beat * channels.
func (l LoopBuffer) Validate() error {
	fpb := FramesPerBeat(l.BPM)
	want := l.Bars * l.BeatsPerBar * fpb * Channels
	if len(l.Frames) != want {
		return fmt.Errorf("loopbuffer: length law violated: have %d frames, want %d (bars=%d beats_per_bar=%d fpb=%d)",
			len(l.Frames), want, l.Bars, l.BeatsPerBar, fpb)
	}
	return nil
}

// ApplyEdgeFades linearly ramps the first and last EdgeFadeFrames frames
// of both channels to/from zero, in place. Buffers shorter than
// 2*EdgeFadeFrames fade over their full length instead (still gap- and
// click-free, just a shorter ramp).
func ApplyEdgeFades(frames []float32) {
	total := len(frames) / Channels
	n := EdgeFadeFrames
	if total < 2*n {
		n = total / 2
	}
	if n <= 0 {
		return
	}
	for i := 0; i < n; i++ {
		g := float32(i) / float32(n)
		for ch := 0; ch < Channels; ch++ {
			frames[i*Channels+ch] *= g
		}
	}
	for i := 0; i < n; i++ {
		g := float32(i) / float32(n)
		idx := total - 1 - i
		for ch := 0; ch < Channels; ch++ {
			frames[idx*Channels+ch] *= g
		}
	}
}
