// Package quantize turns an arbitrary RawAudio capture into a beat-aligned
// LoopBuffer: tempo detection by autocorrelation, phase search for a
// transient-strong downbeat, bar-length snap, and edge fades.
package quantize

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/loopcast/loopcast/internal/audioio"
)

// BPMMode selects whether tempo is detected or pinned.
type BPMMode int

const (
	BPMModeAuto BPMMode = iota
	BPMModeFixed
)

// Config mirrors spec.md §4.2's quantizer configuration.
type Config struct {
	Mode        BPMMode
	BPMFixed    float64
	BPMMin      float64
	BPMMax      float64
	Bars        int
	BeatsPerBar int
}

// Sentinel failure modes (spec.md §4.2 "Failure modes").
var (
	ErrAutocorrDegenerate = errors.New("quantize: autocorrelation degenerate")
	ErrClipTooShort       = errors.New("quantize: clip too short for requested bar count")
	ErrNonFinitePCM       = errors.New("quantize: non-finite PCM sample")
)

const hop = 512

// Quantize runs steps 1-6 of spec.md §4.2 over raw, producing a LoopBuffer
// that satisfies the length-law and tempo-range invariants, or one of the
// sentinel errors above.
func Quantize(raw audioio.RawAudio, cfg Config) (audioio.LoopBuffer, error) {
	if !raw.Finite() {
		return audioio.LoopBuffer{}, ErrNonFinitePCM
	}
	if raw.Channels <= 0 || raw.SampleRate <= 0 {
		return audioio.LoopBuffer{}, fmt.Errorf("quantize: invalid raw audio format")
	}

	envelopeRate := float64(raw.SampleRate) / float64(hop)
	envelope := buildEnvelope(raw)
	novelty := buildNovelty(envelope)

	var bpm float64
	if cfg.Mode == BPMModeFixed {
		bpm = cfg.BPMFixed
	} else {
		best, err := bestBPM(novelty, envelopeRate, cfg.BPMMin, cfg.BPMMax)
		if err != nil {
			return audioio.LoopBuffer{}, err
		}
		bpm = best
	}
	if bpm < cfg.BPMMin {
		bpm = cfg.BPMMin
	}
	if bpm > cfg.BPMMax {
		bpm = cfg.BPMMax
	}

	fpb := audioio.FramesPerBeat(bpm)
	if fpb <= 0 {
		return audioio.LoopBuffer{}, ErrClipTooShort
	}

	phi := bestPhase(raw, fpb)

	bars := cfg.Bars
	beatFrames := fpb
	barFrames := cfg.BeatsPerBar * beatFrames
	rawLen := raw.FrameCount()

	loopFrames := bars * barFrames
	if rawLen-phi < loopFrames {
		bars = largestFittingPowerOfTwo(rawLen-phi, barFrames)
		if bars == 0 {
			return audioio.LoopBuffer{}, ErrClipTooShort
		}
		loopFrames = bars * barFrames
	}

	frames := sliceFrames(raw, phi, loopFrames)
	audioio.ApplyEdgeFades(frames)

	lb := audioio.LoopBuffer{
		Frames:      frames,
		BPM:         bpm,
		Bars:        bars,
		BeatsPerBar: cfg.BeatsPerBar,
	}
	if err := lb.Validate(); err != nil {
		return audioio.LoopBuffer{}, err
	}
	return lb, nil
}

// buildEnvelope computes a mono power signal (sum of squared samples
// across channels) and low-passes it by averaging non-overlapping windows
// of `hop` frames (spec.md §4.2 step 1). Each window's sum of squares is a
// self-dot-product, so it's computed with floats.Dot rather than a
// hand-rolled accumulator.
func buildEnvelope(raw audioio.RawAudio) []float64 {
	frameCount := raw.FrameCount()
	nHops := frameCount / hop
	envelope := make([]float64, nHops)
	window := make([]float64, hop*raw.Channels)
	for h := 0; h < nHops; h++ {
		start := h * hop * raw.Channels
		for i := range window {
			window[i] = float64(raw.Frames[start+i])
		}
		envelope[h] = floats.Dot(window, window) / float64(hop)
	}
	return envelope
}

// buildNovelty replaces each envelope sample with max(0, e[i]-e[i-1])
// (spec.md §4.2 step 2). novelty[0] is defined as 0 (no prior sample).
// The elementwise difference is computed with floats.SubTo.
func buildNovelty(envelope []float64) []float64 {
	novelty := make([]float64, len(envelope))
	if len(envelope) < 2 {
		return novelty
	}
	diff := make([]float64, len(envelope)-1)
	floats.SubTo(diff, envelope[1:], envelope[:len(envelope)-1])
	for i, d := range diff {
		if d > 0 {
			novelty[i+1] = d
		}
	}
	return novelty
}

// bestBPM scores every integer BPM in [bpmMin, bpmMax] by autocorrelating
// the novelty signal at the corresponding lag, tie-breaking toward 120
// (spec.md §4.2 step 3).
func bestBPM(novelty []float64, envelopeRate, bpmMin, bpmMax float64) (float64, error) {
	lo, hi := int(math.Round(bpmMin)), int(math.Round(bpmMax))
	bestScore := -1.0
	bestBPM := 0
	for b := lo; b <= hi; b++ {
		lag := int(math.Round(60 * envelopeRate / float64(b)))
		if lag <= 0 || lag >= len(novelty) {
			continue
		}
		score := floats.Dot(novelty[:len(novelty)-lag], novelty[lag:])
		switch {
		case score > bestScore:
			bestScore = score
			bestBPM = b
		case score == bestScore && bestBPM != 0:
			if math.Abs(float64(b)-120) < math.Abs(float64(bestBPM)-120) {
				bestBPM = b
			}
		}
	}
	if bestBPM == 0 || bestScore <= 0 {
		return 0, ErrAutocorrDegenerate
	}
	return float64(bestBPM), nil
}

// bestPhase finds the frame offset in [0, fpb) that maximizes the summed
// absolute amplitude of the beat-period-spaced samples it anchors,
// searching at stride fpb/32 (spec.md §4.2 step 4). Each candidate's
// beat-spaced samples are gathered into a scratch slice and reduced with
// floats.Sum.
func bestPhase(raw audioio.RawAudio, fpb int) int {
	stride := fpb / 32
	if stride < 1 {
		stride = 1
	}
	monoAbs := monoAbsSignal(raw)

	bestPhi := 0
	bestScore := -1.0
	scratch := make([]float64, 0, len(monoAbs)/fpb+1)
	for phi := 0; phi < fpb; phi += stride {
		scratch = scratch[:0]
		for idx := phi; idx < len(monoAbs); idx += fpb {
			scratch = append(scratch, monoAbs[idx])
		}
		sum := floats.Sum(scratch)
		if sum > bestScore {
			bestScore = sum
			bestPhi = phi
		}
	}
	return bestPhi
}

func monoAbsSignal(raw audioio.RawAudio) []float64 {
	n := raw.FrameCount()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for ch := 0; ch < raw.Channels; ch++ {
			sum += math.Abs(float64(raw.Frames[i*raw.Channels+ch]))
		}
		out[i] = sum
	}
	return out
}

// largestFittingPowerOfTwo returns the largest value in {4,2,1} such that
// value*barFrames <= available, or 0 if none fit (spec.md §4.2 step 5).
func largestFittingPowerOfTwo(available, barFrames int) int {
	for _, bars := range []int{4, 2, 1} {
		if bars*barFrames <= available {
			return bars
		}
	}
	return 0
}

// sliceFrames copies loopFrames stereo frames starting at frame offset
// phi out of raw, converting to the canonical channel count on the way.
func sliceFrames(raw audioio.RawAudio, phi, loopFrames int) []float32 {
	out := make([]float32, loopFrames*audioio.Channels)
	for i := 0; i < loopFrames; i++ {
		src := (phi + i) * raw.Channels
		switch {
		case raw.Channels == audioio.Channels:
			copy(out[i*audioio.Channels:i*audioio.Channels+audioio.Channels], raw.Frames[src:src+raw.Channels])
		case raw.Channels == 1:
			v := raw.Frames[src]
			out[i*audioio.Channels] = v
			out[i*audioio.Channels+1] = v
		default:
			// Downmix anything wider than stereo by averaging extra channels
			// into L/R pairs; canonical internal audio is always stereo.
			var l, r float32
			var nl, nr int
			for ch := 0; ch < raw.Channels; ch++ {
				if ch%2 == 0 {
					l += raw.Frames[src+ch]
					nl++
				} else {
					r += raw.Frames[src+ch]
					nr++
				}
			}
			out[i*audioio.Channels] = l / float32(nl)
			out[i*audioio.Channels+1] = r / float32(nr)
		}
	}
	return out
}
