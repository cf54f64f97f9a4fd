package playback

import (
	"fmt"

	"github.com/frostbyte73/core"
	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/loopcast/loopcast/internal/audioio"
)

// framesPerBuffer balances callback latency against syscall/scheduling
// overhead for the portaudio stream.
const framesPerBuffer = 512

// PlaybackEngine owns the audio output stream and exposes submit/shutdown
// (spec.md §4.4). It is a thin wrapper: all of the real-time logic lives
// in LoopSource; this type's job is device lifecycle.
type PlaybackEngine struct {
	source *LoopSource
	stream *portaudio.Stream
	fuse   core.Fuse
	logger *zap.SugaredLogger
}

// NewEngine opens the default output device at the canonical sample rate
// and channel count, bound to a fresh LoopSource.
func NewEngine(logger *zap.SugaredLogger) (*PlaybackEngine, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("playback: portaudio init: %w", err)
	}

	source := NewLoopSource()
	stream, err := portaudio.OpenDefaultStream(
		0, audioio.Channels, float64(audioio.SampleRate), framesPerBuffer,
		func(out []float32) {
			source.Read(out)
		},
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("playback: open stream: %w", err)
	}

	return &PlaybackEngine{
		source: source,
		stream: stream,
		fuse:   core.NewFuse(),
		logger: logger,
	}, nil
}

// Start begins pulling frames through the audio callback.
func (e *PlaybackEngine) Start() error {
	if err := e.stream.Start(); err != nil {
		return fmt.Errorf("playback: start stream: %w", err)
	}
	e.logger.Infow("playback: stream started")
	return nil
}

// Submit hands a freshly quantized LoopBuffer to the engine; it becomes
// audible at the next bar boundary (spec.md §4.4).
func (e *PlaybackEngine) Submit(lb audioio.LoopBuffer) {
	e.source.Submit(lb)
}

// Current returns the LoopBuffer presently playing, for state snapshots.
func (e *PlaybackEngine) Current() *audioio.LoopBuffer {
	return e.source.Current()
}

// Shutdown stops the stream and tears down the device exactly once, safe
// to call concurrently or more than once.
func (e *PlaybackEngine) Shutdown() {
	e.fuse.Once(func() {
		if err := e.stream.Stop(); err != nil {
			e.logger.Warnw("playback: stop stream", "error", err)
		}
		if err := e.stream.Close(); err != nil {
			e.logger.Warnw("playback: close stream", "error", err)
		}
		portaudio.Terminate()
		e.logger.Infow("playback: stream shut down")
	})
}

// Done reports a channel closed once Shutdown has completed.
func (e *PlaybackEngine) Done() <-chan struct{} {
	return e.fuse.Watch()
}
