// Package capture opens an HTTP stream against a station URL, discards a
// warm-up window, forwards the capture window to an external decoder
// subprocess, and assembles the decoder's stdout into a RawAudio buffer.
package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os/exec"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/loopcast/loopcast/internal/audioio"
)

// Failure modes from spec.md §4.1.
var (
	ErrNetworkUnreachable = errors.New("capture: network unreachable")
	ErrDecoderSpawnFailed = errors.New("capture: decoder spawn failed")
	ErrDecoderExitNonZero = errors.New("capture: decoder exited non-zero")
	ErrTooShort           = errors.New("capture: captured clip too short")
	ErrTimeout            = errors.New("capture: wall-clock timeout exceeded")
)

// HTTPStatusError wraps a non-2xx HTTP response status.
type HTTPStatusError struct{ Code int }

func (e *HTTPStatusError) Error() string { return fmt.Sprintf("capture: http status %d", e.Code) }

// Config holds the timing knobs for one capture (spec.md §6).
type Config struct {
	ListenSeconds int
	ClipSeconds   int
	// DecoderPath is the external decoder binary; invoked as documented in
	// spec.md §6 ("decoder -i - -f f32le -ar 48000 -ac 2 -acodec pcm_f32le -").
	DecoderPath string
}

// minFraction is the minimum acceptable fraction of the requested clip
// length that a capture must deliver to be considered usable (spec.md
// §4.1 contract: "length >= 0.9 * clip_seconds * 48000 frames").
const minFraction = 0.9

// Capture opens streamURL, discards ListenSeconds of warm-up bytes, pipes
// the next ClipSeconds of bytes through the decoder subprocess, and
// returns the decoded RawAudio. The whole operation is bounded by a hard
// wall-clock ceiling of ListenSeconds+ClipSeconds+5s (spec.md §4.1).
func Capture(ctx context.Context, streamURL string, cfg Config) (audioio.RawAudio, error) {
	budget := time.Duration(cfg.ListenSeconds+cfg.ClipSeconds)*time.Second + 5*time.Second
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return audioio.RawAudio{}, multierr.Append(ErrNetworkUnreachable, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return audioio.RawAudio{}, ErrTimeout
		}
		return audioio.RawAudio{}, multierr.Append(ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return audioio.RawAudio{}, &HTTPStatusError{Code: resp.StatusCode}
	}

	if err := discardWarmup(resp.Body, cfg.ListenSeconds); err != nil {
		return audioio.RawAudio{}, classifyReadErr(ctx, err)
	}

	decoderCmd, stdin, stdout, stderr, err := spawnDecoder(ctx, cfg.DecoderPath)
	if err != nil {
		return audioio.RawAudio{}, multierr.Append(ErrDecoderSpawnFailed, err)
	}

	// The capture window is bounded by wall clock, not by a byte ceiling:
	// real station bitrates never approach bytesPerSecondEstimate, so a
	// byte cap alone would let io.Copy run until the outer deadline fires
	// instead of stopping at clip_seconds (spec.md §4.1). clipCtx gives
	// the copy its own deadline, independent of the warm-up timer already
	// spent by discardWarmup.
	clipCtx, cancelClip := context.WithTimeout(ctx, time.Duration(cfg.ClipSeconds)*time.Second)
	defer cancelClip()

	// Feeding the decoder's stdin and draining its stdout run
	// concurrently so neither side's OS pipe buffer backs up the other;
	// errgroup gives us first-error-wins without a hand-rolled channel.
	var pcmBytes []byte
	var group errgroup.Group
	group.Go(func() error {
		_, err := io.Copy(stdin, io.LimitReader(newCtxReader(clipCtx, resp.Body), int64(cfg.ClipSeconds)*bytesPerSecondEstimate))
		stdin.Close()
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		b, err := io.ReadAll(stdout)
		pcmBytes = b
		return err
	})
	copyErr := group.Wait()
	waitErr := decoderCmd.Wait()

	if waitErr != nil {
		return audioio.RawAudio{}, multierr.Combine(ErrDecoderExitedWith(waitErr), errors.New(stderr.String()))
	}
	if copyErr != nil {
		return audioio.RawAudio{}, classifyReadErr(ctx, copyErr)
	}

	raw := bytesToRawAudio(pcmBytes)
	minFrames := int(minFraction * float64(cfg.ClipSeconds) * float64(audioio.SampleRate))
	if raw.FrameCount() < minFrames {
		return audioio.RawAudio{}, ErrTooShort
	}
	return raw, nil
}

// bytesPerSecondEstimate is a secondary memory ceiling on top of the
// wall-clock cutoff below; generous enough for any bitrate internet radio
// stations realistically use, it only guards against a pathological
// stream, never the normal stopping condition.
const bytesPerSecondEstimate = 512 * 1024

// ctxReader stops a Read at the next opportunity once ctx is done,
// reporting io.EOF so callers like io.Copy wind down cleanly instead of
// surfacing a cancellation error. It's the capture-window analogue of
// discardWarmup's deadline loop, expressed as a Reader so it composes
// with io.LimitReader/io.Copy.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func newCtxReader(ctx context.Context, r io.Reader) *ctxReader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if c.ctx.Err() != nil {
		return 0, io.EOF
	}
	return c.r.Read(p)
}

func discardWarmup(body io.Reader, listenSeconds int) error {
	if listenSeconds <= 0 {
		return nil
	}
	// Warm-up bytes are read and thrown away, never buffered or forwarded
	// to the decoder (spec.md §9 open question: discarding, not priming).
	scratch := make([]byte, 32*1024)
	deadline := time.Now().Add(time.Duration(listenSeconds) * time.Second)
	for time.Now().Before(deadline) {
		if _, err := body.Read(scratch); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return nil
}

func classifyReadErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return multierr.Append(ErrNetworkUnreachable, err)
}

// ErrDecoderExitedWith wraps the decoder's non-zero exit in the sentinel
// ErrDecoderExitNonZero for errors.Is matching, while retaining the
// underlying *exec.ExitError for diagnostics.
func ErrDecoderExitedWith(err error) error {
	return multierr.Append(ErrDecoderExitNonZero, err)
}

func spawnDecoder(ctx context.Context, path string) (*exec.Cmd, io.WriteCloser, io.Reader, *bytes.Buffer, error) {
	if path == "" {
		path = "decoder"
	}
	cmd := exec.CommandContext(ctx, path,
		"-i", "-",
		"-f", "f32le",
		"-ar", "48000",
		"-ac", "2",
		"-acodec", "pcm_f32le",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, nil, err
	}
	return cmd, stdin, stdout, &stderr, nil
}

// bytesToRawAudio reinterprets little-endian float32le interleaved stereo
// PCM bytes as a RawAudio at the canonical sample rate/channel count.
func bytesToRawAudio(b []byte) audioio.RawAudio {
	n := len(b) / 4
	frames := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		frames[i] = math.Float32frombits(bits)
	}
	return audioio.RawAudio{Frames: frames, SampleRate: audioio.SampleRate, Channels: audioio.Channels}
}
