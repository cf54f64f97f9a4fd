package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFakeDecoder(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-decoder.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCaptureHappyPath(t *testing.T) {
	const payloadBytes = 600000
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, payloadBytes))
	}))
	defer server.Close()

	decoder := writeFakeDecoder(t, "cat")
	cfg := Config{ListenSeconds: 0, ClipSeconds: 1, DecoderPath: decoder}

	raw, err := Capture(context.Background(), server.URL, cfg)
	require.NoError(t, err)
	require.GreaterOrEqual(t, raw.FrameCount(), int(0.9*1*48000))
}

func TestCaptureHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := Config{ListenSeconds: 0, ClipSeconds: 1, DecoderPath: "cat"}
	_, err := Capture(context.Background(), server.URL, cfg)
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
}

// S5: decoder exits non-zero.
func TestCaptureDecoderExitNonZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 600000))
	}))
	defer server.Close()

	decoder := writeFakeDecoder(t, "cat >/dev/null; exit 1")
	cfg := Config{ListenSeconds: 0, ClipSeconds: 1, DecoderPath: decoder}

	_, err := Capture(context.Background(), server.URL, cfg)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrDecoderExitNonZero)
}

func TestCaptureTooShort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer server.Close()

	decoder := writeFakeDecoder(t, "cat")
	cfg := Config{ListenSeconds: 0, ClipSeconds: 1, DecoderPath: decoder}

	_, err := Capture(context.Background(), server.URL, cfg)
	require.ErrorIs(t, err, ErrTooShort)
}

// S6: shutdown (parent context canceled) while the decoder is running
// must kill it promptly rather than hang.
func TestCaptureContextCancelKillsDecoder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			w.Write(make([]byte, 4096))
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer server.Close()

	decoder := writeFakeDecoder(t, "sleep 30")
	cfg := Config{ListenSeconds: 0, ClipSeconds: 5, DecoderPath: decoder}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := Capture(ctx, server.URL, cfg)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not unblock within 2s of context cancellation")
	}
}

func TestBytesToRawAudioRoundTrip(t *testing.T) {
	values := []float32{0, 0.5, -0.5, 1, -1}
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	raw := bytesToRawAudio(buf)
	require.Len(t, raw.Frames, len(values))
	for i, v := range values {
		require.Equal(t, v, raw.Frames[i])
	}
}

func TestDiscardWarmupStopsOnEOF(t *testing.T) {
	r := bytes.NewReader(make([]byte, 100))
	start := time.Now()
	err := discardWarmup(r, 5)
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestClassifyReadErrMapsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	err := classifyReadErr(ctx, errors.New("boom"))
	require.ErrorIs(t, err, ErrTimeout)
}
