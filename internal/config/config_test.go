package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loopcast/loopcast/internal/quantize"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(``))
	require.NoError(t, err)
	require.Equal(t, defaultListenSeconds, cfg.ListenSeconds)
	require.Equal(t, defaultClipSeconds, cfg.ClipSeconds)
	require.Equal(t, defaultStationChangeSeconds, cfg.StationChangeSeconds)
	require.Equal(t, defaultBars, cfg.Bars)
	require.Equal(t, defaultBeatsPerBar, cfg.BeatsPerBar)
	require.Equal(t, quantize.BPMModeAuto, cfg.BPMMode)
	require.Equal(t, defaultBPMMin, cfg.BPMMin)
	require.Equal(t, defaultBPMMax, cfg.BPMMax)
}

func TestParseOverridesAllFields(t *testing.T) {
	yaml := []byte(`
listen_seconds: 5
clip_seconds: 8
station_change_seconds: 20
bars: 4
beats_per_bar: 3
bpm_mode: fixed
bpm_fixed: 128
bpm_min: 90
bpm_max: 180
seed: abc123
decoder_path: /usr/bin/ffmpeg
`)
	cfg, err := Parse(yaml)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.ListenSeconds)
	require.Equal(t, 8, cfg.ClipSeconds)
	require.Equal(t, 20, cfg.StationChangeSeconds)
	require.Equal(t, 4, cfg.Bars)
	require.Equal(t, 3, cfg.BeatsPerBar)
	require.Equal(t, quantize.BPMModeFixed, cfg.BPMMode)
	require.Equal(t, 128.0, cfg.BPMFixed)
	require.Equal(t, 90.0, cfg.BPMMin)
	require.Equal(t, 180.0, cfg.BPMMax)
	require.Equal(t, "abc123", cfg.Seed)
	require.Equal(t, "/usr/bin/ffmpeg", cfg.DecoderPath)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("not_a_real_field: 1\n"))
	require.Error(t, err)
}

func TestParseRejectsOutOfRangeListenSeconds(t *testing.T) {
	_, err := Parse([]byte("listen_seconds: 0\n"))
	require.Error(t, err)

	_, err = Parse([]byte("listen_seconds: 61\n"))
	require.Error(t, err)
}

func TestParseRejectsInvalidBars(t *testing.T) {
	_, err := Parse([]byte("bars: 3\n"))
	require.Error(t, err)
}

func TestParseRejectsInvalidBPMMode(t *testing.T) {
	_, err := Parse([]byte("bpm_mode: sometimes\n"))
	require.Error(t, err)
}

func TestParseRequiresBPMFixedWhenModeFixed(t *testing.T) {
	_, err := Parse([]byte("bpm_mode: fixed\n"))
	require.Error(t, err)
}

func TestParseRejectsBPMFixedWhenModeAuto(t *testing.T) {
	_, err := Parse([]byte("bpm_mode: auto\nbpm_fixed: 120\n"))
	require.Error(t, err)
}

func TestParseRejectsInvertedBPMRange(t *testing.T) {
	_, err := Parse([]byte("bpm_min: 180\nbpm_max: 90\n"))
	require.Error(t, err)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("bars: [this is not an int\n"))
	require.Error(t, err)
}
