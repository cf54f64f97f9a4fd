// Package config loads the YAML settings record (spec.md §6): exactly
// the fields in that table, field-by-field validated, everything else
// rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loopcast/loopcast/internal/quantize"
)

const (
	defaultListenSeconds        = 10
	defaultClipSeconds          = 4
	defaultStationChangeSeconds = 12
	defaultBars                 = 2
	defaultBeatsPerBar          = 4
	defaultBPMMin               = 70.0
	defaultBPMMax               = 170.0
)

// Config is the validated, in-memory settings record.
type Config struct {
	ListenSeconds        int
	ClipSeconds          int
	StationChangeSeconds int
	Bars                 int
	BeatsPerBar          int
	BPMMode              quantize.BPMMode
	BPMFixed             float64
	BPMMin               float64
	BPMMax               float64
	Seed                 string
	DecoderPath          string
}

type yamlConfig struct {
	ListenSeconds        *int     `yaml:"listen_seconds"`
	ClipSeconds          *int     `yaml:"clip_seconds"`
	StationChangeSeconds *int     `yaml:"station_change_seconds"`
	Bars                 *int     `yaml:"bars"`
	BeatsPerBar          *int     `yaml:"beats_per_bar"`
	BPMMode              string   `yaml:"bpm_mode"`
	BPMFixed             *float64 `yaml:"bpm_fixed"`
	BPMMin               *float64 `yaml:"bpm_min"`
	BPMMax               *float64 `yaml:"bpm_max"`
	Seed                 string   `yaml:"seed"`
	DecoderPath          string   `yaml:"decoder_path"`
}

// Load reads and validates a YAML config file at path (spec.md §6's
// table: range, default, "all else rejected" via yaml.v3's KnownFields).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates raw YAML bytes into a Config (split out from Load so
// tests don't need a filesystem fixture for every case).
func Parse(data []byte) (Config, error) {
	var yc yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF; it means "all defaults".
	if err := dec.Decode(&yc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	cfg := Config{
		ListenSeconds:        defaultListenSeconds,
		ClipSeconds:          defaultClipSeconds,
		StationChangeSeconds: defaultStationChangeSeconds,
		Bars:                 defaultBars,
		BeatsPerBar:          defaultBeatsPerBar,
		BPMMode:              quantize.BPMModeAuto,
		BPMMin:               defaultBPMMin,
		BPMMax:               defaultBPMMax,
	}

	if yc.ListenSeconds != nil {
		cfg.ListenSeconds = *yc.ListenSeconds
	}
	if cfg.ListenSeconds < 1 || cfg.ListenSeconds > 60 {
		return Config{}, fmt.Errorf("config: listen_seconds must be in 1..60, got %d", cfg.ListenSeconds)
	}

	if yc.ClipSeconds != nil {
		cfg.ClipSeconds = *yc.ClipSeconds
	}
	if cfg.ClipSeconds < 2 || cfg.ClipSeconds > 30 {
		return Config{}, fmt.Errorf("config: clip_seconds must be in 2..30, got %d", cfg.ClipSeconds)
	}

	if yc.StationChangeSeconds != nil {
		cfg.StationChangeSeconds = *yc.StationChangeSeconds
	}
	if cfg.StationChangeSeconds < 5 || cfg.StationChangeSeconds > 3600 {
		return Config{}, fmt.Errorf("config: station_change_seconds must be in 5..3600, got %d", cfg.StationChangeSeconds)
	}

	if yc.Bars != nil {
		cfg.Bars = *yc.Bars
	}
	if cfg.Bars != 1 && cfg.Bars != 2 && cfg.Bars != 4 {
		return Config{}, fmt.Errorf("config: bars must be 1, 2 or 4, got %d", cfg.Bars)
	}

	if yc.BeatsPerBar != nil {
		cfg.BeatsPerBar = *yc.BeatsPerBar
	}
	if cfg.BeatsPerBar < 2 || cfg.BeatsPerBar > 12 {
		return Config{}, fmt.Errorf("config: beats_per_bar must be in 2..12, got %d", cfg.BeatsPerBar)
	}

	switch yc.BPMMode {
	case "", "auto":
		cfg.BPMMode = quantize.BPMModeAuto
	case "fixed":
		cfg.BPMMode = quantize.BPMModeFixed
	default:
		return Config{}, fmt.Errorf("config: bpm_mode must be 'auto' or 'fixed', got %q", yc.BPMMode)
	}

	if cfg.BPMMode == quantize.BPMModeFixed {
		if yc.BPMFixed == nil {
			return Config{}, fmt.Errorf("config: bpm_fixed is required when bpm_mode is 'fixed'")
		}
		cfg.BPMFixed = *yc.BPMFixed
		if cfg.BPMFixed < 30 || cfg.BPMFixed > 300 {
			return Config{}, fmt.Errorf("config: bpm_fixed must be in 30..300, got %v", cfg.BPMFixed)
		}
	} else if yc.BPMFixed != nil {
		return Config{}, fmt.Errorf("config: bpm_fixed must not be set when bpm_mode is 'auto'")
	}

	if yc.BPMMin != nil {
		cfg.BPMMin = *yc.BPMMin
	}
	if yc.BPMMax != nil {
		cfg.BPMMax = *yc.BPMMax
	}
	if cfg.BPMMin < 30 || cfg.BPMMin > 300 || cfg.BPMMax < 30 || cfg.BPMMax > 300 {
		return Config{}, fmt.Errorf("config: bpm_min/bpm_max must be in 30..300")
	}
	if cfg.BPMMin >= cfg.BPMMax {
		return Config{}, fmt.Errorf("config: bpm_min (%v) must be less than bpm_max (%v)", cfg.BPMMin, cfg.BPMMax)
	}

	cfg.Seed = yc.Seed
	cfg.DecoderPath = yc.DecoderPath

	return cfg, nil
}
