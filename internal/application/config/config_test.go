// ABOUTME: Tests for YAML configuration parsing
// ABOUTME: Verifies config structure, defaults and validation
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	yamlContent := `
device:
  mode: 2
  timer_period_ms: 5
  max_window_s: 2

channels:
  ch1:
    ac: true
    attenuation: 10
  ch2:
    offset: 0.25
    reference: 1.2

display:
  window_s: 0.05

trigger:
  enabled: true
  mode: falling_ch2
  level_v: 1.1

generator:
  ch1:
    clock_setting: 1
    timer_period: 99
    waveform_size: 250

recording:
  enabled: true
  path: out.csv
  averaging: 375
  max_bytes: 4096

source:
  kind: file
  path: capture.bin

logging:
  level: debug
  json: true
`

	cfg, err := Load(writeConfig(t, yamlContent))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Device.Mode != 2 {
		t.Errorf("expected mode 2, got %d", cfg.Device.Mode)
	}
	if !cfg.Channels.CH1.AC || cfg.Channels.CH1.Attenuation != 10 {
		t.Errorf("expected AC CH1 at 10x, got %+v", cfg.Channels.CH1)
	}
	if cfg.Channels.CH2.Reference != 1.2 {
		t.Errorf("expected CH2 reference 1.2, got %v", cfg.Channels.CH2.Reference)
	}
	if cfg.Trigger.Mode != "falling_ch2" {
		t.Errorf("expected trigger falling_ch2, got %s", cfg.Trigger.Mode)
	}
	if cfg.Generator.CH1.WaveformSize != 250 {
		t.Errorf("expected waveform size 250, got %d", cfg.Generator.CH1.WaveformSize)
	}
	if cfg.Recording.MaxBytes != 4096 {
		t.Errorf("expected max bytes 4096, got %d", cfg.Recording.MaxBytes)
	}
	if cfg.Source.PacketsPerRead != 5 {
		t.Errorf("expected packets per read to follow the timer period, got %d", cfg.Source.PacketsPerRead)
	}
	if cfg.Logging.JSON == nil || !*cfg.Logging.JSON {
		t.Error("expected JSON logging")
	}
	if cfg.Source.Realtime == nil || *cfg.Source.Realtime {
		t.Error("expected file replay to run unpaced by default")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Device.TimerPeriodMs != 10 {
		t.Errorf("expected timer period 10, got %d", cfg.Device.TimerPeriodMs)
	}
	if cfg.Channels.CH1.Reference != 1.65 {
		t.Errorf("expected reference 1.65, got %v", cfg.Channels.CH1.Reference)
	}
	if cfg.Multimeter.AutoScale == nil || !*cfg.Multimeter.AutoScale {
		t.Error("expected auto scaling on by default")
	}
	if cfg.Source.Kind != "synthetic" {
		t.Errorf("expected synthetic source, got %s", cfg.Source.Kind)
	}
	if cfg.Source.Realtime == nil || !*cfg.Source.Realtime {
		t.Error("expected synthetic source paced in real time by default")
	}
	if cfg.Logging.JSON != nil {
		t.Error("expected JSON logging left to terminal detection")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Device.Mode = 8 }},
		{"attenuation", func(c *Config) { c.Channels.CH2.Attenuation = 3 }},
		{"window", func(c *Config) { c.Display.WindowS = 20 }},
		{"delay", func(c *Config) { c.Display.DelayS = 9.995 }},
		{"clock", func(c *Config) { c.Generator.CH2.ClockSetting = 8 }},
		{"waveform", func(c *Config) { c.Generator.CH1 = GeneratorConfig{ClockSetting: 1} }},
		{"record channel", func(c *Config) { c.Recording.Channel = 3 }},
		{"source", func(c *Config) { c.Source.Kind = "usb" }},
		{"file path", func(c *Config) { c.Source.Kind = "file" }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestApplyDefaults_RealtimeExplicit(t *testing.T) {
	cfg, err := Load(writeConfig(t, "source:\n  kind: synthetic\n  realtime: false\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source.Realtime == nil || *cfg.Source.Realtime {
		t.Error("expected explicit realtime: false to be kept")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "device: [")); err == nil {
		t.Error("expected parse error")
	}
}
