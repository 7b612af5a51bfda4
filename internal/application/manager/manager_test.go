// ABOUTME: Tests for instrument manager lifecycle
// ABOUTME: Verifies wiring from config and a full replay of a capture file
package manager

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/harper/labscope/internal/application/config"
	"github.com/harper/labscope/internal/domain"
	"github.com/harper/labscope/internal/domain/scope"
	"github.com/harper/labscope/internal/infrastructure/daqlog"
	"github.com/harper/labscope/internal/infrastructure/ring"
)

func defaultConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Device.MaxWindowS = 0.1
	cfg.ApplyDefaults()
	return cfg
}

func TestManager_NewFromConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Device.Mode = 2
	cfg.Channels.CH2.Reference = 1.2
	cfg.Trigger.Enabled = true
	cfg.Trigger.Mode = "generator_ch1"
	cfg.Generator.CH1 = config.GeneratorConfig{ClockSetting: 1, TimerPeriod: 99, WaveformSize: 250}

	mgr, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer mgr.Shutdown()

	sc := mgr.Scope()
	if sc.Mode() != domain.ModeDualAnalog {
		t.Errorf("expected dual analog mode, got %v", sc.Mode())
	}
	if ts := sc.TriggerSettings(); !ts.Enabled || ts.Mode != scope.TriggerGeneratorCH1 {
		t.Errorf("expected generator trigger, got %+v", ts)
	}
	buf, _ := sc.Buffer(scope.CH1)
	if got := buf.SamplesPerCycle(ring.GeneratorA); got <= 0 {
		t.Errorf("expected generator clock applied, got %v", got)
	}
}

func TestManager_RejectsBadNames(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"trigger", func(c *config.Config) { c.Trigger.Mode = "sideways" }},
		{"multimeter", func(c *config.Config) { c.Multimeter.Type = "x" }},
		{"waveform", func(c *config.Config) { c.Source.Waveform = "sawtooth" }},
		{"file", func(c *config.Config) {
			c.Source.Kind = "file"
			c.Source.Path = filepath.Join(t.TempDir(), "missing.bin")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if _, err := NewFromConfig(cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestManager_ReplaysCaptureIntoRecording(t *testing.T) {
	dir := t.TempDir()
	capture := filepath.Join(dir, "capture.bin")
	pkt := make([]byte, domain.PacketBytes)
	if err := os.WriteFile(capture, bytes.Repeat(pkt, 4), 0644); err != nil {
		t.Fatalf("write capture: %v", err)
	}

	cfg := defaultConfig()
	cfg.Source.Kind = "file"
	cfg.Source.Path = capture
	cfg.Source.PacketsPerRead = 1
	realtime := false
	cfg.Source.Realtime = &realtime
	cfg.Recording.Enabled = true
	cfg.Recording.Path = filepath.Join(dir, "out.csv")
	cfg.Recording.Averaging = 375

	mgr, err := NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	if err := mgr.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.Wait(); err != nil {
		t.Errorf("expected clean end of capture, got %v", err)
	}
	if err := mgr.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	f, err := os.Open(cfg.Recording.Path)
	if err != nil {
		t.Fatalf("open recording: %v", err)
	}
	defer f.Close()
	rec, err := daqlog.Load(f, 0, 0)
	if err != nil {
		t.Fatalf("load recording: %v", err)
	}
	if len(rec.Values) != 4 {
		t.Errorf("expected one record per packet, got %d", len(rec.Values))
	}
	if rec.Averaging != 375 {
		t.Errorf("expected averaging 375, got %d", rec.Averaging)
	}
}
