// ABOUTME: YAML configuration parsing and validation
// ABOUTME: Defines device, channel, trigger, recording and source settings
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Display    DisplayConfig    `yaml:"display"`
	Trigger    TriggerConfig    `yaml:"trigger"`
	Generator  GeneratorsConfig `yaml:"generator"`
	Recording  RecordingConfig  `yaml:"recording"`
	Multimeter MultimeterConfig `yaml:"multimeter"`
	Source     SourceConfig     `yaml:"source"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type DeviceConfig struct {
	Mode               int     `yaml:"mode"`
	TimerPeriodMs      int     `yaml:"timer_period_ms"`
	MaxWindowS         float64 `yaml:"max_window_s"`
	GraphSamples       int     `yaml:"graph_samples"`
	MultimeterPeriodMs int     `yaml:"multimeter_period_ms"`
	ScopeGain          float64 `yaml:"scope_gain"`
	SupplyVoltage      float64 `yaml:"supply_voltage"`
}

type ChannelsConfig struct {
	CH1 ChannelConfig `yaml:"ch1"`
	CH2 ChannelConfig `yaml:"ch2"`
}

type ChannelConfig struct {
	AC          bool    `yaml:"ac"`
	Attenuation float64 `yaml:"attenuation"`
	Offset      float64 `yaml:"offset"`
	Reference   float64 `yaml:"reference"`
}

type DisplayConfig struct {
	WindowS float64 `yaml:"window_s"`
	DelayS  float64 `yaml:"delay_s"`
	TopV    float64 `yaml:"top_v"`
	BottomV float64 `yaml:"bottom_v"`
}

type TriggerConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Mode       string  `yaml:"mode"`
	LevelV     float64 `yaml:"level_v"`
	SingleShot bool    `yaml:"single_shot"`
}

type GeneratorsConfig struct {
	CH1 GeneratorConfig `yaml:"ch1"`
	CH2 GeneratorConfig `yaml:"ch2"`
}

// GeneratorConfig mirrors the signal generator's timer setup. A zero
// ClockSetting leaves the channel unconfigured.
type GeneratorConfig struct {
	ClockSetting int `yaml:"clock_setting"`
	TimerPeriod  int `yaml:"timer_period"`
	WaveformSize int `yaml:"waveform_size"`
}

type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Channel   int    `yaml:"channel"`
	Averaging int    `yaml:"averaging"`
	MaxBytes  uint64 `yaml:"max_bytes"`
	Product   string `yaml:"product"`
}

type MultimeterConfig struct {
	Type             string  `yaml:"type"`
	SeriesResistance float64 `yaml:"series_resistance"`
	RSource          int     `yaml:"r_source"`
	AutoScale        *bool   `yaml:"auto_scale"`
}

type SourceConfig struct {
	Kind           string  `yaml:"kind"`
	Path           string  `yaml:"path"`
	Waveform       string  `yaml:"waveform"`
	FrequencyHz    float64 `yaml:"frequency_hz"`
	AmplitudeV     float64 `yaml:"amplitude_v"`
	OffsetV        float64 `yaml:"offset_v"`
	PacketsPerRead int     `yaml:"packets_per_read"`
	Realtime       *bool   `yaml:"realtime"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  *bool  `yaml:"json"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field with the instrument's stock value.
func (c *Config) ApplyDefaults() {
	d := &c.Device
	if d.TimerPeriodMs == 0 {
		d.TimerPeriodMs = 10
	}
	if d.MaxWindowS == 0 {
		d.MaxWindowS = 10
	}
	if d.GraphSamples == 0 {
		d.GraphSamples = 1024
	}
	if d.MultimeterPeriodMs == 0 {
		d.MultimeterPeriodMs = 500
	}
	if d.ScopeGain == 0 {
		d.ScopeGain = 1
	}
	if d.SupplyVoltage == 0 {
		d.SupplyVoltage = 3.3
	}

	for _, ch := range []*ChannelConfig{&c.Channels.CH1, &c.Channels.CH2} {
		if ch.Attenuation == 0 {
			ch.Attenuation = 1
		}
		if ch.Reference == 0 {
			ch.Reference = d.SupplyVoltage / 2
		}
	}

	if c.Display.WindowS == 0 {
		c.Display.WindowS = 0.01
	}
	if c.Display.TopV == 0 && c.Display.BottomV == 0 {
		c.Display.TopV, c.Display.BottomV = 2.5, -0.5
	}

	if c.Trigger.Mode == "" {
		c.Trigger.Mode = "rising_ch1"
	}

	if c.Recording.Channel == 0 {
		c.Recording.Channel = 1
	}
	if c.Recording.Averaging == 0 {
		c.Recording.Averaging = 1
	}
	if c.Recording.Path == "" {
		c.Recording.Path = "capture.csv"
	}

	if c.Multimeter.Type == "" {
		c.Multimeter.Type = "v"
	}
	if c.Multimeter.SeriesResistance == 0 {
		c.Multimeter.SeriesResistance = 1000
	}
	if c.Multimeter.AutoScale == nil {
		auto := true
		c.Multimeter.AutoScale = &auto
	}

	if c.Source.Kind == "" {
		c.Source.Kind = "synthetic"
	}
	if c.Source.Waveform == "" {
		c.Source.Waveform = "sine"
	}
	if c.Source.FrequencyHz == 0 {
		c.Source.FrequencyHz = 1000
	}
	if c.Source.AmplitudeV == 0 {
		c.Source.AmplitudeV = 1
	}
	if c.Source.PacketsPerRead == 0 {
		c.Source.PacketsPerRead = c.Device.TimerPeriodMs
	}
	// Synthetic frames are paced at the acquisition cadence unless told
	// otherwise; captures replay as fast as they can be read.
	if c.Source.Realtime == nil {
		realtime := c.Source.Kind == "synthetic"
		c.Source.Realtime = &realtime
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects settings the instrument cannot run with.
func (c *Config) Validate() error {
	d := c.Device
	if d.Mode < 0 || d.Mode > 7 {
		return fmt.Errorf("%w: device.mode %d out of range 0-7", ErrInvalid, d.Mode)
	}
	if d.TimerPeriodMs < 1 {
		return fmt.Errorf("%w: device.timer_period_ms must be positive", ErrInvalid)
	}
	if d.MaxWindowS <= 0 {
		return fmt.Errorf("%w: device.max_window_s must be positive", ErrInvalid)
	}
	if d.GraphSamples < 2 {
		return fmt.Errorf("%w: device.graph_samples must be at least 2", ErrInvalid)
	}
	if d.ScopeGain <= 0 {
		return fmt.Errorf("%w: device.scope_gain must be positive", ErrInvalid)
	}

	for name, ch := range map[string]ChannelConfig{"ch1": c.Channels.CH1, "ch2": c.Channels.CH2} {
		switch ch.Attenuation {
		case 1, 5, 10:
		default:
			return fmt.Errorf("%w: channels.%s.attenuation must be 1, 5 or 10", ErrInvalid, name)
		}
	}

	if c.Display.WindowS <= 0 || c.Display.WindowS > d.MaxWindowS {
		return fmt.Errorf("%w: display.window_s must be in (0, %v]", ErrInvalid, d.MaxWindowS)
	}
	if c.Display.DelayS < 0 || c.Display.DelayS+c.Display.WindowS > d.MaxWindowS {
		return fmt.Errorf("%w: display.delay_s leaves the buffer", ErrInvalid)
	}

	for name, g := range map[string]GeneratorConfig{"ch1": c.Generator.CH1, "ch2": c.Generator.CH2} {
		if g.ClockSetting == 0 {
			continue
		}
		if g.ClockSetting < 1 || g.ClockSetting > 7 {
			return fmt.Errorf("%w: generator.%s.clock_setting must be 1-7", ErrInvalid, name)
		}
		if g.WaveformSize < 1 || g.TimerPeriod < 0 {
			return fmt.Errorf("%w: generator.%s needs a waveform size and timer period", ErrInvalid, name)
		}
	}

	r := c.Recording
	if r.Channel != 1 && r.Channel != 2 {
		return fmt.Errorf("%w: recording.channel must be 1 or 2", ErrInvalid)
	}
	if r.Averaging < 1 {
		return fmt.Errorf("%w: recording.averaging must be at least 1", ErrInvalid)
	}

	if c.Multimeter.SeriesResistance <= 0 {
		return fmt.Errorf("%w: multimeter.series_resistance must be positive", ErrInvalid)
	}
	if c.Multimeter.RSource < 0 {
		return fmt.Errorf("%w: multimeter.r_source must not be negative", ErrInvalid)
	}

	switch c.Source.Kind {
	case "synthetic":
	case "file":
		if c.Source.Path == "" {
			return fmt.Errorf("%w: source.path required for file sources", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown source.kind %q", ErrInvalid, c.Source.Kind)
	}
	if c.Source.PacketsPerRead < 1 {
		return fmt.Errorf("%w: source.packets_per_read must be at least 1", ErrInvalid)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown logging.level %q", ErrInvalid, c.Logging.Level)
	}
	return nil
}
