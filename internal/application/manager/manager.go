// ABOUTME: Instrument manager for lifecycle and wiring
// ABOUTME: Builds the frame source, recorder and scope from config and runs them
package manager

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/harper/labscope/internal/application/config"
	"github.com/harper/labscope/internal/domain"
	"github.com/harper/labscope/internal/domain/convert"
	"github.com/harper/labscope/internal/domain/multimeter"
	"github.com/harper/labscope/internal/domain/scope"
	"github.com/harper/labscope/internal/infrastructure/daqlog"
	"github.com/harper/labscope/internal/infrastructure/ring"
	"github.com/harper/labscope/internal/infrastructure/source"
)

// frameSource is what the manager needs from a source: frames, then cleanup.
type frameSource interface {
	domain.FrameSource
	io.Closer
}

type Manager struct {
	cfg    *config.Config
	log    *slog.Logger
	source frameSource
	scope  *scope.Scope
}

func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mode := domain.DeviceMode(cfg.Device.Mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %d", scope.ErrUnknownMode, cfg.Device.Mode)
	}

	params := convert.DefaultParams()
	params.SupplyVoltage = cfg.Device.SupplyVoltage
	params.ScopeGain = cfg.Device.ScopeGain
	params.Reference = cfg.Channels.CH1.Reference

	src, err := newSource(cfg, mode, params)
	if err != nil {
		return nil, err
	}

	scopeCfg, err := scopeConfig(cfg, params)
	if err != nil {
		src.Close()
		return nil, err
	}

	product := cfg.Recording.Product
	if product == "" {
		product = daqlog.DefaultProduct
	}
	rec := daqlog.NewRecorder(product, logger.With("component", "recorder"))

	sc := scope.New(scopeCfg, mode, src, rec, logger.With("component", "scope"))

	gens := []struct {
		ch  ring.GeneratorChannel
		cfg config.GeneratorConfig
	}{
		{ring.GeneratorA, cfg.Generator.CH1},
		{ring.GeneratorB, cfg.Generator.CH2},
	}
	for _, g := range gens {
		if g.cfg.ClockSetting == 0 {
			continue
		}
		if err := sc.SetGeneratorClock(g.ch, g.cfg.ClockSetting, g.cfg.TimerPeriod, g.cfg.WaveformSize); err != nil {
			src.Close()
			return nil, fmt.Errorf("generator clock: %w", err)
		}
	}

	return &Manager{
		cfg:    cfg,
		log:    logger,
		source: src,
		scope:  sc,
	}, nil
}

func newSource(cfg *config.Config, mode domain.DeviceMode, params convert.Params) (frameSource, error) {
	var interval time.Duration
	if cfg.Source.Realtime != nil && *cfg.Source.Realtime {
		interval = time.Duration(cfg.Source.PacketsPerRead) * time.Millisecond
	}

	switch cfg.Source.Kind {
	case "file":
		rd, err := source.OpenFile(cfg.Source.Path, source.ReaderConfig{
			Mode:           mode,
			PacketsPerRead: cfg.Source.PacketsPerRead,
			Interval:       interval,
		})
		if err != nil {
			return nil, err
		}
		return rd, nil
	case "synthetic":
		wf, err := source.ParseWaveform(cfg.Source.Waveform)
		if err != nil {
			return nil, err
		}
		return source.NewSynthetic(source.SyntheticConfig{
			Mode:           mode,
			Waveform:       wf,
			FrequencyHz:    cfg.Source.FrequencyHz,
			AmplitudeV:     cfg.Source.AmplitudeV,
			OffsetV:        cfg.Source.OffsetV,
			PacketsPerRead: cfg.Source.PacketsPerRead,
			Interval:       interval,
			Params:         params,
		}), nil
	}
	return nil, fmt.Errorf("unknown source kind %q", cfg.Source.Kind)
}

func scopeConfig(cfg *config.Config, params convert.Params) (scope.Config, error) {
	trigMode, err := scope.ParseTriggerMode(cfg.Trigger.Mode)
	if err != nil {
		return scope.Config{}, err
	}
	mmType, err := multimeter.ParseType(cfg.Multimeter.Type)
	if err != nil {
		return scope.Config{}, err
	}
	auto := cfg.Multimeter.AutoScale == nil || *cfg.Multimeter.AutoScale

	ch := func(c config.ChannelConfig) scope.ChannelConfig {
		return scope.ChannelConfig{AC: c.AC, Attenuation: c.Attenuation, Offset: c.Offset}
	}

	return scope.Config{
		TimerPeriod:  time.Duration(cfg.Device.TimerPeriodMs) * time.Millisecond,
		SlowPeriod:   time.Duration(cfg.Device.MultimeterPeriodMs) * time.Millisecond,
		MaxWindow:    cfg.Device.MaxWindowS,
		GraphSamples: cfg.Device.GraphSamples,
		Display: scope.Display{
			Window: cfg.Display.WindowS,
			Delay:  cfg.Display.DelayS,
			Top:    cfg.Display.TopV,
			Bottom: cfg.Display.BottomV,
		},
		CH1: ch(cfg.Channels.CH1),
		CH2: ch(cfg.Channels.CH2),
		Trigger: scope.TriggerSettings{
			Enabled:    cfg.Trigger.Enabled,
			Mode:       trigMode,
			Level:      cfg.Trigger.LevelV,
			SingleShot: cfg.Trigger.SingleShot,
		},
		Params:       params,
		CH2Reference: cfg.Channels.CH2.Reference,
		Multimeter: multimeter.Config{
			Type:             mmType,
			SeriesResistance: cfg.Multimeter.SeriesResistance,
			RSource:          cfg.Multimeter.RSource,
			AutoScale:        auto,
		},
		RecordChannel: scope.Channel(cfg.Recording.Channel),
		TraceBusCap:   32,
	}, nil
}

func (m *Manager) Scope() *scope.Scope {
	return m.scope
}

// Start begins acquisition and, when configured, recording.
func (m *Manager) Start() error {
	if m.cfg.Recording.Enabled {
		r := m.cfg.Recording
		if err := m.scope.EnableRecording(r.Path, r.Averaging, r.MaxBytes); err != nil {
			return fmt.Errorf("enable recording: %w", err)
		}
	}
	if err := m.scope.Start(); err != nil {
		return err
	}
	m.log.Info("acquisition started", "mode", m.scope.Mode(), "source", m.cfg.Source.Kind)
	return nil
}

// Wait blocks until acquisition stops. A drained file source is not an error.
func (m *Manager) Wait() error {
	err := m.scope.Wait()
	if errors.Is(err, scope.ErrSourceExhausted) {
		return nil
	}
	return err
}

func (m *Manager) Shutdown() error {
	serr := m.scope.Shutdown()
	cerr := m.source.Close()
	if serr != nil {
		return serr
	}
	if cerr != nil {
		return fmt.Errorf("close source: %w", cerr)
	}
	return nil
}
