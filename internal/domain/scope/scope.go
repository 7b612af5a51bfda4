// ABOUTME: Scope domain model coordinating acquisition, rendering and subscribers
// ABOUTME: Owns the channel buffers and the goroutines that feed and drain them
package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harper/labscope/internal/domain"
	"github.com/harper/labscope/internal/domain/convert"
	"github.com/harper/labscope/internal/domain/multimeter"
	"github.com/harper/labscope/internal/infrastructure/daqlog"
	"github.com/harper/labscope/internal/infrastructure/ring"
)

var (
	ErrSourceExhausted = errors.New("scope: frame source exhausted")
	ErrUnknownMode     = errors.New("scope: unknown device mode")
	ErrNoRecorder      = errors.New("scope: no recorder configured")
	ErrBadChannel      = errors.New("scope: unknown channel")
)

// Channel identifies a sample buffer. CH1Fast is CH1 sampled at 750 kSa/s.
type Channel int

const (
	CH1     Channel = 1
	CH2     Channel = 2
	CH1Fast Channel = 3
)

const (
	SlowSampleRate = 375000.0
	FastSampleRate = 750000.0

	// bufferHeadroom over the maximum window, as a 21/20 ratio.
	headroomNum, headroomDen = 21, 20

	meanSamples = 1024
)

type Display struct {
	Window float64 // seconds
	Delay  float64 // seconds before the newest sample
	Top    float64
	Bottom float64
}

type ChannelConfig struct {
	AC          bool
	Attenuation float64
	Offset      float64
}

type Config struct {
	TimerPeriod  time.Duration
	SlowPeriod   time.Duration
	MaxWindow    float64
	GraphSamples int

	Display  Display
	CH1, CH2 ChannelConfig
	Trigger  TriggerSettings

	// Params seeds both channels' conversion; CH2Reference overrides CH2's
	// reference voltage when non-zero.
	Params       convert.Params
	CH2Reference float64

	Multimeter    multimeter.Config
	RecordChannel Channel

	TraceBusCap int
}

// Trace is one rendered window, newest sample first.
type Trace struct {
	Mode      domain.DeviceMode
	Time      []float64
	CH1       []float64
	CH2       []float64
	Stats1    convert.Stats
	Stats2    convert.Stats
	Triggered bool
}

type Subscriber struct {
	ID string
	ch chan Trace
}

type Scope struct {
	cfg Config
	log *slog.Logger

	source   domain.FrameSource
	recorder *daqlog.Recorder

	ch1, ch2, fast *ring.Buffer
	conv1, conv2   *convert.Settings

	mode atomic.Int32

	// ctrlMu serialises setters; readers use the atomic snapshots.
	ctrlMu  sync.Mutex
	display atomic.Pointer[Display]
	cc1     atomic.Pointer[ChannelConfig]
	cc2     atomic.Pointer[ChannelConfig]
	trigger atomic.Pointer[TriggerSettings]

	paused1, paused2, pausedMM atomic.Bool
	sourceHealthy              atomic.Bool

	stats1, stats2 atomic.Pointer[convert.Stats]

	meterMu sync.Mutex
	meter   *multimeter.Meter
	reading atomic.Pointer[multimeter.Reading]

	// procMu guards frame processing state.
	procMu    sync.Mutex
	prev      domain.DeviceMode
	shorts    []int16
	recording bool
	recDone   chan struct{}

	singleShot chan struct{}

	subs   map[*Subscriber]struct{}
	subsMu sync.Mutex

	traceBus chan Trace

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func bufferCapacity(maxWindow, sps float64) int {
	return int(maxWindow*sps) * headroomNum / headroomDen
}

// New builds a scope reading from source. recorder may be nil when DAQ
// recording is not wanted. mode is the device mode expected before the
// first frame arrives.
func New(cfg Config, mode domain.DeviceMode, source domain.FrameSource, recorder *daqlog.Recorder, logger *slog.Logger) *Scope {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GraphSamples < 2 {
		cfg.GraphSamples = 2
	}
	if cfg.TraceBusCap < 1 {
		cfg.TraceBusCap = 1
	}
	if cfg.RecordChannel != CH2 {
		cfg.RecordChannel = CH1
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scope{
		cfg:        cfg,
		log:        logger,
		source:     source,
		recorder:   recorder,
		ch1:        ring.New(bufferCapacity(cfg.MaxWindow, SlowSampleRate), SlowSampleRate),
		ch2:        ring.New(bufferCapacity(cfg.MaxWindow, SlowSampleRate), SlowSampleRate),
		fast:       ring.New(bufferCapacity(cfg.MaxWindow, FastSampleRate), FastSampleRate),
		meter:      multimeter.NewMeter(cfg.Multimeter),
		prev:       -1,
		shorts:     make([]int16, domain.MultimeterValid),
		singleShot: make(chan struct{}, 1),
		subs:       make(map[*Subscriber]struct{}),
		traceBus:   make(chan Trace, cfg.TraceBusCap),
		ctx:        ctx,
		cancel:     cancel,
	}

	p1 := cfg.Params
	p1.Multimeter = mode == domain.ModeMultimeter
	p2 := cfg.Params
	p2.Multimeter = false
	if cfg.CH2Reference != 0 {
		p2.Reference = cfg.CH2Reference
	}
	s.conv1 = convert.NewSettings(p1)
	s.conv2 = convert.NewSettings(p2)

	disp := cfg.Display
	s.display.Store(&disp)
	cc1, cc2 := cfg.CH1, cfg.CH2
	if cc1.Attenuation == 0 {
		cc1.Attenuation = 1
	}
	if cc2.Attenuation == 0 {
		cc2.Attenuation = 1
	}
	s.cc1.Store(&cc1)
	s.cc2.Store(&cc2)
	ts := cfg.Trigger
	s.trigger.Store(&ts)

	s.mode.Store(int32(mode))
	s.applyTrigger()
	return s
}

func (s *Scope) Mode() domain.DeviceMode {
	return domain.DeviceMode(s.mode.Load())
}

func (s *Scope) Buffer(ch Channel) (*ring.Buffer, error) {
	switch ch {
	case CH1:
		return s.ch1, nil
	case CH2:
		return s.ch2, nil
	case CH1Fast:
		return s.fast, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrBadChannel, ch)
}

func (s *Scope) settings(ch Channel) *convert.Settings {
	if ch == CH2 {
		return s.conv2
	}
	return s.conv1
}

func (s *Scope) channelConfig(ch Channel) *atomic.Pointer[ChannelConfig] {
	if ch == CH2 {
		return &s.cc2
	}
	return &s.cc1
}

// Stats returns the statistics of the channel's last rendered trace.
func (s *Scope) Stats(ch Channel) convert.Stats {
	p := s.stats1.Load()
	if ch == CH2 {
		p = s.stats2.Load()
	}
	if p == nil {
		return convert.Stats{}
	}
	return *p
}

func (s *Scope) SourceHealthy() bool {
	return s.sourceHealthy.Load()
}

// SingleShotTriggered fires once per single-shot capture.
func (s *Scope) SingleShotTriggered() <-chan struct{} {
	return s.singleShot
}

func (s *Scope) Subscribe(c *Subscriber) <-chan Trace {
	c.ch = make(chan Trace, 16)
	s.subsMu.Lock()
	s.subs[c] = struct{}{}
	s.subsMu.Unlock()
	return c.ch
}

func (s *Scope) Unsubscribe(c *Subscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[c]; !ok {
		return
	}
	delete(s.subs, c)
	close(c.ch)
}

func (s *Scope) SubscriberCount() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

// Start launches acquisition, fan-out and the slow housekeeping tick.
func (s *Scope) Start() error {
	if s.group != nil {
		return errors.New("scope: already started")
	}
	g, ctx := errgroup.WithContext(s.ctx)
	s.group = g

	g.Go(func() error { return s.runAcquire(ctx) })
	g.Go(func() error {
		s.runFanOut(ctx)
		return nil
	})
	g.Go(func() error {
		s.runSlowTicker(ctx)
		return nil
	})
	return nil
}

// Wait blocks until the scope's goroutines stop and returns the first error.
func (s *Scope) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Shutdown stops all goroutines and closes any recording in progress.
func (s *Scope) Shutdown() error {
	s.cancel()
	if err := s.Wait(); err != nil && !errors.Is(err, ErrSourceExhausted) {
		s.log.Warn("acquisition stopped with error", "error", err)
	}
	return s.DisableRecording()
}

func (s *Scope) runAcquire(ctx context.Context) error {
	for {
		frame, err := s.source.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.sourceHealthy.Store(false)
			if errors.Is(err, io.EOF) {
				s.log.Info("frame source exhausted")
				return ErrSourceExhausted
			}
			return fmt.Errorf("read frame: %w", err)
		}
		s.sourceHealthy.Store(true)

		if err := s.Process(frame); err != nil {
			s.log.Warn("dropping frame", "error", err)
			continue
		}

		tr, ok := s.Render()
		if !ok {
			continue
		}
		select {
		case s.traceBus <- tr:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Scope) runFanOut(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr := <-s.traceBus:
			s.subsMu.Lock()
			for sub := range s.subs {
				select {
				case sub.ch <- tr:
				default:
					// Slow subscriber, drop this trace.
				}
			}
			s.subsMu.Unlock()
		}
	}
}

func (s *Scope) runSlowTicker(ctx context.Context) {
	if s.cfg.SlowPeriod <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SlowPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.slowTick()
		}
	}
}

func (s *Scope) slowTick() {
	if ts := s.trigger.Load(); ts.Enabled {
		if f := s.TriggerFrequencyHz(); f > 0 {
			s.log.Debug("trigger frequency", "hz", f, "period_s", 1/f)
		}
	}

	if s.Mode() != domain.ModeMultimeter || s.pausedMM.Load() {
		return
	}
	r, err := s.MeasureMultimeter()
	if err != nil {
		s.log.Debug("multimeter reading unavailable", "error", err)
		return
	}
	attrs := make([]any, 0, 2*len(r.Quantities)+2)
	attrs = append(attrs, "type", r.Type.String())
	for _, q := range r.Quantities {
		attrs = append(attrs, q.Label, fmt.Sprintf("%.4g %s", q.Value, q.Unit))
	}
	s.log.Info("multimeter", attrs...)
}
