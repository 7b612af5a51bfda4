// ABOUTME: Routes one channel's samples into the DAQ recorder
// ABOUTME: Recording follows the device mode to whichever buffer carries the channel
package scope

import (
	"github.com/harper/labscope/internal/domain"
	"github.com/harper/labscope/internal/domain/convert"
	"github.com/harper/labscope/internal/infrastructure/ring"
)

// EnableRecording starts writing the record channel to path, averaging
// every averaging samples into one record. maxBytes of zero is unlimited.
func (s *Scope) EnableRecording(path string, averaging int, maxBytes uint64) error {
	if s.recorder == nil {
		return ErrNoRecorder
	}

	s.procMu.Lock()
	defer s.procMu.Unlock()

	mode := s.Mode()
	if err := s.recorder.Enable(path, averaging, maxBytes, int(mode)); err != nil {
		return err
	}
	if s.recDone != nil {
		close(s.recDone)
	}
	s.recording = true
	s.recDone = make(chan struct{})
	s.attachRecorder(mode)

	go s.watchRecording(s.recorder.LimitReached(), s.recDone)
	return nil
}

// watchRecording detaches the buffers once the file hits its size limit.
func (s *Scope) watchRecording(limit <-chan struct{}, done <-chan struct{}) {
	select {
	case <-limit:
	case <-done:
		return
	case <-s.ctx.Done():
		return
	}

	s.procMu.Lock()
	defer s.procMu.Unlock()
	select {
	case <-done:
		return
	default:
	}
	s.recording = false
	s.detachRecorder()
	s.log.Info("recording finished", "bytes", s.recorder.BytesWritten())
}

// DisableRecording stops any recording in progress and closes its file.
func (s *Scope) DisableRecording() error {
	if s.recorder == nil {
		return nil
	}

	s.procMu.Lock()
	s.recording = false
	s.detachRecorder()
	if s.recDone != nil {
		close(s.recDone)
		s.recDone = nil
	}
	s.procMu.Unlock()

	return s.recorder.Disable()
}

func (s *Scope) Recording() bool {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.recording
}

// RecordingLimit is closed when the current recording reaches its size
// limit.
func (s *Scope) RecordingLimit() <-chan struct{} {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.LimitReached()
}

func (s *Scope) recordBuffer(mode domain.DeviceMode) (*ring.Buffer, Channel) {
	switch {
	case s.cfg.RecordChannel == CH2:
		return s.ch2, CH2
	case mode == domain.ModeFastAnalog:
		return s.fast, CH1
	}
	return s.ch1, CH1
}

// attachRecorder points the recorder at the buffer carrying the record
// channel in mode. Caller holds procMu.
func (s *Scope) attachRecorder(mode domain.DeviceMode) {
	s.detachRecorder()

	target, ch := s.recordBuffer(mode)
	fs := fullScale(mode, ch)
	settings := s.settings(ch)
	cc := s.channelConfig(ch)
	target.AttachRecorder(s.recorder, func(v int16) float64 {
		return convert.ToVoltage(v, fs, cc.Load().AC, settings.Load())
	})
}

func (s *Scope) detachRecorder() {
	for _, b := range []*ring.Buffer{s.ch1, s.ch2, s.fast} {
		b.AttachRecorder(nil, nil)
	}
}
