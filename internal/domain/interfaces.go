// ABOUTME: Domain interfaces and shared types for dependency inversion
// ABOUTME: Lets the scope depend on a frame source abstraction, not a transport
package domain

import (
	"context"
	"fmt"
)

// DeviceMode selects how the instrument packs its isochronous frames.
type DeviceMode int

const (
	ModeCH1Analog           DeviceMode = 0
	ModeCH1AnalogCH2Digital DeviceMode = 1
	ModeDualAnalog          DeviceMode = 2
	ModeCH1Digital          DeviceMode = 3
	ModeDualDigital         DeviceMode = 4
	ModeGeneratorOnly       DeviceMode = 5
	ModeFastAnalog          DeviceMode = 6
	ModeMultimeter          DeviceMode = 7
)

func (m DeviceMode) Valid() bool {
	return m >= ModeCH1Analog && m <= ModeMultimeter
}

func (m DeviceMode) String() string {
	switch m {
	case ModeCH1Analog:
		return "ch1-analog"
	case ModeCH1AnalogCH2Digital:
		return "ch1-analog+ch2-digital"
	case ModeDualAnalog:
		return "dual-analog"
	case ModeCH1Digital:
		return "ch1-digital"
	case ModeDualDigital:
		return "dual-digital"
	case ModeGeneratorOnly:
		return "generator-only"
	case ModeFastAnalog:
		return "fast-analog"
	case ModeMultimeter:
		return "multimeter"
	}
	return fmt.Sprintf("DeviceMode(%d)", int(m))
}

// Frame layout. One packet covers one millisecond.
const (
	PacketBytes      = 750
	HalfPacket       = PacketBytes / 2
	MultimeterShorts = PacketBytes / 2
	// MultimeterValid is the number of usable 16-bit words per packet.
	MultimeterValid = MultimeterShorts - 1
)

// Frame is one transfer of whole packets captured in a single device mode.
type Frame struct {
	Mode DeviceMode
	Data []byte
}

// Packets returns the number of whole packets in the frame.
func (f Frame) Packets() int {
	return len(f.Data) / PacketBytes
}

// FrameSource delivers raw frames from the instrument or a stand-in for it.
type FrameSource interface {
	ReadFrame(ctx context.Context) (Frame, error)
}
