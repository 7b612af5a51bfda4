// ABOUTME: Replays raw instrument frames from a capture file
// ABOUTME: Reads whole packets at a fixed device mode until the stream ends
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/harper/labscope/internal/domain"
)

type ReaderConfig struct {
	Mode           domain.DeviceMode
	PacketsPerRead int
	Interval       time.Duration
}

type Reader struct {
	cfg    ReaderConfig
	r      io.ReadCloser
	buf    []byte
	ticker *time.Ticker
}

func NewReader(r io.ReadCloser, cfg ReaderConfig) *Reader {
	if cfg.PacketsPerRead < 1 {
		cfg.PacketsPerRead = 1
	}
	rd := &Reader{
		cfg: cfg,
		r:   r,
		buf: make([]byte, cfg.PacketsPerRead*domain.PacketBytes),
	}
	if cfg.Interval > 0 {
		rd.ticker = time.NewTicker(cfg.Interval)
	}
	return rd
}

func OpenFile(path string, cfg ReaderConfig) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return NewReader(f, cfg), nil
}

// ReadFrame returns the next run of whole packets. A trailing partial packet
// is dropped and io.EOF is returned once no whole packet remains.
func (rd *Reader) ReadFrame(ctx context.Context) (domain.Frame, error) {
	if rd.ticker != nil {
		select {
		case <-ctx.Done():
			return domain.Frame{}, ctx.Err()
		case <-rd.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}

	n, err := io.ReadFull(rd.r, rd.buf)
	n -= n % domain.PacketBytes
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return domain.Frame{}, fmt.Errorf("read capture: %w", err)
	}
	if n == 0 {
		return domain.Frame{}, io.EOF
	}

	data := make([]byte, n)
	copy(data, rd.buf[:n])
	return domain.Frame{Mode: rd.cfg.Mode, Data: data}, nil
}

func (rd *Reader) Close() error {
	if rd.ticker != nil {
		rd.ticker.Stop()
	}
	return rd.r.Close()
}
