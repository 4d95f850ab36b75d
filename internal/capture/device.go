package capture

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Device is an audio input that can be opened for one capture at a time.
type Device interface {
	Open(ctx context.Context, p Params) (Stream, error)
}

// DeviceFunc adapts a plain function to Device.
type DeviceFunc func(ctx context.Context, p Params) (Stream, error)

func (f DeviceFunc) Open(ctx context.Context, p Params) (Stream, error) { return f(ctx, p) }

// Stream delivers mono signed 16-bit samples. Read returns io.EOF once the
// device has nothing more to give.
type Stream interface {
	Read(buf []int16) (int, error)
	Close() error
}

// NewDevice builds the input device selected by cfg.Device.
func NewDevice(cfg config.CaptureConfig) (Device, error) {
	switch cfg.Device {
	case "exec":
		return NewExecDevice(cfg.Command)
	case "synthetic":
		return &SyntheticDevice{Frequency: cfg.ToneHz, Amplitude: 0.3, Realtime: true}, nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", cfg.Device)
	}
}
