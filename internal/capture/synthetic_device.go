package capture

import (
	"context"
	"io"
	"math"
	"time"
)

// SyntheticDevice generates a sine tone instead of reading a microphone.
// It backs the mock capture mode and tests.
type SyntheticDevice struct {
	Frequency float64
	// Amplitude is a fraction of full scale in (0, 1].
	Amplitude float64
	// Realtime paces reads so a capture takes as long as its duration.
	Realtime bool
	// Shortfall ends the stream this many frames before the requested count.
	Shortfall int
}

func (d *SyntheticDevice) Open(ctx context.Context, p Params) (Stream, error) {
	total := p.Frames - d.Shortfall
	if total < 0 {
		total = 0
	}
	freq := d.Frequency
	if freq <= 0 {
		freq = 440
	}
	amp := d.Amplitude
	if amp <= 0 || amp > 1 {
		amp = 0.3
	}
	return &toneStream{
		ctx:      ctx,
		rate:     p.SampleRate,
		total:    total,
		step:     2 * math.Pi * freq / float64(p.SampleRate),
		peak:     amp * math.MaxInt16,
		realtime: d.Realtime,
	}, nil
}

type toneStream struct {
	ctx      context.Context
	rate     int
	total    int
	produced int
	step     float64
	peak     float64
	realtime bool
}

func (s *toneStream) Read(buf []int16) (int, error) {
	remaining := s.total - s.produced
	if remaining <= 0 {
		return 0, io.EOF
	}
	n := len(buf)
	if n > remaining {
		n = remaining
	}
	if s.realtime {
		if n > readChunkFrames {
			n = readChunkFrames
		}
		wait := time.Duration(n) * time.Second / time.Duration(s.rate)
		select {
		case <-s.ctx.Done():
			return 0, s.ctx.Err()
		case <-time.After(wait):
		}
	}
	for i := 0; i < n; i++ {
		buf[i] = int16(s.peak * math.Sin(s.step*float64(s.produced+i)))
	}
	s.produced += n
	return n, nil
}

func (s *toneStream) Close() error { return nil }
