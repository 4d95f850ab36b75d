package capture

import (
	"math"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

// DefaultSampleRate is used when a pipeline is built without WithSampleRate.
const DefaultSampleRate = 44100

// Params is what a device is asked to deliver for one capture.
type Params struct {
	SampleRate  int
	Channels    int
	SampleWidth int
	Frames      int
}

// Seconds is the capture length implied by Frames and SampleRate.
func (p Params) Seconds() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Frames) / float64(p.SampleRate)
}

// Session holds the samples of a single capture call.
type Session struct {
	Duration   time.Duration
	SampleRate int
	Samples    []int16
}

func newSession(d time.Duration, sampleRate int) *Session {
	return &Session{
		Duration:   d,
		SampleRate: sampleRate,
		Samples:    make([]int16, Frames(d, sampleRate)),
	}
}

func (s *Session) params() Params {
	return Params{
		SampleRate:  s.SampleRate,
		Channels:    wavfile.Channels,
		SampleWidth: wavfile.SampleWidth,
		Frames:      len(s.Samples),
	}
}

// Frames converts a duration to a frame count, rounding half away from zero.
func Frames(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(sampleRate)))
}
