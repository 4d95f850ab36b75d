// Package capture turns a timed microphone session into a mono 16-bit PCM
// WAV file on disk.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

// State is a step of a single capture call.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateFlushing  State = "flushing"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// frameTolerance is how many frames a device may come up short at EOF.
const frameTolerance = 1

// Pipeline records from a Device and writes the result as a WAV artifact.
// It holds no per-capture state and may be reused, but captures against
// the same device must not overlap.
type Pipeline struct {
	device     Device
	sampleRate int
	observe    func(State, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSampleRate overrides DefaultSampleRate.
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) { p.sampleRate = rate }
}

// WithObserver registers fn to be called on every state transition. err is
// the cause when the state is StateFailed and nil otherwise.
func WithObserver(fn func(st State, err error)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

func New(device Device, opts ...Option) *Pipeline {
	p := &Pipeline{device: device, sampleRate: DefaultSampleRate}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SampleRate reports the rate written into every artifact.
func (p *Pipeline) SampleRate() int { return p.sampleRate }

// Capture records for duration and writes the artifact to path. It blocks
// for the whole capture. On failure nothing is left at path.
func (p *Pipeline) Capture(ctx context.Context, path string, duration time.Duration) error {
	p.transition(StateIdle, nil)
	if err := p.validate(path, duration); err != nil {
		return p.fail(err)
	}

	// Fail before holding the device for the whole duration.
	if err := checkDir(filepath.Dir(path)); err != nil {
		return p.fail(&Error{Kind: ErrWriteFailure, Path: path, Err: err})
	}

	session := newSession(duration, p.sampleRate)
	p.transition(StateRecording, nil)
	if err := p.record(ctx, session); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return p.fail(&Error{Kind: ctxErr, Path: path})
		}
		return p.fail(&Error{Kind: ErrDeviceUnavailable, Path: path, Err: err})
	}

	p.transition(StateFlushing, nil)
	if err := writeArtifact(path, session); err != nil {
		return p.fail(&Error{Kind: ErrWriteFailure, Path: path, Err: err})
	}
	p.transition(StateDone, nil)
	return nil
}

func (p *Pipeline) validate(path string, duration time.Duration) error {
	switch {
	case path == "":
		return errors.New("capture: path must not be empty")
	case duration <= 0:
		return fmt.Errorf("capture: duration must be positive, got %s", duration)
	case p.sampleRate <= 0:
		return fmt.Errorf("capture: sample rate must be positive, got %d", p.sampleRate)
	case p.device == nil:
		return &Error{Kind: ErrDeviceUnavailable, Path: path, Err: errors.New("no device configured")}
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, s *Session) error {
	stream, err := p.device.Open(ctx, s.params())
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	// Samples are fully buffered by the time Close runs; a close error
	// cannot invalidate them.
	defer stream.Close()

	filled := 0
	for filled < len(s.Samples) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := stream.Read(s.Samples[filled:])
		filled += n
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			short := len(s.Samples) - filled
			if short <= frameTolerance {
				s.Samples = s.Samples[:filled]
				return nil
			}
			return fmt.Errorf("device ended %d frames early", short)
		}
		return fmt.Errorf("read device: %w", err)
	}
	return nil
}

func (p *Pipeline) transition(st State, err error) {
	if p.observe != nil {
		p.observe(st, err)
	}
}

func (p *Pipeline) fail(err error) error {
	p.transition(StateFailed, err)
	return err
}

func checkDir(dir string) error {
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// writeArtifact writes to a temp file beside path and renames it into
// place only after a complete flush.
func writeArtifact(path string, s *Session) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			_ = tmp.Close()
		}
		_ = os.Remove(tmpName)
	}()

	if err = wavfile.Write(tmp, s.Samples, s.SampleRate); err != nil {
		return err
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
