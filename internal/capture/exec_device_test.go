package capture

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

func TestExecDeviceSubstitutesPlaceholders(t *testing.T) {
	dev, err := NewExecDevice(`ffmpeg -f pulse -i default -ac {channels} -ar {sample_rate} -t {seconds} -f s16le pipe:1`)
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	args := dev.args(Params{SampleRate: 16000, Channels: 1, SampleWidth: 2, Frames: 24000})
	want := []string{"ffmpeg", "-f", "pulse", "-i", "default", "-ac", "1", "-ar", "16000", "-t", "1.5", "-f", "s16le", "pipe:1"}
	if len(args) != len(want) {
		t.Fatalf("expected %v, got %v", want, args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: expected %q, got %q", i, want[i], args[i])
		}
	}
}

func TestExecDeviceRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecDevice("   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecDeviceCapturesFromCommand(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	dev, err := NewExecDevice("cat /dev/zero")
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	path := filepath.Join(t.TempDir(), "zero.wav")
	p := New(dev, WithSampleRate(8000))
	if err := p.Capture(context.Background(), path, 250*time.Millisecond); err != nil {
		t.Fatalf("capture: %v", err)
	}
	info, err := wavfile.Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Frames != 2000 {
		t.Fatalf("expected 2000 frames, got %d", info.Frames)
	}
}

func TestExecDeviceMissingBinary(t *testing.T) {
	dev, err := NewExecDevice("scribe-test-no-such-recorder -r {sample_rate}")
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	err = New(dev).Capture(context.Background(), path, time.Second)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	assertNoArtifact(t, dir, path)
}

func TestExecDeviceCommandExitsEarly(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dev, err := NewExecDevice(`sh -c "echo no capture card >&2; exit 3"`)
	if err != nil {
		t.Fatalf("new device: %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	err = New(dev).Capture(context.Background(), path, time.Second)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	assertNoArtifact(t, dir, path)
}

func TestNewDeviceSelectsByConfig(t *testing.T) {
	cfg := config.Default().Capture
	dev, err := NewDevice(cfg)
	if err != nil {
		t.Fatalf("exec device: %v", err)
	}
	if _, ok := dev.(*ExecDevice); !ok {
		t.Fatalf("expected *ExecDevice, got %T", dev)
	}

	cfg.Device = "synthetic"
	dev, err = NewDevice(cfg)
	if err != nil {
		t.Fatalf("synthetic device: %v", err)
	}
	if _, ok := dev.(*SyntheticDevice); !ok {
		t.Fatalf("expected *SyntheticDevice, got %T", dev)
	}

	cfg.Device = "bluetooth"
	if _, err := NewDevice(cfg); err == nil {
		t.Fatal("expected error for unknown device")
	}
}
