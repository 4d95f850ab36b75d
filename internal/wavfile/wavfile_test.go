package wavfile

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, samples []int16, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := Write(f, samples, rate); err != nil {
		f.Close()
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func TestRoundTripPreservesSamples(t *testing.T) {
	samples := []int16{0, 1, -1, 1234, -1234, math.MaxInt16, math.MinInt16, 42}
	path := writeTemp(t, samples, 44100)

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	info, got, err := Read(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if info.Channels != 1 || info.BitsPerSample != 16 || info.SampleRate != 44100 {
		t.Fatalf("unexpected header %+v", info)
	}
	if info.Frames != len(samples) {
		t.Fatalf("expected %d frames, got %d", len(samples), info.Frames)
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestCanonicalHeaderLayout(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}
	path := writeTemp(t, samples, 16000)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if len(raw) != 44+len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", 44+len(samples)*2, len(raw))
	}
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" || string(raw[12:16]) != "fmt " {
		t.Fatalf("bad chunk ids: %q %q %q", raw[0:4], raw[8:12], raw[12:16])
	}
	le := binary.LittleEndian
	if got := le.Uint32(raw[4:8]); got != uint32(len(raw)-8) {
		t.Fatalf("riff size %d, expected %d", got, len(raw)-8)
	}
	if got := le.Uint16(raw[20:22]); got != 1 {
		t.Fatalf("audio format %d, expected PCM", got)
	}
	if got := le.Uint16(raw[22:24]); got != 1 {
		t.Fatalf("channels %d", got)
	}
	if got := le.Uint32(raw[24:28]); got != 16000 {
		t.Fatalf("sample rate %d", got)
	}
	if got := le.Uint32(raw[28:32]); got != 16000*2 {
		t.Fatalf("byte rate %d", got)
	}
	if got := le.Uint16(raw[32:34]); got != 2 {
		t.Fatalf("block align %d", got)
	}
	if got := le.Uint16(raw[34:36]); got != 16 {
		t.Fatalf("bits per sample %d", got)
	}
	if string(raw[36:40]) != "data" {
		t.Fatalf("expected data chunk, got %q", raw[36:40])
	}
	if got := le.Uint32(raw[40:44]); got != uint32(len(samples)*2) {
		t.Fatalf("data size %d", got)
	}
	for i, s := range samples {
		if got := int16(le.Uint16(raw[44+i*2:])); got != s {
			t.Fatalf("body sample %d: expected %d, got %d", i, s, got)
		}
	}
}

func TestInspect(t *testing.T) {
	path := writeTemp(t, make([]int16, 22050), 44100)
	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Frames != 22050 {
		t.Fatalf("expected 22050 frames, got %d", info.Frames)
	}
	if info.Duration() != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %s", info.Duration())
	}
}

func TestInspectRejectsNonWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.wav")
	if err := os.WriteFile(path, []byte("this is not a riff container at all, just text"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Inspect(path); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestWriteRejectsBadRate(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := Write(f, []int16{1}, 0); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}
