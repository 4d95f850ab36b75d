package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := wavfile.Write(f, make([]int16, 44100*3), 44100); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

func TestInspect(t *testing.T) {
	var out bytes.Buffer
	if err := runInspect([]string{"-file", writeClip(t)}, &out); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"channels:    1", "sample rate: 44100 Hz", "bit depth:   16", "frames:      132300", "duration:    3s"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestTranscribeSavesText(t *testing.T) {
	t.Setenv("SCRIBE_STT_MODE", "mock")
	t.Setenv("SCRIBE_STT_LANGUAGE", "ja")
	transcript := filepath.Join(t.TempDir(), "transcription.txt")

	var out bytes.Buffer
	args := []string{"-file", writeClip(t), "-transcript", transcript, "-env-file", ""}
	if err := runTranscribe(context.Background(), args, &out); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if !strings.HasPrefix(out.String(), "language: ja\n") {
		t.Fatalf("unexpected output %q", out.String())
	}
	saved, err := os.ReadFile(transcript)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(saved), "duration=3s") {
		t.Fatalf("unexpected transcript %q", saved)
	}
}

// recordEnv points the CLI at the synthetic tone and the mock recognizer.
func recordEnv(t *testing.T) (outDir, transcript string) {
	t.Helper()
	t.Setenv("SCRIBE_CAPTURE_DEVICE", "synthetic")
	t.Setenv("SCRIBE_CAPTURE_SAMPLE_RATE", "8000")
	t.Setenv("SCRIBE_STT_MODE", "mock")
	t.Setenv("SCRIBE_STT_LANGUAGE", "ja")
	return t.TempDir(), filepath.Join(t.TempDir(), "transcription.txt")
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRecordRemovesAudioAfterTranscribing(t *testing.T) {
	outDir, transcript := recordEnv(t)

	var out bytes.Buffer
	args := []string{"-duration", "3s", "-out", outDir, "-transcript", transcript, "-env-file", ""}
	if err := runRecord(context.Background(), args, &out); err != nil {
		t.Fatalf("record: %v", err)
	}
	if !strings.HasPrefix(out.String(), "language: ja\n") {
		t.Fatalf("unexpected output %q", out.String())
	}
	saved, err := os.ReadFile(transcript)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(saved), "duration=3s") {
		t.Fatalf("unexpected transcript %q", saved)
	}
	if names := dirNames(t, outDir); len(names) != 0 {
		t.Fatalf("expected audio removed, found %v", names)
	}
}

func TestRecordKeepsAudio(t *testing.T) {
	outDir, transcript := recordEnv(t)

	var out bytes.Buffer
	args := []string{"-duration", "3s", "-out", outDir, "-keep", "-transcript", transcript, "-env-file", ""}
	if err := runRecord(context.Background(), args, &out); err != nil {
		t.Fatalf("record: %v", err)
	}
	names := dirNames(t, outDir)
	if len(names) != 1 || !strings.HasPrefix(names[0], "recording-") || filepath.Ext(names[0]) != ".wav" {
		t.Fatalf("expected one kept recording, found %v", names)
	}
	info, err := wavfile.Inspect(filepath.Join(outDir, names[0]))
	if err != nil {
		t.Fatalf("inspect kept recording: %v", err)
	}
	if info.Channels != 1 || info.SampleRate != 8000 || info.Frames != 24000 {
		t.Fatalf("unexpected kept recording %+v", info)
	}
}

func TestRecordRejectsOutOfRangeDuration(t *testing.T) {
	outDir, transcript := recordEnv(t)

	for _, d := range []string{"1s", "61s"} {
		args := []string{"-duration", d, "-out", outDir, "-transcript", transcript, "-env-file", ""}
		if err := runRecord(context.Background(), args, &bytes.Buffer{}); err == nil {
			t.Fatalf("expected error for duration %s", d)
		}
	}
	if names := dirNames(t, outDir); len(names) != 0 {
		t.Fatalf("expected no audio, found %v", names)
	}
	if _, err := os.Stat(transcript); !os.IsNotExist(err) {
		t.Fatalf("expected no transcript, got %v", err)
	}
}

func TestRecordMissingRecorder(t *testing.T) {
	outDir, transcript := recordEnv(t)
	t.Setenv("SCRIBE_CAPTURE_DEVICE", "exec")
	t.Setenv("SCRIBE_CAPTURE_COMMAND", "scribe-test-no-such-recorder -r {sample_rate}")

	args := []string{"-duration", "3s", "-out", outDir, "-transcript", transcript, "-env-file", ""}
	err := runRecord(context.Background(), args, &bytes.Buffer{})
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if names := dirNames(t, outDir); len(names) != 0 {
		t.Fatalf("expected no audio, found %v", names)
	}
	if _, err := os.Stat(transcript); !os.IsNotExist(err) {
		t.Fatalf("expected no transcript, got %v", err)
	}
}
