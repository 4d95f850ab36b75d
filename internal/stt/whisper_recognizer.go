//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

type whisperRecognizer struct {
	model    whisper.Model
	language string
	mu       sync.Mutex
}

// NewWhisperRecognizer loads a ggml model through the whisper.cpp bindings.
// The model is loaded once; Close releases it.
func NewWhisperRecognizer(cfg config.STTConfig) (Recognizer, error) {
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %q: %w", cfg.ModelPath, err)
	}
	return &whisperRecognizer{model: model, language: cfg.Language}, nil
}

func (r *whisperRecognizer) Close() error {
	return r.model.Close()
}

func (r *whisperRecognizer) Transcribe(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	info, samples, err := wavfile.Read(f)
	f.Close()
	if err != nil {
		return Result{}, fmt.Errorf("whisper input: %w", err)
	}
	pcm := resample(downmix(pcmToFloat(samples), info.Channels), info.SampleRate, whisperSampleRate)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	wctx, err := r.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("whisper context: %w", err)
	}
	lang := r.language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("whisper language %q: %w", lang, err)
	}
	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper process: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("whisper segment: %w", err)
		}
		segments = append(segments, strings.TrimSpace(seg.Text))
	}
	return Result{
		Language: languageCode(wctx.DetectedLanguage()),
		Text:     strings.TrimSpace(strings.Join(segments, " ")),
	}, nil
}
