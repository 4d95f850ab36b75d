package stt

import (
	"context"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-scribe/internal/wavfile"
)

type mockRecognizer struct {
	language string
}

func NewMockRecognizer(language string) Recognizer {
	if language == "" {
		language = "en"
	}
	return &mockRecognizer{language: language}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, path string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	info, err := wavfile.Inspect(path)
	if err == nil {
		return Result{
			Language: m.language,
			Text:     fmt.Sprintf("[transcript duration=%s rate=%d]", info.Duration(), info.SampleRate),
		}, nil
	}
	fi, statErr := os.Stat(path)
	if statErr != nil {
		return Result{}, statErr
	}
	return Result{Language: m.language, Text: fmt.Sprintf("[transcript bytes=%d]", fi.Size())}, nil
}
