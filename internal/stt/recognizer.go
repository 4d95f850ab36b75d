package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Result is the recognizer output for one audio file.
type Result struct {
	Language string
	Text     string
}

// Recognizer abstracts STT backends. Implementations read the file at
// path and never modify or delete it.
type Recognizer interface {
	Transcribe(ctx context.Context, path string) (Result, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockRecognizer(cfg.Language), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "openai":
		return NewOpenAIRecognizer(cfg)
	case "whisper":
		return NewWhisperRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
