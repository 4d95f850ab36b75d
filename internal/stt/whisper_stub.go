//go:build !whisper

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// NewWhisperRecognizer reports that the binary was built without cgo
// whisper.cpp support.
func NewWhisperRecognizer(config.STTConfig) (Recognizer, error) {
	return nil, errors.New("whisper backend not compiled in; rebuild with -tags whisper")
}
