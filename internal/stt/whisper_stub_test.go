//go:build !whisper

package stt

import (
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func TestWhisperRequiresBuildTag(t *testing.T) {
	if _, err := New(config.STTConfig{Mode: "whisper", ModelPath: "models/ggml-base.bin"}); err == nil {
		t.Fatal("expected error without the whisper build tag")
	}
}
