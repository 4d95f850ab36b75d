package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/sashabaranov/go-openai"
)

type openAIRecognizer struct {
	client   *openai.Client
	model    string
	language string
}

// NewOpenAIRecognizer transcribes through the OpenAI audio API, or any
// server that speaks it when cfg.Endpoint is set.
func NewOpenAIRecognizer(cfg config.STTConfig) (Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is empty")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{
		client:   openai.NewClientWithConfig(clientCfg),
		model:    model,
		language: cfg.Language,
	}, nil
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, path string) (Result, error) {
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: path,
		Language: r.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("openai transcription: %w", err)
	}
	lang := resp.Language
	if lang == "" {
		lang = r.language
	}
	return Result{Language: languageCode(lang), Text: strings.TrimSpace(resp.Text)}, nil
}
