// Package llmservice wraps chat completion behind a small interface so the
// answer pipeline can run against a live model or a canned one.
package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"study-rag/internal/config"
	"study-rag/internal/models"
)

// Generator produces one assistant reply for a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// LLM is a Generator backed by a langchaingo chat model.
type LLM struct {
	model       llms.Model
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// New builds an LLM from cfg. Supported providers are openai, openrouter
// (OpenAI-compatible API) and ollama.
func New(cfg config.LLMConfig) (*LLM, error) {
	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key(), "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("llmservice: unknown provider %q: %w", cfg.Provider, models.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	return &LLM{
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     time.Duration(cfg.TimeoutSecs) * time.Second,
	}, nil
}

// Generate runs one chat completion and returns the first choice's text.
func (l *LLM) Generate(ctx context.Context, messages []llms.MessageContent) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	log.Debug().Int("messages", len(messages)).Float64("temperature", l.temperature).Msg("generating content")

	opts := []llms.CallOption{llms.WithTemperature(l.temperature)}
	if l.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(l.maxTokens))
	}
	res, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("llmservice: model returned no choices")
	}
	return res.Choices[0].Content, nil
}

// Static is a Generator that replays a fixed reply. Tests use it in place of
// a live model; Calls keeps every conversation it received.
type Static struct {
	Reply string
	Err   error
	Calls [][]llms.MessageContent
}

func (s *Static) Generate(_ context.Context, messages []llms.MessageContent) (string, error) {
	s.Calls = append(s.Calls, messages)
	if s.Err != nil {
		return "", s.Err
	}
	return s.Reply, nil
}
