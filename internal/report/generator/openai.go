package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/stpericial/stpericial-backend/pkg/config"
	apperrors "github.com/stpericial/stpericial-backend/pkg/errors"
	"github.com/stpericial/stpericial-backend/pkg/logger"
)

// OpenAI drafts text through the chat completions API
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	maxChars    int
	timeout     time.Duration
	log         *logger.Logger
}

// NewOpenAI creates an OpenAI-backed generator. BaseURL may point at any
// compatible endpoint.
func NewOpenAI(cfg config.GeneratorConfig, log *logger.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxChars:    cfg.MaxChars,
		timeout:     timeout,
		log:         log,
	}
}

// Draft sends one chat completion request and returns the first choice
func (g *OpenAI) Draft(ctx context.Context, pc PromptContext) (string, error) {
	if pc.MaxChars <= 0 {
		pc.MaxChars = g.maxChars
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(pc)},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("generation timed out after %s: %w", g.timeout, err)
		}
		return "", apperrors.ServiceError("errors.generation_failed", err)
	}

	g.log.Debug().
		Str("model", g.model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Draft generated")

	if len(resp.Choices) == 0 {
		return "", apperrors.ServiceError("errors.generation_failed", fmt.Errorf("generator returned no choices"))
	}
	return Finish(resp.Choices[0].Message.Content, pc.MaxChars)
}
