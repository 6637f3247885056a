// Package openai adapts the OpenAI transcription and chat completion APIs to
// the scoring pipeline's Transcriber and Grader.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/scoring"
	"github.com/okian/roastboard/pkg/logger"
)

const (
	defaultTranscriptionModel = goopenai.Whisper1
	defaultLanguage           = "en"
	defaultGradingModel       = goopenai.GPT4TurboPreview
	defaultTemperature        = 0.7
)

// ErrNoChoices is returned when a chat completion carries no choices.
var ErrNoChoices = errors.New("openai: completion returned no choices")

// Client implements scoring.Transcriber and scoring.Grader.
type Client struct {
	api                *goopenai.Client
	transcriptionModel string
	language           string
	gradingModel       string
	temperature        float32
	log                logger.Logger
}

var (
	_ scoring.Transcriber = (*Client)(nil)
	_ scoring.Grader      = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithTranscriptionModel sets the speech-to-text model. Empty keeps the default.
func WithTranscriptionModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.transcriptionModel = m
		}
	}
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithGradingModel sets the chat model used for grading.
func WithGradingModel(m string) Option {
	return func(c *Client) {
		if m != "" {
			c.gradingModel = m
		}
	}
}

// WithTemperature sets the sampling temperature for grading. Values outside [0, 2] are ignored.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		if t >= 0 && t <= 2 {
			c.temperature = float32(t)
		}
	}
}

// WithLogger sets the client logger. Nil is ignored.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a client for apiKey. An empty baseURL uses the public API.
func New(apiKey, baseURL string, opts ...Option) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	c := &Client{
		api:                goopenai.NewClientWithConfig(cfg),
		transcriptionModel: defaultTranscriptionModel,
		language:           defaultLanguage,
		gradingModel:       defaultGradingModel,
		temperature:        defaultTemperature,
		log:                logger.Get().Named("openai"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe uploads audio as a multipart file named after its format.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format model.AudioFormat) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.transcriptionModel,
		FilePath: "audio." + string(format),
		Reader:   bytes.NewReader(audio),
		Language: c.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	c.log.Debug(ctx, "transcription received", logger.Int("chars", len(resp.Text)))
	return resp.Text, nil
}

// Grade asks the grading model for a JSON object with score and roast.
func (c *Client) Grade(ctx context.Context, transcript string) (scoring.Grade, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.gradingModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: scoring.RubricPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: scoring.UserPrompt(transcript)},
		},
		Temperature: c.temperature,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return scoring.Grade{}, fmt.Errorf("grading: %w", err)
	}
	if len(resp.Choices) == 0 {
		return scoring.Grade{}, ErrNoChoices
	}
	return scoring.ParseGrade(resp.Choices[0].Message.Content)
}
