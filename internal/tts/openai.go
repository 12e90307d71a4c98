package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tahcohcat/voiceforge/config"
	"github.com/tahcohcat/voiceforge/internal/logger"
)

const (
	defaultURL    = "https://api.openai.com/v1/audio/speech"
	defaultModel  = "gpt-4o-mini-tts"
	defaultFormat = "mp3"

	fallbackMessage = "TTS request failed."
)

// OpenAI forwards synthesis requests to the OpenAI speech endpoint using the
// caller's own credential.
type OpenAI struct {
	url        string
	model      string
	format     string
	logger     *logger.Log
	httpClient *http.Client
}

type speechRequest struct {
	Model  string  `json:"model"`
	Input  string  `json:"input"`
	Voice  string  `json:"voice"`
	Format string  `json:"format"`
	Speed  float64 `json:"speed"`
}

// UpstreamError is a non-success answer from the provider.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message())
}

// Message is the text surfaced to callers: the provider's body, or a generic
// fallback when the body is empty.
func (e *UpstreamError) Message() string {
	if msg := strings.TrimSpace(e.Body); msg != "" {
		return msg
	}
	return fallbackMessage
}

// NewOpenAI builds the synthesizer. A nil httpClient means a client with the
// transport defaults and no timeout override.
func NewOpenAI(cfg config.UpstreamConfig, httpClient *http.Client, log *logger.Log) *OpenAI {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Format == "" {
		cfg.Format = defaultFormat
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = logger.New()
	}

	return &OpenAI{
		url:        cfg.URL,
		model:      cfg.Model,
		format:     cfg.Format,
		logger:     log.Named("tts"),
		httpClient: httpClient,
	}
}

// Synthesize sends exactly one request upstream. On success the caller owns
// the returned body and must close it.
func (o *OpenAI) Synthesize(ctx context.Context, credential string, req Request) (*Audio, error) {
	body, err := json.Marshal(speechRequest{
		Model:  o.model,
		Input:  req.Text,
		Voice:  req.Voice,
		Format: o.format,
		Speed:  req.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	o.logger.Debug("forwarding synthesis request",
		zap.String("model", o.model),
		zap.String("voice", req.Voice),
		zap.Float64("speed", req.Speed),
		zap.Int("text_length", len(req.Text)))

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return &Audio{
		Body:        resp.Body,
		ContentType: "audio/mpeg",
	}, nil
}
