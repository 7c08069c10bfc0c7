// Package openai provides a batch transcriber backed by the OpenAI audio
// transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = string(oai.AudioModelWhisper1)

// Ensure Transcriber implements the stt.Transcriber interface.
var _ stt.Transcriber = (*Transcriber)(nil)

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible servers such as faster-whisper-server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries failed requests. Defaults to
// 0: capture surfaces network failures instead of hiding them behind retries.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI Transcriber. If model is empty, DefaultModel
// (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Transcriber{client: oai.NewClient(reqOpts...), model: oai.AudioModel(model)}, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(clip.Data), clip.Filename(), clip.Container.MIMEType()),
		Model: t.model,
	}
	if lang := isoLanguage(language); lang != "" {
		params.Language = oai.String(lang)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(ctx, err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// classify maps SDK errors onto the stt error taxonomy.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return stt.NewError(stt.KindAborted, "transcription cancelled", ctx.Err())
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return stt.NewError(stt.KindPermission, "openai rejected credentials", err)
		case http.StatusBadRequest, http.StatusUnsupportedMediaType:
			return stt.NewError(stt.KindNotSupported, "openai rejected audio", err)
		}
	}
	return stt.NewError(stt.KindNetwork, "openai transcription failed", err)
}

// isoLanguage reduces a BCP-47 tag to the ISO-639-1 code the API expects.
func isoLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
