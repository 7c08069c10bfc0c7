// Package remote provides a batch transcriber that uploads recorded clips to
// an HTTP transcription endpoint.
//
// The endpoint contract is a POST of multipart/form-data with the clip in a
// file field named "audio" and an optional "language" field. The response is
// JSON of the form {"text": "..."}; a missing or empty text means nothing was
// recognised, which is reported as an empty string with a nil error.
//
// Usage:
//
//	t, err := remote.New("https://api.example.com/v1/transcribe",
//	    remote.WithAPIKey(os.Getenv("TRANSCRIBE_KEY")),
//	)
//	text, err := t.Transcribe(ctx, clip, "fr")
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/MrWong99/voxreel/pkg/audio"
	"github.com/MrWong99/voxreel/pkg/provider/stt"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithAPIKey sends "Authorization: Bearer <key>" with every request.
func WithAPIKey(key string) Option {
	return func(t *Transcriber) { t.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = c }
}

// WithFieldName overrides the multipart field that carries the clip.
// Defaults to "audio".
func WithFieldName(name string) Option {
	return func(t *Transcriber) { t.field = name }
}

// Transcriber implements stt.Transcriber against a remote HTTP endpoint.
type Transcriber struct {
	endpoint   string
	apiKey     string
	field      string
	httpClient *http.Client
}

// New creates a Transcriber posting to endpoint, which must be non-empty.
func New(endpoint string, opts ...Option) (*Transcriber, error) {
	if endpoint == "" {
		return nil, errors.New("remote: endpoint must not be empty")
	}
	t := &Transcriber{
		endpoint:   endpoint,
		field:      "audio",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe uploads clip and returns the recognised text. Transport failures
// and non-2xx responses are reported as [stt.KindNetwork] errors; a 401/403
// response is reported as [stt.KindPermission] since retrying cannot help.
func (t *Transcriber) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	body, contentType, err := t.encode(clip, language)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", stt.NewError(stt.KindAborted, "transcription cancelled", ctx.Err())
		}
		return "", stt.NewError(stt.KindNetwork, "transcription request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", stt.NewError(stt.KindPermission,
			fmt.Sprintf("transcription endpoint returned HTTP %d", resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", stt.NewError(stt.KindNetwork,
			fmt.Sprintf("transcription endpoint returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)), nil)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		return "", stt.NewError(stt.KindNetwork, "malformed transcription response", err)
	}
	return result.Text, nil
}

// encode builds the multipart request body.
func (t *Transcriber) encode(clip audio.Clip, language string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, t.field, clip.Filename()))
	h.Set("Content-Type", clip.Container.MIMEType())
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("remote: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return nil, "", fmt.Errorf("remote: write audio data: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return nil, "", fmt.Errorf("remote: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("remote: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
