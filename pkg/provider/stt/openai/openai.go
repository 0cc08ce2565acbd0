// Package openai provides a Transcriber backed by the OpenAI audio
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

	"github.com/arven-dev/voicebridge/pkg/provider"
	"github.com/arven-dev/voicebridge/pkg/provider/stt"
)

const (
	defaultModel   = "whisper-1"
	defaultTimeout = 15 * time.Second

	// uploadName is the filename attached to the multipart upload. The API
	// uses the extension to sniff the container format; browsers record
	// WebM, which Whisper accepts regardless of the declared name.
	uploadName = "audio.webm"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the transcription model (e.g., "whisper-1",
// "gpt-4o-mini-transcribe"). Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the ISO-639-1 language hint (e.g., "en", "de").
// Empty means provider auto-detection.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// proxies and for pointing tests at a local server.
func WithBaseURL(url string) Option {
	return func(t *Transcriber) { t.baseURL = url }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15s.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.timeout = d }
}

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
	baseURL  string
	timeout  time.Duration
}

// New constructs a Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai-stt: apiKey must not be empty")
	}
	t := &Transcriber{
		model:   defaultModel,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(t)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: t.timeout}),
	}
	if t.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(t.baseURL))
	}
	t.client = oai.NewClient(reqOpts...)
	return t, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(audio), uploadName, "application/octet-stream"),
		Model: oai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(res.Text), nil
}

// classify maps SDK errors onto the shared provider taxonomy.
func classify(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return provider.NewError("openai-stt", provider.KindForStatus(apierr.StatusCode), err)
	}
	return provider.Errorf("openai-stt", provider.KindTransport, "transcription request: %w", err)
}

// String identifies the client in logs and diagnostics.
func (t *Transcriber) String() string {
	return fmt.Sprintf("openai-stt(%s)", t.model)
}
