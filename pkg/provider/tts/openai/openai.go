// Package openai provides a Synthesizer backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/arven-dev/voicebridge/pkg/provider"
	"github.com/arven-dev/voicebridge/pkg/provider/tts"
)

const (
	defaultModel   = "tts-1"
	defaultVoice   = "alloy"
	defaultTimeout = 15 * time.Second
)

// Compile-time assertion that Synthesizer implements tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the speech model (e.g., "tts-1", "tts-1-hd",
// "gpt-4o-mini-tts"). Defaults to "tts-1".
func WithModel(model string) Option {
	return func(s *Synthesizer) { s.model = model }
}

// WithVoice sets the voice name (e.g., "alloy", "nova"). Defaults to "alloy".
func WithVoice(voice string) Option {
	return func(s *Synthesizer) { s.voice = voice }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(s *Synthesizer) { s.baseURL = url }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.timeout = d }
}

// Synthesizer implements tts.Synthesizer using the OpenAI API. Output is
// MP3, which browsers decode natively.
type Synthesizer struct {
	client  oai.Client
	model   string
	voice   string
	baseURL string
	timeout time.Duration
}

// New constructs a Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("openai-tts: apiKey must not be empty")
	}
	s := &Synthesizer{
		model:   defaultModel,
		voice:   defaultVoice,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: s.timeout}),
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	s.client = oai.NewClient(reqOpts...)
	return s, nil
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, provider.Errorf("openai-tts", provider.KindProtocol, "text must not be empty")
	}

	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		Input:          text,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.Errorf("openai-tts", provider.KindTransport, "read speech body: %w", err)
	}
	if len(audio) == 0 {
		return nil, provider.Errorf("openai-tts", provider.KindProtocol, "empty audio response")
	}
	return audio, nil
}

// classify maps SDK errors onto the shared provider taxonomy.
func classify(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		return provider.NewError("openai-tts", provider.KindForStatus(apierr.StatusCode), err)
	}
	return provider.Errorf("openai-tts", provider.KindTransport, "speech request: %w", err)
}

// String identifies the client in logs and diagnostics.
func (s *Synthesizer) String() string {
	return fmt.Sprintf("openai-tts(%s/%s)", s.model, s.voice)
}
