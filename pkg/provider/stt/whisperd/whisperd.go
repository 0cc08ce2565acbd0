// Package whisperd provides a Transcriber backed by a self-hosted
// whisper-server (whisper.cpp) instance.
//
// The server exposes a batch REST API at POST /inference that accepts a
// multipart audio upload and returns the transcript as JSON. This keeps a
// fully local transcription path available without any cgo dependency.
package whisperd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/arven-dev/voicebridge/pkg/provider"
	"github.com/arven-dev/voicebridge/pkg/provider/stt"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 15 * time.Second
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the language code sent to the server (e.g., "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 15s.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcriber) { t.httpClient.Timeout = d }
}

// Transcriber implements stt.Transcriber against a whisper-server REST API.
type Transcriber struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// New creates a Transcriber that talks to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisperd: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// inferenceResponse is the JSON body returned by whisper-server.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe implements stt.Transcriber. The audio blob is forwarded as-is;
// whisper-server handles common container formats itself.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.webm")
	if err != nil {
		return "", provider.Errorf("whisperd", provider.KindProtocol, "build multipart body: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", provider.Errorf("whisperd", provider.KindProtocol, "write audio part: %w", err)
	}
	_ = mw.WriteField("language", t.language)
	_ = mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", provider.Errorf("whisperd", provider.KindProtocol, "finalise multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", &body)
	if err != nil {
		return "", provider.Errorf("whisperd", provider.KindTransport, "build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", provider.Errorf("whisperd", provider.KindTransport, "inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", provider.Errorf("whisperd", provider.KindForStatus(resp.StatusCode),
			"inference returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", provider.Errorf("whisperd", provider.KindProtocol, "decode inference response: %w", err)
	}
	if out.Error != "" {
		return "", provider.Errorf("whisperd", provider.KindProtocol, "server reported: %s", out.Error)
	}
	return strings.TrimSpace(out.Text), nil
}

// String identifies the client in logs and diagnostics.
func (t *Transcriber) String() string {
	return fmt.Sprintf("whisperd(%s)", t.serverURL)
}
