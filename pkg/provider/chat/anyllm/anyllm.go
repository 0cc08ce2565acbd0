// Package anyllm provides a chat Completer backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// local llama.cpp/llamafile servers.
//
// Usage:
//
//	c, err := anyllm.New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-..."))
//	reply, err := c.Complete(ctx, history)
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/arven-dev/voicebridge/pkg/provider"
	"github.com/arven-dev/voicebridge/pkg/provider/chat"
)

// defaultMaxTokens caps reply length. Replies are spoken aloud, so short
// conversational answers are the point.
const defaultMaxTokens = 150

// Compile-time assertion that Completer implements chat.Completer.
var _ chat.Completer = (*Completer)(nil)

// Completer implements chat.Completer by wrapping any-llm-go.
type Completer struct {
	backend      anyllmlib.Provider
	providerName string
	model        string
	maxTokens    int
}

// Option is a functional option for configuring a Completer.
type Option func(*Completer)

// WithMaxTokens caps the completion length in tokens. Defaults to 150.
func WithMaxTokens(n int) Option {
	return func(c *Completer) { c.maxTokens = n }
}

// New creates a Completer backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// specific model (e.g., "gpt-4o"). libOpts are any-llm-go configuration
// options (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL); without an API key
// option the backend falls back to its conventional environment variable.
func New(providerName, model string, libOpts []anyllmlib.Option, opts ...Option) (*Completer, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, libOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	c := &Completer{
		backend:      backend,
		providerName: providerName,
		model:        model,
		maxTokens:    defaultMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Complete implements chat.Completer.
func (c *Completer) Complete(ctx context.Context, history []chat.Message) (string, error) {
	if len(history) == 0 {
		return "", provider.Errorf(c.name(), provider.KindProtocol, "history must not be empty")
	}

	messages := make([]anyllmlib.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, anyllmlib.Message{
			Role:    convertRole(m.Role),
			Content: m.Content,
		})
	}

	maxTokens := c.maxTokens
	resp, err := c.backend.Completion(ctx, anyllmlib.CompletionParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return "", provider.Errorf(c.name(), provider.KindTransport, "completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", provider.Errorf(c.name(), provider.KindProtocol, "empty choices in response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if reply == "" {
		return "", provider.Errorf(c.name(), provider.KindProtocol, "empty reply content")
	}
	return reply, nil
}

// convertRole maps a chat.Role onto the any-llm-go role constants.
func convertRole(r chat.Role) string {
	switch r {
	case chat.RoleSystem:
		return anyllmlib.RoleSystem
	case chat.RoleAssistant:
		return anyllmlib.RoleAssistant
	default:
		return anyllmlib.RoleUser
	}
}

// name is the provider label used in error wrapping.
func (c *Completer) name() string {
	return "anyllm-" + c.providerName
}

// String identifies the client in logs and diagnostics.
func (c *Completer) String() string {
	return fmt.Sprintf("anyllm(%s/%s)", c.providerName, c.model)
}
