// Package chat defines the Completer interface for conversational backends.
//
// A completer is the general-purpose fallback brain: given a bounded
// conversation history it returns one assistant reply. It is intentionally
// narrower than a full LLM abstraction — no tools, no streaming — because
// the pipeline synthesizes the whole reply to audio before emitting it.
package chat

import "context"

// Role tags a history message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of the conversation history.
type Message struct {
	Role    Role
	Content string
}

// Completer is the abstraction over any chat-completion backend.
//
// Implementations must be safe for concurrent use and must not retry
// internally. Failures are returned as a *provider.ServiceError.
type Completer interface {
	// Complete returns the assistant reply for the given ordered history.
	// The last message is expected to be the current user turn.
	Complete(ctx context.Context, history []Message) (string, error)
}
