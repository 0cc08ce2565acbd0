package pipeline

import "github.com/arven-dev/voicebridge/pkg/provider/chat"

// defaultMaxTurns bounds the conversation history fed to the chat fallback.
// One turn is one user message plus one assistant reply.
const defaultMaxTurns = 20

// history is the per-connection conversation log. It keeps an optional
// system prompt pinned at index 0 and trims the oldest turns once the cap is
// reached. Not safe for concurrent use; the connection's reader goroutine is
// the only caller.
type history struct {
	messages []chat.Message
	maxTurns int
	pinned   int
}

func newHistory(systemPrompt string, maxTurns int) *history {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	h := &history{maxTurns: maxTurns}
	if systemPrompt != "" {
		h.messages = append(h.messages, chat.Message{Role: chat.RoleSystem, Content: systemPrompt})
		h.pinned = 1
	}
	return h
}

// withUser returns the history plus the current user turn, ready to hand to
// a [chat.Completer]. The returned slice must not be retained.
func (h *history) withUser(text string) []chat.Message {
	out := make([]chat.Message, 0, len(h.messages)+1)
	out = append(out, h.messages...)
	return append(out, chat.Message{Role: chat.RoleUser, Content: text})
}

// append records one completed turn and trims oldest-first past the cap.
func (h *history) append(user, assistant string) {
	h.messages = append(h.messages,
		chat.Message{Role: chat.RoleUser, Content: user},
		chat.Message{Role: chat.RoleAssistant, Content: assistant},
	)
	if turns := (len(h.messages) - h.pinned) / 2; turns > h.maxTurns {
		drop := (turns - h.maxTurns) * 2
		h.messages = append(h.messages[:h.pinned], h.messages[h.pinned+drop:]...)
	}
}

// len reports the number of stored messages, excluding the system prompt.
func (h *history) len() int {
	return len(h.messages) - h.pinned
}
