package agentforce

import "fmt"

// AuthError indicates the org rejected our credentials or token. The
// credentials themselves never appear in the message.
type AuthError struct {
	// Step names the protocol step that failed ("authenticate",
	// "open_session", "send_message").
	Step string

	// Status is the HTTP status code, when one was received.
	Status int

	// Reason is a short description safe to log and return to clients.
	Reason string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("agentforce %s: auth failed (HTTP %d): %s", e.Step, e.Status, e.Reason)
	}
	return fmt.Sprintf("agentforce %s: auth failed: %s", e.Step, e.Reason)
}

// ProtocolError indicates the API answered in a way the client cannot use:
// an unexpected status code or an unparseable body.
type ProtocolError struct {
	Step   string
	Status int
	Reason string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("agentforce %s: protocol error (HTTP %d): %s", e.Step, e.Status, e.Reason)
	}
	return fmt.Sprintf("agentforce %s: protocol error: %s", e.Step, e.Reason)
}
