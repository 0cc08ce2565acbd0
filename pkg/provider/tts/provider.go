// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// A synthesizer wraps a speech synthesis service behind a single one-shot
// call: reply text in, encoded audio bytes out. The pipeline base64-encodes
// the result for transport; implementations return the provider's native
// container (MP3 by default) untouched.
//
// Implementations must be safe for concurrent use and must not retry
// internally.
package tts

import "context"

// Synthesizer is the abstraction over any text-to-speech backend.
type Synthesizer interface {
	// Synthesize converts text to spoken audio. The returned bytes are a
	// complete encoded audio file ready for browser playback. Failures are
	// returned as a *provider.ServiceError.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
