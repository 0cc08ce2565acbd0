// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A transcriber wraps a hosted transcription service (e.g., the OpenAI
// Whisper API or a local whisper-server) behind a single one-shot call:
// audio bytes in, transcript text out. Streaming recognition is out of
// scope; the pipeline submits one complete utterance per call.
//
// Implementations must be safe for concurrent use and must not retry
// internally — retry and fallback policy belongs to the orchestrator.
package stt

import "context"

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe converts one complete audio blob to text. The audio is an
	// encoded container (WebM, WAV, MP3, ...) exactly as captured by the
	// client; implementations forward it to the service without decoding.
	//
	// An empty string with a nil error is a valid result and means the
	// service heard no speech. Failures are returned as a
	// *provider.ServiceError so callers can classify them.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}
