package gateway

import (
	"encoding/json"
	"fmt"
)

// Event names on the wire. One JSON object per text frame:
// {"event": <name>, "data": <payload>}.
const (
	// Client → server.
	EventAudioData   = "audio_data"
	EventChatRequest = "chat_request"
	EventStartVAD    = "start_vad"
	EventVADAudio    = "vad_audio"
	EventStopVAD     = "stop_vad"

	// Server → client.
	EventVADSessionCreated = "vad_session_created"
	EventVADResult         = "vad_result"
	EventTranscription     = "transcription"
	EventChatResponse      = "chat_response"
	EventError             = "error"
)

// Envelope is the wire frame around every event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses one inbound frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("gateway: malformed frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("gateway: frame missing event name")
	}
	return env, nil
}

// envelope builds an outbound frame; payload marshalling of our own types
// cannot fail.
func envelope(event string, payload any) Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("gateway: marshal %s payload: %v", event, err))
	}
	return Envelope{Event: event, Data: data}
}

// --- inbound payloads ---

// ChatRequest asks for a text-only turn.
type ChatRequest struct {
	Message string `json:"message"`
}

// VADAudio carries one chunk of a continuous-listening stream.
type VADAudio struct {
	SessionID string `json:"session_id"`
	Audio     string `json:"audio"`
}

// StopVAD cancels a continuous-listening session.
type StopVAD struct {
	SessionID string `json:"session_id"`
}

// --- outbound payloads ---

// VADSessionCreated announces a new continuous-listening session.
type VADSessionCreated struct {
	SessionID string `json:"session_id"`
}

// VADResult is the per-chunk speech/silence verdict.
type VADResult struct {
	SpeechActive bool   `json:"speech_active"`
	Text         string `json:"text,omitempty"`
}

// Transcription carries the transcript of a completed utterance.
type Transcription struct {
	Text string `json:"text"`
}

// ChatResponse carries the assistant reply text plus base64 audio.
type ChatResponse struct {
	Text  string `json:"text"`
	Audio string `json:"audio"`
}

// ErrorEvent is a recoverable failure notice. The message is always safe to
// show: provider internals and credentials never reach it.
type ErrorEvent struct {
	Message string `json:"message"`
}
