// Package pipeline drives one voice turn end to end: transcribe the inbound
// audio, route the transcript to the Agentforce virtual agent or the chat
// fallback, synthesize the reply, and emit events back to the originating
// connection.
//
// One Orchestrator exists per gateway connection. Its methods are invoked
// sequentially by the connection's reader goroutine, so successive
// utterances of one user never reorder; different connections run their
// turns concurrently on independent Orchestrators sharing the same Deps.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arven-dev/voicebridge/internal/audio"
	"github.com/arven-dev/voicebridge/internal/observe"
	"github.com/arven-dev/voicebridge/internal/resilience"
	"github.com/arven-dev/voicebridge/internal/session"
	"github.com/arven-dev/voicebridge/pkg/provider"
	"github.com/arven-dev/voicebridge/pkg/provider/chat"
	"github.com/arven-dev/voicebridge/pkg/provider/stt"
	"github.com/arven-dev/voicebridge/pkg/provider/tts"
)

// Backend labels which path answered a turn.
const (
	BackendAgentforce = "agentforce"
	BackendChat       = "chat"
)

// Agent is the orchestrator's view of the virtual-agent client.
type Agent interface {
	// Configured reports whether the agent can be attempted at all. It must
	// be cheap: it is consulted on every turn before any network I/O.
	Configured() bool

	// SendMessage delivers one utterance and returns the agent's reply.
	SendMessage(ctx context.Context, text string) (string, error)
}

// Emitter delivers outbound events to the originating connection. The
// gateway's connection implements it; tests substitute a recorder.
type Emitter interface {
	EmitTranscription(text string)
	EmitChatResponse(text, audioDataURL string)
	EmitVADSessionCreated(sessionID string)
	EmitVADResult(speechActive bool, text string)
	EmitError(message string)
}

// Turn is the record of one completed exchange, handed to the optional
// archiver.
type Turn struct {
	ConnID     string
	Transcript string
	Backend    string
	Reply      string
	StartedAt  time.Time
	Duration   time.Duration
}

// Archiver persists completed turns. Implementations must not block the
// pipeline; slow writes belong on the archiver's own goroutines.
type Archiver interface {
	Archive(ctx context.Context, t Turn)
}

// Deps are the shared collaborators behind every connection's Orchestrator.
type Deps struct {
	STT  stt.Transcriber
	TTS  tts.Synthesizer
	Chat chat.Completer // may be nil when the agent is the only backend

	Agent   Agent // may be nil
	Breaker *resilience.Breaker

	Sessions *session.Registry

	// NewClassifier builds a per-connection speech classifier. Nil selects
	// [TranscriptClassifier].
	NewClassifier func() SpeechActivityClassifier

	Metrics *observe.Metrics
	Archive Archiver // may be nil

	SystemPrompt    string
	MaxHistoryTurns int
}

// Orchestrator runs the pipeline for a single connection.
type Orchestrator struct {
	d          Deps
	connID     string
	emit       Emitter
	classifier SpeechActivityClassifier
	hist       *history

	vadSessionID string
}

// New creates the per-connection Orchestrator. connID identifies the owning
// gateway connection for session cleanup and archiving.
func New(d Deps, connID string, emit Emitter) *Orchestrator {
	if d.Breaker == nil {
		d.Breaker = resilience.New(resilience.Config{Name: "agentforce"})
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Sessions == nil {
		d.Sessions = session.NewRegistry()
	}
	var classifier SpeechActivityClassifier = TranscriptClassifier{}
	if d.NewClassifier != nil {
		classifier = d.NewClassifier()
	}
	return &Orchestrator{
		d:          d,
		connID:     connID,
		emit:       emit,
		classifier: classifier,
		hist:       newHistory(d.SystemPrompt, d.MaxHistoryTurns),
	}
}

// HandleAudio processes one single-shot (hold-to-talk) utterance.
func (o *Orchestrator) HandleAudio(ctx context.Context, payload string) {
	ctx, span := observe.StartSpan(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("mode", "single_shot")))
	defer span.End()

	raw, err := audio.Decode(payload)
	if err != nil {
		o.emit.EmitError("invalid audio payload")
		return
	}

	transcript, err := o.transcribe(ctx, raw)
	if err != nil {
		observe.Logger(ctx).Error("transcription failed", "error", err)
		o.emit.EmitError("transcription failed")
		return
	}

	// The transcript event goes out even when empty; the client shows what
	// was (not) heard. Only the response phase is skipped.
	o.emit.EmitTranscription(transcript)
	if strings.TrimSpace(transcript) == "" {
		return
	}

	o.completeTurn(ctx, transcript)
}

// HandleChat processes a text-only turn, skipping transcription.
func (o *Orchestrator) HandleChat(ctx context.Context, message string) {
	ctx, span := observe.StartSpan(ctx, "pipeline.turn",
		trace.WithAttributes(attribute.String("mode", "chat")))
	defer span.End()

	if strings.TrimSpace(message) == "" {
		o.emit.EmitError("empty chat message")
		return
	}
	o.completeTurn(ctx, message)
}

// StartVAD opens a continuous-listening session for this connection,
// replacing any prior one.
func (o *Orchestrator) StartVAD(ctx context.Context) {
	if o.vadSessionID != "" {
		o.d.Sessions.Destroy(o.vadSessionID)
		o.d.Metrics.ActiveVADSessions.Add(ctx, -1)
	}
	s := o.d.Sessions.Create(o.connID)
	o.vadSessionID = s.ID
	o.d.Metrics.ActiveVADSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("vad session created", "session_id", s.ID, "conn_id", o.connID)
	o.emit.EmitVADSessionCreated(s.ID)
}

// HandleVADAudio classifies one chunk of a continuous-listening stream and,
// when the chunk carries speech, runs the full response turn for it.
func (o *Orchestrator) HandleVADAudio(ctx context.Context, sessionID, payload string) {
	ctx, span := observe.StartSpan(ctx, "pipeline.vad_chunk")
	defer span.End()

	// Sessions belong to the connection that created them; a foreign ID is
	// indistinguishable from an unknown one.
	s, err := o.d.Sessions.Get(sessionID)
	if err != nil || s.ConnID != o.connID {
		o.emit.EmitError("unknown session")
		return
	}

	raw, err := audio.Decode(payload)
	if err != nil {
		o.emit.EmitError("invalid audio payload")
		return
	}

	transcript, err := o.transcribe(ctx, raw)
	if err != nil {
		observe.Logger(ctx).Error("vad transcription failed", "error", err, "session_id", sessionID)
		o.emit.EmitError("transcription failed")
		return
	}

	active := o.classifier.Classify(raw, transcript)
	o.d.Sessions.Touch(sessionID, active)
	if !active {
		o.emit.EmitVADResult(false, "")
		return
	}

	o.emit.EmitVADResult(true, transcript)
	o.completeTurn(ctx, transcript)
}

// StopVAD tears down a continuous-listening session owned by this
// connection. Unknown and foreign IDs are a no-op, matching the registry's
// idempotent destroy.
func (o *Orchestrator) StopVAD(ctx context.Context, sessionID string) {
	s, err := o.d.Sessions.Get(sessionID)
	if err != nil || s.ConnID != o.connID {
		return
	}
	o.d.Sessions.Destroy(sessionID)
	o.d.Metrics.ActiveVADSessions.Add(ctx, -1)
	if sessionID == o.vadSessionID {
		o.vadSessionID = ""
	}
}

// Close releases everything the connection owned. Called by the gateway
// when the connection drops; the conversation history dies with the
// Orchestrator.
func (o *Orchestrator) Close(ctx context.Context) {
	if n := o.d.Sessions.DestroyOwned(o.connID); n > 0 {
		o.d.Metrics.ActiveVADSessions.Add(ctx, -int64(n))
	}
	o.vadSessionID = ""
}

// completeTurn runs route → synthesize → emit for a non-empty transcript.
func (o *Orchestrator) completeTurn(ctx context.Context, transcript string) {
	start := time.Now()

	reply, backend, err := o.respond(ctx, transcript)
	if err != nil {
		observe.Logger(ctx).Error("no backend produced a reply", "error", err)
		o.emit.EmitError("assistant is unavailable right now")
		o.d.Metrics.RecordTurn(ctx, backend, "error")
		return
	}

	speech, err := o.synthesize(ctx, reply)
	if err != nil {
		observe.Logger(ctx).Error("speech synthesis failed", "error", err)
		o.emit.EmitError("speech synthesis failed")
		o.d.Metrics.RecordTurn(ctx, backend, "error")
		return
	}

	o.emit.EmitChatResponse(reply, audio.EncodeMP3(speech))
	o.hist.append(transcript, reply)
	o.d.Metrics.RecordTurn(ctx, backend, "ok")

	if o.d.Archive != nil {
		o.d.Archive.Archive(ctx, Turn{
			ConnID:     o.connID,
			Transcript: transcript,
			Backend:    backend,
			Reply:      reply,
			StartedAt:  start,
			Duration:   time.Since(start),
		})
	}
}

// respond routes the transcript: Agentforce first when configured and the
// breaker admits the call, otherwise (or on any agent failure) the chat
// fallback with the bounded history. Agent failures never surface to the
// client while the fallback is viable.
func (o *Orchestrator) respond(ctx context.Context, transcript string) (reply, backend string, err error) {
	if o.d.Agent != nil && o.d.Agent.Configured() {
		if allowErr := o.d.Breaker.Allow(); allowErr == nil {
			agentStart := time.Now()
			reply, agentErr := o.d.Agent.SendMessage(ctx, transcript)
			o.d.Breaker.Record(agentErr)
			o.d.Metrics.AgentforceDuration.Record(ctx, time.Since(agentStart).Seconds())
			if agentErr == nil {
				return reply, BackendAgentforce, nil
			}
			observe.Logger(ctx).Warn("virtual agent failed, falling back",
				"error", agentErr)
			o.d.Metrics.RecordFallback(ctx, "agent_error")
		} else {
			observe.Logger(ctx).Warn("virtual agent skipped, breaker open")
			o.d.Metrics.RecordFallback(ctx, "breaker_open")
		}
	}

	if o.d.Chat == nil {
		return "", BackendChat, errors.New("pipeline: no chat backend configured")
	}

	chatStart := time.Now()
	reply, err = o.d.Chat.Complete(ctx, o.hist.withUser(transcript))
	o.d.Metrics.ChatDuration.Record(ctx, time.Since(chatStart).Seconds())
	if err != nil {
		o.recordProviderError(ctx, err)
		return "", BackendChat, err
	}
	return reply, BackendChat, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, raw []byte) (string, error) {
	start := time.Now()
	transcript, err := o.d.STT.Transcribe(ctx, raw)
	o.d.Metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.recordProviderError(ctx, err)
		return "", err
	}
	return transcript, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()
	speech, err := o.d.TTS.Synthesize(ctx, text)
	o.d.Metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		o.recordProviderError(ctx, err)
		return nil, err
	}
	return speech, nil
}

func (o *Orchestrator) recordProviderError(ctx context.Context, err error) {
	name := "unknown"
	var se *provider.ServiceError
	if errors.As(err, &se) {
		name = se.Provider
	}
	o.d.Metrics.RecordProviderError(ctx, name, string(provider.KindOf(err)))
}
