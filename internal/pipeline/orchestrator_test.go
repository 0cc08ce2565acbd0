package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arven-dev/voicebridge/internal/resilience"
	"github.com/arven-dev/voicebridge/internal/session"
	"github.com/arven-dev/voicebridge/pkg/provider"
	"github.com/arven-dev/voicebridge/pkg/provider/chat"
)

// --- fakes ---

type fakeSTT struct {
	text  string
	err   error
	calls int
}

func (f *fakeSTT) Transcribe(_ context.Context, _ []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeTTS struct {
	audio []byte
	err   error
	calls int
}

func (f *fakeTTS) Synthesize(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	return f.audio, f.err
}

type fakeChat struct {
	reply   string
	err     error
	calls   int
	history []chat.Message
}

func (f *fakeChat) Complete(_ context.Context, history []chat.Message) (string, error) {
	f.calls++
	f.history = append([]chat.Message(nil), history...)
	return f.reply, f.err
}

type fakeAgent struct {
	configured bool
	reply      string
	err        error
	calls      int
}

func (f *fakeAgent) Configured() bool { return f.configured }

func (f *fakeAgent) SendMessage(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

// recordedEvent is one outbound event captured by the recorder.
type recordedEvent struct {
	kind      string
	text      string
	audio     string
	active    bool
	sessionID string
}

// recorder implements Emitter and keeps every emitted event in order.
type recorder struct {
	events []recordedEvent
}

func (r *recorder) EmitTranscription(text string) {
	r.events = append(r.events, recordedEvent{kind: "transcription", text: text})
}

func (r *recorder) EmitChatResponse(text, audioDataURL string) {
	r.events = append(r.events, recordedEvent{kind: "chat_response", text: text, audio: audioDataURL})
}

func (r *recorder) EmitVADSessionCreated(sessionID string) {
	r.events = append(r.events, recordedEvent{kind: "vad_session_created", sessionID: sessionID})
}

func (r *recorder) EmitVADResult(speechActive bool, text string) {
	r.events = append(r.events, recordedEvent{kind: "vad_result", active: speechActive, text: text})
}

func (r *recorder) EmitError(message string) {
	r.events = append(r.events, recordedEvent{kind: "error", text: message})
}

func (r *recorder) kinds() []string {
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.kind
	}
	return out
}

func (r *recorder) hasError() bool {
	for _, e := range r.events {
		if e.kind == "error" {
			return true
		}
	}
	return false
}

// --- helpers ---

var testAudio = base64.StdEncoding.EncodeToString([]byte("fake audio bytes"))

type fixture struct {
	stt   *fakeSTT
	tts   *fakeTTS
	chat  *fakeChat
	agent *fakeAgent
	rec   *recorder
	orch  *Orchestrator
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		stt:   &fakeSTT{text: "What's the weather?"},
		tts:   &fakeTTS{audio: []byte{0xff, 0xfb}},
		chat:  &fakeChat{reply: "I don't have weather data."},
		agent: &fakeAgent{configured: true, reply: "It's sunny."},
		rec:   &recorder{},
	}
	d := Deps{
		STT:      f.stt,
		TTS:      f.tts,
		Chat:     f.chat,
		Agent:    f.agent,
		Sessions: session.NewRegistry(),
	}
	if mutate != nil {
		mutate(&d)
	}
	f.orch = New(d, "conn-1", f.rec)
	return f
}

// --- single-shot turns ---

func TestHandleAudio_AgentAnswers(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleAudio(context.Background(), testAudio)

	want := []string{"transcription", "chat_response"}
	if got := f.rec.kinds(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if f.rec.events[0].text != "What's the weather?" {
		t.Errorf("transcription text = %q", f.rec.events[0].text)
	}
	if f.rec.events[1].text != "It's sunny." {
		t.Errorf("reply text = %q, want the agent's reply", f.rec.events[1].text)
	}
	if !strings.HasPrefix(f.rec.events[1].audio, "data:audio/mp3;base64,") || len(f.rec.events[1].audio) <= len("data:audio/mp3;base64,") {
		t.Errorf("reply audio = %q, want non-empty data URL", f.rec.events[1].audio)
	}
	if f.chat.calls != 0 {
		t.Errorf("chat backend called %d times, want 0 when the agent answers", f.chat.calls)
	}
}

func TestHandleAudio_AgentFailureFallsBack(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"auth", errors.New("agentforce authenticate: auth failed")},
		{"transport", errors.New("connection refused")},
		{"protocol", errors.New("malformed reply")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.agent.err = tc.err

			f.orch.HandleAudio(context.Background(), testAudio)

			if f.rec.hasError() {
				t.Error("agent failure must not surface as an error event")
			}
			want := []string{"transcription", "chat_response"}
			if got := f.rec.kinds(); !equalStrings(got, want) {
				t.Fatalf("events = %v, want %v", got, want)
			}
			if f.rec.events[1].text != "I don't have weather data." {
				t.Errorf("reply = %q, want the fallback's reply", f.rec.events[1].text)
			}
			if f.agent.calls != 1 {
				t.Errorf("agent calls = %d, want 1", f.agent.calls)
			}
		})
	}
}

func TestHandleAudio_AgentNotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	f.agent.configured = false

	f.orch.HandleAudio(context.Background(), testAudio)

	if f.agent.calls != 0 {
		t.Errorf("agent calls = %d, want 0 when unconfigured", f.agent.calls)
	}
	if f.chat.calls != 1 {
		t.Errorf("chat calls = %d, want 1", f.chat.calls)
	}
}

func TestHandleAudio_EmptyTranscriptSkipsResponse(t *testing.T) {
	f := newFixture(t, nil)
	f.stt.text = "   "

	f.orch.HandleAudio(context.Background(), testAudio)

	want := []string{"transcription"}
	if got := f.rec.kinds(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if f.agent.calls != 0 || f.chat.calls != 0 || f.tts.calls != 0 {
		t.Error("response phase ran for an empty transcript")
	}
}

func TestHandleAudio_TranscriptionFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.stt.err = provider.Errorf("openai-stt", provider.KindTransport, "unreachable")

	f.orch.HandleAudio(context.Background(), testAudio)

	want := []string{"error"}
	if got := f.rec.kinds(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if f.agent.calls != 0 || f.chat.calls != 0 {
		t.Error("backends called after transcription failure")
	}
}

func TestHandleAudio_SynthesisFailureAbandonsTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.tts.err = provider.Errorf("openai-tts", provider.KindTransport, "unreachable")

	f.orch.HandleAudio(context.Background(), testAudio)

	want := []string{"transcription", "error"}
	if got := f.rec.kinds(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if f.orch.hist.len() != 0 {
		t.Error("history extended by an abandoned turn")
	}
}

func TestHandleAudio_FallbackFailureSurfaces(t *testing.T) {
	f := newFixture(t, nil)
	f.agent.err = errors.New("agent down")
	f.chat.err = provider.Errorf("anyllm-openai", provider.KindTransport, "unreachable")

	f.orch.HandleAudio(context.Background(), testAudio)

	want := []string{"transcription", "error"}
	if got := f.rec.kinds(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestHandleAudio_InvalidPayload(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleAudio(context.Background(), "!!not base64!!")

	want := []string{"error"}
	if got := f.rec.kinds(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if f.stt.calls != 0 {
		t.Error("transcriber called with undecodable payload")
	}
}

// --- text-only turns ---

func TestHandleChat(t *testing.T) {
	f := newFixture(t, nil)
	f.agent.configured = false

	f.orch.HandleChat(context.Background(), "hello there")

	want := []string{"chat_response"}
	if got := f.rec.kinds(); !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if f.stt.calls != 0 {
		t.Error("transcriber called for a text-only turn")
	}
}

func TestHandleChat_Empty(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleChat(context.Background(), "  ")

	if got := f.rec.kinds(); !equalStrings(got, []string{"error"}) {
		t.Fatalf("events = %v, want [error]", got)
	}
}

// --- history ---

func TestHistory_FedToFallbackOnly(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.SystemPrompt = "You are a voice assistant." })
	f.agent.configured = false
	f.chat.reply = "first reply"

	f.orch.HandleChat(context.Background(), "first question")
	f.chat.reply = "second reply"
	f.orch.HandleChat(context.Background(), "second question")

	h := f.chat.history
	wantRoles := []chat.Role{chat.RoleSystem, chat.RoleUser, chat.RoleAssistant, chat.RoleUser}
	if len(h) != len(wantRoles) {
		t.Fatalf("history length = %d, want %d: %+v", len(h), len(wantRoles), h)
	}
	for i, role := range wantRoles {
		if h[i].Role != role {
			t.Errorf("history[%d].Role = %q, want %q", i, h[i].Role, role)
		}
	}
	if h[1].Content != "first question" || h[2].Content != "first reply" {
		t.Errorf("history does not carry the prior turn: %+v", h)
	}
}

func TestHistory_AgentTurnsRecorded(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleChat(context.Background(), "ask the agent")
	if f.orch.hist.len() != 2 {
		t.Fatalf("history messages = %d, want 2 after an agent turn", f.orch.hist.len())
	}

	// The next fallback turn sees the agent's exchange.
	f.agent.configured = false
	f.orch.HandleChat(context.Background(), "now the fallback")
	if len(f.chat.history) != 3 {
		t.Errorf("fallback saw %d messages, want 3", len(f.chat.history))
	}
}

// --- breaker ---

func TestBreakerOpen_SkipsAgent(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Breaker = resilience.New(resilience.Config{
			Name: "agentforce", MaxFailures: 1, CoolDown: time.Hour,
		})
	})
	f.agent.err = errors.New("agent down")

	f.orch.HandleChat(context.Background(), "first")
	if f.agent.calls != 1 {
		t.Fatalf("agent calls = %d, want 1", f.agent.calls)
	}

	// Breaker tripped: the agent is skipped without a network attempt.
	f.orch.HandleChat(context.Background(), "second")
	if f.agent.calls != 1 {
		t.Errorf("agent calls = %d, want still 1 with an open breaker", f.agent.calls)
	}
	if f.chat.calls != 2 {
		t.Errorf("chat calls = %d, want 2", f.chat.calls)
	}
	if f.rec.hasError() {
		t.Error("breaker-open turns must not surface error events")
	}
}

// --- continuous listening ---

func TestVAD_Flow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.orch.StartVAD(ctx)
	if len(f.rec.events) != 1 || f.rec.events[0].kind != "vad_session_created" {
		t.Fatalf("events = %v, want [vad_session_created]", f.rec.kinds())
	}
	sid := f.rec.events[0].sessionID
	if sid == "" {
		t.Fatal("empty session id")
	}

	// Silent chunk.
	f.stt.text = ""
	f.orch.HandleVADAudio(ctx, sid, testAudio)
	last := f.rec.events[len(f.rec.events)-1]
	if last.kind != "vad_result" || last.active {
		t.Fatalf("silent chunk: got %+v, want inactive vad_result", last)
	}

	// Speech chunk: the result event comes first, then the full turn runs.
	f.stt.text = "turn on the lights"
	f.orch.HandleVADAudio(ctx, sid, testAudio)
	got := f.rec.kinds()
	want := []string{"vad_session_created", "vad_result", "vad_result", "chat_response"}
	if !equalStrings(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	res := f.rec.events[2]
	if !res.active || res.text != "turn on the lights" {
		t.Fatalf("speech chunk: got %+v, want active vad_result with transcript", res)
	}

	// Continuous listening never emits the single-shot transcription event.
	for _, e := range f.rec.events {
		if e.kind == "transcription" {
			t.Errorf("unexpected transcription event in VAD flow")
		}
	}
}

func TestVAD_SpeechChunkProducesReply(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.orch.StartVAD(ctx)
	sid := f.rec.events[0].sessionID
	f.rec.events = nil

	f.orch.HandleVADAudio(ctx, sid, testAudio)

	if got := f.rec.kinds(); !equalStrings(got, []string{"vad_result", "chat_response"}) {
		t.Fatalf("events = %v, want [vad_result chat_response]", got)
	}
	reply := f.rec.events[1]
	if reply.text != "It's sunny." || reply.audio == "" {
		t.Errorf("chat_response = %+v, want agent reply with audio", reply)
	}
	if f.chat.calls != 0 {
		t.Error("fallback invoked although the agent answered")
	}
}

func TestVAD_FreshSessionIDs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for range 5 {
		f.orch.StartVAD(ctx)
		sid := f.rec.events[len(f.rec.events)-1].sessionID
		if seen[sid] {
			t.Fatalf("session id %q reused", sid)
		}
		seen[sid] = true
	}
}

func TestVAD_UnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	f.orch.HandleVADAudio(context.Background(), "no-such-session", testAudio)

	if got := f.rec.kinds(); !equalStrings(got, []string{"error"}) {
		t.Fatalf("events = %v, want [error]", got)
	}
	if f.stt.calls != 0 {
		t.Error("transcriber called for an unknown session")
	}
}

func TestVAD_StopDestroysSession(t *testing.T) {
	reg := session.NewRegistry()
	f := newFixture(t, func(d *Deps) { d.Sessions = reg })
	ctx := context.Background()

	f.orch.StartVAD(ctx)
	sid := f.rec.events[0].sessionID
	f.orch.StopVAD(ctx, sid)

	if _, err := reg.Get(sid); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("session still present after StopVAD: %v", err)
	}
	// Idempotent for unknown ids.
	f.orch.StopVAD(ctx, "no-such-session")
}

func TestVAD_ForeignSessionRejected(t *testing.T) {
	reg := session.NewRegistry()
	owner := newFixture(t, func(d *Deps) { d.Sessions = reg })
	ctx := context.Background()

	owner.orch.StartVAD(ctx)
	sid := owner.rec.events[0].sessionID

	stt := &fakeSTT{text: "turn on the lights"}
	rec := &recorder{}
	intruder := New(Deps{STT: stt, TTS: &fakeTTS{}, Chat: &fakeChat{}, Sessions: reg}, "conn-2", rec)

	intruder.HandleVADAudio(ctx, sid, testAudio)
	if got := rec.kinds(); !equalStrings(got, []string{"error"}) {
		t.Fatalf("events = %v, want [error]", got)
	}
	if stt.calls != 0 {
		t.Error("transcriber called for a foreign session")
	}

	intruder.StopVAD(ctx, sid)
	if _, err := reg.Get(sid); err != nil {
		t.Error("foreign StopVAD destroyed another connection's session")
	}
}

func TestClose_DestroysOwnedSessions(t *testing.T) {
	reg := session.NewRegistry()
	f := newFixture(t, func(d *Deps) { d.Sessions = reg })
	ctx := context.Background()

	f.orch.StartVAD(ctx)
	f.orch.Close(ctx)

	if reg.Len() != 0 {
		t.Errorf("registry holds %d sessions after Close, want 0", reg.Len())
	}
}

// --- archiving ---

type fakeArchiver struct {
	turns []Turn
}

func (f *fakeArchiver) Archive(_ context.Context, t Turn) {
	f.turns = append(f.turns, t)
}

func TestArchive_RecordsCompletedTurns(t *testing.T) {
	arch := &fakeArchiver{}
	f := newFixture(t, func(d *Deps) { d.Archive = arch })

	f.orch.HandleAudio(context.Background(), testAudio)

	if len(arch.turns) != 1 {
		t.Fatalf("archived turns = %d, want 1", len(arch.turns))
	}
	rec := arch.turns[0]
	if rec.Backend != BackendAgentforce || rec.Transcript != "What's the weather?" || rec.Reply != "It's sunny." {
		t.Errorf("archived turn = %+v", rec)
	}
}

func TestArchive_SkipsAbandonedTurns(t *testing.T) {
	arch := &fakeArchiver{}
	f := newFixture(t, func(d *Deps) { d.Archive = arch })
	f.tts.err = errors.New("synthesis down")

	f.orch.HandleAudio(context.Background(), testAudio)

	if len(arch.turns) != 0 {
		t.Errorf("archived turns = %d, want 0 for an abandoned turn", len(arch.turns))
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
