// Package gateway accepts browser WebSocket connections and multiplexes
// events between each connection and its pipeline Orchestrator.
//
// Each connection gets exactly two goroutines: a reader that dispatches
// inbound events to the Orchestrator sequentially (FIFO per connection,
// concurrent across connections) and a writer that drains the outbound
// queue. Events never cross connections.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/arven-dev/voicebridge/internal/observe"
	"github.com/arven-dev/voicebridge/internal/pipeline"
)

// writeTimeout bounds a single outbound frame write. A client that cannot
// drain its socket for this long is dropped.
const writeTimeout = 15 * time.Second

// outboundBuffer is the per-connection outbound queue size. A full queue
// backpressures the reader, which is the desired behavior for a client that
// stopped consuming.
const outboundBuffer = 32

// Server upgrades HTTP requests to WebSocket connections and runs one
// Orchestrator per connection.
type Server struct {
	deps    pipeline.Deps
	metrics *observe.Metrics
}

// NewServer creates the gateway around shared pipeline dependencies.
func NewServer(deps pipeline.Deps) *Server {
	m := deps.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
		deps.Metrics = m
	}
	return &Server{deps: deps, metrics: m}
}

// ServeHTTP upgrades the request and serves the connection until it drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Browser clients connect from arbitrary origins; the protocol carries
	// no credentials and sessions are connection-scoped.
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "error", err)
		return
	}

	c := &conn{
		ws:     ws,
		id:     uuid.NewString(),
		out:    make(chan Envelope, outboundBuffer),
		server: s,
	}
	c.orch = pipeline.New(s.deps, c.id, c)
	c.run(r.Context())
}

// conn is one live WebSocket connection. It implements [pipeline.Emitter];
// all Emit calls happen on the reader goroutine, inside Orchestrator
// methods, so enqueueing needs no extra locking.
type conn struct {
	ws     *websocket.Conn
	id     string
	out    chan Envelope
	server *Server
	orch   *pipeline.Orchestrator
}

var _ pipeline.Emitter = (*conn)(nil)

// run blocks until the connection closes, then tears down everything the
// connection owned.
func (c *conn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := observe.Logger(ctx).With("conn_id", c.id)
	log.Info("connection opened")
	c.server.metrics.ActiveConnections.Add(ctx, 1)

	writerDone := make(chan struct{})
	go c.writeLoop(ctx, writerDone)

	c.readLoop(ctx, log)

	// The reader is the only producer, so the queue can close safely here.
	close(c.out)
	cancel()
	<-writerDone

	// The request context is gone; cleanup uses a fresh one.
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cleanupCancel()
	c.orch.Close(cleanupCtx)
	c.server.metrics.ActiveConnections.Add(cleanupCtx, -1)

	c.ws.Close(websocket.StatusNormalClosure, "bye")
	log.Info("connection closed")
}

// readLoop dispatches inbound frames to the Orchestrator until the
// connection drops. Dispatch is synchronous: one event fully processes
// before the next is read, which gives the per-connection FIFO ordering.
func (c *conn) readLoop(ctx context.Context, log *slog.Logger) {
	for {
		typ, frame, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				log.Warn("read failed", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			c.EmitError("binary frames are not supported")
			continue
		}
		c.dispatch(ctx, frame)
	}
}

// dispatch decodes one frame and routes it to the Orchestrator.
func (c *conn) dispatch(ctx context.Context, frame []byte) {
	env, err := DecodeEnvelope(frame)
	if err != nil {
		c.EmitError("malformed event frame")
		return
	}

	switch env.Event {
	case EventAudioData:
		var payload string
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.EmitError("audio_data payload must be a base64 string")
			return
		}
		c.orch.HandleAudio(ctx, payload)

	case EventChatRequest:
		var p ChatRequest
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.EmitError("malformed chat_request payload")
			return
		}
		c.orch.HandleChat(ctx, p.Message)

	case EventStartVAD:
		c.orch.StartVAD(ctx)

	case EventVADAudio:
		var p VADAudio
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.EmitError("malformed vad_audio payload")
			return
		}
		c.orch.HandleVADAudio(ctx, p.SessionID, p.Audio)

	case EventStopVAD:
		var p StopVAD
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.EmitError("malformed stop_vad payload")
			return
		}
		c.orch.StopVAD(ctx, p.SessionID)

	default:
		c.EmitError("unknown event: " + env.Event)
	}
}

// writeLoop drains the outbound queue onto the socket.
func (c *conn) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for env := range c.out {
		frame, err := json.Marshal(env)
		if err != nil {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = c.ws.Write(wctx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			// Drain remaining events so the producer never blocks.
			for range c.out {
			}
			return
		}
	}
}

// --- pipeline.Emitter ---

func (c *conn) EmitTranscription(text string) {
	c.out <- envelope(EventTranscription, Transcription{Text: text})
}

func (c *conn) EmitChatResponse(text, audioDataURL string) {
	c.out <- envelope(EventChatResponse, ChatResponse{Text: text, Audio: audioDataURL})
}

func (c *conn) EmitVADSessionCreated(sessionID string) {
	c.out <- envelope(EventVADSessionCreated, VADSessionCreated{SessionID: sessionID})
}

func (c *conn) EmitVADResult(speechActive bool, text string) {
	c.out <- envelope(EventVADResult, VADResult{SpeechActive: speechActive, Text: text})
}

func (c *conn) EmitError(message string) {
	c.out <- envelope(EventError, ErrorEvent{Message: message})
}
