// Package agentforce implements a client for the Salesforce Einstein AI
// Agent API ("Agentforce").
//
// The client is an explicit protocol state machine:
//
//	Unauthenticated → Authenticated → SessionOpen → Messaging
//
// Authentication uses the OAuth 2.0 client-credentials flow against the
// org's My Domain token endpoint. Sessions are opened against the shared
// api.salesforce.com Einstein AI Agent API, and messages are exchanged with
// a strictly increasing sequence number that only advances after a reply has
// been received and parsed.
//
// Recovery is bounded: a 401 at any step triggers exactly one
// re-authentication (plus session reopen and resend); a 404 on send triggers
// exactly one session reopen and resend. A second failure of the same kind
// surfaces to the caller.
//
// Credentials never appear in errors or logs.
package agentforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arven-dev/voicebridge/internal/config"
)

// defaultAPIBase is the shared Einstein AI Agent API endpoint. Unlike the
// token endpoint it is not org-specific.
const defaultAPIBase = "https://api.salesforce.com"

// State is the client's position in the protocol.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateSessionOpen     State = "session_open"
	StateMessaging       State = "messaging"
)

// Status is a diagnostic snapshot of the client.
type Status struct {
	Configured bool   `json:"configured"`
	State      State  `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	Sequence   int64  `json:"sequence"`
}

// Client talks to one Agentforce agent. All methods are safe for concurrent
// use; message sends are serialized so the sequence number stays strictly
// ordered.
type Client struct {
	cfg        config.AgentforceConfig
	apiBase    string
	httpClient *http.Client

	mu          sync.Mutex
	state       State
	accessToken string
	instanceURL string
	sessionID   string
	sequence    int64
}

// Option customises a [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAPIBase overrides the Einstein AI Agent API base URL.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimSuffix(base, "/") }
}

// New creates a [Client] from the given credentials. Timeouts default per
// [config.AgentforceConfig] when unset.
func New(cfg config.AgentforceConfig, opts ...Option) *Client {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 30 * time.Second
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = 120 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		apiBase: defaultAPIBase,
		state:   StateUnauthenticated,
		// No overall client timeout: each request carries its own
		// context deadline.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether all required credentials are present. It does
// no network I/O.
func (c *Client) Configured() bool {
	return c.cfg.Complete()
}

// Status returns a snapshot for the diagnostics endpoint.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Configured: c.cfg.Complete(),
		State:      c.state,
		SessionID:  c.sessionID,
		Sequence:   c.sequence,
	}
}

// tokenURL builds the org-specific OAuth token endpoint.
func (c *Client) tokenURL() string {
	server := c.cfg.ServerURL
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	return strings.TrimSuffix(server, "/") + "/services/oauth2/token"
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// Authenticate performs the client-credentials flow and stores the access
// token and instance URL.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	if !c.cfg.Complete() {
		return &AuthError{Step: "authenticate", Reason: "credentials incomplete"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("agentforce: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agentforce: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The OAuth error body can echo request parameters; discard it.
		return &AuthError{Step: "authenticate", Status: resp.StatusCode,
			Reason: "token endpoint refused client credentials"}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return &ProtocolError{Step: "authenticate", Reason: "malformed token response"}
	}
	if tok.AccessToken == "" {
		return &ProtocolError{Step: "authenticate", Reason: "token response missing access_token"}
	}

	c.accessToken = tok.AccessToken
	c.instanceURL = tok.InstanceURL
	if c.state == StateUnauthenticated {
		c.state = StateAuthenticated
	}
	return nil
}

type sessionRequest struct {
	ExternalSessionKey    string                `json:"externalSessionKey"`
	InstanceConfig        sessionInstanceConfig `json:"instanceConfig"`
	StreamingCapabilities streamingCapabilities `json:"streamingCapabilities"`
	BypassUser            bool                  `json:"bypassUser"`
}

type sessionInstanceConfig struct {
	Endpoint string `json:"endpoint"`
}

type streamingCapabilities struct {
	ChunkTypes []string `json:"chunkTypes"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

// OpenSession opens a fresh agent session and resets the message sequence.
// Authenticates first when no token is held.
func (c *Client) OpenSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" {
		if err := c.authenticateLocked(ctx); err != nil {
			return err
		}
	}
	return c.openSessionLocked(ctx, true)
}

// openSessionLocked opens a session using the held token. When allowReauth
// is true, a 401 triggers one re-authentication and one retry.
func (c *Client) openSessionLocked(ctx context.Context, allowReauth bool) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	body, err := json.Marshal(sessionRequest{
		ExternalSessionKey:    uuid.NewString(),
		InstanceConfig:        sessionInstanceConfig{Endpoint: c.instanceURL},
		StreamingCapabilities: streamingCapabilities{ChunkTypes: []string{"Text"}},
		BypassUser:            true,
	})
	if err != nil {
		return fmt.Errorf("agentforce: marshal session request: %w", err)
	}

	u := c.apiBase + "/einstein/ai-agent/v1/agents/" + c.cfg.AgentID + "/sessions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agentforce: build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agentforce: session request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if !allowReauth {
			return &AuthError{Step: "open_session", Status: resp.StatusCode,
				Reason: "token rejected after re-authentication"}
		}
		if err := c.authenticateLocked(ctx); err != nil {
			return err
		}
		return c.openSessionLocked(ctx, false)

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &ProtocolError{Step: "open_session", Status: resp.StatusCode,
			Reason: "session create refused"}
	}

	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil || sess.SessionID == "" {
		return &ProtocolError{Step: "open_session", Reason: "malformed session response"}
	}

	c.sessionID = sess.SessionID
	c.sequence = 1
	if c.state == StateUnauthenticated || c.state == StateAuthenticated {
		c.state = StateSessionOpen
	}
	return nil
}

type messageRequest struct {
	Message messagePayload `json:"message"`
}

type messagePayload struct {
	SequenceID int64  `json:"sequenceId"`
	Type       string `json:"type"`
	Text       string `json:"text"`
}

type messageResponse struct {
	Messages []struct {
		Message string `json:"message"`
	} `json:"messages"`
}

// SendMessage delivers one user utterance and returns the agent's reply
// text. It lazily authenticates and opens a session on first use. The
// sequence number advances only after the reply has been parsed, so a failed
// exchange can be retried under the same sequence by a fresh call.
func (c *Client) SendMessage(ctx context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken == "" {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	if c.sessionID == "" {
		if err := c.openSessionLocked(ctx, true); err != nil {
			return "", err
		}
	}
	return c.sendLocked(ctx, text, true, true)
}

// sendLocked posts one message. allowReauth permits a single 401 recovery
// (re-authenticate, reopen, resend); allowReopen permits a single 404
// recovery (reopen, resend). Recovery attempts pass false for the spent
// budget so a second failure of the same kind surfaces.
func (c *Client) sendLocked(ctx context.Context, text string, allowReauth, allowReopen bool) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.MessageTimeout)
	defer cancel()

	body, err := json.Marshal(messageRequest{Message: messagePayload{
		SequenceID: c.sequence,
		Type:       "Text",
		Text:       text,
	}})
	if err != nil {
		return "", fmt.Errorf("agentforce: marshal message: %w", err)
	}

	u := c.apiBase + "/einstein/ai-agent/v1/sessions/" + c.sessionID + "/messages"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("agentforce: build message request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("agentforce: message request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if !allowReauth {
			return "", &AuthError{Step: "send_message", Status: resp.StatusCode,
				Reason: "token rejected after re-authentication"}
		}
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
		if err := c.openSessionLocked(ctx, false); err != nil {
			return "", err
		}
		return c.sendLocked(ctx, text, false, allowReopen)

	case resp.StatusCode == http.StatusNotFound:
		// The agent session expired server-side; reopen once and resend.
		if !allowReopen {
			return "", &ProtocolError{Step: "send_message", Status: resp.StatusCode,
				Reason: "session not found after reopen"}
		}
		if err := c.openSessionLocked(ctx, allowReauth); err != nil {
			return "", err
		}
		return c.sendLocked(ctx, text, allowReauth, false)

	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", &ProtocolError{Step: "send_message", Status: resp.StatusCode,
			Reason: "message refused"}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("agentforce: read reply: %w", err)
	}
	var mr messageResponse
	if err := json.Unmarshal(raw, &mr); err != nil || len(mr.Messages) == 0 {
		// The message may have been delivered; the caller decides whether
		// to fall back. Never resend automatically here.
		return "", &ProtocolError{Step: "send_message", Reason: "malformed reply"}
	}

	c.sequence++
	c.state = StateMessaging
	return mr.Messages[0].Message, nil
}

// StepResult is the outcome of one diagnostic step.
type StepResult struct {
	Step string `json:"step"`
	OK   bool   `json:"ok"`
	Info string `json:"info,omitempty"`
}

// Diagnose runs authenticate → open session → send a test message on a
// throwaway protocol pass and reports per-step results. It stops at the
// first failing step.
func (c *Client) Diagnose(ctx context.Context) []StepResult {
	var results []StepResult

	step := func(name string, fn func() error) bool {
		r := StepResult{Step: name, OK: true}
		if err := fn(); err != nil {
			r.OK = false
			r.Info = err.Error()
		}
		results = append(results, r)
		return r.OK
	}

	if !step("configured", func() error {
		if !c.cfg.Complete() {
			return fmt.Errorf("credentials incomplete")
		}
		return nil
	}) {
		return results
	}
	if !step("authenticate", func() error { return c.Authenticate(ctx) }) {
		return results
	}
	if !step("open_session", func() error { return c.OpenSession(ctx) }) {
		return results
	}
	step("send_message", func() error {
		reply, err := c.SendMessage(ctx, "Hello, this is a connectivity test.")
		if err != nil {
			return err
		}
		if reply == "" {
			return fmt.Errorf("empty reply")
		}
		return nil
	})
	return results
}
