// Package httpapi assembles the server's HTTP surface: the WebSocket
// gateway, the Agentforce diagnostics endpoints, health probes, and the
// Prometheus scrape endpoint, all behind the observability middleware.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arven-dev/voicebridge/internal/agentforce"
	"github.com/arven-dev/voicebridge/internal/health"
	"github.com/arven-dev/voicebridge/internal/observe"
)

// Deps are the handlers and collaborators the router wires together.
type Deps struct {
	// Gateway serves the WebSocket endpoint.
	Gateway http.Handler

	// Agent backs the diagnostics endpoints. May be nil when no virtual
	// agent is configured.
	Agent *agentforce.Client

	// Health serves the liveness and readiness probes.
	Health *health.Handler

	Metrics *observe.Metrics
}

// NewHandler builds the full route table.
func NewHandler(d Deps) http.Handler {
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}
	if d.Health == nil {
		d.Health = health.New()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /ws", d.Gateway)
	mux.HandleFunc("GET /api/agentforce/status", d.agentStatus)
	mux.HandleFunc("POST /api/agentforce/test", d.agentTest)
	d.Health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(d.Metrics)(mux)
}

// agentStatus reports the virtual-agent client's current protocol state.
func (d Deps) agentStatus(w http.ResponseWriter, _ *http.Request) {
	if d.Agent == nil {
		writeJSON(w, http.StatusOK, agentforce.Status{Configured: false})
		return
	}
	writeJSON(w, http.StatusOK, d.Agent.Status())
}

// agentTest runs the full authenticate → open session → send message
// diagnostic sequence and reports per-step results. 503 when any step fails.
func (d Deps) agentTest(w http.ResponseWriter, r *http.Request) {
	if d.Agent == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":    false,
			"steps": []agentforce.StepResult{{Step: "configured", OK: false, Info: "no virtual agent configured"}},
		})
		return
	}

	steps := d.Agent.Diagnose(r.Context())
	ok := true
	for _, s := range steps {
		ok = ok && s.OK
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": ok, "steps": steps})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
