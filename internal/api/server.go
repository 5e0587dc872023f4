// Package api exposes the service's HTTP surface: the tick invocation
// endpoint, the read-only state snapshot for the browser front end, the
// realtime websocket, health probes, and the Prometheus scrape endpoint.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthside/cozyvillage/internal/health"
	"github.com/hearthside/cozyvillage/internal/observe"
	"github.com/hearthside/cozyvillage/internal/realtime"
	"github.com/hearthside/cozyvillage/internal/store"
	"github.com/hearthside/cozyvillage/internal/tick"
	"github.com/hearthside/cozyvillage/internal/village"
)

// cronSecretHeader carries the shared secret for tick invocations.
const cronSecretHeader = "X-Cron-Secret"

// stateMessageLimit is how many recent messages the state snapshot carries;
// the front end shows a rolling window of this size.
const stateMessageLimit = 50

// Server wires the HTTP handlers to their collaborators.
type Server struct {
	processor  *tick.Processor
	store      store.Store
	hub        *realtime.Hub
	health     *health.Handler
	cronSecret string
}

// NewServer creates a Server. hub may be nil to disable the websocket
// endpoint; cronSecret may be empty to disable invocation auth.
func NewServer(p *tick.Processor, st store.Store, hub *realtime.Hub, h *health.Handler, cronSecret string) *Server {
	return &Server{
		processor:  p,
		store:      st,
		hub:        hub,
		health:     h,
		cronSecret: cronSecret,
	}
}

// Routes builds the full handler tree, wrapped in the observability
// middleware.
func (s *Server) Routes(m *observe.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tick", s.handleTick)
	mux.HandleFunc("/state", s.handleState)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	if s.health != nil {
		mux.HandleFunc("/healthz", s.health.Healthz)
		mux.HandleFunc("/readyz", s.health.Readyz)
	}
	mux.Handle("/metrics", promhttp.Handler())
	return observe.Middleware(m)(mux)
}

// tickResponse is the JSON body returned by a successful tick invocation.
type tickResponse struct {
	OK       bool `json:"ok"`
	Inserted int  `json:"inserted"`
	Quiet    int  `json:"quiet"`
}

// handleTick serves POST /tick. Method and auth failures reject before any
// store interaction; a failed agent listing is the only processor error and
// maps to 500.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := s.processor.Run(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("tick pass failed", "error", err)
		http.Error(w, "tick failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tickResponse{
		OK:       true,
		Inserted: summary.Inserted,
		Quiet:    summary.Quiet,
	})
}

// authorized checks the shared-secret header. An empty configured secret
// disables the check entirely.
func (s *Server) authorized(r *http.Request) bool {
	if s.cronSecret == "" {
		return true
	}
	got := r.Header.Get(cronSecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cronSecret)) == 1
}

// stateResponse is the snapshot the front end loads on startup; afterwards
// it keeps itself current through the websocket.
type stateResponse struct {
	Rooms    []village.Room     `json:"rooms"`
	Agents   []village.Agent    `json:"agents"`
	Messages []village.Message  `json:"messages"`
	World    village.WorldState `json:"world_state"`
}

// handleState serves GET /state. Partial read failures degrade to empty
// sections rather than failing the snapshot.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	log := observe.Logger(ctx)

	var resp stateResponse
	var err error

	if resp.Rooms, err = s.store.ListRooms(ctx); err != nil {
		log.Warn("state: room listing failed", "error", err)
		resp.Rooms = nil
	}
	if resp.Agents, err = s.store.ListActiveAgents(ctx); err != nil {
		log.Warn("state: agent listing failed", "error", err)
		resp.Agents = nil
	}
	if resp.Messages, err = s.store.RecentMessages(ctx, stateMessageLimit); err != nil {
		log.Warn("state: message listing failed", "error", err)
		resp.Messages = nil
	}
	if resp.World, err = s.store.WorldState(ctx); err != nil {
		log.Warn("state: world-state read failed", "error", err)
		resp.World = village.WorldState{ID: village.WorldStateID}
	}

	// Empty sections marshal as [] rather than null for the front end.
	if resp.Rooms == nil {
		resp.Rooms = []village.Room{}
	}
	if resp.Agents == nil {
		resp.Agents = []village.Agent{}
	}
	if resp.Messages == nil {
		resp.Messages = []village.Message{}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}
