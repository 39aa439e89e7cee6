// Package server exposes the orchestrator over HTTP.
//
// The API is a thin JSON front: each route maps onto one
// [orchestrator.Orchestrator] method. Base64 images are accepted with or
// without a data-URL prefix and normalized at the edge, so agents always
// see raw base64. Live progress for a single message is served over
// WebSocket; recorded progress is available for polling.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/moche-ai/routine-studio/internal/health"
	"github.com/moche-ai/routine-studio/internal/observe"
	"github.com/moche-ai/routine-studio/internal/orchestrator"
	"github.com/moche-ai/routine-studio/internal/progress"
	"github.com/moche-ai/routine-studio/internal/session"
	"github.com/moche-ai/routine-studio/pkg/types"
)

// firstFrameTimeout bounds how long a stream connection may sit idle before
// sending its request frame.
const firstFrameTimeout = 30 * time.Second

// Server wires the studio API routes to the orchestrator.
type Server struct {
	orch    *orchestrator.Orchestrator
	health  *health.Handler
	metrics http.Handler
}

// New creates a Server. metrics serves GET /metrics and may be nil when no
// exporter is mounted.
func New(orch *orchestrator.Orchestrator, h *health.Handler, metrics http.Handler) *Server {
	return &Server{orch: orch, health: h, metrics: metrics}
}

// Handler returns an http.Handler that serves the studio API:
//
//	POST   /api/workflow/start          — create a session, run the first stage
//	POST   /api/sessions/{id}/messages  — process one user message
//	GET    /api/sessions/{id}/stream    — WebSocket; live events for one message
//	GET    /api/sessions                — list session summaries
//	GET    /api/sessions/{id}           — session snapshot
//	GET    /api/sessions/{id}/progress  — recorded events; ?from=N for increments
//	DELETE /api/sessions/{id}           — delete the session and its outputs
//	GET    /healthz                     — component health
//	GET    /metrics                     — Prometheus metrics
//
// Every route is wrapped in the request observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/workflow/start", s.handleStart)
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.handleMessage)
	mux.HandleFunc("GET /api/sessions/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/sessions", s.handleList)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGet)
	mux.HandleFunc("GET /api/sessions/{id}/progress", s.handleProgress)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDelete)
	s.health.Register(mux)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// startRequest is the JSON body for the workflow start endpoint.
type startRequest struct {
	Request   string `json:"request"`
	SessionID string `json:"session_id,omitempty"`
}

// handleStart handles POST /api/workflow/start.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := s.orch.StartWorkflow(r.Context(), req.Request, orchestrator.StartOptions{SessionID: req.SessionID})
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionExists) {
			http.Error(w, "session already exists", http.StatusConflict)
			return
		}
		http.Error(w, "failed to start workflow: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// messageRequest is the JSON body for the message endpoint.
type messageRequest struct {
	Message string   `json:"message"`
	Images  []string `json:"images,omitempty"`
}

// handleMessage handles POST /api/sessions/{id}/messages.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply, err := s.orch.ProcessMessage(r.Context(), id, req.Message, normalizeImages(req.Images))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to process message: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// streamRequest is the first WebSocket frame sent by the client on the
// stream endpoint. It carries the same fields as [messageRequest].
type streamRequest struct {
	Message string   `json:"message"`
	Images  []string `json:"images,omitempty"`
}

// handleStream handles GET /api/sessions/{id}/stream.
//
// The client upgrades to WebSocket, sends one request frame, and receives
// every progress event of the resulting run as a JSON text frame. The
// connection closes normally after the terminal done or error event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("websocket accept failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	readCtx, cancelRead := context.WithTimeout(r.Context(), firstFrameTimeout)
	_, data, err := conn.Read(readCtx)
	cancelRead()
	if err != nil {
		return
	}
	var req streamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		conn.Close(websocket.StatusInvalidFramePayloadData, "invalid request frame")
		return
	}

	ctx := r.Context()
	events, err := s.orch.ProcessMessageStream(ctx, id, req.Message, normalizeImages(req.Images))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			conn.Close(websocket.StatusPolicyViolation, "session not found")
			return
		}
		conn.Close(websocket.StatusInternalError, "failed to start stream")
		return
	}

	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			slog.Error("marshal progress event", "session_id", id, "error", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "done")
}

// sessionSummary is one entry in the session list response.
type sessionSummary struct {
	ID        string        `json:"id"`
	Stage     session.Stage `json:"stage"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// listResponse is the JSON body returned from the session list endpoint.
type listResponse struct {
	Sessions []sessionSummary `json:"sessions"`
}

// handleList handles GET /api/sessions.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.orch.ListSessions(r.Context())
	if err != nil {
		http.Error(w, "failed to list sessions: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := listResponse{Sessions: make([]sessionSummary, 0, len(sessions))}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, sessionSummary{
			ID:        sess.ID,
			Stage:     sess.CurrentStage,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGet handles GET /api/sessions/{id}.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// progressResponse is the JSON body returned from the progress endpoint.
type progressResponse struct {
	Events []progress.Event `json:"events"`
}

// handleProgress handles GET /api/sessions/{id}/progress. The optional
// from query parameter returns only events with a higher sequence number.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.orch.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var from int64
	if raw := r.URL.Query().Get("from"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from parameter", http.StatusBadRequest)
			return
		}
		from = v
	}

	events := s.orch.Events(id, from)
	if events == nil {
		events = []progress.Event{}
	}
	writeJSON(w, http.StatusOK, progressResponse{Events: events})
}

// handleDelete handles DELETE /api/sessions/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete session: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// normalizeImages strips data-URL prefixes from each image payload.
func normalizeImages(images []string) []string {
	if len(images) == 0 {
		return nil
	}
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = types.StripDataURL(img)
	}
	return out
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
