// Package server exposes a headless map host over HTTP: a JSON snapshot of
// the application state, a Server-Sent Events stream of state changes and
// a few commands that drive the camera and the tools.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	mbgeojson "github.com/MeKo-Tech/mapbridge/internal/geojson"
	"github.com/MeKo-Tech/mapbridge/internal/host"
	"github.com/MeKo-Tech/mapbridge/internal/search"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
	"github.com/MeKo-Tech/mapbridge/internal/types"
)

// Config tunes the server.
type Config struct {
	// Heartbeat is the interval of keep-alive comments on idle streams
	// (default: 15s).
	Heartbeat time.Duration
	// SearchTimeout bounds one search request (default: 30s).
	SearchTimeout time.Duration
}

// Server serves one host map.
type Server struct {
	m      *host.Map
	cfg    Config
	logger *slog.Logger

	streams  atomic.Int32
	commands atomic.Int64
	failed   atomic.Int64
}

// Snapshot is the body of GET /state and of every stream event.
type Snapshot struct {
	Engine   string          `json:"engine"`
	Ready    bool            `json:"ready"`
	Viewport *types.Viewport `json:"viewport,omitempty"`
	State    state.AppState  `json:"state"`
	Status   Status          `json:"status"`
}

// Status counts server activity.
type Status struct {
	Streams        int   `json:"streams"`
	Commands       int64 `json:"commands"`
	FailedCommands int64 `json:"failed_commands"`
}

// ViewportRequest is the body of POST /viewport. Zoom is canonical.
type ViewportRequest struct {
	Center  [2]float64 `json:"center"`
	Zoom    float64    `json:"zoom"`
	Bearing *float64   `json:"bearing,omitempty"`
	Pitch   *float64   `json:"pitch,omitempty"`
}

// EngineRequest is the body of POST /engine.
type EngineRequest struct {
	Engine string `json:"engine"`
}

// New creates a server for m.
func New(m *host.Map, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	return &Server{m: m, cfg: cfg, logger: logger.With("component", "server")}
}

// Handler returns the routes wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /state", s.StateHandler())
	mux.Handle("GET /state/stream", s.StateStreamHandler())
	mux.HandleFunc("POST /viewport", s.handleViewport)
	mux.HandleFunc("POST /tools/{id}/toggle", s.handleToolToggle)
	mux.HandleFunc("POST /engine", s.handleEngine)
	mux.HandleFunc("GET /search", s.handleSearch)
	return withCORS(mux)
}

// Snapshot returns the current state of the map.
func (s *Server) Snapshot() Snapshot {
	snap := Snapshot{
		Engine: s.m.Engine(),
		State:  s.m.Store().State(),
		Status: Status{
			Streams:        int(s.streams.Load()),
			Commands:       s.commands.Load(),
			FailedCommands: s.failed.Load(),
		},
	}
	if a := s.m.Adapter(); a != nil {
		snap.Ready = true
		vp := a.Core().ViewportState()
		snap.Viewport = &vp
	}
	return snap
}

// StateHandler returns an HTTP handler for the state endpoint (JSON).
func (s *Server) StateHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		s.writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

// StateStreamHandler returns an SSE handler pushing a snapshot after every
// store change. Bursts of changes are coalesced into one event.
func (s *Server) StateStreamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "SSE not supported", http.StatusInternalServerError)
			return
		}

		changed := make(chan struct{}, 1)
		unsubscribe := s.m.Store().Subscribe(func(state.AppState, state.Cause) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()

		s.streams.Add(1)
		defer s.streams.Add(-1)

		heartbeat := time.NewTicker(s.cfg.Heartbeat)
		defer heartbeat.Stop()

		s.sendStateEvent(w, flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-changed:
				s.sendStateEvent(w, flusher)
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	})
}

func (s *Server) sendStateEvent(w http.ResponseWriter, flusher http.Flusher) {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		s.logger.Error("failed to encode state", "op", "stream", "error", err)
		return
	}
	fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	flusher.Flush()
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req ViewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "viewport", fmt.Errorf("invalid body: %w", err))
		return
	}
	a := s.m.Adapter()
	if a == nil {
		s.fail(w, http.StatusServiceUnavailable, "viewport", host.ErrNoAdapter)
		return
	}
	core := a.Core()
	if err := core.SetViewport(types.LngLat{req.Center[0], req.Center[1]}, req.Zoom); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, "viewport", err)
		return
	}
	if req.Bearing != nil {
		if err := core.SetBearing(*req.Bearing); err != nil {
			s.fail(w, statusFor(err), "viewport", err)
			return
		}
	}
	if req.Pitch != nil {
		if err := core.SetPitch(*req.Pitch); err != nil {
			s.fail(w, statusFor(err), "viewport", err)
			return
		}
	}
	s.commands.Add(1)
	s.writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleToolToggle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	mgr := s.m.Tools()
	if mgr == nil {
		s.fail(w, http.StatusServiceUnavailable, "toggle", host.ErrNoAdapter)
		return
	}
	if err := mgr.Toggle(id); err != nil {
		s.fail(w, statusFor(err), "toggle", err)
		return
	}
	s.commands.Add(1)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tool":   id,
		"active": mgr.IsActive(id),
		"state":  s.m.Store().State(),
	})
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	var req EngineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Engine == "" {
		s.fail(w, http.StatusBadRequest, "engine", errors.New("body must name an engine"))
		return
	}
	if err := s.m.SwitchEngine(r.Context(), req.Engine); err != nil {
		s.fail(w, statusFor(err), "engine", err)
		return
	}
	s.commands.Add(1)
	s.writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SearchTimeout)
	defer cancel()
	fc, err := s.m.Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		s.fail(w, statusFor(err), "search", err)
		return
	}
	s.logger.Debug("search answered", "op", "search", "query", r.URL.Query().Get("q"), "result", mbgeojson.Summary(fc))
	w.Header().Set("Content-Type", "application/geo+json")
	data, err := fc.MarshalJSON()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "search", err)
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) fail(w http.ResponseWriter, status int, op string, err error) {
	s.failed.Add(1)
	s.logger.Warn("request failed", "op", op, "status", status, "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, tools.ErrReentrant), errors.Is(err, search.ErrStale):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNotSupported), errors.Is(err, search.ErrEmptyQuery):
		return http.StatusUnprocessableEntity
	case errors.Is(err, host.ErrNoAdapter), errors.Is(err, host.ErrDetached), errors.Is(err, engine.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
