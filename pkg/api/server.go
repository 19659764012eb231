// Package api implements the GCS's HTTP surface: REST endpoints for object
// recall/deletion, recording toggle, and flight mode/follow-distance/stop
// commands, plus the WebRTC `/offer` handler and the UI websocket upgrade.
// Structurally grounded on the teacher's mux/middleware/graceful-shutdown
// idiom; the handler set itself answers the spec's endpoint list rather than
// the teacher's camera-session/Cloudflare-proxy one.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aerofollow/gcs/pkg/logger"
	"github.com/aerofollow/gcs/pkg/trail"
)

// Egress is the subset of pkg/webrtcegress.Egress the `/offer` handler
// drives.
type Egress interface {
	HandleOffer(ctx context.Context, offerSDP string) (string, error)
}

// UIBridge is the subset of pkg/bridge.UIBridge the server wires its
// websocket upgrade to.
type UIBridge interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Recorder is the subset of pkg/trail.Recorder the `/recording` endpoint
// drives.
type Recorder interface {
	Start()
	Stop(ctx context.Context) error
	Active() bool
}

// ObjectStore is the subset of pkg/trail.DynamoDBStore the `/objects`
// endpoints drive.
type ObjectStore interface {
	ListObjects(ctx context.Context) ([]trail.ObjectSummary, error)
	DeleteObject(ctx context.Context, objectID string) error
}

// Commander is the subset of pkg/bridge.DroneBridge the flight-mode/follow
// endpoints drive.
type Commander interface {
	Send(envelope map[string]any) error
}

// Server is the GCS backend's HTTP entrypoint.
type Server struct {
	egress    Egress
	ui        UIBridge
	recorder  Recorder
	store     ObjectStore
	commander Commander
	logger    *logger.Logger

	httpServer *http.Server
}

// NewServer wires a Server to its backing components.
func NewServer(egress Egress, ui UIBridge, recorder Recorder, store ObjectStore, commander Commander, log *logger.Logger) *Server {
	return &Server{
		egress:    egress,
		ui:        ui,
		recorder:  recorder,
		store:     store,
		commander: commander,
		logger:    log,
	}
}

// Start binds the mux and begins serving at addr, returning once the
// listener is confirmed up or a startup error occurs.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/objects", s.handleObjects)
	mux.HandleFunc("/delete/object/", s.handleDeleteObject)
	mux.HandleFunc("/recording", s.handleRecording)
	mux.HandleFunc("/setFlightMode", s.handleSetFlightMode)
	mux.HandleFunc("/setFollowDistance", s.handleSetFollowDistance)
	mux.HandleFunc("/stopFollowing", s.handleStopFollowing)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/offer", s.handleOffer)
	mux.HandleFunc("/ws/gcs", s.ui.ServeWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withCORS(s.withLogging(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleObjects returns the recorded-trail summary list (§4.11's GET
// /objects), reproducing get_all_objects's {objectID, classification,
// timestamp} shape.
func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	objects, err := s.store.ListObjects(r.Context())
	if err != nil {
		s.logger.Error("list objects failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(objects); err != nil {
		s.logger.Error("encode objects response failed", "error", err)
	}
}

// handleDeleteObject deletes one recorded trail by ID, path-shaped as
// /delete/object/{id}.
func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/delete/object/")
	if id == "" {
		http.Error(w, "missing object id", http.StatusBadRequest)
		return
	}

	if err := s.store.DeleteObject(r.Context(), id); err != nil {
		s.logger.Error("delete object failed", "object_id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleRecording toggles trail recording: POST {"active": true|false}.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Active {
		s.recorder.Start()
	} else if err := s.recorder.Stop(r.Context()); err != nil {
		s.logger.Error("stop recording failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"is_recording": s.recorder.Active()})
}

// handleSetFlightMode forwards {"mode": "..."} to the drone bridge,
// matching /setFlightMode.
func (s *Server) handleSetFlightMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		http.Error(w, "missing 'mode' in body", http.StatusBadRequest)
		return
	}

	if err := s.commander.Send(map[string]any{"command": "set_flight_mode", "mode": req.Mode}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"status": 200, "message": "flight mode set to " + req.Mode})
}

// handleSetFollowDistance forwards {"distance": N} to the drone bridge.
func (s *Server) handleSetFollowDistance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Distance *float64 `json:"distance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Distance == nil {
		http.Error(w, "missing 'distance' in body", http.StatusBadRequest)
		return
	}

	if err := s.commander.Send(map[string]any{"command": "set_follow_distance", "distance": *req.Distance}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"status": 200})
}

// handleStopFollowing sends stop_following to the drone bridge.
func (s *Server) handleStopFollowing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.commander.Send(map[string]any{"command": "stop_following"}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"status": 200, "message": "stopped following the target"})
}

// handleHealth is a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

// handleOffer accepts a browser SDP offer and returns an SDP answer (§4.9,
// §6's `/offer` contract).
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var req struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.SDP == "" {
		http.Error(w, "missing 'sdp' in body", http.StatusBadRequest)
		return
	}

	answer, err := s.egress.HandleOffer(r.Context(), req.SDP)
	if err != nil {
		s.logger.Error("handle offer failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"sdp": answer, "type": "answer"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// withCORS adds permissive CORS headers, matching the teacher's viewer-facing API.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging logs request method/path/status/duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
