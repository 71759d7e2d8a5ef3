// Package web serves browser viewers: code verification, quality changes,
// MJPEG streaming, introspection endpoints, and the operator event socket.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/screenshare/backend/internal/admission"
	"github.com/screenshare/backend/internal/capture"
	"github.com/screenshare/backend/internal/frame"
	"github.com/screenshare/backend/internal/perf"
	"github.com/screenshare/backend/internal/viewer"
)

// CaptureController is the slice of the capture loop the web server needs:
// the current rate state for introspection and an out-of-band refresh after
// quality changes.
type CaptureController interface {
	RateState() capture.RateState
	Refresh() error
}

type Server struct {
	manager    *admission.Manager
	registry   *viewer.Registry
	cache      *frame.Cache
	controller CaptureController
	delivery   capture.RatePolicy
	perf       *perf.Collector
	events     *EventHub
}

func NewServer(manager *admission.Manager, registry *viewer.Registry, cache *frame.Cache, controller CaptureController, delivery capture.RatePolicy, collector *perf.Collector, events *EventHub) *Server {
	return &Server{
		manager:    manager,
		registry:   registry,
		cache:      cache,
		controller: controller,
		delivery:   delivery,
		perf:       collector,
		events:     events,
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/set_quality", s.handleSetQuality)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWS)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

type verifyRequest struct {
	Code string `json:"code"`
}

// handleVerify drives admission synchronously within the request. The wait
// blocks only this handler's goroutine; other requests proceed.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "message": "invalid request body",
		})
		return
	}

	if !s.manager.VerifyCode(req.Code) {
		log.Printf("web: %s: wrong security code", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"status": "unauthorized", "message": "Invalid security code",
		})
		return
	}

	sessionID := uuid.NewString()

	if s.manager.RequireApproval() {
		s.manager.Request(sessionID, r.RemoteAddr)
		result := s.manager.Await(r.Context(), sessionID)
		if result != admission.Approved {
			log.Printf("web: %s: admission %s", r.RemoteAddr, result)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"status": "rejected", "message": "Connection rejected by server or timeout",
			})
			return
		}
	}

	sess := &viewer.Session{
		ID:         sessionID,
		RemoteAddr: r.RemoteAddr,
		State:      viewer.Authorized,
		Quality:    frame.Medium,
	}
	s.registry.Add(sess)
	if s.events != nil {
		s.events.Notify(EvViewerJoined, sess)
	}
	log.Printf("Web viewer %s authorized (%d viewers)", r.RemoteAddr, s.registry.ActiveCount())

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "approved",
		"session": sessionID,
		"message": "Connection approved",
	})
}

type setQualityRequest struct {
	Session string `json:"session"`
	Quality string `json:"quality"`
}

func (s *Server) handleSetQuality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req setQualityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "message": "invalid request body",
		})
		return
	}

	tier, err := frame.ParseTier(req.Quality)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"status": "error", "message": "Invalid quality setting. Valid options: high, medium, low",
		})
		return
	}

	if err := s.registry.SetQuality(req.Session, tier); err != nil {
		if errors.Is(err, viewer.ErrUnknownSession) {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"status": "unauthorized", "message": "Invalid session",
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error", "message": "Internal server error",
		})
		return
	}

	// Refresh the cache out of band so the next served frame reflects the
	// new tier instead of waiting a full capture cycle.
	if s.controller != nil {
		if err := s.controller.Refresh(); err != nil {
			log.Printf("web: refresh after quality change failed: %v", err)
		}
	}

	if sess, ok := s.registry.Get(req.Session); ok && s.events != nil {
		s.events.Notify(EvQualityChanged, sess)
	}
	log.Printf("Web viewer session %.8s... switched to %s quality", req.Session, tier)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"quality": tier.String(),
		"message": fmt.Sprintf("Quality set to %s", tier),
	})
}

const streamBoundary = "frame"

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		http.Error(w, "bad query", http.StatusBadRequest)
		return
	}
	sessionID := query.Get("session")

	sess, ok := s.registry.Get(sessionID)
	if !ok {
		http.Error(w, "Unauthorized - Invalid or missing session", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.registry.SetState(sessionID, viewer.Streaming)
	defer func() {
		s.registry.Remove(sessionID)
		if s.events != nil {
			s.events.Notify(EvViewerLeft, sess)
		}
		log.Printf("Web stream ended for %s (%d remaining)", sess.RemoteAddr, s.registry.ActiveCount())
	}()
	log.Printf("Web stream started for %s", sess.RemoteAddr)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		fps := s.delivery.FPSFor(s.registry.ActiveCount())

		tier, ok := s.registry.Quality(sessionID)
		if !ok {
			return
		}

		if enc, ok := s.cache.Read(tier); ok {
			if err := writePart(w, enc.Data); err != nil {
				return
			}
			flusher.Flush()
			s.registry.RecordFrameSent(sessionID)
			if s.perf != nil {
				s.perf.FrameServedWeb()
			}
		}

		period := time.Second / time.Duration(fps)
		if remaining := period - time.Since(start); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// writePart emits one MJPEG part: boundary, headers, JPEG bytes, CRLF.
func writePart(w http.ResponseWriter, jpegData []byte) error {
	var sb strings.Builder
	sb.WriteString("--")
	sb.WriteString(streamBoundary)
	sb.WriteString("\r\nContent-Type: image/jpeg\r\n")
	fmt.Fprintf(&sb, "Content-Length: %d\r\n\r\n", len(jpegData))

	if _, err := w.Write([]byte(sb.String())); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	qualities := make([]string, 0, len(frame.Tiers()))
	for _, t := range frame.Tiers() {
		qualities = append(qualities, t.String())
	}

	body := map[string]interface{}{
		"status":             "ok",
		"sharing":            true,
		"availableQualities": qualities,
		"activeViewers":      s.registry.ActiveCount(),
	}
	if s.controller != nil {
		body["rate"] = s.controller.RateState()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"viewers":        s.registry.Snapshot(),
		"framesCaptured": s.cache.FramesCaptured(),
	}
	if s.controller != nil {
		body["rate"] = s.controller.RateState()
	}
	if s.perf != nil {
		body["performance"] = s.perf.Sample()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "events not available", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: ws upgrade error: %v", err)
		return
	}

	log.Printf("Operator dashboard connected: %s", r.RemoteAddr)
	c := s.events.AddClient(conn)

	go func() {
		defer func() {
			s.events.RemoveClient(c)
			log.Printf("Operator dashboard disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// checkOrigin admits same-host and loopback origins.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") || strings.HasPrefix(host, "[::1]") {
		return true
	}
	return false
}

// NewHTTPServer builds the web listener on host:port with the given mux.
// The caller owns its lifecycle and shuts it down gracefully.
func NewHTTPServer(host string, port int, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
}
