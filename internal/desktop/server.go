// Package desktop serves native viewers over a persistent TCP connection:
// a newline-terminated code handshake, then length-prefixed frames, with
// QUALITY control messages accepted on the same connection at any time.
package desktop

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/screenshare/backend/internal/admission"
	"github.com/screenshare/backend/internal/capture"
	"github.com/screenshare/backend/internal/frame"
	"github.com/screenshare/backend/internal/perf"
	"github.com/screenshare/backend/internal/viewer"
)

const (
	handshakeTimeout  = 30 * time.Second
	frameWriteTimeout = 5 * time.Second
	controlPrefix     = "QUALITY:"
)

type Server struct {
	manager  *admission.Manager
	registry *viewer.Registry
	cache    *frame.Cache
	delivery capture.RatePolicy
	perf     *perf.Collector
}

func NewServer(manager *admission.Manager, registry *viewer.Registry, cache *frame.Cache, delivery capture.RatePolicy, collector *perf.Collector) *Server {
	return &Server{
		manager:  manager,
		registry: registry,
		cache:    cache,
		delivery: delivery,
		perf:     collector,
	}
}

// ListenAndServe binds the TCP listener and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("desktop listen %s: %w", addr, err)
	}
	log.Printf("Desktop server listening on %s", addr)
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx is cancelled, handling each viewer on
// its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("desktop: accept error: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log.Printf("Desktop connection from %s", remote)

	reader := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	line, err := reader.ReadString('\n')
	if err != nil {
		log.Printf("desktop: %s: handshake read failed: %v", remote, err)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(line))
	conn.SetReadDeadline(time.Time{})

	if !s.manager.VerifyCode(code) {
		conn.Write([]byte("UNAUTHORIZED\n"))
		log.Printf("desktop: %s: wrong security code", remote)
		return
	}

	sessionID := uuid.NewString()

	if s.manager.RequireApproval() {
		if _, err := conn.Write([]byte("WAITING_APPROVAL\n")); err != nil {
			return
		}
		s.manager.Request(sessionID, remote)
		result := s.manager.Await(ctx, sessionID)
		if result != admission.Approved {
			conn.Write([]byte("REJECTED\n"))
			log.Printf("desktop: %s: %s", remote, result)
			return
		}
		if _, err := conn.Write([]byte("APPROVED\n")); err != nil {
			return
		}
	} else {
		if _, err := conn.Write([]byte("AUTHORIZED\n")); err != nil {
			return
		}
	}

	sess := &viewer.Session{
		ID:         sessionID,
		RemoteAddr: remote,
		State:      viewer.Streaming,
		Quality:    frame.Medium,
	}
	s.registry.Add(sess)
	defer func() {
		s.registry.Remove(sessionID)
		log.Printf("Desktop viewer %s disconnected (%d remaining)", remote, s.registry.ActiveCount())
	}()
	log.Printf("Desktop viewer %s authorized (%d viewers)", remote, s.registry.ActiveCount())

	// Control messages arrive on the same connection; a dedicated reader
	// keeps them from ever blocking the outgoing frame loop.
	go s.readControl(reader, conn, sessionID, remote)

	s.streamFrames(ctx, conn, sessionID, remote)
}

// readControl consumes QUALITY:<TIER> lines until the connection dies.
func (s *Server) readControl(reader *bufio.Reader, conn net.Conn, sessionID, remote string) {
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.applyControl(strings.TrimSpace(line), sessionID, remote)
		}
		if err != nil {
			// Reader exit also tears down delivery: a dead read side means
			// the viewer is gone.
			conn.Close()
			return
		}
	}
}

func (s *Server) applyControl(msg, sessionID, remote string) {
	if msg == "" {
		return
	}
	if !strings.HasPrefix(msg, controlPrefix) {
		log.Printf("desktop: %s: unknown control message %q", remote, msg)
		return
	}
	tier, err := frame.ParseTier(strings.TrimPrefix(msg, controlPrefix))
	if err != nil {
		log.Printf("desktop: %s: %v", remote, err)
		return
	}
	if err := s.registry.SetQuality(sessionID, tier); err != nil {
		log.Printf("desktop: %s: quality change refused: %v", remote, err)
		return
	}
	log.Printf("Desktop viewer %s switched to %s quality", remote, tier)
}

// streamFrames pushes length-prefixed frames at the load-adaptive delivery
// cadence until the transport fails or ctx is cancelled.
func (s *Server) streamFrames(ctx context.Context, conn net.Conn, sessionID, remote string) {
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
			if err := writeFrame(conn, enc.Data); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					log.Printf("desktop: %s: frame write failed: %v", remote, err)
				}
				return
			}
			s.registry.RecordFrameSent(sessionID)
			if s.perf != nil {
				s.perf.FrameServedDesktop()
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

// writeFrame sends one frame: an 8-byte native-order length prefix followed
// by the gob-serialized JPEG payload. Each frame carries its own gob stream
// so viewers can decode every message independently.
func writeFrame(conn net.Conn, jpegData []byte) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(jpegData); err != nil {
		return fmt.Errorf("encode frame envelope: %w", err)
	}

	msg := make([]byte, 8+payload.Len())
	binary.NativeEndian.PutUint64(msg[:8], uint64(payload.Len()))
	copy(msg[8:], payload.Bytes())

	conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	if _, err := conn.Write(msg); err != nil {
		return err
	}
	return nil
}
