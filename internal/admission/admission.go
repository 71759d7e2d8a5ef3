// Package admission gates new viewers behind a shared security code and an
// optional human approval step. Approval decisions are made by a single
// sequential worker so the operator is never shown two prompts at once.
package admission

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	ErrBadCode  = errors.New("invalid security code")
	ErrRejected = errors.New("connection rejected")
	ErrTimedOut = errors.New("approval timed out")
)

// Result is the outcome of an approval wait.
type Result int

const (
	Approved Result = iota
	Rejected
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Err maps a non-approved result to its admission error.
func (r Result) Err() error {
	switch r {
	case Rejected:
		return ErrRejected
	case TimedOut:
		return ErrTimedOut
	}
	return nil
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCode produces a random uppercase alphanumeric security code.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be positive, got %d", length)
	}
	b := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Request is one queued approval prompt for the operator.
type Request struct {
	SessionID  string
	RemoteAddr string
}

// Decider renders one approval prompt and returns the operator's verdict.
// It is only ever called from the single approval worker, one request at a
// time.
type Decider interface {
	Decide(req Request) bool
}

type pendingApproval struct {
	req      Request
	decision chan bool
}

// Manager owns the session security code and the approval pipeline.
type Manager struct {
	code            string
	requireApproval bool
	timeout         time.Duration
	decider         Decider

	mu      sync.Mutex
	pending map[string]*pendingApproval
	queue   chan *pendingApproval
}

// NewManager creates a manager for the given session-wide code. decider may
// be nil when requireApproval is false.
func NewManager(code string, requireApproval bool, timeout time.Duration, decider Decider) *Manager {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Manager{
		code:            strings.ToUpper(code),
		requireApproval: requireApproval,
		timeout:         timeout,
		decider:         decider,
		pending:         make(map[string]*pendingApproval),
		queue:           make(chan *pendingApproval, 64),
	}
}

// Code returns the session security code, for display to the operator.
func (m *Manager) Code() string {
	return m.code
}

// RequireApproval reports whether verified viewers still need operator
// approval before streaming.
func (m *Manager) RequireApproval() bool {
	return m.requireApproval
}

// Timeout is the approval wait budget applied by Await.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// VerifyCode checks a submitted code against the session secret. Input is
// trimmed and upper-cased before a constant-time comparison, so the desktop
// path's case normalization holds on every path.
func (m *Manager) VerifyCode(code string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	return subtle.ConstantTimeCompare([]byte(normalized), []byte(m.code)) == 1
}

// Request enqueues an approval prompt for the session. Non-blocking; the
// caller follows up with Await.
func (m *Manager) Request(sessionID, remoteAddr string) {
	p := &pendingApproval{
		req:      Request{SessionID: sessionID, RemoteAddr: remoteAddr},
		decision: make(chan bool, 1),
	}

	m.mu.Lock()
	m.pending[sessionID] = p
	m.mu.Unlock()

	select {
	case m.queue <- p:
	default:
		// Queue saturated; treat as an immediate rejection rather than
		// blocking the admission path.
		log.Printf("admission: approval queue full, rejecting %s", remoteAddr)
		m.resolve(sessionID, false)
	}
}

// Await blocks until the operator decides, the timeout elapses, or ctx is
// cancelled. On timeout the request is discarded and treated as rejected.
func (m *Manager) Await(ctx context.Context, sessionID string) Result {
	m.mu.Lock()
	p, ok := m.pending[sessionID]
	m.mu.Unlock()
	if !ok {
		return Rejected
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case approved := <-p.decision:
		if approved {
			return Approved
		}
		return Rejected
	case <-timer.C:
		m.discard(sessionID)
		return TimedOut
	case <-ctx.Done():
		m.discard(sessionID)
		return Rejected
	}
}

// RunWorker consumes approval requests strictly one at a time until ctx is
// cancelled. Requests whose waiters already gave up are skipped without
// prompting.
func (m *Manager) RunWorker(ctx context.Context) {
	if !m.requireApproval {
		return
	}
	log.Println("Approval worker started - requests are handled sequentially")
	for {
		select {
		case <-ctx.Done():
			log.Println("Approval worker stopped")
			return
		case p := <-m.queue:
			m.mu.Lock()
			_, stillPending := m.pending[p.req.SessionID]
			m.mu.Unlock()
			if !stillPending {
				log.Printf("admission: request from %s expired before prompt", p.req.RemoteAddr)
				continue
			}

			approved := m.decider.Decide(p.req)
			m.resolve(p.req.SessionID, approved)
		}
	}
}

// resolve delivers the decision to the waiting admission call, if it is
// still waiting.
func (m *Manager) resolve(sessionID string, approved bool) {
	m.mu.Lock()
	p, ok := m.pending[sessionID]
	if ok {
		delete(m.pending, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	p.decision <- approved
}

func (m *Manager) discard(sessionID string) {
	m.mu.Lock()
	delete(m.pending, sessionID)
	m.mu.Unlock()
}

// PendingCount reports how many admissions are waiting on a decision.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
