package bridge

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// DefaultReadinessTimeout bounds how long the handshake waits for a pooled
// (or freshly created) upstream session before closing the already-upgraded
// socket with 1008, per
// SPEC_FULL.md §4.2.
const DefaultReadinessTimeout = 5 * time.Second

// Upgrader accepts a client's raw HTTP connection and returns the
// ClientConn abstraction the pump reads and writes through. The concrete
// implementation wraps github.com/coder/websocket's Accept.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (ClientConn, error)
}

// Server wires the abuse gate, warmup pool, session registry, readiness
// registry and message pump into the single WebSocket handshake endpoint
// described in SPEC_FULL.md §4.2.
type Server struct {
	Gate             *AbuseGate
	Pool             *WarmupPool
	Sessions         *SessionRegistry
	Readiness        *ReadinessRegistry
	Upgrader         Upgrader
	Factory          UpstreamFactory
	ToolExecutor     ToolExecutor
	ProducerFactory  func(sessionID string) MessageProducer
	ReadinessTimeout time.Duration
	Logger           *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) readinessTimeout() time.Duration {
	if s.ReadinessTimeout > 0 {
		return s.ReadinessTimeout
	}
	return DefaultReadinessTimeout
}

// ServeHTTP implements the three-way routing in SPEC_FULL.md §4.2/§6:
// GET /healthy → plain liveness probe; a non-upgrade request → plain OK;
// a WebSocket upgrade request → the full handshake.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthy" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy\n"))
		return
	}

	if r.Header.Get("Upgrade") == "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK\n"))
		return
	}

	s.handleUpgrade(w, r)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	logger := s.logger()

	conn, err := s.Upgrader.Upgrade(w, r)
	if err != nil {
		logger.Warn("websocket upgrade failed", "remote_ip", ip, "error", err)
		return
	}

	// Abuse-gate bans and malformed upgrade headers are rejected only after
	// the handshake completes, per SPEC_FULL.md §4.5/§6: the client gets a
	// real WebSocket close frame with the documented code (1008/1002)
	// rather than a bare HTTP status that a WS client library won't surface
	// as a close event.
	if err := s.Gate.Admit(ip); err != nil {
		logger.Warn("handshake refused by abuse gate", "remote_ip", ip, "error", err)
		_ = conn.Close(1008, "Forbidden")
		return
	}
	if err := ValidateUpgradeHeaders(r.Header, r.Host); err != nil {
		logger.Warn("handshake refused for bad headers", "remote_ip", ip, "error", err)
		_ = conn.Close(1002, "Invalid WebSocket request headers")
		return
	}

	sessionID := uuid.NewString()
	baseInfo := ParseBaseInfo(r.URL.Query())
	promise := s.Readiness.Create(sessionID)

	go s.warmupSession(sessionID, baseInfo, promise)

	if err := conn.WriteFrame(r.Context(), OutFrame{Ready: true, SessionID: sessionID}); err != nil {
		s.Readiness.Cancel(sessionID)
		_ = conn.Close(1011, "write failed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.readinessTimeout())
	result, ok := promise.Wait(ctx.Done())
	cancel()
	if !ok || !result.OK {
		logger.Warn("session readiness failed", "session_id", sessionID, "remote_ip", ip)
		_ = conn.Close(1008, "Gemini initialization failed")
		return
	}

	s.Sessions.Add(sessionID, result.Session)
	defer s.Sessions.Remove(sessionID, sessionID)

	outcome := RunSessionPump(r.Context(), conn, result.Session, PumpDeps{
		Factory:      s.Factory,
		ToolExecutor: s.ToolExecutor,
		Logger:       logger,
	})
	s.cleanup(result.Session, outcome)
	_ = conn.Close(1000, "done")
}

// warmupSession acquires (or creates) an upstream session off the
// handshake goroutine, per SPEC_FULL.md §4.1's "blocking work off the I/O
// path", and resolves the corresponding readiness promise with the
// outcome.
func (s *Server) warmupSession(sessionID string, info BaseInfo, promise *ReadinessPromise) {
	ctx := context.Background()

	upstream, err := s.Pool.Acquire(ctx)
	if err != nil {
		s.logger().Error("session warmup failed", "session_id", sessionID, "error", err)
		s.Readiness.Complete(sessionID, ReadinessResult{OK: false})
		return
	}

	var producer MessageProducer
	if s.ProducerFactory != nil {
		producer = s.ProducerFactory(sessionID)
	}

	sess := NewSession(sessionID, info, upstream, producer)
	s.Readiness.Complete(sessionID, ReadinessResult{Session: sess, OK: true, BaseInfo: info})
}

func (s *Server) cleanup(sess *Session, err error) {
	sess.CancelToolTask()
	_ = sess.Upstream().Close()
	if sess.Producer != nil {
		_ = sess.Producer.Close()
	}
	if err != nil {
		s.logger().Warn("session ended with error", "session_id", sess.ID, "error", err)
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
