package bridge

import (
	"context"
	"log/slog"
	"sync"
)

// Session is the per-connection state shared by a client socket and its
// upstream stream, per SPEC_FULL.md §3.
type Session struct {
	ID       string
	BaseInfo BaseInfo

	// Producer is owned by this Session, never shared.
	Producer MessageProducer

	mu sync.Mutex

	// upstream mutates only on reconnection; the message pump rebinds it
	// under mu rather than through an interior-mutable smart reference, per
	// SPEC_FULL.md §9 "Cyclic/shared ownership".
	upstream UpstreamSession

	// currentToolTask holds the cancel function of the in-flight tool
	// invocation, if any, so cleanup can cancel it.
	currentToolTask context.CancelFunc

	isReceivingResponse   bool
	receivedModelResponse bool
}

// NewSession constructs a Session bound to the given upstream and producer.
func NewSession(id string, info BaseInfo, upstream UpstreamSession, producer MessageProducer) *Session {
	return &Session{ID: id, BaseInfo: info, upstream: upstream, Producer: producer}
}

// Upstream returns the currently bound upstream session handle.
func (s *Session) Upstream() UpstreamSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

// SetUpstream rebinds the upstream session handle, used during transparent
// reconnection. BaseInfo and Producer are never touched here.
func (s *Session) SetUpstream(u UpstreamSession) {
	s.mu.Lock()
	s.upstream = u
	s.mu.Unlock()
}

// SetToolTask records (or clears, with nil) the cancel function for the
// in-flight tool invocation.
func (s *Session) SetToolTask(cancel context.CancelFunc) {
	s.mu.Lock()
	s.currentToolTask = cancel
	s.mu.Unlock()
}

// CancelToolTask cancels the in-flight tool invocation, if any.
func (s *Session) CancelToolTask() {
	s.mu.Lock()
	cancel := s.currentToolTask
	s.currentToolTask = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetReceivingResponse updates the is_receiving_response flag.
func (s *Session) SetReceivingResponse(v bool) {
	s.mu.Lock()
	s.isReceivingResponse = v
	s.mu.Unlock()
}

// SetReceivedModelResponse updates the received_model_response flag.
func (s *Session) SetReceivedModelResponse(v bool) {
	s.mu.Lock()
	s.receivedModelResponse = v
	s.mu.Unlock()
}

// SessionRegistry tracks live sessions and sockets process-wide, behind a
// single mutex. Invariant: len(sessions) == len(sockets) at steady state.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	sockets  map[string]struct{}
	logger   *slog.Logger
}

// NewSessionRegistry creates an empty registry. A nil logger falls back to
// slog.Default().
func NewSessionRegistry(logger *slog.Logger) *SessionRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		sockets:  make(map[string]struct{}),
		logger:   logger,
	}
}

// Add registers session under socketID and session.ID, logging the
// resulting cardinalities.
func (r *SessionRegistry) Add(socketID string, session *Session) {
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.sockets[socketID] = struct{}{}
	sessions, sockets := len(r.sessions), len(r.sockets)
	r.mu.Unlock()

	r.logger.Info("session added",
		"active_sessions", sessions,
		"active_connections", sockets,
	)
}

// Remove deregisters the session/socket pair, logging the resulting
// cardinalities. Safe to call even if the pair was never added.
func (r *SessionRegistry) Remove(socketID, sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	delete(r.sockets, socketID)
	sessions, sockets := len(r.sessions), len(r.sockets)
	r.mu.Unlock()

	r.logger.Info("session removed",
		"active_sessions", sessions,
		"active_connections", sockets,
	)
}

// Get looks up a session by ID.
func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// ActiveSessions returns the number of tracked sessions.
func (r *SessionRegistry) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ActiveConnections returns the number of tracked sockets.
func (r *SessionRegistry) ActiveConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sockets)
}
