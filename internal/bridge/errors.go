package bridge

import "errors"

// Sentinel errors tested with errors.Is at call sites, matching the error
// taxonomy in SPEC_FULL.md §7.
var (
	// ErrPoolShuttingDown is returned by WarmupPool.Acquire once Shutdown has
	// been called.
	ErrPoolShuttingDown = errors.New("bridge: warmup pool is shutting down")

	// ErrReadinessTimeout names a ReadinessPromise that is not resolved within
	// the handshake readiness timeout. No function in this package returns
	// it: Server closes the socket with 1008 in that case.
	ErrReadinessTimeout = errors.New("bridge: session readiness timed out")

	// ErrSessionNotFound names a missed lookup in the SessionRegistry or the
	// readiness promise map. No function in this package returns it:
	// SessionRegistry.Get reports a miss with its bool result, and
	// ReadinessRegistry ignores unknown session IDs.
	ErrSessionNotFound = errors.New("bridge: session not found")

	// ErrBanned is returned by the AbuseGate when a connection attempt is
	// refused due to an active ban.
	ErrBanned = errors.New("bridge: remote address is banned")

	// ErrRateLimited is returned by the AbuseGate when a connection attempt
	// trips the ban threshold.
	ErrRateLimited = errors.New("bridge: remote address exceeded connection rate")

	// ErrBadUpgradeHeaders is returned when a WebSocket upgrade request is
	// missing required headers.
	ErrBadUpgradeHeaders = errors.New("bridge: invalid websocket request headers")

	// ErrQuotaExceeded names an upstream quota error. The pump does not return
	// it: it detects quota errors by the text "quota exceeded" in the upstream
	// error and returns that upstream error.
	ErrQuotaExceeded = errors.New("bridge: upstream quota exceeded")

	// ErrConnectionClosed marks an abnormal (non-OK) WebSocket close.
	ErrConnectionClosed = errors.New("bridge: connection closed abnormally")
)
