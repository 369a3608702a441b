package modem

import (
	"strings"
	"sync"
	"time"
)

// SessionState tracks where a port is in its lifecycle.
type SessionState int

const (
	StateClosed SessionState = iota
	StateOpening
	StateProbing
	StateIdle
	StateListening
	StateSending
	StateHangingUp
	StateClosing
	StatePaused
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpening:
		return "Opening"
	case StateProbing:
		return "Probing"
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateSending:
		return "Sending"
	case StateHangingUp:
		return "HangingUp"
	case StateClosing:
		return "Closing"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// callerCacheTTL bounds how long a +CLIP caller id stays usable after the
// RING that may precede it.
const callerCacheTTL = 2 * time.Minute

// urcBufferHighWater is the point past which an unparseable call fragment
// buffer is dropped.
const urcBufferHighWater = 4096

// cmtBufferHighWater bounds a +CMT header whose content never completes.
const cmtBufferHighWater = 10000

// rawLineTailLimit caps the buffer tail captured into hangup records.
const rawLineTailLimit = 512

// Session owns one physical port. At any instant at most one of probe,
// listener, send transaction, or auto-hangup write touches the transport;
// cmdMu is the per-port command mutex enforcing that, and state records the
// lifecycle for observers.
type Session struct {
	portName string
	baudRate int

	// cmdMu serializes every write to the port: listener-side
	// request/response exchanges and the hangup writes.
	cmdMu sync.Mutex

	stateMu sync.Mutex
	state   SessionState

	// transportMu guards the pointer only; open, pause, and close swap
	// it while the listener and hangup goroutines snapshot it.
	transportMu sync.Mutex
	transport   Transport

	// URC accumulation buffer, owned exclusively by the listener
	// goroutine; everyone else sees it via the lastTail snapshot.
	buf []byte

	// Per-port caches for the auto-hangup path. RING can precede +CLIP,
	// so the caller id is cached with a TTL.
	callerMu     sync.Mutex
	lastCaller   string
	lastCallerAt time.Time
	lastHangup   time.Time
	lastChunk    string
	lastTail     string
}

// NewSession creates a closed session for the named port.
func NewSession(portName string, baudRate int) *Session {
	return &Session{portName: portName, baudRate: baudRate, state: StateClosed}
}

// PortName returns the port this session owns.
func (s *Session) PortName() string { return s.portName }

// setTransport installs or clears the open handle.
func (s *Session) setTransport(t Transport) {
	s.transportMu.Lock()
	s.transport = t
	s.transportMu.Unlock()
}

// getTransport snapshots the current handle; nil when the port is closed
// or paused.
func (s *Session) getTransport() Transport {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()
	return s.transport
}

// BaudRate returns the configured rate.
func (s *Session) BaudRate() int { return s.baudRate }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// cacheCaller remembers the most recent caller id seen on this port.
func (s *Session) cacheCaller(caller string, now time.Time) {
	s.callerMu.Lock()
	s.lastCaller = caller
	s.lastCallerAt = now
	s.callerMu.Unlock()
}

// cachedCaller returns the cached caller id if it is still within TTL.
func (s *Session) cachedCaller(now time.Time) string {
	s.callerMu.Lock()
	defer s.callerMu.Unlock()
	if s.lastCaller == "" || now.Sub(s.lastCallerAt) > callerCacheTTL {
		return ""
	}
	return s.lastCaller
}

// noteChunk records the most recent raw chunk and the buffer tail for
// hangup diagnostics. Only the listener goroutine calls this; the tail is
// snapshotted here so hangupContext never has to touch buf itself.
func (s *Session) noteChunk(chunk, tail string) {
	s.callerMu.Lock()
	s.lastChunk = truncateTail(chunk, rawLineTailLimit)
	s.lastTail = truncateTail(tail, rawLineTailLimit)
	s.callerMu.Unlock()
}

// hangupContext returns the diagnostic state captured into a hangup
// record: last buffer tail and last raw chunk, both truncated.
func (s *Session) hangupContext() string {
	s.callerMu.Lock()
	chunk := s.lastChunk
	tail := s.lastTail
	s.callerMu.Unlock()

	switch {
	case tail == "" && chunk == "":
		return ""
	case tail == "":
		return chunk
	case chunk == "":
		return tail
	default:
		return tail + " | " + chunk
	}
}

// withinCooldown reports whether the last hangup on this port happened
// inside the cooldown window.
func (s *Session) withinCooldown(now time.Time, cooldown time.Duration) bool {
	s.callerMu.Lock()
	defer s.callerMu.Unlock()
	return !s.lastHangup.IsZero() && now.Sub(s.lastHangup) < cooldown
}

// markHangup records that a hangup was just performed.
func (s *Session) markHangup(now time.Time) {
	s.callerMu.Lock()
	s.lastHangup = now
	s.callerMu.Unlock()
}

func truncateTail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}

// PortArbiter grants a send transaction exclusive access to a port that may
// be held by a listener. Pause closes the listener's OS handle; Resume
// reopens it and re-runs the SMS init sequence. Callers must invoke the
// returned resume on every exit path.
type PortArbiter interface {
	// PauseListening releases the port if a listener holds it. The
	// boolean reports whether there was anything to pause.
	PauseListening(portName string) bool

	// ResumeListening reopens a paused port, re-initializes SMS
	// settings, and restarts the listener loop.
	ResumeListening(portName string) bool
}
