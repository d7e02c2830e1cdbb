// Package session holds the mutex-guarded state shared between the
// dispatcher, liveness engine, and reconnection supervisor (Component C).
package session

import "sync"

// TimerHandle cancels a single scheduled timer. A nil handle is
// released as a no-op.
type TimerHandle interface {
	Stop()
}

// State is the tunnel session's mutable state. All fields are guarded by
// the embedded mutex; callers must use the accessor methods rather than
// touching fields directly.
type State struct {
	mu sync.Mutex

	connected       bool
	tunnelID        string
	subdomain       string
	publicURL       string
	shouldReconnect bool

	heartbeatTimer TimerHandle
	probeTimer     TimerHandle
	reconnectTimer TimerHandle
}

// New returns a State with shouldReconnect set, matching the config
// default (spec: reconnect defaults to true).
func New() *State {
	return &State{shouldReconnect: true}
}

// MarkConnected records a successful CONNECT_ACK. connected=true implies
// tunnelID and subdomain are set; callers must supply both.
func (s *State) MarkConnected(tunnelID, subdomain, publicURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.tunnelID = tunnelID
	s.subdomain = subdomain
	s.publicURL = publicURL
}

// MarkDisconnected clears the connected flag and the liveness timers.
// Identity fields (tunnelID, subdomain, publicURL) are left in place so
// the last-known values remain available for logging during reconnection.
func (s *State) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.stopLocked(&s.heartbeatTimer)
	s.stopLocked(&s.probeTimer)
}

// Connected reports whether the session currently believes it is
// established.
func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Snapshot returns a point-in-time copy of the identity fields.
func (s *State) Snapshot() (tunnelID, subdomain, publicURL string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tunnelID, s.subdomain, s.publicURL, s.connected
}

// ShouldReconnect reports whether the session should attempt to reconnect
// after a disconnect.
func (s *State) ShouldReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldReconnect
}

// SetShouldReconnect updates the reconnect flag. disconnect() sets this to
// false; exhausting the retry ceiling also sets it to false.
func (s *State) SetShouldReconnect(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shouldReconnect = v
}

// SetHeartbeatTimer installs the heartbeat timer handle, stopping and
// releasing any previous one first.
func (s *State) SetHeartbeatTimer(h TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.heartbeatTimer)
	s.heartbeatTimer = h
}

// SetProbeTimer installs the local-probe timer handle, stopping and
// releasing any previous one first.
func (s *State) SetProbeTimer(h TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.probeTimer)
	s.probeTimer = h
}

// SetReconnectTimer installs the reconnection timer handle, stopping and
// releasing any previous one first. Exactly one reconnection timer is
// armed at a time, so this is the only place a reconnect timer is set.
func (s *State) SetReconnectTimer(h TimerHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.reconnectTimer)
	s.reconnectTimer = h
}

// StopAllTimers releases every timer handle, used on terminal shutdown.
func (s *State) StopAllTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(&s.heartbeatTimer)
	s.stopLocked(&s.probeTimer)
	s.stopLocked(&s.reconnectTimer)
}

func (s *State) stopLocked(h *TimerHandle) {
	if *h != nil {
		(*h).Stop()
		*h = nil
	}
}
