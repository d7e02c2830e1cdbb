// Package liveness runs the heartbeat and local-service probe timers
// (Component E) that keep the control channel and the local-probe
// telemetry flowing while a tunnel session is Established.
package liveness

import (
	"context"
	"net/http"
	"time"

	"github.com/tunlfit/agent/pkg/protocol"
)

const (
	// HeartbeatInterval is the cadence at which HEARTBEAT frames are sent
	// while connected.
	HeartbeatInterval = 30 * time.Second

	// ProbeInterval is the cadence of the local-service liveness probe,
	// starting immediately upon Established.
	ProbeInterval = 5 * time.Second

	// probeUserAgent identifies the probe so it's distinguishable from
	// real traffic in the local service's own logs.
	probeUserAgent = "Tunnel-Agent-Ping"
)

// Sender emits frames on the control channel. Satisfied by
// *transport.Channel.
type Sender interface {
	Send(t protocol.FrameType, payload any) error
}

// Engine drives the heartbeat and local-probe timers for one Established
// session.
type Engine struct {
	sender    Sender
	localHost string
	localPort int
	tunnelID  func() string
	client    *http.Client
}

// New creates an Engine that probes localHost:localPort and reports
// results via sender. tunnelID is called at send-time so the engine
// always reports the session's current tunnel id.
func New(sender Sender, localHost string, localPort int, tunnelID func() string) *Engine {
	if localHost == "" {
		localHost = "localhost"
	}
	return &Engine{
		sender:    sender,
		localHost: localHost,
		localPort: localPort,
		tunnelID:  tunnelID,
		client:    &http.Client{Timeout: ProbeInterval},
	}
}

// Run blocks, firing heartbeats and probes on their respective cadences
// until ctx is cancelled. Callers run this in its own goroutine per
// Established episode.
func (e *Engine) Run(ctx context.Context) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()
	probe := time.NewTicker(ProbeInterval)
	defer probe.Stop()

	e.runProbe(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			e.sender.Send(protocol.FrameHeartbeat, nil)
		case <-probe.C:
			e.runProbe(ctx)
		}
	}
}

// runProbe issues one HEAD / against the local service and, if the result
// is determinable, pushes a LOCAL_SERVICE_PING frame. Errors other than
// connection-refused/timeout are silently ignored — no frame is emitted.
func (e *Engine) runProbe(ctx context.Context) {
	connected, determined := e.probeOnce(ctx)
	if !determined {
		return
	}
	e.sender.Send(protocol.FrameLocalServicePing, protocol.LocalServicePingPayload{
		TunnelID:              e.tunnelID(),
		LocalServiceConnected: connected,
	})
}

// probeOnce reports (liveness, determined). determined is false when the
// probe's failure mode is neither "got a response" nor
// "connection refused/timeout" — per spec, such errors are swallowed.
func (e *Engine) probeOnce(ctx context.Context) (connected bool, determined bool) {
	url := "http://" + e.localHost + ":" + portString(e.localPort) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, false
	}
	req.Header.Set("User-Agent", probeUserAgent)

	resp, err := e.client.Do(req)
	if err == nil {
		resp.Body.Close()
		return true, true
	}
	if isConnRefusedOrTimeout(err) {
		return false, true
	}
	return false, false
}
