// Package tunnel composes the message codec, forwarder, session state,
// dispatcher, liveness engine, and reconnection supervisor behind the
// minimal Connect/Disconnect interface the CLI drives (Component G).
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tunlfit/agent/internal/agentversion"
	"github.com/tunlfit/agent/internal/dispatcher"
	"github.com/tunlfit/agent/internal/forwarder"
	"github.com/tunlfit/agent/internal/liveness"
	"github.com/tunlfit/agent/internal/reconnect"
	"github.com/tunlfit/agent/internal/session"
	"github.com/tunlfit/agent/internal/transport"
	"github.com/tunlfit/agent/pkg/auth"
	"github.com/tunlfit/agent/pkg/protocol"
	"github.com/tunlfit/agent/pkg/urlnorm"
)

// connectAckTimeout bounds how long Connect waits for CONNECT_ACK after
// the control channel opens, before treating the dial as failed.
const connectAckTimeout = 30 * time.Second

// forwardTimeout bounds a single local HTTP call issued by the forwarder.
const forwardTimeout = 30 * time.Second

// Config mirrors TunnelClientOptions: immutable for the life of the
// Tunnel.
type Config struct {
	ServerURL string
	LocalHost string
	LocalPort int
	Subdomain string
	Token     string
	Reconnect bool
}

// OnEstablished, when set, is called each time the tunnel reaches
// Established (initial connect and every successful reconnect) with the
// normalized public URL.
type Tunnel struct {
	cfg Config

	state   *session.State
	backoff *reconnect.Backoff

	channel *transport.Channel

	disconnectRequested atomic.Bool

	OnEstablished func(publicURL string)
	OnDisconnect  func(err error)
}

// New creates a Tunnel in the Idle state.
func New(cfg Config) *Tunnel {
	if cfg.LocalHost == "" {
		cfg.LocalHost = "localhost"
	}
	return &Tunnel{
		cfg:     cfg,
		state:   session.New(),
		backoff: reconnect.NewBackoff(reconnect.DefaultBackoffConfig()),
	}
}

// Connect drives the full session lifecycle: Connecting -> Awaiting-Ack ->
// Established, then blocks running the dispatcher and liveness engine
// until the channel drops. On drop it supervises reconnection per
// spec §4.4. It returns nil once an episode ends after Disconnect; a
// transport error that occurs before the first Established, or a
// permanent failure, as is; the error that ended the episode when
// reconnection is disabled; reconnect.ErrExhaustedRetries when the retry
// ceiling is reached; or ctx.Err() when ctx is cancelled during a
// reconnect wait.
func (t *Tunnel) Connect(ctx context.Context) error {
	for {
		err := t.connectAndRun(ctx)

		if t.disconnectRequested.Load() {
			return nil
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, reconnect.ErrShutdown) {
			return nil
		}
		if tunnelID, _, _, _ := t.state.Snapshot(); tunnelID == "" && errors.Is(err, reconnect.ErrTransport) {
			return err
		}
		if reconnect.IsPermanent(err) {
			return err
		}
		if !t.cfg.Reconnect {
			return err
		}

		if t.backoff.Exhausted() {
			log.Error("tunnel: reconnection retries exhausted")
			t.state.SetShouldReconnect(false)
			return reconnect.ErrExhaustedRetries
		}

		delay := t.backoff.NextDelay()
		log.Warn("tunnel: connection lost, reconnecting", "error", err, "attempt", t.backoff.Attempt(), "delay", delay)

		timer := time.NewTimer(delay)
		t.state.SetReconnectTimer(timerHandle{timer})
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// connectAndRun performs one dial-through-Established episode and blocks
// until it ends, returning the error that ended it. It never returns nil:
// a caller-requested disconnect ends the episode with the closed channel's
// transport error, which Connect tells apart through disconnectRequested.
func (t *Tunnel) connectAndRun(ctx context.Context) error {
	cred, _ := auth.NewCredential(t.cfg.Token)
	authHeader := ""
	if !cred.IsZero() {
		authHeader = cred.HeaderValue()
	}

	episodeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := transport.Dial(episodeCtx, t.cfg.ServerURL, authHeader, t.cfg.Subdomain)
	if err != nil {
		return err
	}
	t.channel = ch
	defer ch.Close()

	if err := ch.Send(protocol.FrameConnect, protocol.ConnectPayload{
		Token:              t.cfg.Token,
		RequestedSubdomain: t.cfg.Subdomain,
		AgentVersion:       agentversion.String(),
		LocalPort:          t.cfg.LocalPort,
	}); err != nil {
		return fmt.Errorf("%w: sending CONNECT: %v", reconnect.ErrTransport, err)
	}

	ackCtx, ackCancel := context.WithTimeout(episodeCtx, connectAckTimeout)
	defer ackCancel()

	tunnelID, subdomain, publicURL, err := t.awaitConnectAck(ackCtx, ch)
	if err != nil {
		return err
	}

	publicURL = urlnorm.Normalize(t.cfg.ServerURL, subdomain, publicURL)
	t.state.MarkConnected(tunnelID, subdomain, publicURL)
	t.backoff.Reset()

	if t.OnEstablished != nil {
		t.OnEstablished(publicURL)
	}

	fwd := forwarder.New(t.cfg.LocalHost, t.cfg.LocalPort, forwardTimeout)
	disp := dispatcher.New(ch, fwd, func() string {
		_, _, publicURL, _ := t.state.Snapshot()
		return publicURL
	})

	liveEngine := liveness.New(ch, t.cfg.LocalHost, t.cfg.LocalPort, func() string {
		tunnelID, _, _, _ := t.state.Snapshot()
		return tunnelID
	})
	liveCtx, liveCancel := context.WithCancel(episodeCtx)
	defer liveCancel()
	go liveEngine.Run(liveCtx)

	err = t.runDispatchLoop(episodeCtx, ch, disp)
	t.state.MarkDisconnected()
	if t.OnDisconnect != nil {
		t.OnDisconnect(err)
	}
	return err
}

// awaitConnectAck blocks until CONNECT_ACK, ERROR, or ackCtx expires.
func (t *Tunnel) awaitConnectAck(ackCtx context.Context, ch *transport.Channel) (tunnelID, subdomain, publicURL string, err error) {
	select {
	case decoded := <-ch.Inbound():
		switch decoded.Type {
		case protocol.FrameConnectAck:
			ack := decoded.Payload.(protocol.ConnectAckPayload)
			return ack.TunnelID, ack.Subdomain, ack.PublicURL, nil
		case protocol.FrameError:
			e := decoded.Payload.(protocol.ErrorPayload)
			return "", "", "", fmt.Errorf("%w: %s", reconnect.ErrServer, e.Message)
		default:
			return "", "", "", fmt.Errorf("%w: expected CONNECT_ACK, got %s", reconnect.ErrProtocol, decoded.Type)
		}
	case err := <-ch.Errors():
		return "", "", "", err
	case <-ackCtx.Done():
		return "", "", "", fmt.Errorf("%w: timed out waiting for CONNECT_ACK", reconnect.ErrTransport)
	}
}

// runDispatchLoop is the Established-state message loop: every inbound
// frame is handed to the dispatcher until the channel errors or closes.
func (t *Tunnel) runDispatchLoop(ctx context.Context, ch *transport.Channel, disp *dispatcher.Dispatcher) error {
	for {
		select {
		case decoded, ok := <-ch.Inbound():
			if !ok {
				return fmt.Errorf("%w: channel closed", reconnect.ErrTransport)
			}
			disp.Dispatch(ctx, decoded)
		case err := <-ch.Errors():
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect is non-blocking: it flips shouldReconnect, cancels all
// timers, best-effort emits DISCONNECT, and closes the channel.
func (t *Tunnel) Disconnect() {
	t.disconnectRequested.Store(true)
	t.state.SetShouldReconnect(false)
	t.state.StopAllTimers()
	if t.channel != nil {
		t.channel.Send(protocol.FrameDisconnect, protocol.DisconnectPayload{Reason: "Client disconnect"})
		t.channel.Close()
	}
}

// PublicURL returns the session's current normalized public URL, or the
// empty string before Established.
func (t *Tunnel) PublicURL() string {
	_, _, publicURL, _ := t.state.Snapshot()
	return publicURL
}

// timerHandle adapts *time.Timer to session.TimerHandle.
type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Stop() { h.t.Stop() }
