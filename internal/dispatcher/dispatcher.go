// Package dispatcher routes decoded control-channel frames while a tunnel
// session is Established (Component D): it answers HEARTBEAT, logs ERROR,
// drops unknown tags, and spawns one concurrent handler per REQUEST that
// forwards to the local service and reports back RESPONSE/REQUEST_LOG.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tunlfit/agent/internal/forwarder"
	"github.com/tunlfit/agent/pkg/protocol"
)

// nowFunc is the millisecond clock used for REQUEST_LOG's responseTime; it
// is a package variable so it can be replaced.
var nowFunc = func() int64 { return time.Now().UnixMilli() }

// Sender emits frames on the control channel. Satisfied by
// *transport.Channel.
type Sender interface {
	Send(t protocol.FrameType, payload any) error
}

// Forwarder issues one outbound HTTP request to the local service.
// Satisfied by *forwarder.Forwarder.
type Forwarder interface {
	Forward(ctx context.Context, meta protocol.RequestMetadata, body []byte) (forwarder.Result, error)
}

// Dispatcher routes frames for one Established session.
type Dispatcher struct {
	sender    Sender
	forward   Forwarder
	publicURL func() string
}

// New creates a Dispatcher. publicURL is called at dispatch-time so
// REQUEST_LOG's host fallback always reflects the session's current
// identity.
func New(sender Sender, fwd Forwarder, publicURL func() string) *Dispatcher {
	return &Dispatcher{sender: sender, forward: fwd, publicURL: publicURL}
}

// Dispatch routes one decoded frame. REQUEST frames are handled in their
// own goroutine so a slow local service never blocks the channel reader;
// every other frame type is handled inline.
func (d *Dispatcher) Dispatch(ctx context.Context, decoded protocol.Decoded) {
	switch decoded.Type {
	case protocol.FrameRequest:
		req, ok := decoded.Payload.(protocol.RequestPayload)
		if !ok {
			log.Warn("dispatcher: REQUEST frame with unexpected payload type")
			return
		}
		go d.handleRequest(ctx, req)
	case protocol.FrameHeartbeat:
		if err := d.sender.Send(protocol.FrameHeartbeatAck, nil); err != nil {
			log.Warn("dispatcher: failed to send HEARTBEAT_ACK", "error", err)
		}
	case protocol.FrameError:
		errPayload, _ := decoded.Payload.(protocol.ErrorPayload)
		log.Error("dispatcher: server reported error", "code", errPayload.Code, "message", errPayload.Message)
	case protocol.FrameHeartbeatAck:
		// No-op: a missed ack is detected via channel close, not by
		// tracking individual acks.
	default:
		log.Warn("dispatcher: dropping frame with unhandled type", "type", decoded.Type)
	}
}

// handleRequest implements spec §4.5: forward the request, emit the
// matching RESPONSE, and always emit a REQUEST_LOG.
func (d *Dispatcher) handleRequest(ctx context.Context, req protocol.RequestPayload) {
	start := nowFunc()

	body, err := req.Body()
	if err != nil {
		d.respondGatewayError(req.StreamID)
		d.logRequest(req, http502Placeholder, start, "malformed request body")
		return
	}

	result, err := d.forward.Forward(ctx, req.Metadata, body)
	if err != nil {
		d.respondGatewayError(req.StreamID)
		d.logRequest(req, http502Placeholder, start, err.Error())
		return
	}

	if sendErr := d.sender.Send(protocol.FrameResponse, protocol.NewResponsePayload(
		req.StreamID,
		protocol.ResponseMetadata{
			StatusCode:    result.StatusCode,
			StatusMessage: result.StatusMessage,
			Headers:       result.Headers,
		},
		result.Body,
	)); sendErr != nil {
		log.Warn("dispatcher: failed to send RESPONSE", "streamId", req.StreamID, "error", sendErr)
	}

	d.logRequest(req, result.StatusCode, start, "")
}

// http502Placeholder is substituted as the logged status code for forward
// failures, per spec §4.5 step 6.
const http502Placeholder = 502

// respondGatewayError emits the synthesized 502 RESPONSE specified for a
// forwarding failure.
func (d *Dispatcher) respondGatewayError(streamID protocol.StreamID) {
	resp := protocol.NewResponsePayload(
		streamID,
		protocol.ResponseMetadata{
			StatusCode:    502,
			StatusMessage: "Bad Gateway",
			Headers:       map[string][]string{"content-type": {"text/plain"}},
		},
		[]byte("Error forwarding request to local service"),
	)
	if err := d.sender.Send(protocol.FrameResponse, resp); err != nil {
		log.Warn("dispatcher: failed to send gateway-error RESPONSE", "error", err)
	}
}

// logRequest emits the REQUEST_LOG frame required for every request,
// success or failure.
func (d *Dispatcher) logRequest(req protocol.RequestPayload, statusCode int, start int64, errMessage string) {
	host := headerValue(req.Metadata.Headers, "host")
	if host == "" {
		host = d.publicURL()
	}
	if host == "" {
		host = "unknown"
	}

	entry := protocol.RequestLogPayload{
		TunnelID:     req.TunnelID,
		Method:       req.Metadata.Method,
		Host:         host,
		Path:         req.Metadata.Path,
		StatusCode:   statusCode,
		ResponseTime: nowFunc() - start,
		UserAgent:    headerValue(req.Metadata.Headers, "user-agent"),
		IPAddress:    headerValue(req.Metadata.Headers, "x-forwarded-for"),
		ErrorMessage: errMessage,
	}
	if err := d.sender.Send(protocol.FrameRequestLog, entry); err != nil {
		log.Warn("dispatcher: failed to send REQUEST_LOG", "error", err)
	}
}

func headerValue(headers map[string][]string, key string) string {
	for k, values := range headers {
		if strings.EqualFold(k, key) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}
