// Package protocol defines the wire schema of the tunnel control channel:
// the framed JSON messages exchanged between the agent and the tunnel
// server, and the base64 body encoding used for proxied HTTP payloads.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// FrameType is the enumerated tag carried by every frame.
type FrameType string

// Frame type tags, as specified by the wire schema.
const (
	FrameConnect          FrameType = "CONNECT"
	FrameConnectAck       FrameType = "CONNECT_ACK"
	FrameRequest          FrameType = "REQUEST"
	FrameResponse         FrameType = "RESPONSE"
	FrameHeartbeat        FrameType = "HEARTBEAT"
	FrameHeartbeatAck     FrameType = "HEARTBEAT_ACK"
	FrameLocalServicePing FrameType = "LOCAL_SERVICE_PING"
	FrameRequestLog       FrameType = "REQUEST_LOG"
	FrameError            FrameType = "ERROR"
	FrameDisconnect       FrameType = "DISCONNECT"
)

// Channel names the two named wire events the reference server exposes on
// a single underlying socket. Every frame other than LOCAL_SERVICE_PING
// travels on ChannelMessage.
type Channel string

const (
	ChannelMessage      Channel = "message"
	ChannelLocalService Channel = "local_service"
)

// channelFor returns the wire channel a frame of the given type travels on.
func channelFor(t FrameType) Channel {
	if t == FrameLocalServicePing {
		return ChannelLocalService
	}
	return ChannelMessage
}

// StreamID is an opaque server-assigned correlation id. The agent never
// generates one; it only echoes the id of the REQUEST it is answering.
type StreamID string

// header is the pair of fields every frame carries at the top level,
// alongside the type-specific fields listed in the wire schema. Frames are
// flat JSON objects — "type" and "timestamp" sit next to e.g. "streamId"
// and "metadata", there is no nested envelope on the wire.
type header struct {
	Type      FrameType `json:"type"`
	Timestamp int64     `json:"timestamp"`
}

// RequestMetadata describes an inbound HTTP request framed by the server.
type RequestMetadata struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
}

// ResponseMetadata describes the outbound response to a framed request.
type ResponseMetadata struct {
	StatusCode    int                 `json:"statusCode"`
	StatusMessage string              `json:"statusMessage,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
}

// ConnectPayload is carried by a CONNECT frame.
type ConnectPayload struct {
	Token              string `json:"token,omitempty"`
	RequestedSubdomain string `json:"requestedSubdomain,omitempty"`
	AgentVersion       string `json:"agentVersion"`
	LocalPort          int    `json:"localPort,omitempty"`
	RequestCount       int64  `json:"requestCount,omitempty"`
}

// ConnectAckPayload is carried by a CONNECT_ACK frame.
type ConnectAckPayload struct {
	TunnelID  string `json:"tunnelId"`
	Subdomain string `json:"subdomain"`
	PublicURL string `json:"publicUrl"`
}

// RequestPayload is carried by a REQUEST frame. Body is base64-encoded on
// the wire; BodyBase64 holds it verbatim so decoding is explicit and the
// zero value round-trips as the empty string, not nil.
type RequestPayload struct {
	StreamID   StreamID        `json:"streamId"`
	TunnelID   string          `json:"tunnelId"`
	Metadata   RequestMetadata `json:"metadata"`
	BodyBase64 string          `json:"body"`
}

// Body decodes the base64 request body.
func (p RequestPayload) Body() ([]byte, error) {
	return decodeBody(p.BodyBase64)
}

// ResponsePayload is carried by a RESPONSE frame.
type ResponsePayload struct {
	StreamID   StreamID         `json:"streamId"`
	Metadata   ResponseMetadata `json:"metadata"`
	BodyBase64 string           `json:"body"`
}

// Body decodes the base64 response body.
func (p ResponsePayload) Body() ([]byte, error) {
	return decodeBody(p.BodyBase64)
}

// LocalServicePingPayload is carried by a LOCAL_SERVICE_PING frame.
type LocalServicePingPayload struct {
	TunnelID              string `json:"tunnelId"`
	LocalServiceConnected bool   `json:"localServiceConnected"`
}

// RequestLogPayload is carried by a REQUEST_LOG frame.
type RequestLogPayload struct {
	TunnelID     string `json:"tunnelId"`
	Method       string `json:"method"`
	Host         string `json:"host"`
	Path         string `json:"path"`
	StatusCode   int    `json:"statusCode"`
	ResponseTime int64  `json:"responseTime"`
	IPAddress    string `json:"ipAddress,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// ErrorPayload is carried by an ERROR frame.
type ErrorPayload struct {
	StreamID StreamID `json:"streamId,omitempty"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// DisconnectPayload is carried by a DISCONNECT frame.
type DisconnectPayload struct {
	Reason string `json:"reason,omitempty"`
}

// decodeBody base64-decodes a body, treating the empty string as an empty
// (not absent) body — standard encoding, no URL-safe variant, no wrapping.
func decodeBody(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func encodeBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(body)
}

// NewRequestPayload builds a RequestPayload, base64-encoding body.
func NewRequestPayload(streamID StreamID, tunnelID string, meta RequestMetadata, body []byte) RequestPayload {
	return RequestPayload{
		StreamID:   streamID,
		TunnelID:   tunnelID,
		Metadata:   meta,
		BodyBase64: encodeBody(body),
	}
}

// NewResponsePayload builds a ResponsePayload, base64-encoding body.
func NewResponsePayload(streamID StreamID, meta ResponseMetadata, body []byte) ResponsePayload {
	return ResponsePayload{
		StreamID:   streamID,
		Metadata:   meta,
		BodyBase64: encodeBody(body),
	}
}

// nowFunc is overridden in tests so frame timestamps are deterministic.
var nowFunc = defaultNow

// Encode serializes a typed payload into a framed JSON text message. The
// timestamp is stamped at encode time, per spec. "type" and "timestamp"
// are merged alongside the payload's own fields into one flat JSON object.
func Encode(t FrameType, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s payload: %w", t, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("protocol: encode %s payload: %w", t, err)
		}
	}

	typeRaw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	tsRaw, err := json.Marshal(nowFunc())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeRaw
	fields["timestamp"] = tsRaw

	return json.Marshal(fields)
}

// Decoded is the result of decoding a frame: its type, timestamp, the
// channel it conceptually belongs to, and its payload decoded into the
// concrete struct for that type.
type Decoded struct {
	Type      FrameType
	Timestamp int64
	Channel   Channel
	Payload   any
}

// Decode deserializes a framed JSON text message. It is tolerant of
// unknown fields (forward compatibility) but rejects a missing or
// unrecognized type tag.
func Decode(data []byte) (Decoded, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return Decoded{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if h.Type == "" {
		return Decoded{}, fmt.Errorf("protocol: frame missing type")
	}

	var payload any
	switch h.Type {
	case FrameConnect:
		payload = new(ConnectPayload)
	case FrameConnectAck:
		payload = new(ConnectAckPayload)
	case FrameRequest:
		payload = new(RequestPayload)
	case FrameResponse:
		payload = new(ResponsePayload)
	case FrameHeartbeat, FrameHeartbeatAck:
		payload = nil
	case FrameLocalServicePing:
		payload = new(LocalServicePingPayload)
	case FrameRequestLog:
		payload = new(RequestLogPayload)
	case FrameError:
		payload = new(ErrorPayload)
	case FrameDisconnect:
		payload = new(DisconnectPayload)
	default:
		return Decoded{}, fmt.Errorf("protocol: unknown frame type %q", h.Type)
	}

	if payload != nil {
		if err := json.Unmarshal(data, payload); err != nil {
			return Decoded{}, fmt.Errorf("protocol: decode %s payload: %w", h.Type, err)
		}
	}

	result := Decoded{Type: h.Type, Timestamp: h.Timestamp, Channel: channelFor(h.Type)}
	if payload != nil {
		result.Payload = derefPayload(payload)
	}
	return result, nil
}

// derefPayload unwraps the pointer returned by Decode's switch so callers
// get the value type back, matching what Encode accepts.
func derefPayload(p any) any {
	switch v := p.(type) {
	case *ConnectPayload:
		return *v
	case *ConnectAckPayload:
		return *v
	case *RequestPayload:
		return *v
	case *ResponsePayload:
		return *v
	case *LocalServicePingPayload:
		return *v
	case *RequestLogPayload:
		return *v
	case *ErrorPayload:
		return *v
	case *DisconnectPayload:
		return *v
	default:
		return p
	}
}
