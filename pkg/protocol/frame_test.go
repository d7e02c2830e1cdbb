package protocol

import (
	"reflect"
	"testing"
)

func withFixedClock(ms int64, fn func()) {
	prev := nowFunc
	nowFunc = func() int64 { return ms }
	defer func() { nowFunc = prev }()
	fn()
}

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     FrameType
		payload any
		channel Channel
	}{
		{
			name: "connect",
			typ:  FrameConnect,
			payload: ConnectPayload{
				Token:              "tok",
				RequestedSubdomain: "demo",
				AgentVersion:       "1.0.0",
				LocalPort:          3000,
			},
			channel: ChannelMessage,
		},
		{
			name: "connect_ack",
			typ:  FrameConnectAck,
			payload: ConnectAckPayload{
				TunnelID:  "T1",
				Subdomain: "demo",
				PublicURL: "https://demo.tunnl.fit",
			},
			channel: ChannelMessage,
		},
		{
			name: "request",
			typ:  FrameRequest,
			payload: NewRequestPayload("S1", "T1", RequestMetadata{
				Method:  "GET",
				Path:    "/x",
				Query:   "a=1",
				Headers: map[string][]string{"user-agent": {"curl/8"}},
			}, []byte("hello")),
			channel: ChannelMessage,
		},
		{
			name: "response",
			typ:  FrameResponse,
			payload: NewResponsePayload("S1", ResponseMetadata{
				StatusCode:    200,
				StatusMessage: "OK",
			}, []byte("hello")),
			channel: ChannelMessage,
		},
		{
			name:    "heartbeat",
			typ:     FrameHeartbeat,
			payload: nil,
			channel: ChannelMessage,
		},
		{
			name:    "heartbeat_ack",
			typ:     FrameHeartbeatAck,
			payload: nil,
			channel: ChannelMessage,
		},
		{
			name: "local_service_ping",
			typ:  FrameLocalServicePing,
			payload: LocalServicePingPayload{
				TunnelID:              "T1",
				LocalServiceConnected: true,
			},
			channel: ChannelLocalService,
		},
		{
			name: "request_log",
			typ:  FrameRequestLog,
			payload: RequestLogPayload{
				TunnelID:     "T1",
				Method:       "GET",
				Host:         "demo.tunnl.fit",
				Path:         "/x",
				StatusCode:   200,
				ResponseTime: 12,
			},
			channel: ChannelMessage,
		},
		{
			name: "error",
			typ:  FrameError,
			payload: ErrorPayload{
				StreamID: "S1",
				Code:     "LocalServiceDown",
				Message:  "boom",
			},
			channel: ChannelMessage,
		},
		{
			name:    "disconnect",
			typ:     FrameDisconnect,
			payload: DisconnectPayload{Reason: "Client disconnect"},
			channel: ChannelMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withFixedClock(1234, func() {
				raw, err := Encode(tt.typ, tt.payload)
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}

				decoded, err := Decode(raw)
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}

				if decoded.Type != tt.typ {
					t.Errorf("Type = %v, want %v", decoded.Type, tt.typ)
				}
				if decoded.Timestamp <= 0 {
					t.Errorf("Timestamp = %d, want positive", decoded.Timestamp)
				}
				if decoded.Channel != tt.channel {
					t.Errorf("Channel = %v, want %v", decoded.Channel, tt.channel)
				}
				if tt.payload != nil && !reflect.DeepEqual(decoded.Payload, tt.payload) {
					t.Errorf("Payload = %#v, want %#v", decoded.Payload, tt.payload)
				}
			})
		})
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"timestamp":1}`))
	if err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"NOT_A_REAL_FRAME","timestamp":1}`))
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	raw := []byte(`{"type":"HEARTBEAT","timestamp":1,"futureField":"ignored"}`)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Type != FrameHeartbeat {
		t.Errorf("Type = %v, want HEARTBEAT", decoded.Type)
	}
}

func TestRequestPayloadBodyRoundTrip(t *testing.T) {
	p := NewRequestPayload("S1", "T1", RequestMetadata{Method: "POST", Path: "/x"}, []byte("payload bytes"))
	body, err := p.Body()
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}
	if string(body) != "payload bytes" {
		t.Errorf("Body() = %q, want %q", body, "payload bytes")
	}
}

func TestResponsePayloadEmptyBody(t *testing.T) {
	p := NewResponsePayload("S1", ResponseMetadata{StatusCode: 204}, nil)
	if p.BodyBase64 != "" {
		t.Errorf("BodyBase64 = %q, want empty", p.BodyBase64)
	}
	body, err := p.Body()
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}
	if body != nil {
		t.Errorf("Body() = %v, want nil", body)
	}
}
