// Package auth formats the bearer credential the agent attaches to its
// control-channel dial. The agent only ever presents a token; it never
// validates one — that half of the protocol lives on the server.
package auth

import (
	"errors"
	"os"
)

const (
	// EnvAgentToken is the environment variable holding the tunnel token
	// when none is supplied explicitly.
	EnvAgentToken = "TUNL_TOKEN"

	// AuthorizationHeader is the HTTP header carrying the bearer token on
	// the WebSocket dial.
	AuthorizationHeader = "Authorization"

	// BearerPrefix prefixes the token in the Authorization header.
	BearerPrefix = "Bearer "
)

// ErrTokenNotConfigured is returned when no token is supplied and none is
// found in the environment. A missing token is not itself fatal for every
// tunnel (the server may run without auth), so callers decide whether to
// treat it as an error.
var ErrTokenNotConfigured = errors.New("auth: no token configured")

// Credential carries the agent's bearer token.
type Credential struct {
	token string
}

// NewCredential builds a Credential from an explicit token, falling back
// to the TUNL_TOKEN environment variable when token is empty.
func NewCredential(token string) (Credential, error) {
	if token == "" {
		token = os.Getenv(EnvAgentToken)
	}
	if token == "" {
		return Credential{}, ErrTokenNotConfigured
	}
	return Credential{token: token}, nil
}

// Token returns the raw token string.
func (c Credential) Token() string {
	return c.token
}

// HeaderValue returns the full "Bearer <token>" Authorization header value.
func (c Credential) HeaderValue() string {
	return BearerPrefix + c.token
}

// IsZero reports whether no token was configured.
func (c Credential) IsZero() bool {
	return c.token == ""
}
