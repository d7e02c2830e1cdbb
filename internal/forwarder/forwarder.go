// Package forwarder issues one outbound HTTP request to the local service
// per inbound framed request. Request headers are filtered before the call;
// the local service's response headers are returned unchanged.
package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tunlfit/agent/internal/reconnect"
	"github.com/tunlfit/agent/pkg/protocol"
)

// filteredRequestHeaders are stripped case-insensitively from the outbound
// request — either re-derived by net/http or meaningless for a
// point-to-point call.
var filteredRequestHeaders = map[string]struct{}{
	"host":              {},
	"connection":        {},
	"transfer-encoding": {},
	"content-length":    {},
}

// responseSizeWarningBytes is the base64-encoded response size above which
// a warning is logged but the frame is still sent (spec §4.5 step 3).
const responseSizeWarningBytes = 10 * 1024 * 1024

// Forwarder issues HTTP requests against a single local service.
type Forwarder struct {
	localHost string
	localPort int
	client    *http.Client
}

// New creates a Forwarder targeting localHost:localPort. Redirects are
// disabled — the server, not the forwarder, decides what to do with 3xx.
func New(localHost string, localPort int, timeout time.Duration) *Forwarder {
	if localHost == "" {
		localHost = "localhost"
	}
	return &Forwarder{
		localHost: localHost,
		localPort: localPort,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Result is the outcome of a successful forward, destined for a framed
// RESPONSE. Headers are the *response* headers from the local service —
// never the headers of the request that was forwarded.
type Result struct {
	StatusCode    int
	StatusMessage string
	Headers       map[string][]string
	Body          []byte
}

// Forward issues one outbound HTTP request built from a framed REQUEST's
// metadata and body, and returns the local service's response unmodified
// except for the header filter applied to the request.
//
// On connection refusal it returns an error wrapping
// reconnect.ErrLocalServiceDown; on timeout, reconnect.ErrLocalServiceTimeout.
func (f *Forwarder) Forward(ctx context.Context, meta protocol.RequestMetadata, body []byte) (Result, error) {
	target := fmt.Sprintf("http://%s:%d%s", f.localHost, f.localPort, meta.Path)
	if meta.Query != "" {
		target += "?" + meta.Query
	}

	req, err := http.NewRequestWithContext(ctx, meta.Method, target, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("forwarder: building request: %w", err)
	}
	req.Header = filterHeaders(meta.Headers)

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, classifyForwardError(f.localPort, err)
	}
	defer resp.Body.Close()

	counter := &byteCounter{}
	respBody, err := io.ReadAll(io.TeeReader(resp.Body, counter))
	if err != nil {
		return Result{}, classifyForwardError(f.localPort, err)
	}

	if encodedLen(counter.n) > responseSizeWarningBytes {
		log.Warn("forwarder: response body exceeds size warning threshold",
			"path", meta.Path, "bytes", counter.n, "encodedBytes", encodedLen(counter.n))
	}

	return Result{
		StatusCode:    resp.StatusCode,
		StatusMessage: http.StatusText(resp.StatusCode),
		Headers:       map[string][]string(resp.Header),
		Body:          respBody,
	}, nil
}

// filterHeaders copies headers into an http.Header, dropping the set that
// net/http re-derives or that is meaningless for a point-to-point request.
func filterHeaders(in map[string][]string) http.Header {
	out := make(http.Header, len(in))
	for k, values := range in {
		if _, filtered := filteredRequestHeaders[strings.ToLower(k)]; filtered {
			continue
		}
		out[http.CanonicalHeaderKey(k)] = append([]string(nil), values...)
	}
	return out
}

// classifyForwardError maps a low-level dial/request error onto the
// forwarder's sentinel taxonomy.
func classifyForwardError(port int, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: request to local service timed out", reconnect.ErrLocalServiceTimeout)
	}
	if isConnRefused(err) {
		return fmt.Errorf("%w: cannot connect to local service on port %d. Is your service running?", reconnect.ErrLocalServiceDown, port)
	}
	return fmt.Errorf("forwarder: %w", err)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// byteCounter tallies bytes written through it, used to size-check the
// base64-encoded response before it goes on the wire.
type byteCounter struct {
	n int64
}

func (c *byteCounter) Write(p []byte) (int, error) {
	atomic.AddInt64(&c.n, int64(len(p)))
	return len(p), nil
}

// encodedLen returns the base64-encoded length of n raw bytes.
func encodedLen(n int64) int64 {
	return (n + 2) / 3 * 4
}
