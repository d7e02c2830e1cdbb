// Package urlnorm repairs malformed publicUrl values returned by the
// tunnel server, per the normalization rules in the tunnel agent's
// specification.
package urlnorm

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
)

// tldPortPattern matches a TLD immediately followed by digits, e.g.
// ".com3000" — a server bug that concatenates the port onto the TLD.
var tldPortPattern = regexp.MustCompile(`\.(com|net|org|io|dev|app|co|fit)(\d+)`)

// trailingPortPattern matches a trailing ":<digits>" port suffix.
var trailingPortPattern = regexp.MustCompile(`:\d+$`)

// Normalize repairs url using serverURL and subdomain as context, per the
// rules below. On any parse failure it returns url unchanged and logs a
// warning — it never panics and never returns an error.
//
//  1. If url contains "localhost" or "127.0.0.1", return it unchanged.
//  2. Collapse "<tld><digits>" to "<tld>" for the known TLD set.
//  3. Strip a trailing ":<digits>" port.
//  4. If serverURL's host does not appear in the result, reconstruct it as
//     "{protocol}{subdomain}{serverHost}".
//  5. Force the final scheme to "https://".
func Normalize(serverURL, subdomain, rawURL string) string {
	if strings.Contains(rawURL, "localhost") || strings.Contains(rawURL, "127.0.0.1") {
		return rawURL
	}

	repaired := tldPortPattern.ReplaceAllString(rawURL, ".$1")
	repaired = trailingPortPattern.ReplaceAllString(repaired, "")

	serverHost, protocol, err := splitServer(serverURL)
	if err != nil {
		log.Warn("urlnorm: could not parse server URL, returning input unchanged", "serverURL", serverURL, "error", err)
		return rawURL
	}

	if serverHost != "" && !strings.Contains(repaired, serverHost) {
		repaired = protocol + strings.TrimSuffix(subdomain, ".") + serverHost
	}

	final, err := url.Parse(repaired)
	if err != nil {
		log.Warn("urlnorm: could not parse repaired URL, returning input unchanged", "url", repaired, "error", err)
		return rawURL
	}
	final.Scheme = "https"
	return final.String()
}

// splitServer returns the host (with leading dot, e.g. ".tunnl.fit") and
// the protocol prefix ("https://" or "http://") implied by serverURL.
func splitServer(serverURL string) (host string, protocol string, err error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", "", err
	}

	protocol = "http://"
	if parsed.Scheme == "https" {
		protocol = "https://"
	}

	h := parsed.Host
	if h == "" {
		h = parsed.Path // bare "tunnl.fit" with no scheme parses into Path
	}
	if h == "" {
		return "", protocol, nil
	}
	if !strings.HasPrefix(h, ".") {
		h = "." + h
	}
	return h, protocol, nil
}
