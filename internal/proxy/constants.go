// Package proxy implements the reverse-proxy request pipeline: identity
// injection, the /_chopin control router, the single-slot serialization
// queue for mutating methods, and the pass-through/WebSocket path.
package proxy

import "time"

// Default timeouts and buffer sizes.
const (
	// DefaultTCPKeepAlive is the TCP keep-alive interval for the target
	// connection.
	DefaultTCPKeepAlive = 30 * time.Second

	// DefaultIdleConnTimeout is the timeout for idle HTTP connections to
	// the target.
	DefaultIdleConnTimeout = 90 * time.Second

	// DefaultTLSHandshakeTimeout is unused in practice (the target is
	// always plain http://localhost:<targetPort>) but kept as a transport
	// default in case a target later terminates TLS itself.
	DefaultTLSHandshakeTimeout = 10 * time.Second

	// DefaultExpectContinueTimeout is the timeout for 100-continue responses.
	DefaultExpectContinueTimeout = 1 * time.Second

	// DefaultTunnelBufferSize is the buffer size for WebSocket tunnel
	// copy operations.
	DefaultTunnelBufferSize = 32 * 1024 // 32KB
)

// Transport limits for the single fixed-target transport.
const (
	// DefaultMaxIdleConns is the maximum number of idle connections to
	// the target.
	DefaultMaxIdleConns = 100

	// DefaultMaxIdleConnsPerHost is the maximum number of idle
	// connections per host; the proxy only ever talks to one host, so
	// this effectively bounds the same pool as DefaultMaxIdleConns.
	DefaultMaxIdleConnsPerHost = 100
)

// hopByHopHeaders lists headers that must never cross the proxy in either
// direction (spec §6, §9 "Hop-by-hop header handling must be done on both
// request and response").
var hopByHopHeaders = []string{
	"Host",
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if header == h {
			return true
		}
	}
	return false
}

func stripHopByHop(header map[string][]string) {
	for _, h := range hopByHopHeaders {
		delete(header, h)
	}
}
