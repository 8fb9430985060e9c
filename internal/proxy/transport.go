package proxy

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// newTargetTransport builds the single http.Transport used for every
// forwarded request. Unlike the teacher's per-outbound-IP TransportPool,
// there is exactly one target here (http://localhost:<targetPort>), so
// one shared transport with connection pooling is all that's needed.
func newTargetTransport(dialTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: DefaultTCPKeepAlive,
	}

	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ExpectContinueTimeout: DefaultExpectContinueTimeout,
	}
}

// targetURL builds the absolute URL of the target for a given request
// path+query, per spec §4.4 step 5 ("http://localhost:T<R.url>").
func targetURL(targetPort int, requestURI string) string {
	return fmt.Sprintf("http://localhost:%d%s", targetPort, requestURI)
}
