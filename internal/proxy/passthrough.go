package proxy

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cr0hn/devproxy/internal/logger"
	"github.com/cr0hn/devproxy/internal/metrics"
)

// servePassThrough forwards a non-mutating, non-Upgrade request verbatim
// to the target and relays its response, per spec §4.5. Pass-through
// traffic never acquires the queue and is never recorded in
// /_chopin/logs.
func (h *Handler) servePassThrough(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	outReq, err := http.NewRequest(r.Method, targetURL(h.server.targetPort, r.URL.RequestURI()), r.Body)
	if err != nil {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		metrics.ForwardErrors.WithLabelValues("pass_through").Inc()
		return
	}
	outReq.Header = composeForwardedHeaders(r)
	outReq.ContentLength = r.ContentLength

	resp, err := h.server.transport.RoundTrip(outReq)
	if err != nil {
		logger.LogError("pass_through_forward", err, "method", r.Method, "path", r.URL.Path)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		metrics.ForwardErrors.WithLabelValues("pass_through").Inc()
		metrics.RequestsTotal.WithLabelValues(r.Method, "502").Inc()
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	bytesCopied, err := io.Copy(w, resp.Body)
	if err != nil {
		logger.LogError("pass_through_response_copy", err, "method", r.Method, "path", r.URL.Path)
	}

	h.server.stats.AddBytesSent(bytesCopied)
	if r.ContentLength > 0 {
		h.server.stats.AddBytesReceived(r.ContentLength)
	}
	metrics.RequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
}
