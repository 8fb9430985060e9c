package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cr0hn/devproxy/internal/logger"
	"github.com/cr0hn/devproxy/internal/metrics"
	"github.com/cr0hn/devproxy/internal/store"
)

// state is the per-request lifecycle described in spec §4.6.
type state int

const (
	stateAdmitted state = iota
	stateBodyRead
	stateForwarding
	stateResponding
	stateDone
	stateFailed
)

// serveQueued admits R to the single-slot serialization queue and, once
// admitted, runs the full queued-request handler of spec §4.4. The slot
// is held for the entire lifecycle and released on entering DONE or
// FAILED, exactly once.
func (h *Handler) serveQueued(w http.ResponseWriter, r *http.Request) {
	waitStart := time.Now()
	release := h.server.queue.Admit()
	waited := time.Since(waitStart)

	st := stateAdmitted
	var lastStatus int
	requestID := GenerateRequestID()
	logger.LogQueueAdmit(requestID, r.Method, r.URL.Path, waited.Milliseconds())
	metrics.QueueDepth.Set(float64(h.server.QueueDepth()))
	h.server.stats.IncQueueAdmitted()
	metrics.QueueWaitDuration.Observe(waited.Seconds())

	held := time.Now()
	defer func() {
		release()
		metrics.QueueDepth.Set(float64(h.server.QueueDepth()))
		outcome := "success"
		if st == stateFailed {
			switch lastStatus {
			case http.StatusBadGateway:
				outcome = "bad_gateway"
			case http.StatusRequestEntityTooLarge:
				outcome = "overflow"
			default:
				outcome = "internal_error"
			}
		}
		metrics.QueueReleased.WithLabelValues(outcome).Inc()
		logger.LogQueueRelease(requestID, time.Since(held).Milliseconds(), lastStatus)
	}()

	defer func() {
		if rec := recover(); rec != nil {
			st = stateFailed
			if lastStatus == 0 {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				lastStatus = http.StatusInternalServerError
			}
			logger.Error("queued_handler_panic", "request_id", requestID, "panic", rec)
		}
	}()

	// Step 1: read the full body with a size cap.
	body, ok := readCappedBody(r.Body, h.server.cfg.BodyMaxBytes)
	if !ok {
		st = stateFailed
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		lastStatus = http.StatusRequestEntityTooLarge
		return
	}
	st = stateBodyRead

	// Step 2: create the ContextStore sequence before anything else can
	// reference requestID.
	h.server.store.CreateContext(requestID)

	// Step 3: snapshot the LogEntry, including headers after identity
	// injection (identity.Inject already ran in ServeHTTP).
	entry := &store.LogEntry{
		RequestID: requestID,
		Method:    r.Method,
		URL:       r.URL.RequestURI(),
		Headers:   cloneHeaderMap(r.Header),
		Body:      string(body),
		Timestamp: time.Now().UTC(),
	}
	h.server.store.AppendLog(entry)

	// Step 4: compose forwarded headers plus the callback URL.
	forwarded := composeForwardedHeaders(r)
	forwarded.Set("x-callback-url", callbackURL(r, h.server.cfg.ProxyPort, requestID))

	if h.server.breaker != nil && !h.server.breaker.Allow() {
		st = stateFailed
		writeBadGateway(w, entry, fmt.Errorf("circuit breaker open"))
		lastStatus = http.StatusBadGateway
		metrics.ForwardErrors.WithLabelValues("queued").Inc()
		return
	}

	// Step 5: issue the request to the target.
	st = stateForwarding
	outReq, err := http.NewRequest(r.Method, targetURL(h.server.targetPort, r.URL.RequestURI()), newBodyReader(body))
	if err != nil {
		st = stateFailed
		writeBadGateway(w, entry, err)
		lastStatus = http.StatusBadGateway
		return
	}
	outReq.Header = forwarded

	resp, err := h.server.transport.RoundTrip(outReq)
	if err != nil {
		// Step 6: transport error.
		st = stateFailed
		if h.server.breaker != nil {
			h.server.breaker.RecordFailure()
		}
		entry.ResponseError = err.Error()
		writeBadGateway(w, entry, err)
		lastStatus = http.StatusBadGateway
		metrics.ForwardErrors.WithLabelValues("queued").Inc()
		logger.LogForward(requestID, r.Method, r.URL.Path, http.StatusBadGateway, elapsedMillis(held))
		return
	}
	defer resp.Body.Close()

	if h.server.breaker != nil {
		h.server.breaker.RecordSuccess()
	}

	// Step 7: buffer the response, record it, and stream it to the client.
	st = stateResponding
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		st = stateFailed
		entry.ResponseError = err.Error()
		writeBadGateway(w, entry, err)
		lastStatus = http.StatusBadGateway
		metrics.ForwardErrors.WithLabelValues("queued").Inc()
		return
	}

	entry.Response = &store.Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    cloneHeaderMap(resp.Header),
		Body:       string(respBody),
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
	lastStatus = resp.StatusCode

	h.server.stats.IncTotalRequests()
	h.server.stats.AddBytesSent(int64(len(respBody)))
	h.server.stats.AddBytesReceived(int64(len(body)))
	metrics.RequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	metrics.RequestDuration.WithLabelValues(r.Method).Observe(time.Since(held).Seconds())
	logger.LogForward(requestID, r.Method, r.URL.Path, resp.StatusCode, elapsedMillis(held))
	logger.LogRequest(requestID, r.Method, r.URL.Path, r.Header.Get("x-address"), resp.StatusCode, elapsedMillis(held), int64(len(body)), int64(len(respBody)))

	st = stateDone
}

// readCappedBody reads r fully, returning ok=false if it exceeds max
// bytes (spec §4.4 step 1: "On exceed, respond 413-equivalent").
func readCappedBody(r io.Reader, max int64) ([]byte, bool) {
	limited := io.LimitReader(r, max+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, false
	}
	if int64(len(data)) > max {
		return nil, false
	}
	return data, true
}

func newBodyReader(body []byte) io.Reader {
	if len(body) == 0 {
		return nil
	}
	return &byteReader{data: body}
}

type byteReader struct {
	data []byte
	pos  int
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// callbackURL builds x-callback-url per spec §4.4 step 4 / §9: the Host
// used is taken from the incoming request with a fallback to
// localhost:<proxyPort>.
func callbackURL(r *http.Request, proxyPort int, requestID string) string {
	host := r.Host
	if host == "" {
		host = fmt.Sprintf("localhost:%d", proxyPort)
	}
	return fmt.Sprintf("http://%s/_chopin/report-context?requestId=%s", host, requestID)
}

// writeBadGateway writes the spec §4.4 step 6 error body and records it
// on entry.
func writeBadGateway(w http.ResponseWriter, entry *store.LogEntry, err error) {
	entry.ResponseError = err.Error()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "Bad Gateway",
		"details": err.Error(),
	})
}

func cloneHeaderMap(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
