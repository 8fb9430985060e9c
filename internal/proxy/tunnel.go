package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cr0hn/devproxy/internal/logger"
	"github.com/cr0hn/devproxy/internal/metrics"
)

// tunnel relays an HTTP-Upgrade (WebSocket) handshake and the resulting
// bidirectional byte stream between the client and the target, per spec
// §4.5 and §9 ("WebSocket pass-through is the only path that must
// support half-closed and long-lived streams; do not buffer frames").
// Unlike the teacher's CONNECT tunnel, the handshake here is a normal
// HTTP request/response pair relayed verbatim before the raw copy
// begins, since this proxy never sees a CONNECT method at all.
func (h *Handler) tunnel(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := GenerateRequestID()

	targetAddr := fmt.Sprintf("localhost:%d", h.server.targetPort)
	targetConn, err := net.DialTimeout("tcp", targetAddr, h.server.cfg.ForwardTimeout)
	if err != nil {
		logger.LogError("tunnel_dial", err, "path", r.URL.Path)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		metrics.ForwardErrors.WithLabelValues("websocket").Inc()
		return
	}
	defer targetConn.Close()

	outReq := r.Clone(r.Context())
	outReq.URL.Scheme = "http"
	outReq.URL.Host = targetAddr
	outReq.RequestURI = ""
	outReq.Header = composeForwardedHeaders(r)
	outReq.Header.Set("Connection", r.Header.Get("Connection"))
	outReq.Header.Set("Upgrade", r.Header.Get("Upgrade"))

	if err := outReq.Write(targetConn); err != nil {
		logger.LogError("tunnel_handshake_write", err, "path", r.URL.Path)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		metrics.ForwardErrors.WithLabelValues("websocket").Inc()
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		metrics.ForwardErrors.WithLabelValues("websocket").Inc()
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		logger.LogError("tunnel_hijack", err, "path", r.URL.Path)
		return
	}
	defer clientConn.Close()

	targetReader := bufio.NewReader(targetConn)
	resp, err := http.ReadResponse(targetReader, outReq)
	if err != nil {
		logger.LogError("tunnel_handshake_read", err, "path", r.URL.Path)
		return
	}
	defer resp.Body.Close()

	if err := resp.Write(clientConn); err != nil {
		logger.LogError("tunnel_handshake_relay", err, "path", r.URL.Path)
		return
	}

	metrics.TunnelConnections.Inc()
	h.server.stats.IncActiveConnections()
	defer h.server.stats.DecActiveConnections()

	// Drain any bytes either bufio.Reader already pulled off the wire
	// past the handshake boundary before switching to raw copy.
	drainBuffered(clientBuf.Reader, targetConn)
	drainBuffered(targetReader, clientConn)

	bytesIn, bytesOut := tunnelCopy(clientConn, targetConn, h.server.cfg.IdleTimeout)

	h.server.stats.AddBytesReceived(bytesIn)
	h.server.stats.AddBytesSent(bytesOut)
	logger.LogRequest(requestID, r.Method, r.URL.Path, r.Header.Get("x-address"), resp.StatusCode, elapsedMillis(start), bytesIn, bytesOut)
}

// drainBuffered forwards any bytes already buffered in src (read ahead
// from the wire) to dst before raw copying begins, so no WebSocket
// frame bytes are lost at the handshake boundary.
func drainBuffered(src *bufio.Reader, dst io.Writer) {
	if n := src.Buffered(); n > 0 {
		buffered := make([]byte, n)
		src.Read(buffered)
		dst.Write(buffered)
	}
}

// tunnelCopy performs bidirectional copy between two connections with an
// idle timeout, adapted from the teacher's CONNECT tunnel() — the
// mechanics (deadlines reset per read/write, half-close propagation) are
// identical; only the connections being relayed differ.
func tunnelCopy(client, target net.Conn, idleTimeout time.Duration) (bytesIn, bytesOut int64) {
	var wg sync.WaitGroup
	var in, out atomic.Int64
	wg.Add(2)

	deadline := time.Now().Add(idleTimeout)
	client.SetDeadline(deadline)
	target.SetDeadline(deadline)

	go func() {
		defer wg.Done()
		n, err := copyWithIdleTimeout(target, client, idleTimeout)
		if err != nil && !errors.Is(err, net.ErrClosed) && !isTimeoutError(err) {
			logger.LogError("tunnel_client_to_target", err)
		}
		in.Store(n)
		if tc, ok := target.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	go func() {
		defer wg.Done()
		n, err := copyWithIdleTimeout(client, target, idleTimeout)
		if err != nil && !errors.Is(err, net.ErrClosed) && !isTimeoutError(err) {
			logger.LogError("tunnel_target_to_client", err)
		}
		out.Store(n)
		if tc, ok := client.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	wg.Wait()
	return in.Load(), out.Load()
}

// copyWithIdleTimeout copies from src to dst, resetting the deadline
// after each successful read, so a long-lived but otherwise-idle stream
// (per spec §9) is not torn down prematurely.
func copyWithIdleTimeout(dst, src net.Conn, idleTimeout time.Duration) (int64, error) {
	buf := make([]byte, DefaultTunnelBufferSize)
	var total int64

	for {
		src.SetReadDeadline(time.Now().Add(idleTimeout))

		n, readErr := src.Read(buf)
		if n > 0 {
			dst.SetWriteDeadline(time.Now().Add(idleTimeout))

			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			if written != n {
				return total, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, readErr
		}
	}
}

// isTimeoutError checks if the error is a timeout error.
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
