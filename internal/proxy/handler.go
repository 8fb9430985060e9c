package proxy

import (
	"net/http"
	"strings"
	"time"

	"github.com/cr0hn/devproxy/internal/identity"
	"github.com/cr0hn/devproxy/internal/metrics"
)

// controlPrefix is the path prefix hosting the built-in control
// endpoints (spec §4.2). Requests under this prefix are never queued and
// never forwarded to the target.
const controlPrefix = "/_chopin"

// mutatingMethods is the set of methods that acquire the serialization
// queue (spec GLOSSARY: "Queued request / mutating request").
var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Handler is the top-level router: control dispatch for /_chopin paths;
// every other request goes through the identity resolver, then the
// tunnel, the serialization gate, or pass-through.
type Handler struct {
	server *Server
}

// NewHandler creates a new Handler.
func NewHandler(server *Server) *Handler {
	return &Handler{server: server}
}

// ServeHTTP implements the request pipeline described in spec §2 and §4.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, controlPrefix) {
		h.server.control.ServeHTTP(w, r)
		return
	}

	// Identity resolver (spec §4.1): applied to every request except
	// those matched by the control router above.
	source := "none"
	if _, err := r.Cookie(identity.CookieName); err == nil {
		source = "cookie"
	} else if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		source = "bearer"
	}
	identity.Inject(r)
	if r.Header.Get(identity.HeaderName) == "" {
		source = "none"
	}
	metrics.IdentityResolutions.WithLabelValues(source).Inc()

	if isUpgradeRequest(r) {
		h.tunnel(w, r)
		return
	}

	if mutatingMethods[r.Method] {
		h.serveQueued(w, r)
		return
	}

	h.servePassThrough(w, r)
}

// isUpgradeRequest reports whether r is an HTTP-Upgrade (WebSocket)
// handshake, which bypasses the serialization queue entirely (spec §4.3).
func isUpgradeRequest(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// copyResponseHeaders copies non-hop-by-hop headers from src to dst.
func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// composeForwardedHeaders clones r's headers minus hop-by-hop headers,
// per spec §4.4 step 4 / §6.
func composeForwardedHeaders(r *http.Request) http.Header {
	out := r.Header.Clone()
	stripHopByHop(out)
	return out
}

func elapsedMillis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
