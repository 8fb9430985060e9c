// Package control implements the /_chopin/* endpoints described in
// spec §4.2: login/logout/identity/status/logs/report-context. These
// paths are never queued and never forwarded to the target.
package control

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cr0hn/devproxy/internal/health"
	"github.com/cr0hn/devproxy/internal/identity"
	"github.com/cr0hn/devproxy/internal/logger"
	"github.com/cr0hn/devproxy/internal/metrics"
	"github.com/cr0hn/devproxy/internal/store"
)

// Controller routes and serves the /_chopin control endpoints.
type Controller struct {
	store               *store.Store
	monitor             *health.Monitor
	contextBodyMaxBytes int64
}

// New creates a Controller. monitor may be nil when health checking is
// disabled.
func New(st *store.Store, monitor *health.Monitor, contextBodyMaxBytes int64) *Controller {
	return &Controller{store: st, monitor: monitor, contextBodyMaxBytes: contextBodyMaxBytes}
}

// ServeHTTP dispatches to one of the six control endpoints by path
// suffix. Unknown /_chopin/* paths fall through to a plain 404.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.TrimPrefix(r.URL.Path, "/_chopin") {
	case "/login":
		c.login(w, r)
	case "/logout":
		c.logout(w, r)
	case "/me":
		c.me(w, r)
	case "/status":
		c.status(w, r)
	case "/logs":
		c.logs(w, r)
	case "/report-context":
		c.reportContext(w, r)
	default:
		http.NotFound(w, r)
	}
}

// login implements spec §4.2 /login.
func (c *Controller) login(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("as")
	if address == "" || !identity.ValidAddress(address) {
		random, err := identity.RandomAddress()
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		address = random
	}

	token, err := identity.MintToken(address)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	identity.SetCookie(w, address)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"address": address,
		"token":   token,
	})
}

// logout implements spec §4.2 /logout.
func (c *Controller) logout(w http.ResponseWriter, r *http.Request) {
	identity.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// me implements spec §4.2 /me: same resolution order as §4.1, returning
// a null address when neither cookie nor bearer token resolves.
func (c *Controller) me(w http.ResponseWriter, r *http.Request) {
	address, ok := identity.Resolve(r)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"address": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address})
}

// status implements spec §4.2 /status, enriched with the target health
// monitor's state when health checking is enabled.
func (c *Controller) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if c.monitor != nil {
		body["health"] = c.monitor.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

// logs implements spec §4.2 /logs: the full ordered list of LogEntry
// with each entry's contexts populated at read time.
func (c *Controller) logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.store.Logs())
}

// reportContext implements spec §4.2 /report-context: appends the raw,
// opaque request body to the ContextStore sequence named by the
// requestId query parameter.
func (c *Controller) reportContext(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		http.Error(w, "missing requestId", http.StatusBadRequest)
		metrics.ContextAppends.WithLabelValues("missing_id").Inc()
		return
	}

	if !c.store.HasContext(requestID) {
		http.Error(w, "unknown requestId", http.StatusNotFound)
		metrics.ContextAppends.WithLabelValues("not_found").Inc()
		return
	}

	limited := io.LimitReader(r.Body, c.contextBodyMaxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		http.Error(w, "error reading body", http.StatusInternalServerError)
		metrics.ContextAppends.WithLabelValues("overflow").Inc()
		return
	}
	if int64(len(data)) > c.contextBodyMaxBytes {
		http.Error(w, "context body too large", http.StatusRequestEntityTooLarge)
		metrics.ContextAppends.WithLabelValues("overflow").Inc()
		return
	}

	c.store.AppendContext(requestID, data)
	metrics.ContextAppends.WithLabelValues("success").Inc()
	logger.LogContextAppend(requestID, len(data), c.store.ContextLen(requestID))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
