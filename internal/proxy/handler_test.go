package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/cr0hn/devproxy/internal/config"
	"github.com/cr0hn/devproxy/internal/metrics"
)

func newTestServer(t *testing.T, targetURL string) *Server {
	t.Helper()

	u, err := url.Parse(targetURL)
	if err != nil {
		t.Fatalf("parsing target URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parsing target port: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.TargetPort = port
	cfg.BodyMaxBytes = 2 << 20
	cfg.ContextBodyMaxBytes = 1 << 20
	cfg.ForwardTimeout = 2 * time.Second
	cfg.IdleTimeout = 2 * time.Second

	return NewServer(cfg, metrics.NewStatsCollector(), nil)
}

func TestIsUpgradeRequest(t *testing.T) {
	cases := []struct {
		connection string
		want       bool
	}{
		{"Upgrade", true},
		{"keep-alive, Upgrade", true},
		{"upgrade", true},
		{"keep-alive", false},
		{"", false},
	}

	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Connection", c.connection)
		if got := isUpgradeRequest(r); got != c.want {
			t.Errorf("isUpgradeRequest(Connection=%q) = %v, want %v", c.connection, got, c.want)
		}
	}
}

func TestMutatingMethods(t *testing.T) {
	want := map[string]bool{
		http.MethodGet:    false,
		http.MethodHead:   false,
		http.MethodPost:   true,
		http.MethodPut:    true,
		http.MethodPatch:  true,
		http.MethodDelete: true,
	}
	for method, expect := range want {
		if mutatingMethods[method] != expect {
			t.Errorf("mutatingMethods[%s] = %v, want %v", method, mutatingMethods[method], expect)
		}
	}
}

func TestStripHopByHop(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Host", "example.com")
	r.Header.Set("Content-Length", "10")
	r.Header.Set("Transfer-Encoding", "chunked")
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("X-Custom", "value")

	out := composeForwardedHeaders(r)

	for _, h := range hopByHopHeaders {
		if out.Get(h) != "" {
			t.Errorf("hop-by-hop header %q leaked through: %q", h, out.Get(h))
		}
	}
	if out.Get("X-Custom") != "value" {
		t.Error("non-hop-by-hop header X-Custom was stripped")
	}
}

func TestHandler_ControlPathBypassesIdentityAndQueue(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("control path must not reach the target")
	}))
	defer target.Close()

	server := newTestServer(t, target.URL)
	handler := NewHandler(server)

	req := httptest.NewRequest(http.MethodGet, "/_chopin/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}
}
