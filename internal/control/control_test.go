package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cr0hn/devproxy/internal/identity"
	"github.com/cr0hn/devproxy/internal/store"
)

func newTestController() *Controller {
	return New(store.New(), nil, 1<<20)
}

func TestLogin_RandomAddress(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodGet, "/_chopin/login", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}

	var body struct {
		Success bool   `json:"success"`
		Address string `json:"address"`
		Token   string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !body.Success || !identity.ValidAddress(body.Address) || body.Token == "" {
		t.Fatalf("unexpected login response: %+v", body)
	}

	var sawCookie bool
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.CookieName && c.Value == body.Address {
			sawCookie = true
		}
	}
	if !sawCookie {
		t.Fatal("login did not set dev-address cookie")
	}
}

func TestLogin_ExplicitAddress(t *testing.T) {
	c := newTestController()
	const address = "0x2222222222222222222222222222222222222222"

	req := httptest.NewRequest(http.MethodGet, "/_chopin/login?as="+address, nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	var body struct {
		Address string `json:"address"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Address != address {
		t.Fatalf("got address %q, want %q", body.Address, address)
	}
}

func TestLogin_InvalidAddressFallsBackToRandom(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodGet, "/_chopin/login?as=not-an-address", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	var body struct {
		Address string `json:"address"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if !identity.ValidAddress(body.Address) {
		t.Fatalf("expected a valid random address, got %q", body.Address)
	}
}

func TestLogout_ClearsCookieAndRedirects(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodGet, "/_chopin/logout", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("got status %d, want 302", w.Code)
	}

	var cleared bool
	for _, ck := range w.Result().Cookies() {
		if ck.Name == identity.CookieName && ck.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout did not clear dev-address cookie")
	}
}

func TestMe_CookiePrecedenceOverBearer(t *testing.T) {
	c := newTestController()
	const cookieAddr = "0x1111111111111111111111111111111111111111"
	const tokenAddr = "0x3333333333333333333333333333333333333333"

	token, err := identity.MintToken(tokenAddr)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/_chopin/me", nil)
	req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: cookieAddr})
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	var body struct {
		Address string `json:"address"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Address != cookieAddr {
		t.Fatalf("got address %q, want cookie address %q", body.Address, cookieAddr)
	}
}

func TestMe_NoIdentityReturnsNullAddress(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodGet, "/_chopin/me", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", w.Code)
	}

	var raw map[string]any
	json.NewDecoder(w.Body).Decode(&raw)
	if raw["address"] != nil {
		t.Fatalf("got address %v, want null", raw["address"])
	}
}

func TestStatus_OK(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodGet, "/_chopin/status", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Fatalf("got %+v, want status=ok", body)
	}
	if _, hasHealth := body["health"]; hasHealth {
		t.Fatal("status included health info with a nil monitor")
	}
}

func TestReportContext_MissingRequestID(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodPost, "/_chopin/report-context", bytes.NewReader([]byte("x")))
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", w.Code)
	}
}

func TestReportContext_UnknownRequestID(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodPost, "/_chopin/report-context?requestId=nope", bytes.NewReader([]byte("x")))
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", w.Code)
	}
}

func TestReportContext_OverflowRejected(t *testing.T) {
	st := store.New()
	c := New(st, nil, 4)
	st.CreateContext("req-1")

	req := httptest.NewRequest(http.MethodPost, "/_chopin/report-context?requestId=req-1", bytes.NewReader([]byte("way too long")))
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("got %d, want 413", w.Code)
	}
}

func TestReportContext_AppendsOpaqueBody(t *testing.T) {
	st := store.New()
	c := New(st, nil, 1<<20)
	st.CreateContext("req-1")

	req := httptest.NewRequest(http.MethodPost, "/_chopin/report-context?requestId=req-1", bytes.NewReader([]byte("raw bytes")))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", w.Code)
	}
	if c.store.ContextLen("req-1") != 1 {
		t.Fatalf("expected 1 context entry, got %d", c.store.ContextLen("req-1"))
	}
}

func TestLogs_ReturnsAppendedEntries(t *testing.T) {
	st := store.New()
	c := New(st, nil, 1<<20)
	st.CreateContext("req-1")
	st.AppendLog(&store.LogEntry{RequestID: "req-1", Method: http.MethodPost, URL: "/create"})

	req := httptest.NewRequest(http.MethodGet, "/_chopin/logs", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	var entries []store.LogEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("decoding logs: %v", err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-1" {
		t.Fatalf("unexpected logs: %+v", entries)
	}
}

func TestUnknownPath_404(t *testing.T) {
	c := newTestController()

	req := httptest.NewRequest(http.MethodGet, "/_chopin/nope", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", w.Code)
	}
}
