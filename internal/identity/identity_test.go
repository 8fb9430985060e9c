package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"valid lowercase", "0x1111111111111111111111111111111111111111", true},
		{"too short", "0x1111", false},
		{"uppercase rejected", "0xAAAA111111111111111111111111111111111A", false},
		{"missing prefix", "1111111111111111111111111111111111111111", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidAddress(tt.addr); got != tt.want {
				t.Errorf("ValidAddress(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestRandomAddress(t *testing.T) {
	a, err := RandomAddress()
	if err != nil {
		t.Fatalf("RandomAddress() error: %v", err)
	}
	if !ValidAddress(a) {
		t.Errorf("RandomAddress() = %q, not a valid Address", a)
	}

	b, err := RandomAddress()
	if err != nil {
		t.Fatalf("RandomAddress() error: %v", err)
	}
	if a == b {
		t.Error("expected two random addresses to differ")
	}
}

func TestMintAndDecodeToken(t *testing.T) {
	const addr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	token, err := MintToken(addr)
	if err != nil {
		t.Fatalf("MintToken() error: %v", err)
	}

	sub, ok := DecodeToken(token)
	if !ok {
		t.Fatalf("DecodeToken(%q) failed, want success", token)
	}
	if sub != addr {
		t.Errorf("DecodeToken() sub = %q, want %q", sub, addr)
	}
}

func TestDecodeToken_Rejections(t *testing.T) {
	valid, _ := MintToken("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	tests := []struct {
		name  string
		token string
	}{
		{"too few segments", "header.payload"},
		{"non-empty signature", valid + "sig"},
		{"garbage header", "not-base64.also-not."},
		{"alg not none", encodeHeaderAlg("HS256") + ".e30."},
		{"empty string", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := DecodeToken(tt.token); ok {
				t.Errorf("DecodeToken(%q) succeeded, want failure", tt.token)
			}
		})
	}
}

func encodeHeaderAlg(alg string) string {
	return encodeSegment([]byte(`{"alg":"` + alg + `","typ":"JWT"}`))
}

func TestResolve_CookieWinsOverToken(t *testing.T) {
	const cookieAddr = "0x1111111111111111111111111111111111111111"
	const tokenAddr = "0x2222222222222222222222222222222222222222"

	token, _ := MintToken(tokenAddr)

	r := httptest.NewRequest(http.MethodGet, "/echo-headers", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: cookieAddr})
	r.Header.Set("Authorization", "Bearer "+token)

	addr, ok := Resolve(r)
	if !ok {
		t.Fatal("Resolve() failed, want success")
	}
	if addr != cookieAddr {
		t.Errorf("Resolve() = %q, want cookie address %q", addr, cookieAddr)
	}
}

func TestResolve_TokenOnly(t *testing.T) {
	const tokenAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	token, _ := MintToken(tokenAddr)

	r := httptest.NewRequest(http.MethodGet, "/echo-headers", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	addr, ok := Resolve(r)
	if !ok || addr != tokenAddr {
		t.Errorf("Resolve() = (%q, %v), want (%q, true)", addr, ok, tokenAddr)
	}
}

func TestResolve_NoneResolves(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/echo-headers", nil)
	if _, ok := Resolve(r); ok {
		t.Error("Resolve() succeeded with no cookie or token, want failure")
	}
}

func TestInject_StripsClientSuppliedHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/echo-headers", nil)
	r.Header.Set(HeaderName, "0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")

	Inject(r)

	if r.Header.Get(HeaderName) != "" {
		t.Errorf("Inject() kept client-supplied x-address = %q, want stripped", r.Header.Get(HeaderName))
	}
}

func TestInject_SetsResolvedHeader(t *testing.T) {
	const addr = "0x1111111111111111111111111111111111111111"
	r := httptest.NewRequest(http.MethodGet, "/echo-headers", nil)
	r.AddCookie(&http.Cookie{Name: CookieName, Value: addr})

	Inject(r)

	if got := r.Header.Get(HeaderName); got != addr {
		t.Errorf("Inject() x-address = %q, want %q", got, addr)
	}
}

func TestSetCookieAndClearCookie(t *testing.T) {
	rec := httptest.NewRecorder()
	SetCookie(rec, "0x1111111111111111111111111111111111111111")

	resp := rec.Result()
	found := false
	for _, c := range resp.Cookies() {
		if c.Name == CookieName {
			found = true
			if c.HttpOnly {
				t.Error("expected dev-address cookie to not be HttpOnly")
			}
			if c.SameSite != http.SameSiteStrictMode {
				t.Errorf("expected SameSite=Strict, got %v", c.SameSite)
			}
		}
	}
	if !found {
		t.Fatal("SetCookie() did not set dev-address cookie")
	}

	rec2 := httptest.NewRecorder()
	ClearCookie(rec2)
	resp2 := rec2.Result()
	for _, c := range resp2.Cookies() {
		if c.Name == CookieName && c.MaxAge >= 0 {
			t.Errorf("ClearCookie() MaxAge = %d, want negative", c.MaxAge)
		}
	}
}
