// Package identity resolves the development identity attached to an
// incoming request — from a cookie or an unsigned bearer token — and
// mints the tokens/cookies the control endpoints hand back out.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// CookieName is the cookie the proxy reads and sets to carry a resolved
// Address across requests from the same browser session.
const CookieName = "dev-address"

// HeaderName is the header injected into every forwarded request once an
// Address has been resolved. The proxy is the sole source of truth for
// this header: an incoming x-address from the client is never forwarded.
const HeaderName = "x-address"

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// ValidAddress reports whether s matches the Address shape: "0x" followed
// by 40 lowercase hex digits.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// RandomAddress generates a random Address. Used by /_chopin/login when
// no "as" query parameter is supplied or the one supplied is invalid.
func RandomAddress() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random address: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenPayload struct {
	Sub string `json:"sub"`
}

// MintToken builds an unsigned (alg=none) three-segment token carrying
// address as the "sub" claim, per spec §6 ("signature segment empty").
func MintToken(address string) (string, error) {
	header, err := json.Marshal(tokenHeader{Alg: "none", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(tokenPayload{Sub: address})
	if err != nil {
		return "", err
	}
	return encodeSegment(header) + "." + encodeSegment(payload) + ".", nil
}

// DecodeToken decodes an unsigned token minted by MintToken and returns
// its "sub" claim. Any deviation from the expected shape — wrong segment
// count, non-empty signature, non-"none" algorithm, malformed JSON,
// missing sub — is reported via ok=false; callers treat this as a silent
// failure per spec §4.1 ("failures decoding the token are silent").
func DecodeToken(token string) (address string, ok bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", false
	}
	if parts[2] != "" {
		return "", false
	}

	headerBytes, err := decodeSegment(parts[0])
	if err != nil {
		return "", false
	}
	var h tokenHeader
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return "", false
	}
	if h.Alg != "none" {
		return "", false
	}

	payloadBytes, err := decodeSegment(parts[1])
	if err != nil {
		return "", false
	}
	var p tokenPayload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return "", false
	}
	if p.Sub == "" {
		return "", false
	}

	return p.Sub, true
}

func encodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Resolve implements the §4.1 resolution order: a dev-address cookie
// wins over a bearer token; absent both, it returns ok=false and the
// caller must not forward any x-address at all.
func Resolve(r *http.Request) (address string, ok bool) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, true
	}

	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(auth, prefix) {
		token := strings.TrimPrefix(auth, prefix)
		if sub, ok := DecodeToken(token); ok {
			return sub, true
		}
	}

	return "", false
}

// Inject resolves the caller's identity and sets (or strips) the
// x-address header on the outbound request that will be forwarded to
// the target, per spec §4.1 step 3: the client's own x-address, if any,
// is never forwarded.
func Inject(r *http.Request) {
	r.Header.Del(HeaderName)
	if address, ok := Resolve(r); ok {
		r.Header.Set(HeaderName, address)
	}
}

// SetCookie sets the dev-address cookie on w, matching spec §4.2/§6:
// not HTTP-only, SameSite=Strict.
func SetCookie(w http.ResponseWriter, address string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    address,
		Path:     "/",
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie clears the dev-address cookie, used by /_chopin/logout.
func ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
