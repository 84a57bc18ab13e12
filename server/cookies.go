package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bitovi/cascade-mcp-sub005/security"
)

// CookieName identifies the browser flow-session cookie.
const CookieName = "bridge_session"

// CookieManager binds a browser to its server-side flow session. The
// cookie value is the AES-GCM-encrypted session ID, so a tampered
// cookie fails authentication and is treated as no session at all.
type CookieManager struct {
	enc    *security.Encryptor
	ttl    time.Duration
	secure bool
}

// NewCookieManager creates a cookie manager.
func NewCookieManager(enc *security.Encryptor, ttl time.Duration, secure bool) *CookieManager {
	return &CookieManager{enc: enc, ttl: ttl, secure: secure}
}

// SessionID returns the session ID carried by the request cookie.
// Missing, undecryptable, or tampered cookies all report false.
func (m *CookieManager) SessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	id, err := m.enc.Decrypt(cookie.Value)
	if err != nil {
		return "", false
	}
	return string(id), true
}

// Issue mints a fresh session ID and sets the cookie. The ID is
// returned for immediate use as the flow-session key.
func (m *CookieManager) Issue(w http.ResponseWriter) (string, error) {
	id := uuid.NewString()
	sealed, err := m.enc.Encrypt([]byte(id))
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id, nil
}

// Ensure returns the request's session ID, issuing a new one when the
// request carries none.
func (m *CookieManager) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := m.SessionID(r); ok {
		return id, nil
	}
	return m.Issue(w)
}

// Clear expires the session cookie.
func (m *CookieManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
