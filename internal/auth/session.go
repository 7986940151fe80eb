package auth

import (
	"crypto/sha256"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/securecookie"
)

const sessionTTL = 7 * 24 * time.Hour

// SessionManager issues the signed and encrypted cookie that ties a browser
// to the signed-in local user.
type SessionManager struct {
	cookieName string
	codec      *securecookie.SecureCookie
	secure     bool
}

func NewSessionManager(secret, baseURL string) *SessionManager {
	hash := sha256.Sum256([]byte(secret))
	hashKey := hash[:]

	// Derive an AES-256 sized block key to avoid invalid key length errors.
	blockKey := hash[:]
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})

	secure := true
	if base, err := url.Parse(baseURL); err == nil && base.Scheme != "https" {
		secure = false
	}

	return &SessionManager{
		cookieName: "studydesk_session",
		codec:      sc,
		secure:     secure,
	}
}

type sessionValue struct {
	UserID string `json:"user_id"`
	Exp    int64  `json:"exp"`
}

// Issue sets the session cookie for userID.
func (m *SessionManager) Issue(w http.ResponseWriter, userID string) error {
	expires := time.Now().Add(sessionTTL)
	encoded, err := m.codec.Encode(m.cookieName, sessionValue{UserID: userID, Exp: expires.Unix()})
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    encoded,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear removes the session cookie.
func (m *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
	})
}

// CurrentUserID extracts the user ID from the request session if present.
func (m *SessionManager) CurrentUserID(r *http.Request) (string, bool) {
	c, err := r.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}

	var value sessionValue
	if err := m.codec.Decode(m.cookieName, c.Value, &value); err != nil {
		return "", false
	}
	if value.UserID == "" || time.Unix(value.Exp, 0).Before(time.Now()) {
		return "", false
	}
	return value.UserID, true
}
