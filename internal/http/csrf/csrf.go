// Package csrf implements a double-submit token: the token lives in a
// cookie and mutating requests must echo it in the X-CSRF-Token header.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"

	httperrors "github.com/jw6ventures/studydesk/internal/http/errors"
)

type contextKey struct{}

const (
	CookieName = "studydesk_csrf"
	HeaderName = "X-CSRF-Token"
)

// Middleware issues the token cookie and rejects mutating requests whose
// header does not match it.
func Middleware(baseURL string) func(http.Handler) http.Handler {
	secure := false
	if base, err := url.Parse(baseURL); err == nil && base.Scheme == "https" {
		secure = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if c, err := r.Cookie(CookieName); err == nil {
				token = c.Value
			}
			if token == "" {
				var err error
				token, err = generateToken()
				if err != nil {
					httperrors.JSON(w, http.StatusInternalServerError, "failed to issue csrf token")
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     CookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteStrictMode,
				})
			}

			if isStateChanging(r.Method) {
				provided := r.Header.Get(HeaderName)
				if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
					httperrors.JSON(w, http.StatusForbidden, "invalid csrf token")
					return
				}
			}

			ctx := context.WithValue(r.Context(), contextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromContext returns the token the middleware attached to the request.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok {
		return v
	}
	return ""
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
