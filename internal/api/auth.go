package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jw6ventures/studydesk/internal/auth"
	"github.com/jw6ventures/studydesk/internal/http/csrf"
	httperrors "github.com/jw6ventures/studydesk/internal/http/errors"
	"github.com/jw6ventures/studydesk/internal/store"
)

const minPasswordLength = 6

type signUpRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *store.User `json:"user,omitempty"`
	CSRFToken     string      `json:"csrfToken,omitempty"`
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	switch {
	case req.Name == "" || req.Email == "":
		httperrors.JSON(w, http.StatusBadRequest, "Name and email are required")
		return
	case req.Password != req.ConfirmPassword:
		httperrors.JSON(w, http.StatusBadRequest, "Passwords do not match")
		return
	case len(req.Password) < minPasswordLength:
		httperrors.JSON(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	user, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		httperrors.LogError(h.log, r, "sign up", err)
		httperrors.JSON(w, http.StatusInternalServerError, "Sign up failed. Please try again.")
		return
	}
	if err := h.auth.Sessions().Issue(w, user.ID); err != nil {
		httperrors.InternalError(h.log, w, r, err, "issue session cookie")
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Authenticated: true, User: user})
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}

	user, err := h.auth.SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		httperrors.JSON(w, http.StatusNotFound, "Email not found. Please sign up.")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		httperrors.JSON(w, http.StatusUnauthorized, "Invalid email or password")
		return
	case err != nil:
		httperrors.LogError(h.log, r, "sign in", err)
		httperrors.JSON(w, http.StatusInternalServerError, "Sign in failed. Please try again.")
		return
	}
	if err := h.auth.Sessions().Issue(w, user.ID); err != nil {
		httperrors.InternalError(h.log, w, r, err, "issue session cookie")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Authenticated: true, User: user})
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.auth.Sessions().Clear(w)
	if err := h.auth.SignOut(r.Context()); err != nil {
		httperrors.InternalError(h.log, w, r, err, "sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session reports who is signed in and hands out the CSRF token the client
// must echo on mutating requests.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{CSRFToken: csrf.TokenFromContext(r.Context())}
	if id, ok := h.auth.Sessions().CurrentUserID(r); ok {
		if user := h.auth.CurrentUser(); user != nil && user.ID == id {
			resp.Authenticated = true
			resp.User = user
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
