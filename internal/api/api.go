// Package api serves the JSON endpoints behind the study screens.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jw6ventures/studydesk/internal/auth"
	"github.com/jw6ventures/studydesk/internal/connectivity"
	httperrors "github.com/jw6ventures/studydesk/internal/http/errors"
	"github.com/jw6ventures/studydesk/internal/prefs"
	"github.com/jw6ventures/studydesk/internal/store"
	"github.com/jw6ventures/studydesk/internal/study"
	"github.com/jw6ventures/studydesk/internal/syncqueue"
)

const (
	maxBodyBytes   = 1 << 20
	maxBackupBytes = 32 << 20
)

// Deps are the services the handlers call.
type Deps struct {
	Store   *store.Store
	Auth    *auth.Service
	Study   *study.Services
	Prefs   *prefs.Prefs
	Monitor *connectivity.Monitor
	Queue   *syncqueue.Queue
	Log     *zap.Logger
	Now     func() time.Time
}

type Handler struct {
	store   *store.Store
	auth    *auth.Service
	study   *study.Services
	prefs   *prefs.Prefs
	monitor *connectivity.Monitor
	queue   *syncqueue.Queue
	log     *zap.Logger
	now     func() time.Time
}

func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Handler{
		store:   d.Store,
		auth:    d.Auth,
		study:   d.Study,
		prefs:   d.Prefs,
		monitor: d.Monitor,
		queue:   d.Queue,
		log:     d.Log.Named("api"),
		now:     d.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errEmptyBody = errors.New("empty body")

// decodeJSON reads one JSON value and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

// userID returns the session user's id. RequireSession guarantees one.
func userID(r *http.Request) string {
	if u, ok := auth.UserFromContext(r.Context()); ok {
		return u.ID
	}
	return ""
}

// fail maps service errors to responses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, study.ErrNotFound):
		httperrors.JSON(w, http.StatusNotFound, "not found")
	case errors.Is(err, study.ErrInvalid):
		httperrors.BadRequestError(h.log, w, r, err, err.Error())
	case errors.Is(err, store.ErrStorageUnavailable):
		httperrors.LogError(h.log, r, what, err)
		httperrors.JSON(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		httperrors.InternalError(h.log, w, r, err, fmt.Sprintf("%s failed", what))
	}
}

func (h *Handler) badBody(w http.ResponseWriter, r *http.Request, err error) {
	httperrors.BadRequestError(h.log, w, r, err, "invalid request body")
}
