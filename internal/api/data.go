package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	httperrors "github.com/jw6ventures/studydesk/internal/http/errors"
	"github.com/jw6ventures/studydesk/internal/ical"
	"github.com/jw6ventures/studydesk/internal/prefs"
	"github.com/jw6ventures/studydesk/internal/store"
	"github.com/jw6ventures/studydesk/internal/study"
)

// Timetable renders the user's classes and open tasks as iCalendar.
func (h *Handler) Timetable(w http.ResponseWriter, r *http.Request) {
	ctx, user := r.Context(), userID(r)
	classes, err := h.store.Classes.ListByIndex(ctx, store.IndexUserID, user)
	if err != nil {
		h.fail(w, r, err, "timetable classes")
		return
	}
	subjects, err := h.study.Subjects.List(ctx, user)
	if err != nil {
		h.fail(w, r, err, "timetable subjects")
		return
	}
	tasks, err := h.study.Tasks.List(ctx, user, study.FilterPending)
	if err != nil {
		h.fail(w, r, err, "timetable tasks")
		return
	}

	body := ical.Build(classes, subjects, tasks, h.now())
	etag := ical.ETag(body)
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="studydesk-timetable.ics"`)
	_, _ = io.WriteString(w, body)
}

// BackupFilename is the download name for a backup taken on date.
func BackupFilename(date string) string {
	return fmt.Sprintf("studydesk-backup-%s.json", date)
}

func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.ExportData(r.Context())
	if err != nil {
		h.fail(w, r, err, "export backup")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", BackupFilename(study.DateString(h.now()))))
	writeJSON(w, http.StatusOK, snap)
}

// ImportBackup replaces the collections named in the uploaded backup. On
// failure nothing changes.
func (h *Handler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	err := h.store.ReadBackup(r.Context(), http.MaxBytesReader(w, r.Body, maxBackupBytes))
	if errors.Is(err, store.ErrImportFailed) {
		httperrors.BadRequestError(h.log, w, r, err, "backup could not be imported")
		return
	}
	if err != nil {
		h.fail(w, r, err, "import backup")
		return
	}
	httperrors.LogInfo(h.log, r, "backup imported")
	w.WriteHeader(http.StatusNoContent)
}

// ResetData wipes every collection. It needs ?confirm=yes.
func (h *Handler) ResetData(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.URL.Query().Get("confirm"), "yes") {
		httperrors.JSON(w, http.StatusBadRequest, "confirm=yes is required to delete all data")
		return
	}
	if err := h.store.ClearAll(r.Context()); err != nil {
		h.fail(w, r, err, "reset data")
		return
	}
	httperrors.LogInfo(h.log, r, "all data cleared")
	w.WriteHeader(http.StatusNoContent)
}

type themeBody struct {
	Theme string `json:"theme"`
}

func (h *Handler) GetTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, themeBody{Theme: h.prefs.Theme(r.Context())})
}

func (h *Handler) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeBody
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	err := h.prefs.SetTheme(r.Context(), req.Theme)
	if errors.Is(err, prefs.ErrInvalidTheme) {
		httperrors.JSON(w, http.StatusBadRequest, "theme must be light or dark")
		return
	}
	if err != nil {
		httperrors.InternalError(h.log, w, r, err, "save theme")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type connectivityResponse struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
	Changed bool `json:"changed,omitempty"`
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (h *Handler) Connectivity(w http.ResponseWriter, r *http.Request) {
	h.writeConnectivity(w, r, false)
}

// SetConnectivity lets the client report the browser's online/offline
// events. Going online drains the queue before responding.
func (h *Handler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	if req.Online == nil {
		httperrors.JSON(w, http.StatusBadRequest, "online is required")
		return
	}
	changed := h.monitor.SetOnline(r.Context(), *req.Online)
	h.writeConnectivity(w, r, changed)
}

func (h *Handler) writeConnectivity(w http.ResponseWriter, r *http.Request, changed bool) {
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		h.fail(w, r, err, "pending changes")
		return
	}
	writeJSON(w, http.StatusOK, connectivityResponse{
		Online:  h.monitor.Online(),
		Pending: len(pending),
		Changed: changed,
	})
}

func (h *Handler) PendingChanges(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Pending(r.Context())
	if err != nil {
		h.fail(w, r, err, "pending changes")
		return
	}
	if pending == nil {
		pending = []store.PendingChange{}
	}
	writeJSON(w, http.StatusOK, pending)
}
