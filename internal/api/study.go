package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jw6ventures/studydesk/internal/store"
	"github.com/jw6ventures/studydesk/internal/study"
)

// create decodes a T, clears any client-supplied id and saves it.
func create[T any](h *Handler, w http.ResponseWriter, r *http.Request, what string, save func(context.Context, string, T) (T, error), setID func(*T, string)) {
	var rec T
	if err := decodeJSON(w, r, &rec); err != nil {
		h.badBody(w, r, err)
		return
	}
	setID(&rec, "")
	saved, err := save(r.Context(), userID(r), rec)
	if err != nil {
		h.fail(w, r, err, what)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// update decodes a T and saves it under the id from the path.
func update[T any](h *Handler, w http.ResponseWriter, r *http.Request, what string, save func(context.Context, string, T) (T, error), setID func(*T, string)) {
	var rec T
	if err := decodeJSON(w, r, &rec); err != nil {
		h.badBody(w, r, err)
		return
	}
	setID(&rec, chi.URLParam(r, "id"))
	saved, err := save(r.Context(), userID(r), rec)
	if err != nil {
		h.fail(w, r, err, what)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request, what string, del func(ctx context.Context, userID, id string) error) {
	if err := del(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err, what)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func setSubjectID(s *store.Subject, id string)    { s.ID = id }
func setTaskID(t *store.Task, id string)          { t.ID = id }
func setClassID(c *store.ClassSession, id string) { c.ID = id }
func setGoalID(g *store.Goal, id string)          { g.ID = id }

func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.study.Subjects.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err, "list subjects")
		return
	}
	writeJSON(w, http.StatusOK, subjects)
}

func (h *Handler) CreateSubject(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "create subject", h.study.Subjects.Save, setSubjectID)
}

func (h *Handler) UpdateSubject(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "update subject", h.study.Subjects.Save, setSubjectID)
}

// DeleteSubject leaves the subject's tasks and classes in place.
func (h *Handler) DeleteSubject(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, "delete subject", h.study.Subjects.Delete)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := study.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, r, err, "list tasks")
		return
	}
	views, err := h.study.Tasks.Views(r.Context(), userID(r), filter)
	if err != nil {
		h.fail(w, r, err, "list tasks")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "create task", h.study.Tasks.Save, setTaskID)
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "update task", h.study.Tasks.Save, setTaskID)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, "delete task", h.study.Tasks.Delete)
}

func (h *Handler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.study.Tasks.Toggle(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err, "toggle task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListClasses returns the whole timetable, or one day with ?day=monday.
func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	var (
		classes []study.ClassView
		err     error
	)
	if day := strings.TrimSpace(r.URL.Query().Get("day")); day != "" {
		classes, err = h.study.Classes.ByDay(r.Context(), userID(r), strings.ToLower(day))
	} else {
		classes, err = h.study.Classes.List(r.Context(), userID(r))
	}
	if err != nil {
		h.fail(w, r, err, "list classes")
		return
	}
	writeJSON(w, http.StatusOK, classes)
}

func (h *Handler) CreateClass(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "create class", h.study.Classes.Save, setClassID)
}

func (h *Handler) UpdateClass(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "update class", h.study.Classes.Save, setClassID)
}

func (h *Handler) DeleteClass(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, "delete class", h.study.Classes.Delete)
}

func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.study.Goals.List(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err, "list goals")
		return
	}
	writeJSON(w, http.StatusOK, goals)
}

func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	create(h, w, r, "create goal", h.study.Goals.Save, setGoalID)
}

func (h *Handler) UpdateGoal(w http.ResponseWriter, r *http.Request) {
	update(h, w, r, "update goal", h.study.Goals.Save, setGoalID)
}

func (h *Handler) DeleteGoal(w http.ResponseWriter, r *http.Request) {
	h.remove(w, r, "delete goal", h.study.Goals.Delete)
}

type focusRequest struct {
	Seconds int `json:"seconds"`
}

// RecordFocus stores a finished work interval. An empty body records a
// full pomodoro.
func (h *Handler) RecordFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.badBody(w, r, err)
		return
	}
	session, err := h.study.Focus.Record(r.Context(), userID(r), req.Seconds)
	if err != nil {
		h.fail(w, r, err, "record focus session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// FocusStats defaults to today.
func (h *Handler) FocusStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = study.DateString(h.now())
	}
	stats, err := h.study.Focus.DailyStats(r.Context(), userID(r), date)
	if err != nil {
		h.fail(w, r, err, "focus stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type todayResponse struct {
	Date    string            `json:"date"`
	Day     string            `json:"day"`
	Tasks   []study.TaskView  `json:"tasks"`
	Classes []study.ClassView `json:"classes"`
	Focus   study.Stats       `json:"focus"`
}

// Today is the dashboard: tasks due today, today's classes and focus time.
func (h *Handler) Today(w http.ResponseWriter, r *http.Request) {
	ctx, user := r.Context(), userID(r)
	now := h.now()
	date := study.DateString(now)

	tasks, err := h.study.Tasks.Today(ctx, user, date)
	if err != nil {
		h.fail(w, r, err, "today tasks")
		return
	}
	classes, err := h.study.Classes.Today(ctx, user, now)
	if err != nil {
		h.fail(w, r, err, "today classes")
		return
	}
	stats, err := h.study.Focus.DailyStats(ctx, user, date)
	if err != nil {
		h.fail(w, r, err, "today focus")
		return
	}
	writeJSON(w, http.StatusOK, todayResponse{
		Date:    date,
		Day:     store.DayName(now.Local().Weekday()),
		Tasks:   tasks,
		Classes: classes,
		Focus:   stats,
	})
}

// Calendar takes ?month=YYYY-MM and defaults to the current month.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = h.now().Local().Format("2006-01")
	}
	year, m, err := study.ParseMonth(month)
	if err != nil {
		h.fail(w, r, err, "calendar")
		return
	}
	out, err := h.study.Calendar.TaskCounts(r.Context(), userID(r), year, m)
	if err != nil {
		h.fail(w, r, err, "calendar")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
