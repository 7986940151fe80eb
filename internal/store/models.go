package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Collection names as they appear on disk and in backup files.
const (
	CollectionUsers     = "users"
	CollectionSubjects  = "subjects"
	CollectionTasks     = "tasks"
	CollectionClasses   = "classes"
	CollectionGoals     = "goals"
	CollectionPomodoro  = "pomodoro"
	CollectionSyncQueue = "syncQueue"
)

// Index names shared by several collections.
const (
	IndexUserID    = "userId"
	IndexSubjectID = "subjectId"
	IndexDueDate   = "dueDate"
	IndexStatus    = "status"
	IndexDay       = "day"
	IndexDate      = "date"
	IndexTimestamp = "timestamp"
	IndexSynced    = "synced"
)

// DateLayout is the calendar date format used by due dates and focus sessions.
const DateLayout = "2006-01-02"

// User is a local account. Users are never deleted programmatically.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLogin    time.Time `json:"lastLogin"`
	PasswordHash string    `json:"passwordHash,omitempty"`
}

func (u User) Validate() error {
	if u.ID == "" {
		return errors.New("user id is required")
	}
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("user email is required")
	}
	return nil
}

// Subject is a course of study owned by one user.
type Subject struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Code      string    `json:"code,omitempty"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s Subject) Validate() error {
	if s.ID == "" || s.UserID == "" {
		return errors.New("subject id and userId are required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("subject name is required")
	}
	return nil
}

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank orders priorities from high (0) to low (2).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// TaskStatus is either pending or completed.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
)

// Task is a to-do item. SubjectID is a weak reference and may dangle.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	SubjectID   string     `json:"subjectId"`
	DueDate     string     `json:"dueDate"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t Task) Validate() error {
	if t.ID == "" || t.UserID == "" {
		return errors.New("task id and userId are required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("task title is required")
	}
	if t.DueDate != "" {
		if _, err := time.Parse(DateLayout, t.DueDate); err != nil {
			return fmt.Errorf("task dueDate %q: want YYYY-MM-DD", t.DueDate)
		}
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("task priority %q is not one of low, medium, high", t.Priority)
	}
	switch t.Status {
	case StatusPending, StatusCompleted:
	default:
		return fmt.Errorf("task status %q is not one of pending, completed", t.Status)
	}
	return nil
}

// Weekday names used by the timetable.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DayName maps a Go weekday onto the timetable's day names.
func DayName(d time.Weekday) string {
	if d == time.Sunday {
		return Weekdays[6]
	}
	return Weekdays[int(d)-1]
}

// IsWeekday reports whether day is a valid timetable day.
func IsWeekday(day string) bool {
	for _, d := range Weekdays {
		if d == day {
			return true
		}
	}
	return false
}

// ClassSession is a weekly timetable slot.
type ClassSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	SubjectID string    `json:"subjectId"`
	Location  string    `json:"location"`
	Time      string    `json:"time"`
	Day       string    `json:"day"`
	Duration  int       `json:"duration"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c ClassSession) Validate() error {
	if c.ID == "" || c.UserID == "" {
		return errors.New("class id and userId are required")
	}
	if !IsWeekday(c.Day) {
		return fmt.Errorf("class day %q is not a weekday name", c.Day)
	}
	if _, err := time.Parse("15:04", c.Time); err != nil {
		return fmt.Errorf("class time %q: want HH:MM", c.Time)
	}
	if c.Duration < 0 {
		return errors.New("class duration must not be negative")
	}
	return nil
}

// Goal is a free-text vision board entry.
type Goal struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (g Goal) Validate() error {
	if g.ID == "" || g.UserID == "" {
		return errors.New("goal id and userId are required")
	}
	if strings.TrimSpace(g.Text) == "" {
		return errors.New("goal text is required")
	}
	return nil
}

// FocusSession records one completed pomodoro. Duration is in seconds.
type FocusSession struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Date        string    `json:"date"`
	Duration    int       `json:"duration"`
	CompletedAt time.Time `json:"completedAt"`
}

func (f FocusSession) Validate() error {
	if f.ID == "" || f.UserID == "" {
		return errors.New("focus session id and userId are required")
	}
	if _, err := time.Parse(DateLayout, f.Date); err != nil {
		return fmt.Errorf("focus session date %q: want YYYY-MM-DD", f.Date)
	}
	if f.Duration <= 0 {
		return errors.New("focus session duration must be positive")
	}
	return nil
}

// PendingChange is a mutation recorded while offline. ID is assigned by the store.
type PendingChange struct {
	ID        int64           `json:"id,omitempty"`
	Action    string          `json:"action"`
	StoreName string          `json:"storeName"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Synced    bool            `json:"synced"`
	SyncedAt  *time.Time      `json:"syncedAt,omitempty"`
}

func (p PendingChange) Validate() error {
	if p.Action == "" || p.StoreName == "" {
		return errors.New("pending change action and storeName are required")
	}
	return nil
}
