// Package ical renders the timetable and open tasks as an iCalendar feed.
package ical

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jw6ventures/studydesk/internal/store"
)

const (
	prodID          = "-//studydesk//timetable//EN"
	maxLineOctets   = 75
	defaultDuration = 60
	dateTimeLayout  = "20060102T150405"
	dateLayout      = "20060102"
)

var byDay = map[string]string{
	"monday":    "MO",
	"tuesday":   "TU",
	"wednesday": "WE",
	"thursday":  "TH",
	"friday":    "FR",
	"saturday":  "SA",
	"sunday":    "SU",
}

var weekday = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// Build renders one weekly VEVENT per class and one VTODO per pending task.
// Class times are floating local times starting at the next occurrence of
// the class weekday on or after now.
func Build(classes []store.ClassSession, subjects []store.Subject, tasks []store.Task, now time.Time) string {
	names := make(map[string]string, len(subjects))
	for _, s := range subjects {
		names[s.ID] = s.Name
	}
	stamp := now.UTC().Format(dateTimeLayout) + "Z"

	var lines []string
	lines = append(lines, "BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:"+prodID, "CALSCALE:GREGORIAN", "X-WR-CALNAME:Study timetable")

	for _, c := range classes {
		start, ok := firstOccurrence(c, now)
		if !ok {
			continue
		}
		duration := c.Duration
		if duration <= 0 {
			duration = defaultDuration
		}
		summary := names[c.SubjectID]
		if summary == "" {
			summary = "Class"
		}
		lines = append(lines,
			"BEGIN:VEVENT",
			"UID:class-"+c.ID+"@studydesk",
			"DTSTAMP:"+stamp,
			"DTSTART:"+start.Format(dateTimeLayout),
			fmt.Sprintf("DURATION:PT%dM", duration),
			"RRULE:FREQ=WEEKLY;BYDAY="+byDay[c.Day],
			"SUMMARY:"+EscapeValue(sanitizeText(summary)),
		)
		if loc := sanitizeText(c.Location); loc != "" {
			lines = append(lines, "LOCATION:"+EscapeValue(loc))
		}
		lines = append(lines, "END:VEVENT")
	}

	for _, t := range tasks {
		if t.Status == store.StatusCompleted {
			continue
		}
		lines = append(lines,
			"BEGIN:VTODO",
			"UID:task-"+t.ID+"@studydesk",
			"DTSTAMP:"+stamp,
			"SUMMARY:"+EscapeValue(sanitizeText(t.Title)),
			fmt.Sprintf("PRIORITY:%d", priority(t.Priority)),
			"STATUS:NEEDS-ACTION",
		)
		if due, err := time.Parse(store.DateLayout, t.DueDate); err == nil {
			lines = append(lines, "DUE;VALUE=DATE:"+due.Format(dateLayout))
		}
		if desc := sanitizeText(t.Description); desc != "" {
			lines = append(lines, "DESCRIPTION:"+EscapeValue(desc))
		}
		if name := names[t.SubjectID]; name != "" {
			lines = append(lines, "CATEGORIES:"+EscapeValue(sanitizeText(name)))
		}
		lines = append(lines, "END:VTODO")
	}
	lines = append(lines, "END:VCALENDAR")

	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(FoldLine(line))
		sb.WriteString("\r\n")
	}
	return sb.String()
}

func firstOccurrence(c store.ClassSession, now time.Time) (time.Time, bool) {
	wd, ok := weekday[c.Day]
	if !ok {
		return time.Time{}, false
	}
	clock, err := time.Parse("15:04", c.Time)
	if err != nil {
		return time.Time{}, false
	}
	now = now.Local()
	days := (int(wd) - int(now.Weekday()) + 7) % 7
	d := now.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), 0, 0, time.Local), true
}

// priority maps task priorities onto RFC 5545 PRIORITY values.
func priority(p store.Priority) int {
	switch p {
	case store.PriorityHigh:
		return 1
	case store.PriorityLow:
		return 9
	default:
		return 5
	}
}

// EscapeValue escapes a TEXT property value.
func EscapeValue(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// sanitizeText drops control characters other than newline and tab.
func sanitizeText(value string) string {
	value = strings.TrimSpace(value)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)
}

// FoldLine splits a content line into 75-octet chunks joined by CRLF and a
// space, never inside a UTF-8 sequence.
func FoldLine(line string) string {
	if len(line) <= maxLineOctets {
		return line
	}
	var sb strings.Builder
	limit := maxLineOctets
	for len(line) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		sb.WriteString(line[:cut])
		sb.WriteString("\r\n ")
		line = line[cut:]
		// continuation lines carry the leading space
		limit = maxLineOctets - 1
	}
	sb.WriteString(line)
	return sb.String()
}

// UnfoldLines reverses FoldLine.
func UnfoldLines(ical string) []string {
	ical = strings.ReplaceAll(ical, "\r\n", "\n")
	ical = strings.ReplaceAll(ical, "\r", "\n")
	rawLines := strings.Split(ical, "\n")
	var lines []string
	for _, line := range rawLines {
		if len(lines) > 0 && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// ETag returns a strong validator for a rendered feed.
func ETag(content string) string {
	h := sha256.Sum256([]byte(content))
	return fmt.Sprintf("\"%x\"", h[:16])
}
