// Package view derives the list and board presentations from a task list.
// Everything here is a pure function of its inputs except the small state
// holders ListState and Selection.
package view

import (
	"strings"
	"time"

	"taskboard/domain"
)

// Criteria narrows the visible tasks. Zero fields do not filter.
type Criteria struct {
	DueDate  time.Time       `json:"dueDate,omitempty"`
	Category domain.Category `json:"category,omitempty"`
	Query    string          `json:"query,omitempty"`
}

// Empty reports whether c filters nothing.
func (c Criteria) Empty() bool {
	return c.DueDate.IsZero() && c.Category == "" && c.Query == ""
}

// Filter keeps the tasks matching every set criterion: same calendar day in
// loc, category equal ignoring case, title containing the query ignoring case.
// A nil loc means time.Local.
func Filter(tasks []domain.Task, c Criteria, loc *time.Location) []domain.Task {
	if loc == nil {
		loc = time.Local
	}
	query := strings.ToLower(c.Query)
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if !c.DueDate.IsZero() && !SameDay(t.DueDate, c.DueDate, loc) {
			continue
		}
		if c.Category != "" && !strings.EqualFold(string(t.Category), string(c.Category)) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(t.Title), query) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// SameDay compares the calendar days of a and b in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
