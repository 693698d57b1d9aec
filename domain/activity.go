package domain

import (
	"fmt"
	"time"
)

// ActivityType tags an entry in a task's audit log.
type ActivityType string

const (
	ActivityCreated            ActivityType = "created"
	ActivityTitleChanged       ActivityType = "title-changed"
	ActivityDescriptionChanged ActivityType = "description-changed"
	ActivityCategoryChanged    ActivityType = "category-changed"
	ActivityStatusChanged      ActivityType = "status-changed"
	ActivityDueDateChanged     ActivityType = "dueDate-changed"
)

// ActivityEntry is an append-only audit record of a change to a task.
type ActivityEntry struct {
	Type      ActivityType `json:"type"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	UserID    string       `json:"userId,omitempty"`
}

// CreatedActivity is the first entry of a task created through the dialog.
func CreatedActivity(userID string, now time.Time) ActivityEntry {
	return ActivityEntry{Type: ActivityCreated, Message: "Task created", Timestamp: now, UserID: userID}
}

// DiffActivity describes every field that differs between old and next.
func DiffActivity(old Task, next TaskFields, userID string, now time.Time) []ActivityEntry {
	var out []ActivityEntry
	add := func(t ActivityType, msg string) {
		out = append(out, ActivityEntry{Type: t, Message: msg, Timestamp: now, UserID: userID})
	}
	if old.Title != next.Title {
		add(ActivityTitleChanged, fmt.Sprintf("Title changed from %q to %q", old.Title, next.Title))
	}
	if old.Description != next.Description {
		add(ActivityDescriptionChanged, "Description changed")
	}
	if old.Category != next.Category {
		add(ActivityCategoryChanged, fmt.Sprintf("Category changed from %q to %q", old.Category, next.Category))
	}
	if old.Status != next.Status {
		add(ActivityStatusChanged, fmt.Sprintf("Status changed from %q to %q", old.Status, next.Status))
	}
	if !old.DueDate.Equal(next.DueDate) {
		add(ActivityDueDateChanged, fmt.Sprintf("Due date changed from %q to %q", LongDate(old.DueDate), LongDate(next.DueDate)))
	}
	return out
}

// LongDate renders t as "January 2nd, 2006". The zero time renders as "none".
func LongDate(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s %d%s, %d", t.Month(), t.Day(), ordinalSuffix(t.Day()), t.Year())
}

func ordinalSuffix(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
