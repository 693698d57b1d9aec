package domain

import (
	"regexp"
	"unicode/utf8"
)

// MaxDescriptionLength caps the plain-text length of a description.
const MaxDescriptionLength = 300

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// PlainText strips markup tags from a rich-text value.
func PlainText(html string) string {
	return tagPattern.ReplaceAllString(html, "")
}

// PlainTextLen counts the characters a reader sees in a rich-text value.
func PlainTextLen(html string) int {
	return utf8.RuneCountInString(PlainText(html))
}

// CheckDescription rejects descriptions whose plain text is too long.
func CheckDescription(html string) error {
	if PlainTextLen(html) > MaxDescriptionLength {
		return invalid("description", ErrDescriptionTooLong)
	}
	return nil
}

// Validate reports the first field that prevents f from being persisted.
// Title, status and due date are mandatory; category may be empty.
func (f TaskFields) Validate() error {
	if f.Title == "" {
		return invalid("title", ErrTitleRequired)
	}
	if f.Status == "" {
		return invalid("status", ErrStatusRequired)
	}
	if !f.Status.Valid() {
		return invalid("status", ErrInvalidStatus)
	}
	if f.DueDate.IsZero() {
		return invalid("dueDate", ErrDueDateRequired)
	}
	if f.Category != "" && !f.Category.Valid() {
		return invalid("category", ErrInvalidCategory)
	}
	return CheckDescription(f.Description)
}
