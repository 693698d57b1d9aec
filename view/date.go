package view

import (
	"fmt"
	"math"
	"time"
)

const week = 7

// RelativeDate labels due relative to now using whole elapsed days rounded
// down: Today, Tomorrow, Yesterday, "In N days" or "N days ago" within a
// week, and "02 Jan 2006" beyond that.
func RelativeDate(due, now time.Time) string {
	days := int(math.Floor(due.Sub(now).Hours() / 24))
	switch {
	case days == 0:
		return "Today"
	case days == -1:
		return "Yesterday"
	case days == 1:
		return "Tomorrow"
	case days > 0 && days < week:
		return fmt.Sprintf("In %d days", days)
	case days < 0 && -days < week:
		return fmt.Sprintf("%d days ago", -days)
	}
	return due.In(now.Location()).Format("02 Jan 2006")
}
