// Package period holds the date arithmetic shared by trips, payments
// and the scheduler.
package period

import (
	"fmt"
	"time"
)

// CreditTerms are the client credit terms accepted on a trip, in days.
var CreditTerms = []int{0, 15, 30, 60, 90}

// Range is a half-open time interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// Month returns the calendar month containing t, in t's location.
func Month(t time.Time) Range {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Range{From: from, To: from.AddDate(0, 1, 0)}
}

// Key returns the "2006-01" label of the month containing t.
func Key(t time.Time) string {
	return t.Format("2006-01")
}

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// ValidCreditTerm reports whether days is an accepted credit term.
func ValidCreditTerm(days int) bool {
	for _, term := range CreditTerms {
		if term == days {
			return true
		}
	}
	return false
}

// DueDate returns the client payment due date for a departure and a
// credit term.
func DueDate(departure time.Time, termDays int) (time.Time, error) {
	if !ValidCreditTerm(termDays) {
		return time.Time{}, fmt.Errorf("credit term %d days is not one of %v", termDays, CreditTerms)
	}
	return departure.AddDate(0, 0, termDays), nil
}

// DaysIn returns the number of days in the month containing t.
func DaysIn(t time.Time) int {
	return Month(t).To.AddDate(0, 0, -1).Day()
}

// PayDay returns the given day of the month containing t, clamped to the
// last day of that month.
func PayDay(t time.Time, day int) time.Time {
	if last := DaysIn(t); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, t.Location())
}

// Overlaps reports whether [startA, endA] and [startB, endB] intersect.
func Overlaps(startA, endA, startB, endB time.Time) bool {
	return !startA.After(endB) && !endA.Before(startB)
}
