// internal/domain/notification/shared_types.go
package notification

import (
	"strings"
	"time"
)

// JobName identifies a scheduled notification job.
type JobName string

const (
	JobNightlyReminders JobName = "nightly-reminders"
	JobMAMReminder      JobName = "mam-reminder"
	JobDailyDigest      JobName = "daily-digest"
)

// dayKeyLayout is the UTC calendar-day bucket used for idempotency.
const dayKeyLayout = "2006-01-02"

// SkipReasonAlreadySent is reported when a claim for today already exists.
const SkipReasonAlreadySent = "already-sent-today"

// InsertResult is the typed outcome of ClaimStore.InsertIfAbsent.
type InsertResult int

const (
	Inserted InsertResult = iota + 1
	Conflict
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// NormalizeRecipient lower-cases and trims an address so that claim keys are stable.
func NormalizeRecipient(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// DayKey returns the UTC calendar day of t formatted as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyLayout)
}

// ParseDayKey validates a YYYY-MM-DD day key.
func ParseDayKey(s string) (time.Time, error) {
	return time.Parse(dayKeyLayout, s)
}
