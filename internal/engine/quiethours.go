package engine

import (
	"fmt"
	"time"
)

// sendBuffer is added when scheduling inside an already-open window, so a
// freshly scheduled record is picked up by the next cycle, not this one.
const sendBuffer = 2 * time.Minute

// QuietHours decides when outbound messages are allowed. The window is
// [Open, Close) o'clock in a fixed business timezone; local-time resolution
// goes through the named location, never the host default, so standard and
// daylight offsets both come out right.
type QuietHours struct {
	Open  int
	Close int
	loc   *time.Location
}

// NewQuietHours resolves the named timezone and validates the window.
func NewQuietHours(open, close int, tz string) (QuietHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return QuietHours{}, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	if open < 0 || close > 24 || open >= close {
		return QuietHours{}, fmt.Errorf("invalid send window %d-%d", open, close)
	}
	return QuietHours{Open: open, Close: close, loc: loc}, nil
}

// SendableAt reports whether the instant falls inside the send window.
func (q QuietHours) SendableAt(t time.Time) bool {
	h := t.In(q.loc).Hour()
	return h >= q.Open && h < q.Close
}

// NextSendable returns the earliest instant at or after t when sending is
// allowed: t plus a small buffer if the window is open, otherwise the next
// local opening hour (same day if before open, next day if at or past close).
// The result is an absolute instant; DST shifts are absorbed by constructing
// the boundary in the business location.
func (q QuietHours) NextSendable(t time.Time) time.Time {
	local := t.In(q.loc)
	h := local.Hour()

	if h >= q.Open && h < q.Close {
		return t.Add(sendBuffer)
	}

	day := local
	if h >= q.Close {
		day = day.AddDate(0, 0, 1)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), q.Open, 0, 0, 0, q.loc)
}

// Location exposes the business timezone for display formatting.
func (q QuietHours) Location() *time.Location { return q.loc }
