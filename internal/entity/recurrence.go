// ABOUTME: RecurrenceRule value object embedded in reminders.
// ABOUTME: Pure data plus next-occurrence arithmetic; no independent identity.

package entity

import "time"

// Frequency is the repeat unit of a recurrence rule.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

// RecurrenceRule describes how a reminder repeats. It is owned by its
// parent reminder and never cached on its own.
type RecurrenceRule struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval"` // every N units; 0 treated as 1
	ByDay      []time.Weekday `json:"byDay,omitempty"`
	ByMonthDay int            `json:"byMonthDay,omitempty"` // 1-31, 0 = unset
	Month      time.Month     `json:"month,omitempty"`      // for yearly rules, 0 = unset
	Until      *time.Time     `json:"until,omitempty"`
	Count      int            `json:"count,omitempty"` // total occurrences, 0 = unbounded
}

// step returns the effective interval.
func (r *RecurrenceRule) step() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Next computes the occurrence after t, or nil when the rule is exhausted
// by its Until bound. Count exhaustion is tracked server-side; the client
// only needs Next for display scheduling.
func (r *RecurrenceRule) Next(t time.Time) *time.Time {
	var next time.Time
	switch r.Frequency {
	case FreqDaily:
		next = t.AddDate(0, 0, r.step())
	case FreqWeekly:
		if len(r.ByDay) > 0 {
			next = r.nextByWeekday(t)
		} else {
			next = t.AddDate(0, 0, 7*r.step())
		}
	case FreqMonthly:
		day := t.Day()
		if r.ByMonthDay > 0 {
			day = r.ByMonthDay
		}
		next = nextMonthDay(t, r.step(), day)
	case FreqYearly:
		next = t.AddDate(r.step(), 0, 0)
	default:
		return nil
	}
	if r.Until != nil && next.After(*r.Until) {
		return nil
	}
	return &next
}

// nextByWeekday advances day by day until it lands on a listed weekday.
// Bounded by two interval-weeks so a bad rule cannot spin.
func (r *RecurrenceRule) nextByWeekday(t time.Time) time.Time {
	limit := 14 * r.step()
	for i := 1; i <= limit; i++ {
		c := t.AddDate(0, 0, i)
		for _, wd := range r.ByDay {
			if c.Weekday() == wd {
				return c
			}
		}
	}
	return t.AddDate(0, 0, 7*r.step())
}

// nextMonthDay returns the requested day of the month `months` after t,
// clamped to that month's last day (Jan 31 + 1 month -> Feb 28). The month
// is advanced from the first of the month so AddDate never normalizes an
// overflowing day into the month after the target.
func nextMonthDay(t time.Time, months, day int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
	first = first.AddDate(0, months, 0)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
}
