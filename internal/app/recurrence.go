/**
 * @description
 * Recurrence calculator. Computes a scheduler's next run timestamp from its
 * schedule type and marks one-shot schedules completed. The calculator is a
 * pure function over (scheduler, now); persisting the result is the caller's
 * job, and window exclusion (next run past end_date) belongs to the
 * scheduler driver.
 */

package app

import (
	"time"

	"github.com/corepay/approval-service/internal/domain"
)

// Rollover is the result of advancing a scheduler: the new bookkeeping dates
// and whether the scheduler is finished.
type Rollover struct {
	LastJobDate time.Time
	NextJobDate time.Time
	Completed   bool
}

// NextRun computes the rollover for a scheduler at `now`. LastJobDate is
// always set to `now`; NextJobDate keeps its previous value when the
// scheduler completes so the >= LastJobDate invariant is decided by the
// caller's clock, not by a zero timestamp.
func NextRun(scheduler *domain.TransferScheduler, now time.Time) Rollover {
	roll := Rollover{LastJobDate: now, NextJobDate: now}

	switch scheduler.ScheduleType {
	case domain.ScheduleOnce:
		roll.Completed = true
		roll.NextJobDate = now
	case domain.ScheduleDaily:
		roll.NextJobDate = now.AddDate(0, 0, 1)
	case domain.ScheduleWeekly:
		if scheduler.DayOfWeek != nil {
			roll.NextJobDate = nextWeekday(now, *scheduler.DayOfWeek)
		} else {
			roll.NextJobDate = now.AddDate(0, 0, 7)
		}
	case domain.ScheduleMonthly:
		roll.NextJobDate = nextMonthly(now, scheduler.DayOfMonth)
	case domain.ScheduleQuarterly:
		roll.NextJobDate = now.AddDate(0, 0, 90)
	case domain.ScheduleBiAnnually:
		roll.NextJobDate = now.AddDate(0, 0, 180)
	case domain.ScheduleYearly:
		roll.NextJobDate = now.AddDate(0, 0, 360)
	default:
		// Unknown types never run again.
		roll.Completed = true
	}

	return roll
}

// nextWeekday returns the next occurrence of `target` strictly after `now`.
func nextWeekday(now time.Time, target time.Weekday) time.Time {
	days := (int(target) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return now.AddDate(0, 0, days)
}

// nextMonthly lands 30 days out, then pins to the requested day of that month
// if one is configured. A day the target month does not have clamps to the
// 28th.
func nextMonthly(now time.Time, dayOfMonth *int) time.Time {
	next := now.AddDate(0, 0, 30)
	if dayOfMonth == nil {
		return next
	}

	day := *dayOfMonth
	if day < 1 {
		day = 1
	}
	if day > daysInMonth(next.Year(), next.Month()) {
		day = 28
	}
	return time.Date(next.Year(), next.Month(), day,
		next.Hour(), next.Minute(), next.Second(), next.Nanosecond(), next.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
