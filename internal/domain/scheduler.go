/**
 * @description
 * This file defines the recurrence scheduler domain model. A scheduler is a
 * recurrence definition owning zero or more already-approved transfer
 * requests which the scheduler driver re-dispatches on each due tick.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleType is the recurrence kind of a scheduler.
type ScheduleType string

const (
	ScheduleOnce       ScheduleType = "once"
	ScheduleDaily      ScheduleType = "daily"
	ScheduleWeekly     ScheduleType = "weekly"
	ScheduleMonthly    ScheduleType = "monthly"
	ScheduleQuarterly  ScheduleType = "quarterly"
	ScheduleBiAnnually ScheduleType = "bi-annually"
	ScheduleYearly     ScheduleType = "yearly"
)

// Valid reports whether the schedule type is a known recurrence kind.
func (s ScheduleType) Valid() bool {
	switch s {
	case ScheduleOnce, ScheduleDaily, ScheduleWeekly, ScheduleMonthly,
		ScheduleQuarterly, ScheduleBiAnnually, ScheduleYearly:
		return true
	}
	return false
}

// SchedulerStatus is the activation state of a scheduler. A scheduler is
// created inactive and flipped to active by the authorizer's final approval.
type SchedulerStatus string

const (
	SchedulerActive   SchedulerStatus = "active"
	SchedulerInactive SchedulerStatus = "inactive"
)

// TransferScheduler is a recurrence definition. Invariants: NextJobDate is
// always >= LastJobDate, and once Completed is set the scheduler is never
// reconsidered.
type TransferScheduler struct {
	ID            uuid.UUID       `json:"id"`
	InstitutionID uuid.UUID       `json:"institution_id"`
	ScheduleType  ScheduleType    `json:"schedule_type"`
	DayOfMonth    *int            `json:"day_of_month,omitempty"` // 1..31
	DayOfWeek     *time.Weekday   `json:"day_of_week,omitempty"`
	Status        SchedulerStatus `json:"status"`
	Completed     bool            `json:"completed"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	LastJobDate   *time.Time      `json:"last_job_date,omitempty"`
	NextJobDate   time.Time       `json:"next_job_date"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Due reports whether the scheduler should be picked up by a sweep at `now`.
func (s *TransferScheduler) Due(now time.Time) bool {
	return s.Status == SchedulerActive &&
		!s.Completed &&
		!s.NextJobDate.After(now) &&
		!now.After(s.EndDate)
}

// SchedulePlan is the DTO describing the recurrence a submitter wants for a
// transfer. The resulting scheduler stays inactive until final approval.
type SchedulePlan struct {
	ScheduleType ScheduleType  `json:"schedule_type"`
	DayOfMonth   *int          `json:"day_of_month,omitempty"`
	DayOfWeek    *time.Weekday `json:"day_of_week,omitempty"`
	StartDate    time.Time     `json:"start_date"`
	EndDate      time.Time     `json:"end_date"`
}
