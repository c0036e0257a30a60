package app

import (
	"testing"
	"time"

	"github.com/corepay/approval-service/internal/domain"
)

func TestNextRunOnceCompletesImmediately(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	scheduler := &domain.TransferScheduler{ScheduleType: domain.ScheduleOnce}

	roll := NextRun(scheduler, now)

	if !roll.Completed {
		t.Fatalf("expected a once schedule to complete after its single run")
	}
	if !roll.LastJobDate.Equal(now) {
		t.Fatalf("expected LastJobDate %v, got %v", now, roll.LastJobDate)
	}
	if roll.NextJobDate.Before(roll.LastJobDate) {
		t.Fatalf("NextJobDate %v fell behind LastJobDate %v", roll.NextJobDate, roll.LastJobDate)
	}
}

func TestNextRunFixedIntervals(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		scheduleType domain.ScheduleType
		wantDays     int
	}{
		{scheduleType: domain.ScheduleDaily, wantDays: 1},
		{scheduleType: domain.ScheduleQuarterly, wantDays: 90},
		{scheduleType: domain.ScheduleBiAnnually, wantDays: 180},
		{scheduleType: domain.ScheduleYearly, wantDays: 360},
	}

	for _, tt := range tests {
		t.Run(string(tt.scheduleType), func(t *testing.T) {
			roll := NextRun(&domain.TransferScheduler{ScheduleType: tt.scheduleType}, now)
			if roll.Completed {
				t.Fatalf("expected %s schedule to keep running", tt.scheduleType)
			}
			want := now.AddDate(0, 0, tt.wantDays)
			if !roll.NextJobDate.Equal(want) {
				t.Fatalf("expected next run %v, got %v", want, roll.NextJobDate)
			}
		})
	}
}

func TestNextRunWeekly(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		dayOfWeek *time.Weekday
		want      time.Time
	}{
		{
			name: "no pinned weekday runs seven days out",
			want: now.AddDate(0, 0, 7),
		},
		{
			name:      "pinned weekday later this week",
			dayOfWeek: weekdayPtr(time.Friday),
			want:      time.Date(2026, time.March, 13, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "pinned weekday earlier in the week wraps",
			dayOfWeek: weekdayPtr(time.Monday),
			want:      time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC),
		},
		{
			name:      "same weekday is strictly after now",
			dayOfWeek: weekdayPtr(time.Tuesday),
			want:      time.Date(2026, time.March, 17, 9, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scheduler := &domain.TransferScheduler{
				ScheduleType: domain.ScheduleWeekly,
				DayOfWeek:    tt.dayOfWeek,
			}
			roll := NextRun(scheduler, now)
			if !roll.NextJobDate.Equal(tt.want) {
				t.Fatalf("expected next run %v, got %v", tt.want, roll.NextJobDate)
			}
		})
	}
}

func TestNextRunMonthly(t *testing.T) {
	tests := []struct {
		name       string
		now        time.Time
		dayOfMonth *int
		want       time.Time
	}{
		{
			name: "no pinned day lands thirty days out",
			now:  time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
			want: time.Date(2026, time.March, 31, 9, 0, 0, 0, time.UTC),
		},
		{
			name:       "pinned day within the landing month",
			now:        time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC),
			dayOfMonth: intPtr(15),
			want:       time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "day 31 clamps to 28 in a short month",
			// 30 days after 2026-03-31 is 2026-04-30; April has no 31st.
			now:        time.Date(2026, time.March, 31, 9, 0, 0, 0, time.UTC),
			dayOfMonth: intPtr(31),
			want:       time.Date(2026, time.April, 28, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "day 30 clamps to 28 in february",
			// 30 days after 2026-01-20 is 2026-02-19; February has no 30th.
			now:        time.Date(2026, time.January, 20, 9, 0, 0, 0, time.UTC),
			dayOfMonth: intPtr(30),
			want:       time.Date(2026, time.February, 28, 9, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scheduler := &domain.TransferScheduler{
				ScheduleType: domain.ScheduleMonthly,
				DayOfMonth:   tt.dayOfMonth,
			}
			roll := NextRun(scheduler, tt.now)
			if roll.Completed {
				t.Fatalf("expected monthly schedule to keep running")
			}
			if !roll.NextJobDate.Equal(tt.want) {
				t.Fatalf("expected next run %v, got %v", tt.want, roll.NextJobDate)
			}
		})
	}
}

func TestNextRunUnknownTypeCompletes(t *testing.T) {
	now := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	roll := NextRun(&domain.TransferScheduler{ScheduleType: "fortnightly"}, now)
	if !roll.Completed {
		t.Fatalf("expected an unknown schedule type to never run again")
	}
}

func weekdayPtr(d time.Weekday) *time.Weekday { return &d }
