package publish

import (
	"fmt"
	"time"

	"postflow/internal/project"
	"postflow/internal/services"
)

// ComputeScheduleTime finds the next publish slot for a recurring time-slot
// policy: the earliest date on or after today (in the schedule's time zone)
// whose weekday is preferred, at the preferred time of day. A slot that is
// not strictly after now skips a full week and re-searches the weekday set
// from there, so a same-day-but-past slot never just slides to tomorrow.
func ComputeScheduleTime(schedule project.PublishingSchedule, now time.Time) (time.Time, error) {
	if len(schedule.PreferredDays) == 0 {
		return time.Time{}, services.Wrap(services.ErrValidation, "publish", "schedule", "preferred days required", nil)
	}
	loc, err := time.LoadLocation(schedule.TimeZone)
	if err != nil {
		return time.Time{}, services.Wrap(services.ErrValidation, "publish", "schedule",
			fmt.Sprintf("time zone %q", schedule.TimeZone), err)
	}
	slotClock, err := time.Parse("15:04", schedule.PreferredTime)
	if err != nil {
		return time.Time{}, services.Wrap(services.ErrValidation, "publish", "schedule",
			fmt.Sprintf("preferred time %q", schedule.PreferredTime), err)
	}

	preferred := make(map[time.Weekday]bool, len(schedule.PreferredDays))
	for _, day := range schedule.PreferredDays {
		preferred[day] = true
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	slot, err := earliestSlot(today, slotClock, preferred, loc)
	if err != nil {
		return time.Time{}, err
	}
	if slot.After(now) {
		return slot, nil
	}
	return earliestSlot(slot.AddDate(0, 0, 7), slotClock, preferred, loc)
}

func earliestSlot(from time.Time, slotClock time.Time, preferred map[time.Weekday]bool, loc *time.Location) (time.Time, error) {
	for offset := 0; offset < 7; offset++ {
		day := from.AddDate(0, 0, offset)
		if !preferred[day.Weekday()] {
			continue
		}
		return time.Date(day.Year(), day.Month(), day.Day(),
			slotClock.Hour(), slotClock.Minute(), 0, 0, loc), nil
	}
	return time.Time{}, services.Wrap(services.ErrValidation, "publish", "schedule", "no preferred weekday found", nil)
}

// AssignScheduleTimes builds one scheduled post per approved post, each
// independently given the next preferred slot. Same-call assignments are not
// staggered by the minimum interval.
func AssignScheduleTimes(agg *project.Aggregate, now time.Time) ([]*project.ScheduledPost, error) {
	approved := agg.ApprovedPosts()
	if len(approved) == 0 {
		return nil, services.Wrap(services.ErrInvalidOperation, "publish", "schedule", "no approved posts to schedule", nil)
	}
	scheduled := make([]*project.ScheduledPost, 0, len(approved))
	for _, post := range approved {
		slot, err := ComputeScheduleTime(agg.Project.Workflow.Schedule, now)
		if err != nil {
			return nil, err
		}
		scheduled = append(scheduled, &project.ScheduledPost{
			ProjectID:     agg.Project.ID,
			PostID:        post.ID,
			Platform:      post.Platform,
			Content:       post.Content,
			ScheduledTime: slot.UTC(),
			Status:        project.ScheduledPending,
		})
	}
	return scheduled, nil
}
