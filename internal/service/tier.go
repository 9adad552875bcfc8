package service

import "github.com/lomito/escalation-service/internal/model"

// ReminderTier is one step of the reminder schedule.
type ReminderTier struct {
	Number int
	Days   int
}

// Tiers in evaluation order, most overdue first.
var reminderTiers = []ReminderTier{
	{Number: 3, Days: 30},
	{Number: 2, Days: 15},
	{Number: 1, Days: 5},
}

// DueTier returns the reminder to send for a case escalated daysSince days ago that already received count
// reminders. Thresholds are checked from the highest down, so a case that was never reminded and is
// 40 days old gets only the final reminder.
func DueTier(daysSince, count int) (ReminderTier, bool) {
	for _, t := range reminderTiers {
		if daysSince >= t.Days && count < t.Number {
			return t, true
		}
	}
	return ReminderTier{}, false
}

// IsFinal reports whether sending this tier makes the case eligible for the unresponsive mark.
func (t ReminderTier) IsFinal() bool {
	return t.Number >= model.MaxReminders
}
