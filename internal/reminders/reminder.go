package reminders

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("reminder not found")
	ErrInvalidInterval = errors.New("invalid reminder interval")
	ErrInvalidType     = errors.New("invalid reminder type")
)

// default used when a create request omits the interval
const DefaultIntervalMinutes = 30

// Reminder is the persisted reminder configuration for one user.
// Scheduling state lives in the scheduler package, not here.
type Reminder struct {
	ID              int          `json:"id"`
	UserID          int          `json:"user_id"`
	Type            ReminderType `json:"type"`
	IntervalMinutes int          `json:"interval_minutes"`
	IsActive        bool         `json:"is_active"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ReminderType can be one of:
//   - water
//   - exercise
type ReminderType string

const (
	TypeWater    ReminderType = "water"
	TypeExercise ReminderType = "exercise"
)

func (rt ReminderType) String() string {
	return string(rt)
}

func (rt ReminderType) IsValid() bool {
	switch rt {
	case TypeWater, TypeExercise:
		return true
	default:
		return false
	}
}

// Message is the user-facing notification text for this reminder type.
func (rt ReminderType) Message() string {
	switch rt {
	case TypeWater:
		return "Time to drink some water!"
	case TypeExercise:
		return "Time to move - do a quick exercise!"
	default:
		return "Reminder!"
	}
}
