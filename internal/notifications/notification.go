package notifications

import (
	"errors"
	"time"

	"github.com/fitquest/backend/internal/reminders"
)

var ErrNotFound = errors.New("notification not found")

// Notification is one queued (or pushed) reminder firing, as the client
// sees it.
type Notification struct {
	ID         int                    `json:"id"`
	UserID     int                    `json:"user_id"`
	ReminderID int                    `json:"reminder_id"`
	Type       reminders.ReminderType `json:"type"`
	Message    string                 `json:"message"`
	CreatedAt  time.Time              `json:"created_at"`
}

func NewNotification(rem reminders.Reminder, createdAt time.Time) Notification {
	return Notification{
		UserID:     rem.UserID,
		ReminderID: rem.ID,
		Type:       rem.Type,
		Message:    rem.Type.Message(),
		CreatedAt:  createdAt,
	}
}
