package scheduler

import (
	"context"
	"fmt"

	"github.com/fitquest/backend/internal/reminders"
	"github.com/fitquest/backend/internal/telemetry/metrics"

	log "github.com/sirupsen/logrus"
)

//go:generate go run go.uber.org/mock/mockgen -source=orchestrator.go -destination=orchestrator_mocks_test.go -package=scheduler_test

// ReminderStore is the persistence the orchestrator reconciles against on
// process start. Only active records are of interest here.
type ReminderStore interface {
	ListActive(ctx context.Context) ([]reminders.Reminder, error)
}

// NotificationSink receives fired reminders. Delivery is fire-and-forget:
// whether the user got a real-time push or the notification was queued for
// later is the sink's business, not the scheduler's.
type NotificationSink interface {
	Deliver(ctx context.Context, userID int, rem reminders.Reminder)
}

// Orchestrator bridges persisted reminder records to the session table and
// the notification sink. The session table says what is currently firing;
// the store says what should be firing after a restart.
type Orchestrator struct {
	table          *SessionTable
	store          ReminderStore
	sink           NotificationSink
	metricsManager *metrics.Manager
}

func NewOrchestrator(
	table *SessionTable,
	store ReminderStore,
	sink NotificationSink,
	metricsManager *metrics.Manager,
) *Orchestrator {
	return &Orchestrator{
		table:          table,
		store:          store,
		sink:           sink,
		metricsManager: metricsManager,
	}
}

// SessionID derives the scheduling session id for a reminder record. The
// derivation is deterministic so restarts land on the same id.
func SessionID(reminderID int) string {
	return fmt.Sprintf("reminder-%d", reminderID)
}

// StartReminder begins (or restarts) scheduling for the given record.
func (o *Orchestrator) StartReminder(rem reminders.Reminder) bool {
	started := o.table.Start(SessionID(rem.ID), rem.IntervalMinutes, o.notifyFunc(rem))
	o.metricsManager.GaugeActiveSessions.Set(float64(o.table.ActiveCount()))
	return started
}

func (o *Orchestrator) notifyFunc(rem reminders.Reminder) NotifyFunc {
	return func(sessionID string) {
		log.Tracef("reminder session [%s] fired for user %d", sessionID, rem.UserID)
		o.metricsManager.CounterRemindersFired.Inc()

		// hand off to the sink without waiting for the delivery to finish,
		// timer bookkeeping never blocks on the network
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("deliver reminder %d to user %d panicked: %v", rem.ID, rem.UserID, r)
				}
			}()
			o.sink.Deliver(context.Background(), rem.UserID, rem)
		}()
	}
}

// StopReminder stops scheduling for a paused or deleted reminder. Returns
// false when nothing was running for it, which is fine.
func (o *Orchestrator) StopReminder(reminderID int) bool {
	stopped := o.table.Stop(SessionID(reminderID))
	o.metricsManager.GaugeActiveSessions.Set(float64(o.table.ActiveCount()))
	return stopped
}

// UpdateReminder changes the schedule of an already running reminder. Fails
// when no session is running for it. The table does the existence check and
// the replacement under its lock, so a reminder stopped concurrently stays
// stopped.
func (o *Orchestrator) UpdateReminder(rem reminders.Reminder) bool {
	updated := o.table.Update(SessionID(rem.ID), rem.IntervalMinutes, o.notifyFunc(rem))
	o.metricsManager.GaugeActiveSessions.Set(float64(o.table.ActiveCount()))
	return updated
}

// RestartAll reconciles the in-memory sessions with the store: every session
// is torn down first, then each record the store flags active is started
// again. Called on process start. A store failure is returned to the caller
// to decide on, there is no retry loop in here.
func (o *Orchestrator) RestartAll(ctx context.Context) error {
	o.table.StopAll()
	o.metricsManager.GaugeActiveSessions.Set(0)

	activeReminders, err := o.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active reminders: %w", err)
	}

	started := 0
	for _, rem := range activeReminders {
		if o.StartReminder(rem) {
			started++
		} else {
			log.Errorf("restart all: failed to start reminder %d (interval %dm)", rem.ID, rem.IntervalMinutes)
		}
	}

	log.Infof("restart all: %d of %d active reminders scheduled", started, len(activeReminders))
	return nil
}

// StopAll tears down every session, used on graceful shutdown.
func (o *Orchestrator) StopAll() {
	o.table.StopAll()
	o.metricsManager.GaugeActiveSessions.Set(0)
}
