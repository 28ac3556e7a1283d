package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
)

const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 60

	// FirstNotificationDelay is the short delay before the initial firing of a
	// freshly (re)started session, so the user gets feedback right away
	// instead of waiting out a full interval.
	// TODO: confirm with product whether 5s is the wanted first-fire delay, or
	// tune it before pinning it down in docs
	FirstNotificationDelay = 5 * time.Second
)

// NotifyFunc is invoked on every firing of a session, first-fire and
// recurring alike. It runs on a timer goroutine and must not block for long.
type NotifyFunc func(sessionID string)

// session owns the pair of timers driving one schedule. The two handles are
// always cancelled together, never individually.
type session struct {
	intervalMinutes int
	firstFire       *clock.Timer
	recurring       *clock.Timer
}

// SessionTable maps session ids to their live timers. It is the single
// source of truth for what is currently firing. All mutations go through
// Start/Stop/Update under one mutex, so a stop-then-start sequence can never
// interleave with another call and leave two timer pairs for the same id.
type SessionTable struct {
	mu       sync.Mutex
	clock    clock.Clock
	sessions map[string]*session
}

func NewSessionTable() *SessionTable {
	return NewSessionTableWithClock(clock.New())
}

// NewSessionTableWithClock is used by tests to drive a mock clock.
func NewSessionTableWithClock(c clock.Clock) *SessionTable {
	return &SessionTable{
		clock:    c,
		sessions: make(map[string]*session),
	}
}

// Start schedules a session for the given id: one first-fire shot after
// FirstNotificationDelay, then a recurring firing every intervalMinutes.
// An interval outside [MinIntervalMinutes, MaxIntervalMinutes] is rejected
// with no state change. An already running session for the same id is
// stopped first, so at most one timer pair per id exists at all times.
func (st *SessionTable) Start(sessionID string, intervalMinutes int, onNotify NotifyFunc) bool {
	if intervalMinutes < MinIntervalMinutes || intervalMinutes > MaxIntervalMinutes {
		log.Errorf("session table: refusing to start [%s], invalid interval: %d", sessionID, intervalMinutes)
		return false
	}
	if onNotify == nil {
		log.Errorf("session table: refusing to start [%s], nil notify func", sessionID)
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.startLocked(sessionID, intervalMinutes, onNotify)
	return true
}

// startLocked does the stop-then-start replacement. Callers hold st.mu, so
// the teardown of the old timer pair and the arming of the new one form a
// single non-interruptible step.
func (st *SessionTable) startLocked(sessionID string, intervalMinutes int, onNotify NotifyFunc) {
	if old, ok := st.sessions[sessionID]; ok {
		log.Debugf("session table: restarting [%s], stopping previous timers", sessionID)
		old.firstFire.Stop()
		old.recurring.Stop()
		delete(st.sessions, sessionID)
	}

	interval := time.Duration(intervalMinutes) * time.Minute
	s := &session{
		intervalMinutes: intervalMinutes,
	}

	s.firstFire = st.clock.AfterFunc(FirstNotificationDelay, func() {
		st.fire(sessionID, s, onNotify, false)
	})
	s.recurring = st.clock.AfterFunc(interval, func() {
		st.fire(sessionID, s, onNotify, true)
	})

	st.sessions[sessionID] = s
	log.Debugf("session table: started [%s] with interval %dm", sessionID, intervalMinutes)
}

// Stop cancels both timers of the session and removes it. Returns false when
// no session is running for the id, which is a benign no-op, not an error.
func (st *SessionTable) Stop(sessionID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[sessionID]
	if !ok {
		return false
	}

	s.firstFire.Stop()
	s.recurring.Stop()
	delete(st.sessions, sessionID)
	log.Debugf("session table: stopped [%s]", sessionID)
	return true
}

// Update changes the interval of a running session. Unlike Start it fails
// when no session exists for the id - updating something that is not running
// indicates a caller logic error. On success the session is fully restarted,
// first-fire delay included. The existence check and the replacement happen
// under one lock hold, so a concurrent Stop can never slip in between and
// have Update resurrect a session for an id that was just stopped.
func (st *SessionTable) Update(sessionID string, intervalMinutes int, onNotify NotifyFunc) bool {
	if intervalMinutes < MinIntervalMinutes || intervalMinutes > MaxIntervalMinutes {
		log.Errorf("session table: refusing to update [%s], invalid interval: %d", sessionID, intervalMinutes)
		return false
	}
	if onNotify == nil {
		log.Errorf("session table: refusing to update [%s], nil notify func", sessionID)
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[sessionID]; !exists {
		log.Warnf("session table: cannot update [%s], no active session", sessionID)
		return false
	}
	st.startLocked(sessionID, intervalMinutes, onNotify)
	return true
}

// StopAll stops every active session. Safe to call with none running.
func (st *SessionTable) StopAll() {
	st.mu.Lock()
	defer st.mu.Unlock()

	for sessionID, s := range st.sessions {
		s.firstFire.Stop()
		s.recurring.Stop()
		delete(st.sessions, sessionID)
	}
	log.Debugln("session table: all sessions stopped")
}

func (st *SessionTable) IsActive(sessionID string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[sessionID]
	return ok
}

func (st *SessionTable) Interval(sessionID string) (int, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionID]
	if !ok {
		return 0, false
	}
	return s.intervalMinutes, true
}

func (st *SessionTable) ActiveSessions() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	ids := make([]string, 0, len(st.sessions))
	for sessionID := range st.sessions {
		ids = append(ids, sessionID)
	}
	return ids
}

func (st *SessionTable) ActiveCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// fire runs on a timer goroutine. The session is re-checked under the lock:
// a timer that went off concurrently with Stop (or with a restart of the same
// id) finds its session gone, or replaced, and must not notify. Recurring
// firings re-arm the timer for the next interval while still holding the lock.
func (st *SessionTable) fire(sessionID string, s *session, onNotify NotifyFunc, rearm bool) {
	st.mu.Lock()
	current, ok := st.sessions[sessionID]
	if !ok || current != s {
		st.mu.Unlock()
		return
	}
	if rearm {
		interval := time.Duration(s.intervalMinutes) * time.Minute
		s.recurring = st.clock.AfterFunc(interval, func() {
			st.fire(sessionID, s, onNotify, true)
		})
	}
	st.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("session table: notify [%s] panicked: %v", sessionID, r)
		}
	}()
	onNotify(sessionID)
}
