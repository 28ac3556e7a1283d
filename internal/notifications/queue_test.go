package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fitquest/backend/internal/reminders"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotification(t *testing.T, id, userID int, createdAt time.Time) (Notification, []byte) {
	t.Helper()
	notification := Notification{
		ID:         id,
		UserID:     userID,
		ReminderID: id + 100,
		Type:       reminders.TypeWater,
		Message:    reminders.TypeWater.Message(),
		CreatedAt:  createdAt,
	}
	notificationJson, err := json.Marshal(notification)
	require.NoError(t, err)
	return notification, notificationJson
}

func TestQueue_Enqueue(t *testing.T) {
	db, mock := redismock.NewClientMock()
	queue := NewQueue(db)

	createdAt := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	_, notificationJson := testNotification(t, 1, 42, createdAt)

	mock.ExpectIncr(notificationIDCounter).SetVal(1)
	mock.ExpectSet(notificationKey(1), string(notificationJson), notificationTTL).SetVal("OK")
	mock.ExpectSAdd(pendingSetKey(42), 1).SetVal(1)

	queued, err := queue.Enqueue(context.Background(), Notification{
		UserID:     42,
		ReminderID: 101,
		Type:       reminders.TypeWater,
		Message:    reminders.TypeWater.Message(),
		CreatedAt:  createdAt,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, queued.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Enqueue_RedisDown(t *testing.T) {
	db, mock := redismock.NewClientMock()
	queue := NewQueue(db)

	mock.ExpectIncr(notificationIDCounter).SetErr(redis.ErrClosed)

	_, err := queue.Enqueue(context.Background(), Notification{UserID: 42})
	require.Error(t, err)
}

func TestQueue_ListPending_SortsAndDrains(t *testing.T) {
	db, mock := redismock.NewClientMock()
	queue := NewQueue(db)

	older := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	n1, n1Json := testNotification(t, 1, 42, older)
	n2, n2Json := testNotification(t, 2, 42, newer)

	// index is a set, order of members is arbitrary
	mock.ExpectSMembers(pendingSetKey(42)).SetVal([]string{"2", "1"})
	mock.ExpectGet(notificationKey(2)).SetVal(string(n2Json))
	mock.ExpectGet(notificationKey(1)).SetVal(string(n1Json))

	// drain, oldest first
	mock.ExpectGet(notificationKey(1)).SetVal(string(n1Json))
	mock.ExpectDel(notificationKey(1)).SetVal(1)
	mock.ExpectSRem(pendingSetKey(42), 1).SetVal(1)
	mock.ExpectGet(notificationKey(2)).SetVal(string(n2Json))
	mock.ExpectDel(notificationKey(2)).SetVal(1)
	mock.ExpectSRem(pendingSetKey(42), 2).SetVal(1)

	pending, err := queue.ListPending(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, n1, pending[0])
	assert.Equal(t, n2, pending[1])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_ListPending_DropsExpiredFromIndex(t *testing.T) {
	db, mock := redismock.NewClientMock()
	queue := NewQueue(db)

	mock.ExpectSMembers(pendingSetKey(42)).SetVal([]string{"5"})
	mock.ExpectGet(notificationKey(5)).SetErr(redis.Nil)
	mock.ExpectSRem(pendingSetKey(42), 5).SetVal(1)

	pending, err := queue.ListPending(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Dismiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	queue := NewQueue(db)

	createdAt := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	_, notificationJson := testNotification(t, 3, 7, createdAt)

	mock.ExpectGet(notificationKey(3)).SetVal(string(notificationJson))
	mock.ExpectDel(notificationKey(3)).SetVal(1)
	mock.ExpectSRem(pendingSetKey(7), 3).SetVal(1)

	require.NoError(t, queue.Dismiss(context.Background(), 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueue_Dismiss_NotFound(t *testing.T) {
	db, mock := redismock.NewClientMock()
	queue := NewQueue(db)

	mock.ExpectGet(notificationKey(404)).SetErr(redis.Nil)

	err := queue.Dismiss(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}
