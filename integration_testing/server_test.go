package integration_testing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fitquest/backend/internal/notifications"
	"github.com/fitquest/backend/internal/reminders"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// doRequest sends the test-agent user agent so the request
// passes through the cors middleware.
func doRequest(t *testing.T, method, url string, body io.Reader) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return http.DefaultClient.Do(req)
}

func getJSON(t *testing.T, url string, dest interface{}) int {
	t.Helper()
	resp, err := doRequest(t, http.MethodGet, url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(respBytes, dest))
	return resp.StatusCode
}

func waitServerUp(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := doRequest(t, http.MethodGet, serverEndpoint+"/health", nil)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 100*time.Millisecond)
}

func createReminder(t *testing.T, userID int, remType string, intervalMinutes int) reminders.Reminder {
	t.Helper()
	body := fmt.Sprintf(
		`{"user_id": %d, "type": %q, "interval_minutes": %d}`,
		userID, remType, intervalMinutes,
	)
	resp, err := doRequest(t, http.MethodPost, serverEndpoint+"/reminders", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var rem reminders.Reminder
	require.NoError(t, json.Unmarshal(respBytes, &rem))
	return rem
}

func TestReminderLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite := newSuite(ctx)
	defer suite.cleanup()
	waitServerUp(t)

	userID := gofakeit.Number(1, 1_000_000)
	rem := createReminder(t, userID, "water", 1)
	assert.True(t, rem.IsActive)
	assert.Equal(t, 1, rem.IntervalMinutes)

	// listed for its user
	var listResp reminders.RemindersResponse
	status := getJSON(t, fmt.Sprintf("%s/reminders/user/%d", serverEndpoint, userID), &listResp)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, listResp.Total)
	assert.Equal(t, rem.ID, listResp.Reminders[0].ID)

	// no websocket connected: the first firing lands in the pending queue
	// a few seconds after creation
	var pendingResp notifications.PendingResponse
	require.Eventually(t, func() bool {
		resp, err := doRequest(t, http.MethodGet, fmt.Sprintf("%s/notifications/user/%d", serverEndpoint, userID), nil)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		respBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		if err := json.Unmarshal(respBytes, &pendingResp); err != nil {
			return false
		}
		return pendingResp.Total > 0
	}, 15*time.Second, 500*time.Millisecond)

	require.NotEmpty(t, pendingResp.Notifications)
	notification := pendingResp.Notifications[0]
	assert.Equal(t, rem.ID, notification.ReminderID)
	assert.Equal(t, userID, notification.UserID)
	assert.Equal(t, reminders.TypeWater, notification.Type)

	// fetched means delivered, the queue is drained
	var drainedResp notifications.PendingResponse
	status = getJSON(t, fmt.Sprintf("%s/notifications/user/%d", serverEndpoint, userID), &drainedResp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, drainedResp.Total)

	// delete stops the schedule
	resp, err := doRequest(t, http.MethodDelete, fmt.Sprintf("%s/reminders/%d", serverEndpoint, rem.ID), nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReminderPushOverWebsocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite := newSuite(ctx)
	defer suite.cleanup()
	waitServerUp(t)

	wsURL := fmt.Sprintf("ws://%s:%d/ws", serverHost, serverPort)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   "register",
		"userId": 7,
	}))

	rem := createReminder(t, 7, "exercise", 1)

	// first firing comes a few seconds after creation
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(15*time.Second)))
	var frame struct {
		Type       string `json:"type"`
		ReminderID int    `json:"reminderId"`
		UserID     int    `json:"userId"`
		Message    string `json:"message"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "reminder", frame.Type)
	assert.Equal(t, rem.ID, frame.ReminderID)
	assert.Equal(t, 7, frame.UserID)
	assert.NotEmpty(t, frame.Message)

	// nothing queued for a user that got the push in real time
	var pendingResp notifications.PendingResponse
	status := getJSON(t, fmt.Sprintf("%s/notifications/user/%d", serverEndpoint, 7), &pendingResp)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, pendingResp.Total)
}
