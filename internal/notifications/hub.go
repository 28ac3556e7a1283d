package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fitquest/backend/internal/reminders"
	"github.com/fitquest/backend/internal/telemetry/metrics"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeTimeout = 10 * time.Second
	// unregistered sockets get this long to send their register frame
	registerTimeout = 30 * time.Second
)

// clientFrame is what the frontend sends over the socket.
type clientFrame struct {
	Type           string `json:"type"`
	UserID         int    `json:"userId"`
	NotificationID int    `json:"notificationId"`
}

// reminderFrame is the push sent when a reminder session fires for a
// connected user.
type reminderFrame struct {
	Type         string `json:"type"`
	ReminderID   int    `json:"reminderId"`
	UserID       int    `json:"userId"`
	ReminderType string `json:"reminderType"`
	Message      string `json:"message"`
	SentAt       string `json:"sentAt"`
}

// Hub keeps one live websocket per user and routes fired reminders to it.
// Users without a live socket get their notification queued instead, to be
// drained over the HTTP API when they come back.
type Hub struct {
	queue          *Queue
	metricsManager *metrics.Manager
	upgrader       websocket.Upgrader

	mu      sync.Mutex
	clients map[int]*wsClient // user id -> active socket
	closed  bool
}

type wsClient struct {
	userID int
	conn   *websocket.Conn

	writeMu sync.Mutex
}

func NewHub(queue *Queue, metricsManager *metrics.Manager) *Hub {
	return &Hub{
		queue:          queue,
		metricsManager: metricsManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// cross origin is already policed by the cors middleware
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[int]*wsClient),
	}
}

// HandleUpgrade upgrades the request to a websocket and runs the read loop
// until the client goes away. The first expected frame is a register frame
// binding the socket to a user.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("websocket upgrade failed: %s", err)
		return
	}

	log.Debugf("websocket client connected from %s", conn.RemoteAddr())
	go h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	client := &wsClient{conn: conn}
	defer h.dropClient(client)

	if err := conn.SetReadDeadline(time.Now().Add(registerTimeout)); err != nil {
		log.Errorf("websocket set read deadline: %s", err)
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("websocket client gone: %s", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warnf("websocket: invalid frame from %s: %s", conn.RemoteAddr(), err)
			continue
		}

		switch frame.Type {
		case "register":
			if frame.UserID <= 0 {
				log.Warnf("websocket: register frame without user id from %s", conn.RemoteAddr())
				continue
			}
			h.register(client, frame.UserID)
			// registered sockets stay open as long as the client wants
			if err := conn.SetReadDeadline(time.Time{}); err != nil {
				log.Errorf("websocket clear read deadline: %s", err)
				return
			}
		case "ack":
			h.handleAck(client, frame.NotificationID)
		default:
			log.Tracef("websocket: ignoring frame type [%s]", frame.Type)
		}
	}
}

// register binds the socket to a user. A newer registration for the same
// user replaces the older one, the stale socket gets closed. A register that
// lands after Close has drained the client map is refused, otherwise the
// socket would sit in a map nobody will ever drain again.
func (h *Hub) register(client *wsClient, userID int) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		log.Debugf("websocket: refusing registration of user %d, hub is closed", userID)
		_ = client.conn.Close()
		return
	}
	client.userID = userID
	previous := h.clients[userID]
	h.clients[userID] = client
	connected := len(h.clients)
	h.mu.Unlock()

	if previous != nil && previous != client {
		log.Debugf("websocket: user %d reconnected, closing stale socket", userID)
		_ = previous.conn.Close()
	}

	h.metricsManager.GaugeConnectedClients.Set(float64(connected))
	log.Debugf("websocket: user %d registered (%d connected)", userID, connected)
}

func (h *Hub) handleAck(client *wsClient, notificationID int) {
	if client.userID == 0 {
		log.Warnf("websocket: ack before register, ignoring")
		return
	}
	if notificationID <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.queue.Dismiss(ctx, notificationID); err != nil {
		log.Errorf("websocket: dismiss notification %d for user %d: %s", notificationID, client.userID, err)
		return
	}
	log.Tracef("websocket: user %d acked notification %d", client.userID, notificationID)
}

func (h *Hub) dropClient(client *wsClient) {
	_ = client.conn.Close()

	h.mu.Lock()
	if client.userID != 0 && h.clients[client.userID] == client {
		delete(h.clients, client.userID)
	}
	connected := len(h.clients)
	h.mu.Unlock()

	h.metricsManager.GaugeConnectedClients.Set(float64(connected))
	log.Debugf("websocket client disconnected (%d connected)", connected)
}

// Deliver pushes the fired reminder to the user's socket when one is
// connected, otherwise the notification lands in the pending queue. Called
// by the scheduler, so it must never block on user input.
func (h *Hub) Deliver(ctx context.Context, userID int, rem reminders.Reminder) {
	h.mu.Lock()
	client := h.clients[userID]
	h.mu.Unlock()

	if client != nil {
		frame := reminderFrame{
			Type:         "reminder",
			ReminderID:   rem.ID,
			UserID:       userID,
			ReminderType: rem.Type.String(),
			Message:      rem.Type.Message(),
			SentAt:       time.Now().UTC().Format(time.RFC3339),
		}
		err := client.write(frame)
		if err == nil {
			h.metricsManager.CounterNotificationsDelivered.Inc()
			log.Tracef("reminder %d pushed to user %d", rem.ID, userID)
			return
		}
		log.Warnf("push reminder %d to user %d failed, queueing instead: %s", rem.ID, userID, err)
	}

	if _, err := h.queue.Enqueue(ctx, NewNotification(rem, time.Now())); err != nil {
		log.Errorf("queue reminder %d for user %d: %s", rem.ID, userID, err)
		return
	}
	h.metricsManager.CounterNotificationsQueued.Inc()
	log.Tracef("reminder %d queued for offline user %d", rem.ID, userID)
}

// Close disconnects every client, used on graceful shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[int]*wsClient)
	h.mu.Unlock()

	for _, client := range clients {
		client.writeMu.Lock()
		_ = client.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = client.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		)
		client.writeMu.Unlock()
		_ = client.conn.Close()
	}

	h.metricsManager.GaugeConnectedClients.Set(0)
	log.Debugf("websocket hub closed, %d clients disconnected", len(clients))
}

func (c *wsClient) write(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}
