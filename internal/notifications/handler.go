package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fitquest/backend/internal/telemetry/tracing"
	"github.com/fitquest/backend/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type PendingResponse struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
}

// Handler exposes the pending notification queue over HTTP. The websocket
// hub covers online users, this surface is for users catching up after
// being away.
type Handler struct {
	queue *Queue
}

func NewHandler(queue *Queue) *Handler {
	return &Handler{queue: queue}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/notifications/user/{userId}", handler.handlePending).Methods("GET", "OPTIONS").Name("pending-notifications")
	router.HandleFunc("/notifications/{id}", handler.handleDismiss).Methods("DELETE", "OPTIONS").Name("dismiss-notification")
}

// handlePending returns and drains the user's pending notifications. A
// fetch counts as delivery, refreshing the page twice does not nag twice.
func (handler *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.notifications.pending")
	defer span.End()

	vars := mux.Vars(r)
	userID, err := strconv.Atoi(vars["userId"])
	if err != nil {
		http.Error(w, "error, user id NaN", http.StatusBadRequest)
		return
	}

	pending, err := handler.queue.ListPending(ctx, userID)
	if err != nil {
		log.Errorf("list pending notifications for user %d: %s", userID, err)
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}

	resp := PendingResponse{
		Notifications: pending,
		Total:         len(pending),
	}
	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("failed to marshal pending notifications for user %d: %s", userID, err)
		http.Error(w, "failed to list notifications", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) handleDismiss(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.notifications.dismiss")
	defer span.End()

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "error, notification id NaN", http.StatusBadRequest)
		return
	}

	if err := handler.queue.Dismiss(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "notification not found", http.StatusNotFound)
			return
		}
		log.Errorf("dismiss notification %d: %s", id, err)
		http.Error(w, "dismiss notification failed", http.StatusInternalServerError)
		return
	}

	pkg.WriteTextResponseOK(w, fmt.Sprintf("dismissed:%d", id))
}
