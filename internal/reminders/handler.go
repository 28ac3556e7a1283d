package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fitquest/backend/internal/middleware"
	"github.com/fitquest/backend/internal/telemetry/metrics"
	"github.com/fitquest/backend/internal/telemetry/tracing"
	"github.com/fitquest/backend/pkg"

	"github.com/coocood/freecache"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type newReminderRequest struct {
	UserID          int    `json:"user_id"`
	Type            string `json:"type"`
	IntervalMinutes *int   `json:"interval_minutes"`
}

type updateReminderRequest struct {
	IntervalMinutes *int  `json:"interval_minutes"`
	IsActive        *bool `json:"is_active"`
}

type RemindersResponse struct {
	Reminders []Reminder `json:"reminders"`
	Total     int        `json:"total"`
}

type reminderRepo interface {
	Add(ctx context.Context, rem Reminder) (Reminder, error)
	Get(ctx context.Context, id int) (Reminder, error)
	Update(ctx context.Context, rem Reminder) error
	Delete(ctx context.Context, id int) error
	ListForUser(ctx context.Context, userID int) ([]Reminder, error)
}

// scheduleController is the slice of the scheduling orchestrator the CRUD
// surface drives on reminder lifecycle changes.
type scheduleController interface {
	StartReminder(rem Reminder) bool
	StopReminder(reminderID int) bool
	UpdateReminder(rem Reminder) bool
}

type Handler struct {
	repo           reminderRepo
	schedule       scheduleController
	metricsManager *metrics.Manager
	userListCache  *freecache.Cache
}

func NewHandler(
	repo reminderRepo,
	schedule scheduleController,
	metricsManager *metrics.Manager,
) *Handler {
	megabyte := 1024 * 1024
	return &Handler{
		repo:           repo,
		schedule:       schedule,
		metricsManager: metricsManager,
		userListCache:  freecache.NewCache(megabyte),
	}
}

func (handler *Handler) SetupRoutes(
	router *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	createsAllowedPerMin int,
) {
	router.HandleFunc("/reminders/user/{userId}", handler.handleListForUser).Methods("GET", "OPTIONS").Name("list-reminders")
	router.HandleFunc("/reminders/{id}", handler.handleUpdate).Methods("PATCH", "OPTIONS").Name("update-reminder")
	router.HandleFunc("/reminders/{id}", handler.handleDelete).Methods("DELETE", "OPTIONS").Name("delete-reminder")

	newReminderSubrouter := router.PathPrefix("/reminders").Subrouter()
	newReminderSubrouter.HandleFunc("", handler.handleAdd).Methods("POST", "OPTIONS").Name("new-reminder")
	if rateLimiter != nil {
		// guard against runaway clients hammering the create endpoint
		newReminderSubrouter.Use(middleware.RateLimit(rateLimiter, "new-reminder", createsAllowedPerMin, handler.metricsManager))
	}
}

func (handler *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.reminders.new")
	defer span.End()

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var req newReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("new reminder, unmarshal json params: %s", err)
		http.Error(w, "add reminder failed", http.StatusBadRequest)
		return
	}

	if req.UserID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	remType := ReminderType(req.Type)
	if !remType.IsValid() {
		http.Error(w, fmt.Sprintf("invalid reminder type: %s", req.Type), http.StatusBadRequest)
		return
	}

	intervalMinutes := DefaultIntervalMinutes
	if req.IntervalMinutes != nil {
		intervalMinutes = *req.IntervalMinutes
	}
	if err := validateInterval(intervalMinutes); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rem, err := handler.repo.Add(ctx, Reminder{
		UserID:          req.UserID,
		Type:            remType,
		IntervalMinutes: intervalMinutes,
		IsActive:        true,
	})
	if err != nil {
		log.Errorf("new reminder: %s", err)
		http.Error(w, "add reminder failed", http.StatusInternalServerError)
		return
	}

	handler.metricsManager.CounterRemindersCreated.Inc()
	handler.invalidateUserListCache(rem.UserID)

	// reminders are born active, start firing right away
	if !handler.schedule.StartReminder(rem) {
		log.Errorf("new reminder %d: failed to start schedule", rem.ID)
	}

	remJson, err := json.Marshal(rem)
	if err != nil {
		log.Errorf("failed to marshal new reminder: %s", err)
		http.Error(w, "error, failed to add new reminder", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, remJson, http.StatusCreated)
}

func (handler *Handler) handleListForUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.reminders.list")
	defer span.End()

	vars := mux.Vars(r)
	userID, err := strconv.Atoi(vars["userId"])
	if err != nil {
		http.Error(w, "error, user id NaN", http.StatusBadRequest)
		return
	}

	cacheKey := userListCacheKey(userID)
	if cached, err := handler.userListCache.Get(cacheKey); err == nil {
		log.Tracef("reminders for user %d served from cache", userID)
		pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, cached)
		return
	}

	userReminders, err := handler.repo.ListForUser(ctx, userID)
	if err != nil {
		log.Errorf("list reminders for user %d: %s", userID, err)
		http.Error(w, "failed to list reminders", http.StatusInternalServerError)
		return
	}

	resp := RemindersResponse{
		Reminders: userReminders,
		Total:     len(userReminders),
	}
	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("failed to marshal reminders for user %d: %s", userID, err)
		http.Error(w, "failed to list reminders", http.StatusInternalServerError)
		return
	}

	const cacheExpireSeconds = 60
	if err := handler.userListCache.Set(cacheKey, respJson, cacheExpireSeconds); err != nil {
		log.Warnf("failed to cache reminders for user %d: %s", userID, err)
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (handler *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.reminders.update")
	defer span.End()

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "error, reminder id NaN", http.StatusBadRequest)
		return
	}

	var req updateReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("update reminder %d, unmarshal json params: %s", id, err)
		http.Error(w, "update reminder failed", http.StatusBadRequest)
		return
	}

	rem, err := handler.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "reminder not found", http.StatusNotFound)
			return
		}
		log.Errorf("update reminder %d: %s", id, err)
		http.Error(w, "update reminder failed", http.StatusInternalServerError)
		return
	}

	if req.IntervalMinutes != nil {
		if err := validateInterval(*req.IntervalMinutes); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		rem.IntervalMinutes = *req.IntervalMinutes
	}

	wasActive := rem.IsActive
	if req.IsActive != nil {
		rem.IsActive = *req.IsActive
	}

	if err := handler.repo.Update(ctx, rem); err != nil {
		log.Errorf("update reminder %d: %s", id, err)
		http.Error(w, "update reminder failed", http.StatusInternalServerError)
		return
	}

	handler.invalidateUserListCache(rem.UserID)
	handler.applyScheduleChange(rem, wasActive)

	remJson, err := json.Marshal(rem)
	if err != nil {
		log.Errorf("failed to marshal updated reminder %d: %s", id, err)
		http.Error(w, "update reminder failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, remJson)
}

func (handler *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.reminders.delete")
	defer span.End()

	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		http.Error(w, "error, reminder id NaN", http.StatusBadRequest)
		return
	}

	rem, err := handler.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "reminder not found", http.StatusNotFound)
			return
		}
		log.Errorf("delete reminder %d: %s", id, err)
		http.Error(w, "delete reminder failed", http.StatusInternalServerError)
		return
	}

	if err := handler.repo.Delete(ctx, id); err != nil {
		log.Errorf("delete reminder %d: %s", id, err)
		http.Error(w, "delete reminder failed", http.StatusInternalServerError)
		return
	}

	handler.schedule.StopReminder(id)
	handler.invalidateUserListCache(rem.UserID)

	pkg.WriteTextResponseOK(w, fmt.Sprintf("deleted:%d", id))
}

// applyScheduleChange maps a persisted update to the right scheduling call:
// activation starts a session, deactivation stops it, a pure interval change
// of an active reminder updates the running session.
func (handler *Handler) applyScheduleChange(rem Reminder, wasActive bool) {
	switch {
	case rem.IsActive && !wasActive:
		if !handler.schedule.StartReminder(rem) {
			log.Errorf("reminder %d: failed to start schedule", rem.ID)
		}
	case !rem.IsActive && wasActive:
		handler.schedule.StopReminder(rem.ID)
	case rem.IsActive:
		if !handler.schedule.UpdateReminder(rem) {
			// session table and store got out of sync somehow, recover via start
			log.Warnf("reminder %d: no running session to update, starting fresh", rem.ID)
			handler.schedule.StartReminder(rem)
		}
	}
}

func (handler *Handler) invalidateUserListCache(userID int) {
	handler.userListCache.Del(userListCacheKey(userID))
}

func userListCacheKey(userID int) []byte {
	return []byte(fmt.Sprintf("user-reminders::%d", userID))
}

func validateInterval(intervalMinutes int) error {
	if intervalMinutes < 1 || intervalMinutes > 60 {
		return fmt.Errorf("%w: %d, must be within [1, 60]", ErrInvalidInterval, intervalMinutes)
	}
	return nil
}
