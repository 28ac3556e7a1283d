package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fitquest/backend/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	reminderKeyPrefix      = "reminder::"
	userRemindersKeyPrefix = "user-reminders::"
	activeRemindersSetKey  = "active-reminders"
	reminderIDCounterKey   = "reminder-id-counter"
)

// Repo persists reminders in redis. A reminder lives as a JSON value under
// reminder::<id>, with two set indexes: one per user, one for active ones.
type Repo struct {
	redisClient *redis.Client
}

func NewRepo(redisClient *redis.Client) *Repo {
	return &Repo{
		redisClient: redisClient,
	}
}

func reminderKey(id int) string {
	return reminderKeyPrefix + strconv.Itoa(id)
}

func userRemindersKey(userID int) string {
	return userRemindersKeyPrefix + strconv.Itoa(userID)
}

func (r *Repo) Add(ctx context.Context, rem Reminder) (Reminder, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reminders.repo.add")
	defer span.End()

	if !rem.Type.IsValid() {
		return Reminder{}, ErrInvalidType
	}

	id, err := r.redisClient.Incr(ctx, reminderIDCounterKey).Result()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reminder{}, fmt.Errorf("next reminder id: %w", err)
	}

	rem.ID = int(id)
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now()
	}

	if err := r.set(ctx, rem); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Reminder{}, err
	}

	if err := r.redisClient.SAdd(ctx, userRemindersKey(rem.UserID), rem.ID).Err(); err != nil {
		return Reminder{}, fmt.Errorf("add reminder %d to user index: %w", rem.ID, err)
	}

	span.SetAttributes(attribute.Int("reminder.id", rem.ID))
	return rem, nil
}

func (r *Repo) Get(ctx context.Context, id int) (Reminder, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reminders.repo.get")
	defer span.End()

	cmd := r.redisClient.Get(ctx, reminderKey(id))
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return Reminder{}, ErrNotFound
		}
		span.SetStatus(codes.Error, err.Error())
		return Reminder{}, fmt.Errorf("get reminder %d: %w", id, err)
	}

	var rem Reminder
	if err := json.Unmarshal([]byte(cmd.Val()), &rem); err != nil {
		return Reminder{}, fmt.Errorf("unmarshal reminder %d: %w", id, err)
	}
	return rem, nil
}

// Update overwrites the stored reminder and keeps the active index in sync.
func (r *Repo) Update(ctx context.Context, rem Reminder) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reminders.repo.update")
	defer span.End()

	if _, err := r.Get(ctx, rem.ID); err != nil {
		return err
	}
	if err := r.set(ctx, rem); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, id int) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reminders.repo.delete")
	defer span.End()

	rem, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := r.redisClient.Del(ctx, reminderKey(id)).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}
	if err := r.redisClient.SRem(ctx, userRemindersKey(rem.UserID), id).Err(); err != nil {
		return fmt.Errorf("remove reminder %d from user index: %w", id, err)
	}
	if err := r.redisClient.SRem(ctx, activeRemindersSetKey, id).Err(); err != nil {
		return fmt.Errorf("remove reminder %d from active index: %w", id, err)
	}
	return nil
}

func (r *Repo) ListForUser(ctx context.Context, userID int) ([]Reminder, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reminders.repo.listForUser")
	defer span.End()

	idsCmd := r.redisClient.SMembers(ctx, userRemindersKey(userID))
	if err := idsCmd.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list reminders for user %d: %w", userID, err)
	}

	return r.getAll(ctx, idsCmd.Val())
}

// ListActive returns all reminders flagged active. It feeds the scheduler
// reconciliation on process start.
func (r *Repo) ListActive(ctx context.Context) ([]Reminder, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "reminders.repo.listActive")
	defer span.End()

	idsCmd := r.redisClient.SMembers(ctx, activeRemindersSetKey)
	if err := idsCmd.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list active reminders: %w", err)
	}

	return r.getAll(ctx, idsCmd.Val())
}

func (r *Repo) getAll(ctx context.Context, ids []string) ([]Reminder, error) {
	reminders := make([]Reminder, 0, len(ids))
	for _, idStr := range ids {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid reminder id in index [%s]: %w", idStr, err)
		}
		rem, err := r.Get(ctx, id)
		if err != nil {
			// index can briefly point to a deleted reminder, skip it
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		reminders = append(reminders, rem)
	}
	return reminders, nil
}

func (r *Repo) set(ctx context.Context, rem Reminder) error {
	remJson, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("marshal reminder %d: %w", rem.ID, err)
	}

	if err := r.redisClient.Set(ctx, reminderKey(rem.ID), remJson, 0).Err(); err != nil {
		return fmt.Errorf("set reminder %d: %w", rem.ID, err)
	}

	if rem.IsActive {
		if err := r.redisClient.SAdd(ctx, activeRemindersSetKey, rem.ID).Err(); err != nil {
			return fmt.Errorf("add reminder %d to active index: %w", rem.ID, err)
		}
	} else {
		if err := r.redisClient.SRem(ctx, activeRemindersSetKey, rem.ID).Err(); err != nil {
			return fmt.Errorf("remove reminder %d from active index: %w", rem.ID, err)
		}
	}
	return nil
}
