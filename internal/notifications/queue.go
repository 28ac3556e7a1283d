package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/fitquest/backend/internal/telemetry/tracing"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

const (
	notificationKeyPrefix = "notification::"
	pendingSetKeyPrefix   = "pending-notifications::"
	notificationIDCounter = "notification-id-counter"
	notificationTTL       = 72 * time.Hour
)

// Queue holds notifications for users with no live socket, in redis, until
// the user reconnects and fetches them. Entries quietly expire after a few
// days, stale nudges are worse than none.
type Queue struct {
	redisClient *redis.Client
}

func NewQueue(redisClient *redis.Client) *Queue {
	return &Queue{
		redisClient: redisClient,
	}
}

func notificationKey(id int) string {
	return notificationKeyPrefix + strconv.Itoa(id)
}

func pendingSetKey(userID int) string {
	return pendingSetKeyPrefix + strconv.Itoa(userID)
}

func (q *Queue) Enqueue(ctx context.Context, notification Notification) (Notification, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "notifications.queue.enqueue")
	defer span.End()

	id, err := q.redisClient.Incr(ctx, notificationIDCounter).Result()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Notification{}, fmt.Errorf("next notification id: %w", err)
	}
	notification.ID = int(id)

	notificationJson, err := json.Marshal(notification)
	if err != nil {
		return Notification{}, fmt.Errorf("marshal notification %d: %w", notification.ID, err)
	}

	if err := q.redisClient.Set(ctx, notificationKey(notification.ID), string(notificationJson), notificationTTL).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Notification{}, fmt.Errorf("set notification %d: %w", notification.ID, err)
	}

	if err := q.redisClient.SAdd(ctx, pendingSetKey(notification.UserID), notification.ID).Err(); err != nil {
		return Notification{}, fmt.Errorf("add notification %d to pending index: %w", notification.ID, err)
	}

	log.Debugf("queued notification %d for user %d", notification.ID, notification.UserID)
	return notification, nil
}

// ListPending returns the pending notifications for a user, oldest first,
// and drains them: returned means delivered, same as the original dashboard
// fetch semantics.
func (q *Queue) ListPending(ctx context.Context, userID int) ([]Notification, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "notifications.queue.listPending")
	defer span.End()

	idsCmd := q.redisClient.SMembers(ctx, pendingSetKey(userID))
	if err := idsCmd.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list pending notifications for user %d: %w", userID, err)
	}

	pending := make([]Notification, 0, len(idsCmd.Val()))
	for _, idStr := range idsCmd.Val() {
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid notification id in index [%s]: %w", idStr, err)
		}

		notification, err := q.get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// expired entry, drop it from the index too
				if err := q.redisClient.SRem(ctx, pendingSetKey(userID), id).Err(); err != nil {
					log.Warnf("failed to drop expired notification %d from index: %s", id, err)
				}
				continue
			}
			return nil, err
		}
		pending = append(pending, notification)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	// drain: the caller is about to show these to the user
	for _, notification := range pending {
		if err := q.Dismiss(ctx, notification.ID); err != nil {
			log.Warnf("failed to drain notification %d: %s", notification.ID, err)
		}
	}

	return pending, nil
}

func (q *Queue) Dismiss(ctx context.Context, id int) error {
	ctx, span := tracing.GlobalTracer.Start(ctx, "notifications.queue.dismiss")
	defer span.End()

	notification, err := q.get(ctx, id)
	if err != nil {
		return err
	}

	if err := q.redisClient.Del(ctx, notificationKey(id)).Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete notification %d: %w", id, err)
	}
	if err := q.redisClient.SRem(ctx, pendingSetKey(notification.UserID), id).Err(); err != nil {
		return fmt.Errorf("remove notification %d from pending index: %w", id, err)
	}
	return nil
}

func (q *Queue) get(ctx context.Context, id int) (Notification, error) {
	cmd := q.redisClient.Get(ctx, notificationKey(id))
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("get notification %d: %w", id, err)
	}

	var notification Notification
	if err := json.Unmarshal([]byte(cmd.Val()), &notification); err != nil {
		return Notification{}, fmt.Errorf("unmarshal notification %d: %w", id, err)
	}
	return notification, nil
}
