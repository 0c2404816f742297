// README: Advisory edit locks backed by Redis SETNX with TTL.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shinua/internal/types"
)

// ErrLocked means another user currently holds the edit lock.
var ErrLocked = errors.New("task is being edited by another user")

const (
	keyPrefix = "locks:task:%s"
	// Locks expire on their own so an abandoned edit dialog cannot wedge a
	// task forever.
	lockTTL = 15 * time.Minute
)

type Service struct {
	redis *redis.Client
}

func NewService(redis *redis.Client) *Service {
	return &Service{redis: redis}
}

// Lock acquires the edit lock for a task on behalf of a user. Re-locking by
// the same holder refreshes the TTL. With force, an admin takes the lock
// over regardless of the current holder.
func (s *Service) Lock(ctx context.Context, taskID types.ID, userID string, force bool) error {
	key := lockKey(taskID)
	if force {
		return s.redis.Set(ctx, key, userID, lockTTL).Err()
	}
	ok, err := s.redis.SetNX(ctx, key, userID, lockTTL).Result()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	holder, err := s.redis.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if holder == userID {
		// Same holder: refresh.
		return s.redis.Expire(ctx, key, lockTTL).Err()
	}
	return ErrLocked
}

// Unlock releases the lock if held by the given user.
func (s *Service) Unlock(ctx context.Context, taskID types.ID, userID string) error {
	key := lockKey(taskID)
	holder, err := s.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != userID {
		return nil
	}
	return s.redis.Del(ctx, key).Err()
}

func lockKey(taskID types.ID) string {
	return fmt.Sprintf(keyPrefix, string(taskID))
}
