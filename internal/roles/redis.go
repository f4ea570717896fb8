package roles

import (
	"context"
	"encoding/json"
	"errors"

	"staffdesk/internal/models"

	"github.com/redis/go-redis/v9"
)

// Channel carries role effects to the gateway.
const Channel = "staffdesk:roles"

// RedisEffector publishes role effects on a Redis channel.
type RedisEffector struct {
	rdb *redis.Client
}

// NewRedisEffector returns an effector publishing through rdb.
func NewRedisEffector(rdb *redis.Client) *RedisEffector {
	return &RedisEffector{rdb: rdb}
}

func (e *RedisEffector) Grant(ctx context.Context, memberID, roleID string) error {
	return e.send(ctx, memberID, roleID, ActionGrant)
}

func (e *RedisEffector) Revoke(ctx context.Context, memberID, roleID string) error {
	return e.send(ctx, memberID, roleID, ActionRevoke)
}

func (e *RedisEffector) send(ctx context.Context, memberID, roleID string, action Action) error {
	if e.rdb == nil {
		return models.NewDependencyError("role effector", errors.New("redis client not configured"))
	}
	effect, err := newEffect(ctx, memberID, roleID, action)
	if err != nil {
		return err
	}
	body, err := json.Marshal(effect)
	if err != nil {
		return err
	}
	receivers, err := e.rdb.Publish(ctx, Channel, body).Result()
	if err != nil {
		return models.NewDependencyError("role effector", err)
	}
	if receivers == 0 {
		return models.NewDependencyError("role effector", errors.New("no gateway subscribed to "+Channel))
	}
	return nil
}
