package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventActivity is the only event name carried on the push channel.
const EventActivity = "activity"

// ChannelFor returns the per-user pub/sub channel. Every live websocket
// session for the user subscribes to it; publishing with no subscriber is a
// silent drop, which is exactly the at-most-once contract the feed's pull
// path compensates for.
func ChannelFor(userID uuid.UUID) string {
	return fmt.Sprintf("user_activity:%s", userID.String())
}

// Publisher pushes a payload to every live session of one user.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, payload interface{}) error
}

type redisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps the shared redis client. A nil client disables
// pushes entirely; clients then rely on the reconciliation pull alone.
func NewRedisPublisher(client *redis.Client) Publisher {
	return &redisPublisher{client: client}
}

func (p *redisPublisher) Publish(ctx context.Context, userID uuid.UUID, payload interface{}) error {
	if p.client == nil {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, ChannelFor(userID), data).Err()
}
