package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// consumerKeyPrefix builds the stash key for a consumer. The key format is
// shared with the order service, which reads the same entries.
const consumerKeyPrefix = "CONSUMER_"

// stashTTL bounds how long a failed order waits for client pickup.
const stashTTL = 24 * time.Hour

// ErrNoStashedOrder indicates no failed order is stashed for the consumer.
var ErrNoStashedOrder = errors.New("no stashed order for consumer")

// OrderStash stores the reconstructed state of orders that failed for a
// systemic reason, keyed by consumer id, so the client can be shown what
// failed when it follows the notification's redirect.
type OrderStash struct {
	client *Client
	logger *zap.Logger
}

// NewOrderStash creates an order stash over the given client.
func NewOrderStash(client *Client, logger *zap.Logger) *OrderStash {
	return &OrderStash{
		client: client,
		logger: logger,
	}
}

func stashKey(consumerID int64) string {
	return fmt.Sprintf("%s%d", consumerKeyPrefix, consumerID)
}

// Put stashes a serialized failed-order payload for the consumer,
// replacing any previous one.
func (s *OrderStash) Put(ctx context.Context, consumerID int64, payload string) error {
	key := stashKey(consumerID)

	if err := s.client.rdb.Set(ctx, key, payload, stashTTL).Err(); err != nil {
		return fmt.Errorf("stash failed order: %w", err)
	}

	s.logger.Info("failed order stashed",
		zap.String("key", key),
		zap.Int("payload_bytes", len(payload)),
	)

	return nil
}

// Get returns the stashed failed-order payload for the consumer, or
// ErrNoStashedOrder when nothing is stashed.
func (s *OrderStash) Get(ctx context.Context, consumerID int64) (string, error) {
	val, err := s.client.rdb.Get(ctx, stashKey(consumerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoStashedOrder
	}
	if err != nil {
		return "", fmt.Errorf("read stashed order: %w", err)
	}

	return val, nil
}
