// Package queue provides the WorkQueue implementations: a Redis-backed queue
// for distributed pools and a channel-backed one for tests.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	config "github.com/tigerroll/marlin/pkg/bulk/core/config"
	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	logger "github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

const (
	readyKey   = "marlin:queue:ready"
	delayedKey = "marlin:queue:delayed"
	deadKey    = "marlin:queue:dead"

	// receivePollTimeout bounds each blocking pop so the delayed set is promoted
	// and context cancellation is observed regularly.
	receivePollTimeout = 2 * time.Second
)

// RedisWorkQueue implements ports.WorkQueue on a Redis list plus a sorted set
// for delayed redelivery. Delivery is at-least-once.
type RedisWorkQueue struct {
	client *redis.Client
}

// NewRedisClient builds the shared Redis client from configuration.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisWorkQueue creates a new RedisWorkQueue.
func NewRedisWorkQueue(client *redis.Client) *RedisWorkQueue {
	return &RedisWorkQueue{client: client}
}

// Enqueue pushes the message onto the ready list.
func (q *RedisWorkQueue) Enqueue(ctx context.Context, msg ports.BatchMessage) error {
	msg.Attempt++
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode batch message: %w", err)
	}
	if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue batch message: %w", err)
	}
	return nil
}

// Receive blocks until a message is available or ctx is done. Due delayed
// messages are promoted onto the ready list before each blocking pop.
func (q *RedisWorkQueue) Receive(ctx context.Context) (ports.BatchMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ports.BatchMessage{}, err
		}
		if err := q.promoteDue(ctx); err != nil {
			logger.Warnf("Failed to promote delayed messages: %v", err)
		}

		result, err := q.client.BRPop(ctx, receivePollTimeout, readyKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return ports.BatchMessage{}, fmt.Errorf("failed to receive batch message: %w", err)
		}
		// BRPop returns [key, value].
		var msg ports.BatchMessage
		if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
			logger.Errorf("Dropping undecodable queue payload: %v", err)
			continue
		}
		return msg, nil
	}
}

// Ack settles the message. The pop already removed it from the ready list, so
// there is nothing left to do; the method exists so all settlement paths are
// explicit at the call site.
func (q *RedisWorkQueue) Ack(ctx context.Context, msg ports.BatchMessage) error {
	return nil
}

// Nack schedules the message for redelivery after the delay, incrementing its
// attempt counter.
func (q *RedisWorkQueue) Nack(ctx context.Context, msg ports.BatchMessage, delay time.Duration) error {
	msg.Attempt++
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode batch message: %w", err)
	}
	readyAt := time.Now().Add(delay)
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to schedule batch message redelivery: %w", err)
	}
	return nil
}

// DeadLetter moves the message to the dead-letter list for inspection.
func (q *RedisWorkQueue) DeadLetter(ctx context.Context, msg ports.BatchMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode batch message: %w", err)
	}
	if err := q.client.LPush(ctx, deadKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to dead-letter batch message: %w", err)
	}
	return nil
}

// promoteDue moves delayed messages whose time has come onto the ready list.
func (q *RedisWorkQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}
	for _, payload := range due {
		// ZRem decides the race between promoters: only the caller that removed
		// the member pushes it.
		removed, err := q.client.ZRem(ctx, delayedKey, payload).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Verify interfaces
var _ ports.WorkQueue = (*RedisWorkQueue)(nil)
