package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using Redis lists
type RedisQueue struct {
	client     *redis.Client
	config     *Config
	qKey       string
	ownsClient bool
}

// NewRedisQueue creates a new Redis-backed queue with its own client
func NewRedisQueue(config *Config) (*RedisQueue, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	client, err := connect(config)
	if err != nil {
		return nil, err
	}

	q := NewRedisQueueWithClient(client, config)
	q.ownsClient = true
	return q, nil
}

// NewRedisQueueWithClient creates a queue on an existing client.
// Close leaves a shared client open.
func NewRedisQueueWithClient(client *redis.Client, config *Config) *RedisQueue {
	if config == nil {
		config = DefaultConfig("usage")
	}
	return &RedisQueue{
		client: client,
		config: config,
		qKey:   fmt.Sprintf("queue:%s", config.QueueName),
	}
}

// Enqueue adds an item to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, item any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if err := q.client.RPush(ctx, q.qKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}

	return nil
}

// Dequeue retrieves items from the queue
func (q *RedisQueue) Dequeue(ctx context.Context, maxItems int) ([]any, error) {
	// Block until at least one item is available
	result, err := q.client.BLPop(ctx, 0, q.qKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] is the value
	return q.drain(ctx, []any{json.RawMessage(result[1])}, maxItems), nil
}

// DequeueWithTimeout retrieves items with a timeout
func (q *RedisQueue) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]any, error) {
	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if errors.Is(err, redis.Nil) {
		return []any{}, nil // Timeout, no items
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	return q.drain(ctx, []any{json.RawMessage(result[1])}, maxItems), nil
}

// drain pops more items without blocking
func (q *RedisQueue) drain(ctx context.Context, items []any, maxItems int) []any {
	for len(items) < maxItems {
		result, err := q.client.LPop(ctx, q.qKey).Result()
		if err != nil {
			// redis.Nil means empty; on other errors return what we have so far
			break
		}
		items = append(items, json.RawMessage(result))
	}
	return items
}

// Length returns the current queue length
func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

// Close shuts down the queue
func (q *RedisQueue) Close() error {
	if !q.ownsClient {
		return nil
	}
	return q.client.Close()
}

// RedisDeadLetterQueue implements DeadLetterQueue using Redis hashes
type RedisDeadLetterQueue struct {
	client     *redis.Client
	dlKey      string
	ownsClient bool
}

// NewRedisDeadLetterQueue creates a new Redis-backed dead letter queue with its own client
func NewRedisDeadLetterQueue(config *Config) (*RedisDeadLetterQueue, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	client, err := connect(config)
	if err != nil {
		return nil, err
	}

	q := NewRedisDeadLetterQueueWithClient(client, config)
	q.ownsClient = true
	return q, nil
}

// NewRedisDeadLetterQueueWithClient creates a dead letter queue on an existing client
func NewRedisDeadLetterQueueWithClient(client *redis.Client, config *Config) *RedisDeadLetterQueue {
	if config == nil {
		config = DefaultConfig("usage")
	}
	return &RedisDeadLetterQueue{
		client: client,
		dlKey:  fmt.Sprintf("dlq:%s", config.QueueName),
	}
}

// Add adds a failed item to the dead letter queue
func (q *RedisDeadLetterQueue) Add(ctx context.Context, item any, err error) error {
	dlItem := newDeadLetterItem(item, err)

	data, marshalErr := json.Marshal(dlItem)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", marshalErr)
	}

	if err := q.client.HSet(ctx, q.dlKey, dlItem.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}

	return nil
}

// List retrieves items from the dead letter queue, oldest first
func (q *RedisDeadLetterQueue) List(ctx context.Context, maxItems int) ([]DeadLetterItem, error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem, 0, len(results))
	for _, data := range results {
		var dlItem DeadLetterItem
		if err := json.Unmarshal([]byte(data), &dlItem); err != nil {
			continue // Skip malformed items
		}
		items = append(items, dlItem)
	}

	// Hash order is arbitrary
	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// Get returns one item by id
func (q *RedisDeadLetterQueue) Get(ctx context.Context, id string) (*DeadLetterItem, error) {
	data, err := q.client.HGet(ctx, q.dlKey, id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter item: %w", err)
	}

	var dlItem DeadLetterItem
	if err := json.Unmarshal([]byte(data), &dlItem); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter item: %w", err)
	}
	return &dlItem, nil
}

// Remove removes an item from the dead letter queue
func (q *RedisDeadLetterQueue) Remove(ctx context.Context, id string) error {
	n, err := q.client.HDel(ctx, q.dlKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Close shuts down the dead letter queue
func (q *RedisDeadLetterQueue) Close() error {
	if !q.ownsClient {
		return nil
	}
	return q.client.Close()
}
