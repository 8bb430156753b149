// Package queue decouples request handling from usage persistence.
//
// Two backends implement the same interfaces:
//
//  1. Memory queue (buffered channel): no persistence, no external
//     dependencies. The default for single-instance and development setups.
//  2. Redis queue (Redis list): survives restarts and can be drained by
//     workers in several gateway replicas.
//
// Flow:
//
//	request -> Recorder -> Queue -> UsageQueueWorker -> usage_logs
//	                                      |
//	                                      +-> DeadLetterQueue (after retries)
//
// The worker takes up to BatchSize items per round (waiting at most
// BatchTimeout), inserts them in one transaction, and falls back to
// per-item retries with exponential backoff before giving up to the DLQ.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue defines the interface for message queuing
type Queue interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item any) error

	// Dequeue retrieves items from the queue (up to maxItems)
	// Blocks until at least one item is available or context is cancelled
	Dequeue(ctx context.Context, maxItems int) ([]any, error)

	// DequeueWithTimeout retrieves items with a timeout
	// Returns items if available before timeout, empty slice otherwise
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]any, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	// Close shuts down the queue gracefully
	Close() error
}

// DeadLetterQueue defines the interface for handling failed items
type DeadLetterQueue interface {
	// Add adds a failed item to the dead letter queue with error info
	Add(ctx context.Context, item any, err error) error

	// List retrieves items from the dead letter queue, oldest first
	List(ctx context.Context, maxItems int) ([]DeadLetterItem, error)

	// Get returns one item by id, or ErrItemNotFound
	Get(ctx context.Context, id string) (*DeadLetterItem, error)

	// Remove removes an item from the dead letter queue
	Remove(ctx context.Context, id string) error

	// Close shuts down the dead letter queue
	Close() error
}

// DeadLetterItem represents an item in the dead letter queue
type DeadLetterItem struct {
	ID        string    `json:"id"`
	Item      any       `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	Retries   int       `json:"retries"`
}

// Config holds queue configuration
type Config struct {
	// BatchSize is the maximum number of items to process in a batch
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	// MaxRetries is the maximum number of retry attempts
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries
	RetryBackoff time.Duration

	// UseRedis selects the Redis backend instead of the in-memory one
	UseRedis bool

	// RedisAddr is the Redis server address (if UseRedis is true)
	RedisAddr string

	// RedisPassword is the Redis password (if UseRedis is true)
	RedisPassword string

	// RedisDB is the Redis database number (if UseRedis is true)
	RedisDB int

	// QueueName is the name/key for the queue
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		UseRedis:     false,
		QueueName:    queueName,
	}
}

// New builds the queue and dead letter queue selected by config.
// When config.UseRedis is set both share one Redis client.
func New(config *Config) (Queue, DeadLetterQueue, error) {
	if config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	if !config.UseRedis {
		return NewMemoryQueue(config), NewMemoryDeadLetterQueue(), nil
	}

	client, err := connect(config)
	if err != nil {
		return nil, nil, err
	}

	q := NewRedisQueueWithClient(client, config)
	q.ownsClient = true
	return q, NewRedisDeadLetterQueueWithClient(client, config), nil
}

func connect(config *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
