package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/queue"
)

// UsageWriter persists usage records. UsageRepository implements it.
type UsageWriter interface {
	InsertBatch(ctx context.Context, records []*models.UsageRecord) error
	Create(ctx context.Context, record *models.UsageRecord) error
}

// UsageQueueWorker drains the usage queue into the database
type UsageQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	writer      UsageWriter
	config      *queue.Config
	logger      *logging.Logger
	mu          sync.Mutex
	started     bool
	cancel      context.CancelFunc
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, writer UsageWriter, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      logging.NewLogger("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.run(runCtx)
}

// Stop stops the worker after writing whatever is still queued
func (w *UsageQueueWorker) Stop() error {
	w.mu.Lock()
	started, cancel := w.started, w.cancel
	w.mu.Unlock()
	if !started {
		return nil
	}

	w.stopOnce.Do(func() {
		close(w.stopChan)
		// Interrupts a blocking dequeue
		cancel()
	})
	<-w.stoppedChan
	return nil
}

// Enqueue adds a usage record to the queue
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

// run is the main worker loop
func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.drain()
			w.logger.Info("Usage worker stopped")
			return
		default:
		}

		select {
		case <-ctx.Done():
			// Stop cancels ctx too; let the next round see stopChan
			select {
			case <-w.stopChan:
				continue
			default:
			}
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			w.processBatch(ctx, w.config.BatchTimeout)
		}
	}
}

// drain writes the remaining items on shutdown
func (w *UsageQueueWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for ctx.Err() == nil {
		if n := w.processBatch(ctx, 10*time.Millisecond); n == 0 {
			return
		}
	}
}

// processBatch handles one batch and returns how many items were dequeued
func (w *UsageQueueWorker) processBatch(ctx context.Context, timeout time.Duration) int {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, timeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
			return 0
		}
		w.logger.Error("Failed to dequeue usage records", "error", err)
		w.sleep(ctx, time.Second) // Back off on error
		return 0
	}

	if len(items) == 0 {
		return 0
	}

	w.logger.Debug("Processing usage batch", "count", len(items))

	records := make([]*models.UsageRecord, 0, len(items))
	for _, item := range items {
		var record models.UsageRecord
		if err := w.unmarshalItem(item, &record); err != nil {
			w.logger.Error("Failed to unmarshal usage record", "error", err)
			continue
		}
		records = append(records, &record)
	}

	if len(records) == 0 {
		return len(items)
	}

	if err := w.writer.InsertBatch(ctx, records); err != nil {
		w.logger.Warn("Failed to insert batch, falling back to individual inserts", "error", err, "count", len(records))
		for _, record := range records {
			if err := w.processItem(ctx, record); err != nil {
				w.logger.Error("Failed to persist usage record", "username", record.Username, "model_id", record.ModelID, "error", err)
			}
		}
		return len(items)
	}

	w.logger.Debug("Inserted usage batch", "count", len(records))
	return len(items)
}

// processItem inserts a single usage record with retries
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			if !w.sleep(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}

		if err := w.writer.Create(ctx, record); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	// Max retries exceeded - add to dead letter queue
	if w.dlq != nil {
		if err := w.dlq.Add(context.Background(), record, lastErr); err != nil {
			w.logger.Error("Failed to add to dead letter queue", "error", err)
		} else {
			w.logger.Warn("Usage record moved to DLQ", "username", record.Username, "model_id", record.ModelID, "error", lastErr)
		}
	}

	return fmt.Errorf("%w: %v", queue.ErrMaxRetriesExceeded, lastErr)
}

func (w *UsageQueueWorker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// unmarshalItem converts a queue item into a UsageRecord
func (w *UsageQueueWorker) unmarshalItem(item any, record *models.UsageRecord) error {
	switch v := item.(type) {
	case *models.UsageRecord:
		*record = *v
		return nil
	case models.UsageRecord:
		*record = v
		return nil
	case []byte:
		return json.Unmarshal(v, record)
	case json.RawMessage:
		return json.Unmarshal(v, record)
	default:
		// Redis DLQ items come back as generic maps
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		return json.Unmarshal(data, record)
	}
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return []queue.DeadLetterItem{}, nil
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetterItem re-enqueues a failed item. Unknown ids return queue.ErrItemNotFound.
func (w *UsageQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return queue.ErrItemNotFound
	}

	dlItem, err := w.dlq.Get(ctx, id)
	if err != nil {
		return err
	}

	var record models.UsageRecord
	if err := w.unmarshalItem(dlItem.Item, &record); err != nil {
		return fmt.Errorf("failed to decode dead letter item: %w", err)
	}

	if err := w.queue.Enqueue(ctx, &record); err != nil {
		return fmt.Errorf("failed to re-enqueue item: %w", err)
	}

	if err := w.dlq.Remove(ctx, id); err != nil {
		return fmt.Errorf("failed to remove from DLQ: %w", err)
	}

	return nil
}
