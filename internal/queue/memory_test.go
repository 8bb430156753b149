package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testRecord struct {
	Username string `json:"username"`
	ModelID  string `json:"model_id"`
	Tokens   int    `json:"tokens"`
}

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	rec := testRecord{Username: "alice", ModelID: "gpt-x", Tokens: 8}
	if err := q.Enqueue(ctx, rec); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.Dequeue(ctx, 1)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if got := items[0].(testRecord); got != rec {
		t.Errorf("Expected %+v, got %+v", rec, got)
	}
}

func TestMemoryQueue_Batches(t *testing.T) {
	config := DefaultConfig("test")
	config.BatchSize = 5
	q := NewMemoryQueue(config)
	defer q.Close()

	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := q.Enqueue(ctx, testRecord{Tokens: i}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	items, err := q.Dequeue(ctx, 5)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("Expected 5 items, got %d", len(items))
	}
	// FIFO
	if items[0].(testRecord).Tokens != 0 || items[4].(testRecord).Tokens != 4 {
		t.Errorf("unexpected order: %+v", items)
	}

	items, err = q.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("Expected 3 remaining items, got %d", len(items))
	}
}

func TestMemoryQueue_DequeueWithTimeout(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()

	start := time.Now()
	items, err := q.DequeueWithTimeout(ctx, 1, 100*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected 0 items, got %d", len(items))
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("Expected timeout, but returned early: %v", elapsed)
	}

	if err := q.Enqueue(ctx, testRecord{}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err = q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("DequeueWithTimeout failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 item, got %d", len(items))
	}
}

func TestMemoryQueue_DequeueCancelled(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx, 1); err != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}

func TestMemoryQueue_ConcurrentEnqueue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	defer q.Close()

	ctx := context.Background()
	var wg sync.WaitGroup

	producers, perProducer := 10, 50
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				if err := q.Enqueue(ctx, testRecord{Tokens: id*perProducer + j}); err != nil {
					t.Errorf("Enqueue failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != producers*perProducer {
		t.Errorf("Expected length %d, got %d", producers*perProducer, length)
	}
}

func TestMemoryQueue_ClosedQueue(t *testing.T) {
	q := NewMemoryQueue(DefaultConfig("test"))
	ctx := context.Background()

	if err := q.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if err := q.Enqueue(ctx, testRecord{}); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.DequeueWithTimeout(ctx, 1, time.Millisecond); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := q.Length(ctx); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestMemoryDeadLetterQueue_Lifecycle(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	defer dlq.Close()

	ctx := context.Background()

	if err := dlq.Add(ctx, testRecord{Username: "a"}, ErrMaxRetriesExceeded); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := dlq.Add(ctx, testRecord{Username: "b"}, nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Error != ErrMaxRetriesExceeded.Error() {
		t.Errorf("Expected error %q, got %q", ErrMaxRetriesExceeded, items[0].Error)
	}
	if items[1].Error == "" || items[0].ID == items[1].ID {
		t.Errorf("unexpected items: %+v", items)
	}

	got, err := dlq.Get(ctx, items[1].ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Item.(testRecord).Username != "b" {
		t.Errorf("Get returned %+v", got)
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := dlq.Get(ctx, items[0].ID); err != ErrItemNotFound {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}
	if err := dlq.Remove(ctx, "missing"); err != ErrItemNotFound {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	limited, _ := dlq.List(ctx, 1)
	if len(limited) != 1 {
		t.Errorf("Expected 1 item, got %d", len(limited))
	}
}

func TestMemoryDeadLetterQueue_Closed(t *testing.T) {
	dlq := NewMemoryDeadLetterQueue()
	ctx := context.Background()

	if err := dlq.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := dlq.Add(ctx, "x", ErrMaxRetriesExceeded); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := dlq.List(ctx, 10); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if _, err := dlq.Get(ctx, "id"); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
	if err := dlq.Remove(ctx, "id"); err != ErrQueueClosed {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	q, dlq, err := New(DefaultConfig("usage"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer q.Close()
	defer dlq.Close()

	if _, ok := q.(*MemoryQueue); !ok {
		t.Errorf("Expected *MemoryQueue, got %T", q)
	}
	if _, ok := dlq.(*MemoryDeadLetterQueue); !ok {
		t.Errorf("Expected *MemoryDeadLetterQueue, got %T", dlq)
	}

	if _, _, err := New(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}
