package logging

import (
	"context"
	"errors"
	"sync"
	"time"

	"studio_gateway/internal/models"
)

var (
	// ErrSinkFull is returned when the archive buffer has no room left
	ErrSinkFull = errors.New("usage archive buffer is full")

	// ErrSinkClosed is returned after Shutdown
	ErrSinkClosed = errors.New("usage archive is closed")
)

// Sink receives usage records for archiving outside the database.
type Sink interface {
	Enqueue(rec *models.UsageRecord) error
	Shutdown(ctx context.Context) error
}

// NoopSink discards records. Used when archiving is disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (s *NoopSink) Enqueue(rec *models.UsageRecord) error {
	return nil
}

func (s *NoopSink) Shutdown(ctx context.Context) error {
	return nil
}

// BatchWriter uploads one batch of records and returns where it went.
type BatchWriter interface {
	WriteBatch(ctx context.Context, records []*models.UsageRecord) (string, error)
}

// S3SinkConfig controls buffering in front of the S3 writer
type S3SinkConfig struct {
	BufferSize    int           // In-memory queue size
	FlushSize     int           // Flush after this many records
	FlushInterval time.Duration // Flush at least this often when records are pending
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

// S3Sink buffers usage records in memory and writes them in JSONL batches.
type S3Sink struct {
	config S3SinkConfig
	writer BatchWriter
	logger *Logger

	records chan *models.UsageRecord
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
}

// NewS3Sink creates the S3 writer from config and starts the flush loop
func NewS3Sink(ctx context.Context, config S3SinkConfig) (*S3Sink, error) {
	writer, err := NewS3Writer(ctx, config.S3Bucket, config.S3Region, config.S3Prefix, config.PodName)
	if err != nil {
		return nil, err
	}
	return NewBufferedSink(config, writer), nil
}

// NewBufferedSink starts a sink that flushes into writer
func NewBufferedSink(config S3SinkConfig, writer BatchWriter) *S3Sink {
	if config.BufferSize <= 0 {
		config.BufferSize = 10000
	}
	if config.FlushSize <= 0 {
		config.FlushSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Minute
	}

	s := &S3Sink{
		config:  config,
		writer:  writer,
		logger:  NewLogger("usage-archive"),
		records: make(chan *models.UsageRecord, config.BufferSize),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue buffers a record without blocking. A copy is taken.
func (s *S3Sink) Enqueue(rec *models.UsageRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	cp := *rec
	select {
	case s.records <- &cp:
		return nil
	default:
		return ErrSinkFull
	}
}

// Shutdown stops accepting records and flushes what is buffered
func (s *S3Sink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.records)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *S3Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.UsageRecord, 0, s.config.FlushSize)
	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.config.FlushSize {
				s.flush(batch)
				batch = make([]*models.UsageRecord, 0, s.config.FlushSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = make([]*models.UsageRecord, 0, s.config.FlushSize)
			}
		}
	}
}

func (s *S3Sink) flush(batch []*models.UsageRecord) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
		s.logger.Error("Failed to archive usage batch", "count", len(batch), "error", err)
	}
}
