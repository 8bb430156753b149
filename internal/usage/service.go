// Package usage aggregates usage records into reports and records new ones
// on behalf of the completion proxy and the client-side log endpoint.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"studio_gateway/internal/logging"
	"studio_gateway/internal/models"
	"studio_gateway/internal/storage"
)

// ErrModelIDRequired is returned by Log when the entry names no model.
var ErrModelIDRequired = errors.New("model_id is required")

// Store is the read side of the usage repository.
type Store interface {
	List(ctx context.Context, filter storage.UsageFilter) ([]*models.UsageRecord, error)
	Recent(ctx context.Context, filter storage.UsageFilter, limit int) ([]*models.UsageRecord, error)
}

// Service answers usage report queries.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a report service over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Stats aggregates the records matching q. The window start is evaluated at
// call time; the full set and the recent page are read concurrently.
func (s *Service) Stats(ctx context.Context, q Query) (*Stats, error) {
	days, limit, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	filter := storage.UsageFilter{
		Username: q.Username,
		ModelID:  q.ModelID,
		Since:    s.now().UTC().AddDate(0, 0, -days),
	}

	var all, recent []*models.UsageRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = s.store.List(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.store.Recent(gctx, filter, min(limit, MaxRecentLogs))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read usage records: %w", err)
	}

	stats := Aggregate(all, recent, limit)
	return &stats, nil
}

// Logs returns the newest records matching q, at most min(limit, MaxRecentLogs).
func (s *Service) Logs(ctx context.Context, q Query) ([]*models.UsageRecord, error) {
	days, limit, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	filter := storage.UsageFilter{
		Username: q.Username,
		ModelID:  q.ModelID,
		Since:    s.now().UTC().AddDate(0, 0, -days),
	}
	records, err := s.store.Recent(ctx, filter, min(limit, MaxRecentLogs))
	if err != nil {
		return nil, fmt.Errorf("failed to read usage records: %w", err)
	}
	if records == nil {
		records = []*models.UsageRecord{}
	}
	return records, nil
}

// Enqueuer hands a record to the write queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// Creator writes a record synchronously.
type Creator interface {
	Create(ctx context.Context, record *models.UsageRecord) error
}

// Recorder persists usage records on a best-effort basis. Records go to the
// queue worker; when the queue rejects them they are written directly. Every
// record is also offered to the archive sink. Failures are logged and never
// returned.
type Recorder struct {
	queue   Enqueuer
	direct  Creator
	archive logging.Sink
	logger  *logging.Logger
}

// NewRecorder creates a recorder. queue, direct and archive may each be nil.
func NewRecorder(queue Enqueuer, direct Creator, archive logging.Sink, logger *logging.Logger) *Recorder {
	if archive == nil {
		archive = logging.NewNoopSink()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recorder{queue: queue, direct: direct, archive: archive, logger: logger}
}

// Record stores rec. It never fails from the caller's point of view.
func (r *Recorder) Record(ctx context.Context, rec *models.UsageRecord) {
	rec.Normalize()

	if err := r.persist(ctx, rec); err != nil {
		r.logger.Error("UsageLogFailure",
			"username", rec.Username,
			"model_id", rec.ModelID,
			"success", rec.Success,
			"error", err,
		)
	}

	if err := r.archive.Enqueue(rec); err != nil {
		r.logger.Warn("Usage archive dropped record", "model_id", rec.ModelID, "error", err)
	}
}

func (r *Recorder) persist(ctx context.Context, rec *models.UsageRecord) error {
	if r.queue != nil {
		err := r.queue.Enqueue(ctx, rec)
		if err == nil {
			return nil
		}
		if r.direct == nil {
			return fmt.Errorf("failed to enqueue usage record: %w", err)
		}
		r.logger.Warn("Usage queue rejected record, writing directly", "error", err)
	}
	if r.direct == nil {
		return errors.New("no usage writer configured")
	}
	return r.direct.Create(ctx, rec)
}

// LogEntry is a client-reported usage record.
type LogEntry struct {
	ModelID      string
	ModelName    *string
	Provider     *string
	TokensInput  int
	TokensOutput int
	Success      bool
	ErrorMessage *string
}

// Log records a client-reported entry for username.
func (r *Recorder) Log(ctx context.Context, username string, entry LogEntry) (*models.UsageRecord, error) {
	if entry.ModelID == "" {
		return nil, ErrModelIDRequired
	}
	rec := &models.UsageRecord{
		Username:     username,
		ModelID:      entry.ModelID,
		ModelName:    entry.ModelName,
		Provider:     entry.Provider,
		TokensInput:  entry.TokensInput,
		TokensOutput: entry.TokensOutput,
		Success:      entry.Success,
		ErrorMessage: entry.ErrorMessage,
	}
	r.Record(ctx, rec)
	return rec, nil
}
