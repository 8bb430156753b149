package httpapi

import (
	"context"
	"errors"
	"fmt"

	"studio_gateway/internal/auth"
	"studio_gateway/internal/catalog"
	"studio_gateway/internal/config"
	"studio_gateway/internal/logging"
	"studio_gateway/internal/providers"
	"studio_gateway/internal/proxy"
	"studio_gateway/internal/queue"
	"studio_gateway/internal/storage"
	"studio_gateway/internal/usage"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	DB             *storage.DB
	Auth           *auth.Service
	Users          *storage.UserRepository
	Settings       *storage.SettingsRepository
	GlobalSettings *storage.GlobalSettingsRepository
	Models         *storage.ModelRepository
	UsageStore     *storage.UsageRepository
	Usage          *usage.Service
	Recorder       *usage.Recorder
	UsageWorker    *storage.UsageQueueWorker
	Archive        logging.Sink
	Proxy          *proxy.Proxy
	Logger         *logging.Logger

	AdminUsername  string
	CORSOrigins    []string
	UploadMaxBytes int64
	ChatMaxBytes   int64

	usageQueue queue.Queue
	usageDLQ   queue.DeadLetterQueue
}

// Build opens the database, applies migrations, seeds the default admin and
// model catalog, and starts the usage worker.
func Build(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	logger := logging.NewLogger("gateway")

	dbConfig := storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
	db, err := storage.NewDB(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	encryption, err := NewEncryption(cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	usageQueue, usageDLQ, err := queue.New(QueueConfig(cfg))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create usage queue: %w", err)
	}

	var archive logging.Sink = logging.NewNoopSink()
	if cfg.UsageArchive.Enabled {
		archive, err = logging.NewS3Sink(ctx, logging.S3SinkConfig{
			BufferSize:    cfg.UsageArchive.BufferSize,
			FlushSize:     cfg.UsageArchive.FlushSize,
			FlushInterval: cfg.UsageArchive.FlushInterval,
			S3Bucket:      cfg.UsageArchive.S3Bucket,
			S3Region:      cfg.UsageArchive.S3Region,
			S3Prefix:      cfg.UsageArchive.S3Prefix,
			PodName:       cfg.UsageArchive.PodName,
		})
		if err != nil {
			usageQueue.Close()
			usageDLQ.Close()
			db.Close()
			return nil, fmt.Errorf("failed to initialize usage archive: %w", err)
		}
		logger.Info("Usage archive enabled", "bucket", cfg.UsageArchive.S3Bucket)
	}

	deps := Assemble(db, encryption, usageQueue, usageDLQ, archive, cfg)

	if _, err := deps.Auth.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	if cfg.ModelSeedFile != "" {
		if _, err := catalog.SeedFile(ctx, deps.Models, cfg.ModelSeedFile, logging.NewLogger("catalog")); err != nil {
			_ = deps.Close(ctx)
			return nil, fmt.Errorf("failed to seed model catalog: %w", err)
		}
	}

	deps.UsageWorker.Start(context.Background())
	return deps, nil
}

// Assemble wires repositories and services over already opened infrastructure.
// The usage worker is created but not started.
func Assemble(db *storage.DB, encryption *storage.Encryption, q queue.Queue, dlq queue.DeadLetterQueue, archive logging.Sink, cfg *config.Config) *Dependencies {
	if archive == nil {
		archive = logging.NewNoopSink()
	}

	users := db.NewUserRepository()
	globalSettings := db.NewGlobalSettingsRepository()
	modelRepo := storage.NewModelRepository(db, encryption)
	usageRepo := db.NewUsageRepository()

	worker := storage.NewUsageQueueWorker(q, dlq, usageRepo, QueueConfig(cfg))
	recorder := usage.NewRecorder(worker, usageRepo, archive, logging.NewLogger("usage"))

	p := proxy.New(modelRepo, globalSettings, providers.NewOpenAIClient(), recorder, proxy.Config{
		Timeout:        cfg.Proxy.Timeout,
		DefaultBaseURL: cfg.Proxy.DefaultBaseURL,
		LogFailures:    cfg.Proxy.LogFailures,
	}, logging.NewLogger("proxy"))

	return &Dependencies{
		DB:             db,
		Auth:           auth.NewService(users, auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)),
		Users:          users,
		Settings:       db.NewSettingsRepository(),
		GlobalSettings: globalSettings,
		Models:         modelRepo,
		UsageStore:     usageRepo,
		Usage:          usage.NewService(usageRepo),
		Recorder:       recorder,
		UsageWorker:    worker,
		Archive:        archive,
		Proxy:          p,
		Logger:         logging.NewLogger("http"),
		AdminUsername:  cfg.Admin.Username,
		CORSOrigins:    cfg.CORS.AllowedOrigins,
		UploadMaxBytes: cfg.Upload.MaxBytes,
		ChatMaxBytes:   cfg.Chat.MaxBytes,
		usageQueue:     q,
		usageDLQ:       dlq,
	}
}

// Close stops the worker after it drains the queue, flushes the archive and
// closes the database.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	if d.UsageWorker != nil {
		errs = append(errs, d.UsageWorker.Stop())
	}
	if d.Archive != nil {
		errs = append(errs, d.Archive.Shutdown(ctx))
	}
	if d.usageDLQ != nil {
		errs = append(errs, d.usageDLQ.Close())
	}
	if d.usageQueue != nil {
		errs = append(errs, d.usageQueue.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	return errors.Join(errs...)
}

// NewEncryption builds the credential cipher from ENCRYPTION_KEY, falling back
// to a key derived from the JWT secret.
func NewEncryption(cfg *config.Config, logger *logging.Logger) (*storage.Encryption, error) {
	if cfg.EncryptionKey != "" {
		enc, err := storage.NewEncryptionFromString(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
		return enc, nil
	}
	if logger != nil {
		logger.Warn("ENCRYPTION_KEY not set, deriving credential key from JWT_SECRET")
	}
	return storage.NewEncryptionFromSecret(cfg.JWTSecret)
}

// QueueConfig maps gateway configuration onto the usage queue.
func QueueConfig(cfg *config.Config) *queue.Config {
	qc := queue.DefaultConfig(cfg.Queue.Name)
	qc.UseRedis = cfg.Queue.UseRedis
	if cfg.Queue.BatchSize > 0 {
		qc.BatchSize = cfg.Queue.BatchSize
	}
	if cfg.Queue.BatchTimeout > 0 {
		qc.BatchTimeout = cfg.Queue.BatchTimeout
	}
	if cfg.Queue.MaxRetries > 0 {
		qc.MaxRetries = cfg.Queue.MaxRetries
	}
	if cfg.Queue.RetryBackoff > 0 {
		qc.RetryBackoff = cfg.Queue.RetryBackoff
	}
	qc.RedisAddr = cfg.Redis.Address
	qc.RedisPassword = cfg.Redis.Password
	qc.RedisDB = cfg.Redis.DB
	return qc
}
