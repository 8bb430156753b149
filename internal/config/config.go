package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultCORSOrigins are the studio front-end origins allowed when CORS_ALLOWED_ORIGINS is unset.
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:8080",
	"http://localhost:50173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
	"http://127.0.0.1:8080",
	"http://127.0.0.1:50173",
	"https://localhost:5173",
	"https://winemountain.art",
	"https://www.winemountain.art",
}

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort      string
	LogLevel      string
	LogJSON       bool
	JWTSecret     []byte
	JWTTTL        time.Duration
	EncryptionKey string
	Database      DatabaseConfig
	Redis         RedisConfig
	Queue         QueueConfig
	Proxy         ProxyConfig
	Admin         AdminConfig
	CORS          CORSConfig
	Upload        UploadConfig
	Chat          ChatConfig
	ModelSeedFile string
	UsageArchive  UsageArchiveConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// QueueConfig controls the usage write queue
type QueueConfig struct {
	UseRedis     bool // false keeps the queue in process memory
	Name         string
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// ProxyConfig holds completion proxy settings
type ProxyConfig struct {
	Timeout        time.Duration
	DefaultBaseURL string
	LogFailures    bool // record failed upstream calls as unsuccessful usage
}

// AdminConfig names the account created at startup
type AdminConfig struct {
	Username string
	Password string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type UploadConfig struct {
	MaxBytes int64
}

// ChatConfig bounds chat completion request bodies, which may carry inline images.
type ChatConfig struct {
	MaxBytes int64
}

// UsageArchiveConfig holds configuration for the S3 usage archive
type UsageArchiveConfig struct {
	Enabled       bool          // Whether to archive usage records to S3
	BufferSize    int           // In-memory queue size
	FlushSize     int           // Flush to S3 after this many records
	FlushInterval time.Duration // Flush to S3 after this duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string // Prefix for S3 keys (e.g., "usage/")
	PodName       string // Pod identifier for multi-pod deployments
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:      getEnvString("HTTP_PORT", "8080"),
		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogJSON:       getEnvBool("LOG_JSON", false),
		JWTSecret:     []byte(getEnvString("JWT_SECRET", "change-me-in-production")),
		JWTTTL:        getEnvDuration("JWT_TTL", 168*time.Hour),
		EncryptionKey: getEnvString("ENCRYPTION_KEY", ""),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Queue: QueueConfig{
			UseRedis:     getEnvBool("QUEUE_USE_REDIS", false),
			Name:         getEnvString("QUEUE_NAME", "usage_records"),
			BatchSize:    getEnvInt("QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("QUEUE_RETRY_BACKOFF", time.Second),
		},
		Proxy: ProxyConfig{
			Timeout:        getEnvDuration("PROXY_TIMEOUT", 120*time.Second),
			DefaultBaseURL: getEnvString("PROXY_DEFAULT_BASE_URL", "https://api.openai.com/v1"),
			LogFailures:    getEnvBool("PROXY_LOG_FAILURES", false),
		},
		Admin: AdminConfig{
			Username: getEnvString("ADMIN_USERNAME", "admin"),
			Password: getEnvString("ADMIN_PASSWORD", "admin123"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", DefaultCORSOrigins),
		},
		Upload: UploadConfig{
			MaxBytes: getEnvInt64("UPLOAD_MAX_BYTES", 10<<20),
		},
		Chat: ChatConfig{
			MaxBytes: getEnvInt64("CHAT_MAX_BYTES", 50<<20),
		},
		ModelSeedFile: getEnvString("MODEL_SEED_FILE", ""),
		UsageArchive: UsageArchiveConfig{
			Enabled:       getEnvBool("USAGE_ARCHIVE_ENABLED", false),
			BufferSize:    getEnvInt("USAGE_ARCHIVE_BUFFER_SIZE", 10000),
			FlushSize:     getEnvInt("USAGE_ARCHIVE_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("USAGE_ARCHIVE_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("USAGE_ARCHIVE_S3_BUCKET", ""),
			S3Region:      getEnvString("USAGE_ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("USAGE_ARCHIVE_S3_PREFIX", "usage/"),
			PodName:       getEnvString("POD_NAME", "gateway-0"),
		},
	}

	if cfg.UsageArchive.Enabled && cfg.UsageArchive.S3Bucket == "" {
		return nil, fmt.Errorf("USAGE_ARCHIVE_S3_BUCKET is required when USAGE_ARCHIVE_ENABLED is set")
	}

	return cfg, nil
}
