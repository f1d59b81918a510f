package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the KLibras server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Scorer   ScorerConfig
}

type ServerConfig struct {
	Port         int
	Env          string
	MaxVideoSize int64
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type QueueConfig struct {
	URL  string
	Name string
}

type WorkerConfig struct {
	// Concurrency bounds how many videos are scored simultaneously and is
	// also used as the consumer prefetch limit.
	Concurrency    int
	ReconnectDelay time.Duration
	JobTimeout     time.Duration
}

type ScorerConfig struct {
	Provider            string
	FFmpegPath          string
	LandmarkerURL       string
	ClassifierURL       string
	Actions             []string
	ConfidenceThreshold float64
	SequenceLength      int
	Timeout             time.Duration
}

var validScorerProviders = map[string]bool{
	"pipeline": true,
	"mock":     true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         envInt("KLIBRAS_PORT", 8080),
			Env:          envString("KLIBRAS_ENV", "development"),
			MaxVideoSize: int64(envInt("KLIBRAS_MAX_VIDEO_BYTES", 32<<20)),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			URL:  os.Getenv("RABBITMQ_URL"),
			Name: envString("QUEUE_NAME", "video_processing_queue"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", 1),
			ReconnectDelay: envDuration("WORKER_RECONNECT_DELAY", 5*time.Second),
			JobTimeout:     envDurationSecs("WORKER_JOB_TIMEOUT_SECS", 120*time.Second),
		},
		Scorer: ScorerConfig{
			Provider:            envString("SCORER_PROVIDER", "pipeline"),
			FFmpegPath:          envString("FFMPEG_PATH", "ffmpeg"),
			LandmarkerURL:       envString("LANDMARKER_URL", "http://localhost:9091"),
			ClassifierURL:       envString("CLASSIFIER_URL", "http://localhost:9092"),
			Actions:             envList("SCORER_ACTIONS", []string{"obrigado", "tudo_bem", "qual_seu_nome", "bom_dia", "null"}),
			ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.75),
			SequenceLength:      envInt("SEQUENCE_LENGTH", 100),
			Timeout:             envDurationSecs("SCORER_TIMEOUT_SECS", 60*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Queue.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required")
	}
	if !strings.HasPrefix(c.Queue.URL, "amqp://") && !strings.HasPrefix(c.Queue.URL, "amqps://") {
		return fmt.Errorf("RABBITMQ_URL must start with amqp:// or amqps://, got %q", c.Queue.URL)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}

	if !validScorerProviders[c.Scorer.Provider] {
		return fmt.Errorf("SCORER_PROVIDER must be one of pipeline, mock; got %q", c.Scorer.Provider)
	}
	if c.Scorer.ConfidenceThreshold < 0 || c.Scorer.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in [0, 1], got %v", c.Scorer.ConfidenceThreshold)
	}
	if c.Scorer.SequenceLength < 2 {
		return fmt.Errorf("SEQUENCE_LENGTH must be at least 2, got %d", c.Scorer.SequenceLength)
	}
	if len(c.Scorer.Actions) == 0 {
		return fmt.Errorf("SCORER_ACTIONS must list at least one action")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
