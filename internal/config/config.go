// Package config loads all runtime configuration from the environment, once
// at startup. A .env file, when present, deterministically overrides the OS
// environment so repository-local settings control development runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServiceConfig struct {
	Name     string
	Env      string
	LogPath  string
	LogLevel string
	OTLP     string // OTLP HTTP endpoint; empty disables exporters
}

type BrokerConfig struct {
	Mode            string // "embedded" or "http"
	URL             string // broker service base URL for http mode
	Listen          string // listen address for the standalone service
	TokensPerMinute int
	ReservationTTL  time.Duration
	AppID           string
}

type BusConfig struct {
	Brokers      []string
	GroupID      string
	InQueue      string
	OutQueue     string
	CommandQueue string
	RedisAddr    string // empty selects the in-memory state store
}

type LLMConfig struct {
	Provider    string // "openai" or "anthropic"
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

type STTConfig struct {
	Provider      string // "remote" or "local"
	URL           string
	APIKey        string
	Model         string
	ModelPath     string // ggml model path for the local provider
	TokenEstimate int
	MaxConcurrent int
}

type WorkerConfig struct {
	BatchSize      int
	HandlerTimeout time.Duration
	UploadTime     string // "HH:MM:SS" UTC
	LogUploadURL   string
}

type AudioConfig struct {
	MaxChunkMB    float64
	MaxDownloadMB int64
}

type Config struct {
	Service ServiceConfig
	Broker  BrokerConfig
	Bus     BusConfig
	LLM     LLMConfig
	STT     STTConfig
	Worker  WorkerConfig
	Audio   AudioConfig
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	// Use Overload so .env values override existing OS environment variables.
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Service.Name = getStr("SERVICE_NAME", "lokutor-worker")
	cfg.Service.Env = getStr("ENVIRONMENT", "development")
	cfg.Service.LogPath = getStr("LOG_PATH", "")
	cfg.Service.LogLevel = getStr("LOG_LEVEL", "info")
	cfg.Service.OTLP = getStr("OTLP_ENDPOINT", "")

	cfg.Broker.Mode = getStr("TOKEN_BROKER_MODE", "embedded")
	cfg.Broker.URL = getStr("TOKEN_BROKER_URL", "http://localhost:8001")
	cfg.Broker.Listen = getStr("TOKEN_BROKER_LISTEN", ":8001")
	cfg.Broker.TokensPerMinute = getInt("TOKENS_PER_MINUTE", 128000)
	cfg.Broker.ReservationTTL = time.Duration(getInt("RESERVATION_TTL_SECONDS", 300)) * time.Second
	cfg.Broker.AppID = getStr("APP_ID", "default_app")

	cfg.Bus.Brokers = splitList(getStr("KAFKA_BROKERS", "localhost:9092"))
	cfg.Bus.GroupID = getStr("KAFKA_GROUP_ID", cfg.Service.Name)
	cfg.Bus.InQueue = getStr("IN_QUEUE", "")
	cfg.Bus.OutQueue = getStr("OUT_QUEUE", "")
	cfg.Bus.CommandQueue = getStr("COMMAND_QUEUE", "")
	cfg.Bus.RedisAddr = getStr("REDIS_ADDR", "")

	cfg.LLM.Provider = getStr("LLM_PROVIDER", "openai")
	cfg.LLM.APIKey = firstNonEmpty(os.Getenv("LLM_API_KEY"), os.Getenv("OPENAI_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"))
	cfg.LLM.BaseURL = getStr("LLM_BASE_URL", "")
	cfg.LLM.Model = getStr("LLM_MODEL", "gpt-4")
	cfg.LLM.MaxTokens = getInt("LLM_MAX_TOKENS", 1000)
	cfg.LLM.Temperature = getFloat("LLM_TEMPERATURE", 0.7)

	cfg.STT.Provider = getStr("STT_PROVIDER", "remote")
	cfg.STT.URL = getStr("STT_URL", "https://api.openai.com/v1/audio/transcriptions")
	cfg.STT.APIKey = firstNonEmpty(os.Getenv("STT_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	cfg.STT.Model = getStr("STT_MODEL", "whisper-1")
	cfg.STT.ModelPath = getStr("STT_MODEL_PATH", "")
	cfg.STT.TokenEstimate = getInt("STT_TOKEN_ESTIMATE", 1000)
	cfg.STT.MaxConcurrent = getInt("STT_MAX_CONCURRENT", 4)

	cfg.Worker.BatchSize = getInt("WORKER_BATCH_SIZE", 10)
	cfg.Worker.HandlerTimeout = time.Duration(getInt("WORKER_TIMEOUT_SECONDS", 300)) * time.Second
	cfg.Worker.UploadTime = getStr("LOG_UPLOAD_TIME", "02:00:00")
	cfg.Worker.LogUploadURL = getStr("LOG_UPLOAD_URL", "")

	cfg.Audio.MaxChunkMB = getFloat("AUDIO_MAX_CHUNK_MB", 24)
	cfg.Audio.MaxDownloadMB = int64(getInt("AUDIO_MAX_DOWNLOAD_MB", 500))

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Broker.TokensPerMinute <= 0 {
		return fmt.Errorf("TOKENS_PER_MINUTE must be positive, got %d", c.Broker.TokensPerMinute)
	}
	switch c.Broker.Mode {
	case "embedded", "http":
	default:
		return fmt.Errorf("TOKEN_BROKER_MODE must be embedded or http, got %q", c.Broker.Mode)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("LLM_PROVIDER must be openai or anthropic, got %q", c.LLM.Provider)
	}
	switch c.STT.Provider {
	case "remote", "local":
	default:
		return fmt.Errorf("STT_PROVIDER must be remote or local, got %q", c.STT.Provider)
	}
	if c.STT.Provider == "local" && c.STT.ModelPath == "" {
		return fmt.Errorf("STT_MODEL_PATH is required when STT_PROVIDER=local")
	}
	if _, err := time.Parse("15:04:05", c.Worker.UploadTime); err != nil {
		return fmt.Errorf("LOG_UPLOAD_TIME must be HH:MM:SS, got %q", c.Worker.UploadTime)
	}
	return nil
}

// RequireQueues verifies the queue names a worker binary depends on were
// actually configured; called by mains, not by Load, because the broker
// service has no queues.
func (c Config) RequireQueues() error {
	if c.Bus.InQueue == "" || c.Bus.OutQueue == "" {
		return fmt.Errorf("IN_QUEUE and OUT_QUEUE must be set")
	}
	return nil
}

func getStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
