// Package app wires configuration into the runtime objects the worker
// binaries share: observability, the token broker client, the LLM adapter,
// the bus endpoints, and the daily upload task.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/neuralnoy/lokutor-workers/internal/broker"
	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/config"
	"github.com/neuralnoy/lokutor-workers/internal/llm"
	"github.com/neuralnoy/lokutor-workers/internal/llm/anthropic"
	"github.com/neuralnoy/lokutor-workers/internal/llm/openai"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
	"github.com/neuralnoy/lokutor-workers/internal/worker"
)

// InitObservability sets up logging and the OTel exporters; the returned
// shutdown func flushes both.
func InitObservability(ctx context.Context, cfg config.Config) (func(context.Context) error, error) {
	otelService := ""
	if cfg.Service.OTLP != "" {
		otelService = cfg.Service.Name
	}
	observability.InitLogger(cfg.Service.LogPath, cfg.Service.LogLevel, otelService)
	return observability.InitOTel(ctx, cfg.Service)
}

// BrokerClient builds the token broker client. In embedded mode the broker
// lives in this process: its sweep goroutine is started under ctx and its
// gauges registered.
func BrokerClient(ctx context.Context, cfg config.Config) (brokerclient.Client, error) {
	switch cfg.Broker.Mode {
	case "embedded":
		b := broker.New(cfg.Broker.TokensPerMinute, broker.Options{ReservationTTL: cfg.Broker.ReservationTTL})
		b.StartSweep(ctx)
		if err := b.RegisterMetrics(); err != nil {
			log.Warn().Err(err).Msg("broker metrics registration failed")
		}
		return &brokerclient.Embedded{Broker: b}, nil
	case "http":
		return brokerclient.NewHTTP(cfg.Broker.URL), nil
	default:
		return nil, fmt.Errorf("unknown broker mode %q", cfg.Broker.Mode)
	}
}

// LLMAdapter assembles the configured completion provider with its
// tokenizer and the broker client.
func LLMAdapter(cfg config.Config, client brokerclient.Client) (*llm.Adapter, error) {
	adapter := &llm.Adapter{
		Client: client,
		AppID:  cfg.Broker.AppID,
		Model:  cfg.LLM.Model,
	}
	cache := llm.NewTokenCache(llm.TokenCacheConfig{})

	switch cfg.LLM.Provider {
	case "openai":
		provider := openai.New(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, nil)
		adapter.Provider = provider
		tz, err := openai.NewTiktokenTokenizer(cfg.LLM.Model, cache)
		if err != nil {
			log.Warn().Err(err).Str("model", cfg.LLM.Model).Msg("tokenizer unavailable, using heuristic estimation")
		} else {
			adapter.Tokenizer = tz
		}
	case "anthropic":
		provider := anthropic.New(anthropic.Config{
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			MaxTokens: cfg.LLM.MaxTokens,
		}, nil)
		adapter.Provider = provider
		adapter.Tokenizer = anthropic.NewMessagesTokenizer(provider.SDK(), cfg.LLM.Model, cache)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	return adapter, nil
}

// StateStore selects Redis when configured, the in-process store otherwise.
func StateStore(cfg config.Config) (bus.StateStore, error) {
	if cfg.Bus.RedisAddr == "" {
		log.Info().Msg("no redis configured, daily-task state is process-local")
		return bus.NewMemoryStateStore(), nil
	}
	return bus.NewRedisStateStore(cfg.Bus.RedisAddr)
}

// DailyUpload builds the scheduled log-upload side-task, or nil when the
// deployment does not configure one.
func DailyUpload(cfg config.Config, store bus.StateStore) *worker.DailyTask {
	if cfg.Worker.LogUploadURL == "" || cfg.Service.LogPath == "" {
		return nil
	}

	var commands bus.Receiver
	var markers bus.Sender
	if cfg.Bus.CommandQueue != "" {
		commands = bus.NewKafkaReceiver(cfg.Bus.Brokers, cfg.Bus.GroupID+"-commands", cfg.Bus.CommandQueue)
		markers = bus.NewKafkaSender(cfg.Bus.Brokers, cfg.Bus.CommandQueue)
	} else {
		q := bus.NewMemoryQueue()
		commands, markers = q, q
	}

	return &worker.DailyTask{
		TargetTime: cfg.Worker.UploadTime,
		Upload:     worker.LogUploader(cfg.Service.LogPath, cfg.Worker.LogUploadURL),
		Commands:   commands,
		Markers:    markers,
		State:      store,
		StateKey:   cfg.Service.Name + ":last_upload_day",
	}
}
