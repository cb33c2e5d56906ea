// The audio worker consumes call recording jobs, runs the stereo
// transcription pipeline, and publishes diarized transcripts.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuralnoy/lokutor-workers/internal/app"
	"github.com/neuralnoy/lokutor-workers/internal/audio"
	"github.com/neuralnoy/lokutor-workers/internal/audioworker"
	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/config"
	"github.com/neuralnoy/lokutor-workers/internal/stt"
	"github.com/neuralnoy/lokutor-workers/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Service.Name == "lokutor-worker" {
		cfg.Service.Name = "audio-worker"
	}
	if err := cfg.RequireQueues(); err != nil {
		log.Fatal().Err(err).Msg("queue configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := app.InitObservability(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init observability")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(shCtx)
	}()

	client, err := app.BrokerClient(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init broker client")
	}

	var backend stt.Backend
	switch cfg.STT.Provider {
	case "local":
		local, err := stt.NewLocal(cfg.STT.ModelPath)
		if err != nil {
			log.Fatal().Err(err).Msg("init local whisper backend")
		}
		defer local.Close()
		backend = local
	default:
		backend = stt.NewRemote(stt.RemoteConfig{
			URL:    cfg.STT.URL,
			APIKey: cfg.STT.APIKey,
			Model:  cfg.STT.Model,
		}, nil)
	}

	sttAdapter := &stt.Adapter{
		Backend:       backend,
		Client:        client,
		AppID:         cfg.Broker.AppID,
		TokenEstimate: cfg.STT.TokenEstimate,
	}

	pipeline := &audio.Pipeline{
		Downloader:    audio.NewDownloader(cfg.Audio.MaxDownloadMB * 1024 * 1024),
		Preprocessor:  &audio.Preprocessor{},
		Chunker:       &audio.Chunker{MaxChunkMB: cfg.Audio.MaxChunkMB},
		Fanout:        &audio.Fanout{STT: sttAdapter, Broker: client, MaxInFlight: int64(cfg.STT.MaxConcurrent)},
		Diarizer:      &audio.Diarizer{},
		PostProcessor: &audio.PostProcessor{},
	}

	store, err := app.StateStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init state store")
	}

	receiver := bus.NewKafkaReceiver(cfg.Bus.Brokers, cfg.Bus.GroupID, cfg.Bus.InQueue)
	defer receiver.Close()
	sender := bus.NewKafkaSender(cfg.Bus.Brokers, cfg.Bus.OutQueue)
	defer sender.Close()

	handler := &audioworker.Handler{Pipeline: pipeline}

	loop := &worker.Loop{
		Receiver: receiver,
		Sender:   sender,
		Handler:  handler.Handle,
		Config: worker.Config{
			BatchSize:      cfg.Worker.BatchSize,
			HandlerTimeout: cfg.Worker.HandlerTimeout,
		},
		Daily: app.DailyUpload(cfg, store),
	}

	log.Info().
		Str("in_queue", cfg.Bus.InQueue).
		Str("out_queue", cfg.Bus.OutQueue).
		Str("stt_provider", cfg.STT.Provider).
		Int("stt_max_concurrent", cfg.STT.MaxConcurrent).
		Msg("audio worker starting")
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("worker loop exited")
	}
	log.Info().Msg("audio worker stopped")
}
