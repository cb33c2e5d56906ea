// The reasoner worker consumes call transcripts and derives the call reason
// through the shared LLM backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuralnoy/lokutor-workers/internal/app"
	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/config"
	"github.com/neuralnoy/lokutor-workers/internal/reasoner"
	"github.com/neuralnoy/lokutor-workers/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Service.Name == "lokutor-worker" {
		cfg.Service.Name = "reasoner-worker"
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
	adapter, err := app.LLMAdapter(cfg, client)
	if err != nil {
		log.Fatal().Err(err).Msg("init llm adapter")
	}

	mappingPath := os.Getenv("REASON_MAPPING_PATH")
	if mappingPath == "" {
		log.Fatal().Msg("REASON_MAPPING_PATH must point at the reason mapping file")
	}
	reasons, err := reasoner.LoadReasons(mappingPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load reason mapping")
	}

	store, err := app.StateStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init state store")
	}

	receiver := bus.NewKafkaReceiver(cfg.Bus.Brokers, cfg.Bus.GroupID, cfg.Bus.InQueue)
	defer receiver.Close()
	sender := bus.NewKafkaSender(cfg.Bus.Brokers, cfg.Bus.OutQueue)
	defer sender.Close()

	processor := &reasoner.Processor{
		Adapter: adapter,
		Broker:  client,
		Reasons: reasons,
	}

	loop := &worker.Loop{
		Receiver: receiver,
		Sender:   sender,
		Handler:  processor.Handle,
		Config: worker.Config{
			BatchSize:      cfg.Worker.BatchSize,
			HandlerTimeout: cfg.Worker.HandlerTimeout,
		},
		Daily: app.DailyUpload(cfg, store),
	}

	log.Info().
		Str("in_queue", cfg.Bus.InQueue).
		Str("out_queue", cfg.Bus.OutQueue).
		Str("llm_provider", cfg.LLM.Provider).
		Msg("reasoner worker starting")
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("worker loop exited")
	}
	log.Info().Msg("reasoner worker stopped")
}
