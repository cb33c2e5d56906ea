// create-topics provisions the Kafka topics the worker families consume and
// publish on. Run once per environment before starting the workers.
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/config"
)

func main() {
	var topicsFlag string
	var partitions int
	var replication int
	flag.StringVar(&topicsFlag, "topics", "", "comma-separated topics to create (defaults to IN_QUEUE,OUT_QUEUE,COMMAND_QUEUE)")
	flag.IntVar(&partitions, "partitions", 1, "partitions per topic")
	flag.IntVar(&replication, "replication", 1, "replication factor per topic")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	var topics []string
	if topicsFlag != "" {
		for _, t := range strings.Split(topicsFlag, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	} else {
		for _, t := range []string{cfg.Bus.InQueue, cfg.Bus.OutQueue, cfg.Bus.CommandQueue} {
			if t != "" {
				topics = append(topics, t)
			}
		}
	}
	if len(topics) == 0 {
		log.Fatal().Msg("no topics to create: pass -topics or set IN_QUEUE/OUT_QUEUE")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := bus.CheckBrokers(ctx, cfg.Bus.Brokers, 10*time.Second); err != nil {
		log.Fatal().Err(err).Msg("kafka brokers unreachable")
	}

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		})
	}
	if err := bus.EnsureTopics(ctx, cfg.Bus.Brokers, configs); err != nil {
		log.Fatal().Err(err).Msg("ensure topics")
	}
	log.Info().Strs("topics", topics).Msg("topics ready")
}
