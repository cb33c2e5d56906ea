// Package worker runs the long-lived consume/process/publish loop shared by
// all three worker families. Messages are acknowledged before processing
// (at-most-once): a crash between ack and publish loses that result, which
// is the accepted trade-off against redelivering poison messages forever.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Handler processes one message and returns the serialized result envelope
// to publish. Handlers own their failure envelopes: a parse error or a
// processing failure should come back as a "failed" envelope, not an error.
// A non-nil error with a nil envelope means nothing publishable exists; the
// message is dropped after logging.
type Handler func(ctx context.Context, msg bus.Message) ([]byte, error)

// Config tunes one loop instance; zero values select defaults.
type Config struct {
	BatchSize      int           // messages per fetch (default 10)
	FetchWait      time.Duration // max wait for a batch (default 3s)
	HandlerTimeout time.Duration // hard wall-clock budget per message (default 5m)
	MinSleep       time.Duration // sleep after a productive batch (default 1s)
	MaxSleep       time.Duration // idle sleep ceiling (default 10s)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 3 * time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 5 * time.Minute
	}
	if c.MinSleep <= 0 {
		c.MinSleep = time.Second
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = 10 * time.Second
	}
	return c
}

// Loop ties a receiver, a handler, and a sender together.
type Loop struct {
	Receiver bus.Receiver
	Sender   bus.Sender
	Handler  Handler
	Config   Config
	Daily    *DailyTask // optional scheduled side-task

	received int64
	sent     int64
}

// Run consumes until ctx is canceled. The poll sleep adapts to load: one
// second while messages flow, stretching by a second per empty batch up to
// the ceiling.
func (l *Loop) Run(ctx context.Context) error {
	cfg := l.Config.withDefaults()
	log := observability.LoggerWithTrace(ctx)

	meter := otel.Meter("worker")
	receivedCtr, _ := meter.Int64Counter("worker.messages_received")
	sentCtr, _ := meter.Int64Counter("worker.messages_sent")

	sleep := cfg.MinSleep
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := l.Receiver.Fetch(ctx, cfg.BatchSize, cfg.FetchWait)
		if err != nil {
			log.Error().Err(err).Msg("fetch batch failed")
		}

		processed := 0
		if len(msgs) > 0 {
			// Ack first: at-most-once by design. The loop never holds
			// receive credits while waiting on a backend.
			for _, m := range msgs {
				if err := l.Receiver.Ack(ctx, m); err != nil {
					log.Error().Err(err).Msg("ack failed")
				}
				atomic.AddInt64(&l.received, 1)
				if receivedCtr != nil {
					receivedCtr.Add(ctx, 1)
				}
			}

			// Acked messages are processed to completion even if shutdown
			// starts mid-batch; only the per-message timeout bounds them.
			detached := context.WithoutCancel(ctx)
			var g errgroup.Group
			g.SetLimit(cfg.BatchSize)
			for _, m := range msgs {
				g.Go(func() error {
					l.handleOne(detached, cfg, m, sentCtr)
					return nil
				})
			}
			_ = g.Wait()
			processed = len(msgs)
		}

		if l.Daily != nil {
			l.Daily.Tick(ctx)
		}

		if processed > 0 {
			sleep = cfg.MinSleep
		} else if sleep < cfg.MaxSleep {
			sleep += time.Second
			if sleep > cfg.MaxSleep {
				sleep = cfg.MaxSleep
			}
		}
		log.Debug().Int("processed", processed).Dur("sleep", sleep).Msg("batch complete")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// handleOne runs the handler under the per-message wall-clock budget and
// publishes whatever envelope comes back. Panics are contained: one broken
// message must not take the loop down.
func (l *Loop) handleOne(ctx context.Context, cfg Config, msg bus.Message, sentCtr otelmetric.Int64Counter) {
	log := observability.LoggerWithTrace(ctx)

	hctx, cancel := context.WithTimeout(ctx, cfg.HandlerTimeout)
	defer cancel()

	envelope, err := func() (out []byte, err error) {
		defer func() {
			if r := recover(); r != nil {
				out, err = nil, fmt.Errorf("handler panic: %v", r)
			}
		}()
		return l.Handler(hctx, msg)
	}()

	if err != nil {
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			log.Error().Err(err).Dur("timeout", cfg.HandlerTimeout).Msg("handler exceeded wall-clock budget")
		} else {
			log.Error().Err(err).Msg("handler failed without a publishable envelope")
		}
		if envelope == nil {
			return
		}
	}
	if envelope == nil {
		return
	}

	if err := l.Sender.Send(ctx, "", envelope); err != nil {
		log.Error().Err(err).Msg("publish result failed")
		return
	}
	log.Debug().RawJSON("envelope", observability.RedactJSON(envelope)).Msg("published result")
	l.addSent(ctx, sentCtr)
}

func (l *Loop) addSent(ctx context.Context, sentCtr otelmetric.Int64Counter) {
	atomic.AddInt64(&l.sent, 1)
	if sentCtr != nil {
		sentCtr.Add(ctx, 1)
	}
}

// Stats reports lifetime counters, primarily for tests.
func (l *Loop) Stats() (received, sent int64) {
	return atomic.LoadInt64(&l.received), atomic.LoadInt64(&l.sent)
}
