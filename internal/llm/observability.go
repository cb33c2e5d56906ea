package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce         sync.Once
	completionCounter   otelmetric.Int64Counter
	promptTokenCounter  otelmetric.Int64Counter
	completionTokCtr    otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("llm")
	completionCounter, _ = meter.Int64Counter("llm.completions",
		otelmetric.WithDescription("Completed chat completion calls by model"))
	promptTokenCounter, _ = meter.Int64Counter("llm.prompt_tokens",
		otelmetric.WithDescription("Cumulative prompt tokens by model"))
	completionTokCtr, _ = meter.Int64Counter("llm.completion_tokens",
		otelmetric.WithDescription("Cumulative completion tokens by model"))
}

// recordCompletion accumulates per-model usage counters. Instrument creation
// failures leave nil counters; observability must never fail a completion.
func recordCompletion(ctx context.Context, model string, usage Usage) {
	metricsOnce.Do(initMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("model", model))
	if completionCounter != nil {
		completionCounter.Add(ctx, 1, attrs)
	}
	if promptTokenCounter != nil {
		promptTokenCounter.Add(ctx, int64(usage.PromptTokens), attrs)
	}
	if completionTokCtr != nil {
		completionTokCtr.Add(ctx, int64(usage.CompletionTokens), attrs)
	}
}
