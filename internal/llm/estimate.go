package llm

import "context"

const (
	// Chat framing overhead per message (role markers and separators).
	perMessageOverhead = 4
	// Every reply is primed with a start-of-assistant marker.
	replyPriming = 3

	// DefaultMaxCompletionTokens is budgeted when the caller does not set one.
	DefaultMaxCompletionTokens = 1000
)

// EstimateRequestTokens computes the token estimate presented to the broker:
// per-message content cost plus framing overhead, reply priming, and the full
// completion budget. When tz is nil or fails, the heuristic fallback is used
// so admission control keeps working against unknown models.
func EstimateRequestTokens(ctx context.Context, tz Tokenizer, msgs []Message, maxTokens int) int {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxCompletionTokens
	}

	total := replyPriming
	for _, m := range msgs {
		n := 0
		if tz != nil {
			if c, err := tz.CountTokens(ctx, m.Content); err == nil {
				n = c
			}
		}
		if n == 0 && m.Content != "" {
			n = EstimateTokens(m.Content)
		}
		total += n + perMessageOverhead
	}
	return total + maxTokens
}
