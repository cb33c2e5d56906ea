package llm

import (
	"context"

	"github.com/neuralnoy/lokutor-workers/internal/util"
)

// Tokenizer provides accurate token counting for a specific provider.
type Tokenizer interface {
	// CountTokens returns the number of tokens in the given text.
	// Returns an error if tokenization fails.
	CountTokens(ctx context.Context, text string) (int, error)

	// CountMessagesTokens returns token count for a conversation.
	// Whether message formatting overhead (roles, separators) is included
	// depends on the implementation; the tiktoken one sums content only.
	CountMessagesTokens(ctx context.Context, msgs []Message) (int, error)
}

// TokenizableProvider is an optional interface that providers can implement
// to offer accurate token counting.
type TokenizableProvider interface {
	Provider
	Tokenizer() Tokenizer
}

// EstimateTokens provides a heuristic fallback when accurate tokenization
// is unavailable. It takes the larger of the chars/4 approximation and the
// word-plus-punctuation count; under-estimating admission charges is the
// failure mode to avoid.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	byChars := len([]rune(s))/4 + 1
	if byWords := util.CountTokens(s); byWords > byChars {
		return byWords
	}
	return byChars
}

// EstimateTokensForMessages provides a rough token estimate for a slice
// of messages by summing EstimateTokens over their content.
func EstimateTokensForMessages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	return total
}
