package openai

import (
	"context"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/neuralnoy/lokutor-workers/internal/llm"
)

// TiktokenTokenizer implements llm.Tokenizer with a local BPE encoder, so
// token estimation never costs a network round-trip. Unknown models fall
// back to the cl100k_base encoding.
type TiktokenTokenizer struct {
	codec tokenizer.Codec
	cache *llm.TokenCache
}

// NewTiktokenTokenizer resolves the encoder for model. Azure deployment
// names often embed the base model name, so an exact-model miss retries
// with the generic encoding rather than failing.
func NewTiktokenTokenizer(model string, cache *llm.TokenCache) (*TiktokenTokenizer, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return nil, err
		}
	}
	return &TiktokenTokenizer{codec: codec, cache: cache}, nil
}

// CountTokens counts tokens for a single text string.
func (t *TiktokenTokenizer) CountTokens(_ context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	if t.cache != nil {
		if count, ok := t.cache.Get(text); ok {
			return count, nil
		}
	}
	count, err := t.codec.Count(text)
	if err != nil {
		return 0, err
	}
	if t.cache != nil {
		t.cache.Set(text, count)
	}
	return count, nil
}

// CountMessagesTokens sums the content token counts of a conversation.
// Framing overhead is added by the estimation layer, not here.
func (t *TiktokenTokenizer) CountMessagesTokens(ctx context.Context, msgs []llm.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		n, err := t.CountTokens(ctx, m.Content)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

var _ llm.Tokenizer = (*TiktokenTokenizer)(nil)
