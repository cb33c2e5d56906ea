package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrompt(t *testing.T) {
	msgs, err := FormatPrompt(
		"You are a classifier.",
		"Classify: {{text}} (language: {{lang}})",
		map[string]string{"text": "great app", "lang": "en"},
		[]Message{
			{Role: "user", Content: "Classify: terrible"},
			{Role: "assistant", Content: "#complaint"},
		},
	)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "user", msgs[1].Role)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "Classify: great app (language: en)", msgs[3].Content)
}

func TestFormatPromptMissingVariable(t *testing.T) {
	_, err := FormatPrompt("sys", "Hello {{name}}, you are {{age}}", map[string]string{"name": "x"}, nil)
	require.Error(t, err)
	var te *TemplateError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, []string{"age"}, te.Missing)
}

func TestFormatPromptNoVariables(t *testing.T) {
	msgs, err := FormatPrompt("sys", "plain prompt", nil, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "plain prompt", msgs[1].Content)
}

func TestEstimateRequestTokens(t *testing.T) {
	msgs := []Message{
		{Role: "system", Content: "12345678"}, // 2 heuristic tokens + 1
		{Role: "user", Content: "1234"},       // 1 heuristic token + 1
	}
	// Heuristic: len/4+1 per message content, +4 framing each, +3 priming, +maxTokens.
	got := EstimateRequestTokens(t.Context(), nil, msgs, 100)
	want := 3 + (3 + 4) + (2 + 4) + 100
	assert.Equal(t, want, got)
}

func TestEstimateRequestTokensDefaultBudget(t *testing.T) {
	got := EstimateRequestTokens(t.Context(), nil, nil, 0)
	assert.Equal(t, 3+DefaultMaxCompletionTokens, got)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
