package reasoner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralnoy/lokutor-workers/internal/broker"
	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/llm"
)

type staticProvider struct {
	reply string
}

func (p *staticProvider) Chat(context.Context, []llm.Message, string) (string, llm.Usage, error) {
	return p.reply, llm.Usage{PromptTokens: 100, CompletionTokens: 40}, nil
}

func newProcessor(reply string) *Processor {
	client := &brokerclient.Embedded{Broker: broker.New(100000, broker.Options{})}
	return &Processor{
		Adapter: &llm.Adapter{
			Provider: &staticProvider{reply: reply},
			Client:   client,
			AppID:    "app_reasoner",
			Model:    "gpt-4",
		},
		Broker: client,
		Reasons: map[string]string{
			"#card_blocked": "Card blocked",
			"#app_login":    "Login trouble",
		},
	}
}

func TestHandleHappyPath(t *testing.T) {
	p := newProcessor(`{"summary":"Customer called about a blocked card","reason":"#card_blocked",` +
		`"ai_reason":"#frozen_card","contains_pii_or_cid":"Yes"}`)

	in, _ := json.Marshal(Input{ID: "c1", TaskID: "t9", Language: "en", Text: "Agent: hello..."})
	raw, err := p.Handle(t.Context(), bus.NewMessage(nil, in))
	require.NoError(t, err)

	var out Output
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "c1", out.ID)
	assert.Equal(t, "t9", out.TaskID)
	assert.Equal(t, "SUCCESS", out.Message)
	assert.Equal(t, "#card_blocked", out.Reason)
	assert.Equal(t, "Yes", out.ContainsPIIOrCID)
}

func TestHandleInvalidReplyFails(t *testing.T) {
	p := newProcessor(`the model rambles instead of emitting JSON`)

	in, _ := json.Marshal(Input{ID: "c2", TaskID: "t1", Language: "en", Text: "..."})
	raw, err := p.Handle(t.Context(), bus.NewMessage(nil, in))
	require.NoError(t, err)

	var out Output
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "failed", out.Message)
	assert.Equal(t, "c2", out.ID)
	assert.Equal(t, "#error", out.Reason)
}

func TestHandleMissingID(t *testing.T) {
	p := newProcessor("")
	in, _ := json.Marshal(Input{TaskID: "t1", Language: "en", Text: "..."})
	raw, err := p.Handle(t.Context(), bus.NewMessage(nil, in))
	require.NoError(t, err)

	var out Output
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "failed", out.Message)
	assert.Equal(t, "unknown", out.ID)
}
