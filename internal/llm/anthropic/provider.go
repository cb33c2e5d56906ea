// Package anthropic implements the llm.Provider interface against the
// Anthropic Messages API. It is selectable as an alternate completion
// backend; the broker admission discipline is identical to the OpenAI path.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/neuralnoy/lokutor-workers/internal/llm"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

type Config struct {
	APIKey    string
	BaseURL   string // optional
	MaxTokens int
}

type Provider struct {
	sdk       anthropic.Client
	maxTokens int64
}

func New(cfg Config, httpClient *http.Client) *Provider {
	if httpClient == nil {
		httpClient = observability.NewHTTPClient(nil)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int64(llm.DefaultMaxCompletionTokens)
	}
	return &Provider{
		sdk:       anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}
}

// SDK returns the underlying client, for wiring the count_tokens tokenizer.
func (p *Provider) SDK() anthropic.Client { return p.sdk }

// Chat implements llm.Provider. System turns map to the Messages API system
// field; user/assistant turns become text blocks.
func (p *Provider) Chat(ctx context.Context, msgs []llm.Message, model string) (string, llm.Usage, error) {
	system, apiMsgs := adaptMessages(msgs)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  apiMsgs,
		MaxTokens: p.maxTokens,
	}
	if strings.TrimSpace(system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("messages create: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	usage := llm.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	return sb.String(), usage, nil
}

func adaptMessages(msgs []llm.Message) (string, []anthropic.MessageParam) {
	var system string
	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			if strings.TrimSpace(m.Content) != "" {
				params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			}
		default:
			if strings.TrimSpace(m.Content) != "" {
				params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		}
	}
	return system, params
}

var _ llm.Provider = (*Provider)(nil)
