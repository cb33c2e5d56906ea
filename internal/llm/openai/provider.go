// Package openai implements the llm.Provider interface against any
// OpenAI-compatible chat completion endpoint, including Azure deployments
// reachable through a base URL override.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"github.com/neuralnoy/lokutor-workers/internal/llm"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

type Config struct {
	APIKey      string
	BaseURL     string // optional; empty uses the public endpoint
	Temperature float64
	MaxTokens   int
}

type Provider struct {
	client      sdk.Client
	temperature float64
	maxTokens   int
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
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxCompletionTokens
	}
	return &Provider{
		client:      sdk.NewClient(opts...),
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, msgs []llm.Message, model string) (string, llm.Usage, error) {
	params := sdk.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    AdaptMessages(msgs),
		Temperature: param.NewOpt(p.temperature),
		MaxTokens:   param.NewOpt(int64(p.maxTokens)),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.Usage{}, fmt.Errorf("chat completion: no choices returned")
	}

	usage := llm.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}

var _ llm.Provider = (*Provider)(nil)
