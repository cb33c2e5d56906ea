package llm

import "context"

// Message is a portable chat message. The worker families in this repo only
// ever build system/user/assistant turns — no tool calls, no streaming, no
// inline images — so the message shape stays deliberately small.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Usage reports actual token consumption for a single completion call, as
// returned by the backend (not the pre-call estimate used for admission).
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is the minimal surface every LLM backend exposes. Adapter (see
// adapter.go) wraps a Provider with broker admission and schema re-asks;
// rate-limit retries are left to callers (retry.Do).
type Provider interface {
	Chat(ctx context.Context, msgs []Message, model string) (content string, usage Usage, err error)
}
