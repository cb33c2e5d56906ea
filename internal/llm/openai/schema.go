package openai

import (
	sdk "github.com/openai/openai-go/v2"

	"github.com/neuralnoy/lokutor-workers/internal/llm"
)

// AdaptMessages converts portable llm.Message history to OpenAI SDK message
// params. The workers only ever build system/user/assistant text turns.
func AdaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			content := m.Content
			if content == "" {
				content = "You are a helpful assistant."
			}
			out = append(out, sdk.SystemMessage(content))
		case "assistant":
			content := m.Content
			if content == "" {
				content = " " // the API rejects empty assistant turns
			}
			out = append(out, sdk.AssistantMessage(content))
		default:
			content := m.Content
			if content == "" {
				content = " "
			}
			out = append(out, sdk.UserMessage(content))
		}
	}
	return out
}
