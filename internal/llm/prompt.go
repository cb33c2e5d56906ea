package llm

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// FormatPrompt assembles the chat message list for a completion call: the
// system prompt, optional few-shot example turns, then the user prompt with
// every {{var}} placeholder substituted. A placeholder with no matching
// entry in vars is a TemplateError.
func FormatPrompt(systemPrompt, userPrompt string, vars map[string]string, examples []Message) ([]Message, error) {
	rendered, missing := substitute(userPrompt, vars)
	if len(missing) > 0 {
		return nil, &TemplateError{Missing: missing}
	}

	msgs := make([]Message, 0, len(examples)+2)
	msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	msgs = append(msgs, examples...)
	msgs = append(msgs, Message{Role: "user", Content: rendered})
	return msgs, nil
}

func substitute(template string, vars map[string]string) (string, []string) {
	var missing []string
	seen := map[string]bool{}
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		key := strings.Trim(m, "{}")
		if v, ok := vars[key]; ok {
			return v
		}
		if !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
		return m
	})
	return out, missing
}
