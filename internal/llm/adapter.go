package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Request is one completion call. Vars are substituted into UserPrompt;
// Examples are optional few-shot turns inserted between system and user.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Vars         map[string]string
	Examples     []Message
	MaxTokens    int // 0 means DefaultMaxCompletionTokens
}

// Adapter runs completion calls under broker admission: estimate, lock, call
// the provider, then commit actual usage or release on failure. It does not
// retry rate-limit denials itself; callers wrap invocations with retry.Do so
// the wait policy stays in one place.
type Adapter struct {
	Provider  Provider
	Tokenizer Tokenizer // optional; nil falls back to the heuristic
	Client    brokerclient.Client
	AppID     string
	Model     string

	// SchemaRetries bounds the internal re-ask loop of structured mode.
	SchemaRetries int
}

// Complete formats the prompt and returns the raw textual content.
func (a *Adapter) Complete(ctx context.Context, req Request) (string, error) {
	msgs, err := FormatPrompt(req.SystemPrompt, req.UserPrompt, req.Vars, req.Examples)
	if err != nil {
		return "", err
	}
	return a.complete(ctx, msgs, req.MaxTokens)
}

func (a *Adapter) complete(ctx context.Context, msgs []Message, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxCompletionTokens
	}
	est := EstimateRequestTokens(ctx, a.Tokenizer, msgs, maxTokens)

	res, err := a.Client.Lock(ctx, a.AppID, est)
	if err != nil {
		return "", &BackendError{Op: "broker lock", Err: err}
	}
	if err := brokerclient.DenialError(a.AppID, est, res); err != nil {
		return "", err
	}

	log := observability.LoggerWithTrace(ctx)
	content, usage, err := a.Provider.Chat(ctx, msgs, a.Model)
	if err != nil {
		// The release must go through even when ctx was the reason we failed.
		if relErr := a.Client.Release(context.WithoutCancel(ctx), a.AppID, res.RequestID); relErr != nil {
			log.Warn().Err(relErr).Str("request_id", res.RequestID).Msg("release after failed completion")
		}
		return "", &BackendError{Op: "chat completion", Err: err}
	}

	if err := a.Client.Commit(ctx, a.AppID, res.RequestID, usage.PromptTokens, usage.CompletionTokens); err != nil {
		// Window accounting stays correct on the broker side; the sweep
		// reclaims anything left behind.
		log.Warn().Err(err).Str("request_id", res.RequestID).Msg("commit after completion")
	}
	recordCompletion(ctx, a.Model, usage)
	return content, nil
}

// Validator is implemented by structured response types; Validate runs after
// JSON decoding and rejects out-of-contract values.
type Validator interface {
	Validate() error
}

// CompleteStructured runs the call in schema-validated mode: the model's
// output is decoded into T and validated. Validation failures are re-asked up
// to SchemaRetries times with the validation error appended, each attempt
// re-running the full estimate/lock/call/commit cycle. Broker denials and
// backend errors are not consumed by this loop.
func CompleteStructured[T Validator](ctx context.Context, a *Adapter, req Request) (T, error) {
	var zero T

	msgs, err := FormatPrompt(req.SystemPrompt, req.UserPrompt, req.Vars, req.Examples)
	if err != nil {
		return zero, err
	}

	retries := a.SchemaRetries
	if retries <= 0 {
		retries = 2
	}

	var lastErr error
	attempt := msgs
	for i := 0; i <= retries; i++ {
		content, err := a.complete(ctx, attempt, req.MaxTokens)
		if err != nil {
			return zero, err
		}

		out, err := decodeStructured[T](content)
		if err == nil {
			return out, nil
		}
		lastErr = err
		observability.LoggerWithTrace(ctx).Warn().
			Err(err).
			Int("attempt", i+1).
			Msg("structured response failed validation, re-asking")

		attempt = append(append([]Message{}, msgs...),
			Message{Role: "assistant", Content: content},
			Message{Role: "user", Content: fmt.Sprintf(
				"The previous response was invalid: %v. Respond again with only a valid JSON object.", err)},
		)
	}
	return zero, fmt.Errorf("structured response invalid after %d attempts: %w", retries+1, lastErr)
}

func decodeStructured[T Validator](content string) (T, error) {
	var out T
	raw := stripCodeFence(content)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("decode structured response: %w", err)
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}

// stripCodeFence unwraps ```json ... ``` fencing that chat models like to
// wrap around JSON answers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
