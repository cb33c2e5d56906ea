// Package reasoner implements the call-transcript reasoning worker family:
// it derives the call reason from a conversation transcript.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/llm"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
	"github.com/neuralnoy/lokutor-workers/internal/retry"
)

// Input is the bus message for this family.
type Input struct {
	ID       string `json:"id"`
	TaskID   string `json:"taskId"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Output is the result envelope published to the out queue. This is the
// small canonical schema; the large 25-field variant stays an external
// extension.
type Output struct {
	ID               string `json:"id"`
	TaskID           string `json:"taskId"`
	Summary          string `json:"summary"`
	Reason           string `json:"reason"`
	AIReason         string `json:"ai_reason"`
	ContainsPIIOrCID string `json:"contains_pii_or_cid"`
	Message          string `json:"message"`
}

var reasonRe = regexp.MustCompile(`^#\w+$`)

// ModelResult is the schema-validated structure the model must return.
type ModelResult struct {
	Summary          string `json:"summary"`
	Reason           string `json:"reason"`
	AIReason         string `json:"ai_reason"`
	ContainsPIIOrCID string `json:"contains_pii_or_cid"`
}

func (r ModelResult) Validate() error {
	if n := len([]rune(r.Summary)); n < 5 || n > 500 {
		return fmt.Errorf("summary length %d outside [5,500]", n)
	}
	if !reasonRe.MatchString(r.Reason) {
		return fmt.Errorf("reason %q does not match ^#\\w+$", r.Reason)
	}
	if !reasonRe.MatchString(r.AIReason) {
		return fmt.Errorf("ai_reason %q does not match ^#\\w+$", r.AIReason)
	}
	if r.ContainsPIIOrCID != "Yes" && r.ContainsPIIOrCID != "No" {
		return fmt.Errorf("contains_pii_or_cid must be Yes or No, got %q", r.ContainsPIIOrCID)
	}
	return nil
}

const systemPrompt = `You analyze transcripts of customer support calls for
a banking app. Summarize the call with all personal data removed, pick the
call reason from the allowed list, invent one free-form AI reason tag, and
flag whether the transcript contains PII or a customer ID.
Respond with a single JSON object with the keys: summary, reason,
ai_reason, contains_pii_or_cid.`

const userPromptTemplate = `Allowed reasons:
{{reasons}}

Call transcript (language: {{language}}):
{{text}}`

// Processor drives the LLM adapter for one call transcript. The reason
// mapping is opaque runtime input, same as the feedback hashtag table.
type Processor struct {
	Adapter    *llm.Adapter
	Broker     brokerclient.Client
	Reasons    map[string]string // reason tag -> display name
	MaxRetries int               // rate-limit retries, default 3
}

// Handle implements worker.Handler.
func (p *Processor) Handle(ctx context.Context, msg bus.Message) ([]byte, error) {
	log := observability.LoggerWithTrace(ctx)

	var in Input
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		log.Error().Err(err).Msg("malformed reasoner payload")
		var partial Input
		_ = json.Unmarshal(msg.Value, &partial)
		return marshalOutput(failedOutput(partial, fmt.Sprintf("invalid message payload: %v", err)))
	}
	if in.ID == "" {
		return marshalOutput(failedOutput(in, "missing id"))
	}

	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	result, err := retry.Do(ctx, p.Broker, maxRetries, func(ctx context.Context) (ModelResult, error) {
		return llm.CompleteStructured[ModelResult](ctx, p.Adapter, llm.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   userPromptTemplate,
			Vars: map[string]string{
				"reasons":  p.reasonList(),
				"language": in.Language,
				"text":     in.Text,
			},
		})
	})
	if err != nil {
		log.Error().Err(err).Str("id", in.ID).Msg("call reasoning failed")
		return marshalOutput(failedOutput(in, fmt.Sprintf("processing error: %v", err)))
	}

	log.Info().
		Str("id", in.ID).
		Str("reason", result.Reason).
		Str("contains_pii_or_cid", result.ContainsPIIOrCID).
		Msg("call reasoned")

	return marshalOutput(Output{
		ID:               in.ID,
		TaskID:           in.TaskID,
		Summary:          result.Summary,
		Reason:           result.Reason,
		AIReason:         result.AIReason,
		ContainsPIIOrCID: result.ContainsPIIOrCID,
		Message:          "SUCCESS",
	})
}

func (p *Processor) reasonList() string {
	tags := make([]string, 0, len(p.Reasons))
	for tag, name := range p.Reasons {
		tags = append(tags, fmt.Sprintf("%s (%s)", tag, name))
	}
	sort.Strings(tags)
	return strings.Join(tags, "\n")
}

func failedOutput(in Input, reason string) Output {
	id := in.ID
	if id == "" {
		id = "unknown"
	}
	return Output{
		ID:               id,
		TaskID:           in.TaskID,
		Summary:          reason,
		Reason:           "#error",
		AIReason:         "#error",
		ContainsPIIOrCID: "No",
		Message:          "failed",
	}
}

func marshalOutput(out Output) ([]byte, error) {
	return json.Marshal(out)
}
