// Package feedback implements the text feedback classification worker
// family: one bus message in, one classified envelope out.
package feedback

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
	TaskID   string `json:"taskId,omitempty"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Output is the result envelope published to the out queue.
type Output struct {
	ID               string `json:"id"`
	TaskID           string `json:"taskId,omitempty"`
	Hashtag          string `json:"hashtag"`
	Category         string `json:"category"`
	Summary          string `json:"summary"`
	AIHashtag        string `json:"ai_hashtag"`
	ContainsPIIOrCID string `json:"contains_pii_or_cid"`
	Message          string `json:"message"`
}

var hashtagRe = regexp.MustCompile(`^#\w+$`)

// ModelResult is the schema-validated structure the model must return.
type ModelResult struct {
	Summary          string `json:"summary"`
	Hashtag          string `json:"hashtag"`
	AIHashtag        string `json:"ai_hashtag"`
	ContainsPIIOrCID string `json:"contains_pii_or_cid"`
	Category         string `json:"category"`
}

func (r ModelResult) Validate() error {
	if n := len([]rune(r.Summary)); n < 5 || n > 500 {
		return fmt.Errorf("summary length %d outside [5,500]", n)
	}
	if !hashtagRe.MatchString(r.Hashtag) {
		return fmt.Errorf("hashtag %q does not match ^#\\w+$", r.Hashtag)
	}
	if !hashtagRe.MatchString(r.AIHashtag) {
		return fmt.Errorf("ai_hashtag %q does not match ^#\\w+$", r.AIHashtag)
	}
	if r.ContainsPIIOrCID != "Yes" && r.ContainsPIIOrCID != "No" {
		return fmt.Errorf("contains_pii_or_cid must be Yes or No, got %q", r.ContainsPIIOrCID)
	}
	return nil
}

const systemPrompt = `You classify customer feedback for a banking app.
Summarize the feedback with all personal data removed, assign the best
matching hashtag from the allowed list, invent one free-form AI hashtag,
and flag whether the original text contains PII or a customer ID.
Respond with a single JSON object with the keys: summary, hashtag,
ai_hashtag, contains_pii_or_cid, category.`

const userPromptTemplate = `Allowed hashtags:
{{hashtags}}

Feedback (language: {{language}}):
{{text}}`

// Processor drives the LLM adapter for one feedback message. The hashtag to
// category mapping is supplied at construction; it is opaque runtime input,
// not something this package defines.
type Processor struct {
	Adapter    *llm.Adapter
	Broker     brokerclient.Client
	Hashtags   map[string]string // hashtag -> category
	MaxRetries int               // rate-limit retries, default 3
}

// Handle implements worker.Handler. Every consumed message produces an
// envelope; classification failures come back as message="failed".
func (p *Processor) Handle(ctx context.Context, msg bus.Message) ([]byte, error) {
	log := observability.LoggerWithTrace(ctx)

	var in Input
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		log.Error().Err(err).Msg("malformed feedback payload")
		return marshalOutput(failedOutput(extractIDs(msg.Value), fmt.Sprintf("invalid message payload: %v", err)))
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
				"hashtags": p.hashtagList(),
				"language": in.Language,
				"text":     in.Text,
			},
		})
	})
	if err != nil {
		log.Error().Err(err).Str("id", in.ID).Msg("feedback classification failed")
		return marshalOutput(failedOutput(in, fmt.Sprintf("processing error: %v", err)))
	}

	category := result.Category
	if mapped, ok := p.Hashtags[result.Hashtag]; ok {
		category = mapped
	}

	log.Info().
		Str("id", in.ID).
		Str("hashtag", result.Hashtag).
		Str("contains_pii_or_cid", result.ContainsPIIOrCID).
		Msg("feedback classified")

	return marshalOutput(Output{
		ID:               in.ID,
		TaskID:           in.TaskID,
		Hashtag:          result.Hashtag,
		Category:         category,
		Summary:          result.Summary,
		AIHashtag:        result.AIHashtag,
		ContainsPIIOrCID: result.ContainsPIIOrCID,
		Message:          "SUCCESS",
	})
}

func (p *Processor) hashtagList() string {
	tags := make([]string, 0, len(p.Hashtags))
	for tag, category := range p.Hashtags {
		tags = append(tags, fmt.Sprintf("%s (%s)", tag, category))
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
		Hashtag:          "#error",
		AIHashtag:        "#error",
		Summary:          reason,
		ContainsPIIOrCID: "No",
		Message:          "failed",
	}
}

// extractIDs makes a best effort at recovering id/taskId from an otherwise
// unparseable payload so the failure envelope stays correlatable.
func extractIDs(raw []byte) Input {
	var partial Input
	_ = json.Unmarshal(raw, &partial)
	return partial
}

func marshalOutput(out Output) ([]byte, error) {
	return json.Marshal(out)
}
