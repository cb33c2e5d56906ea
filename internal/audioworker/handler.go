// Package audioworker is the worker family that turns call recordings into
// diarized transcripts by driving the audio pipeline.
package audioworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/neuralnoy/lokutor-workers/internal/audio"
	"github.com/neuralnoy/lokutor-workers/internal/bus"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Input is the bus message for this family.
type Input struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	Language      string `json:"language,omitempty"`
	ClientManager string `json:"client_manager,omitempty"`
}

// Output is the result envelope published to the out queue.
type Output struct {
	ID             string                         `json:"id"`
	Filename       string                         `json:"filename"`
	Transcription  string                         `json:"transcription"`
	Conversation   []audio.Turn                   `json:"conversation,omitempty"`
	SpeakerSummary map[string]audio.SpeakerStats  `json:"speaker_summary,omitempty"`
	TimingSummary  *audio.TimingSummary           `json:"timing_summary,omitempty"`
	Confidence     float64                        `json:"confidence"`
	Diarization    bool                           `json:"diarization"`
	Metadata       *audio.ProcessingMetadata      `json:"processing_metadata,omitempty"`
	Message        string                         `json:"message"`
}

// Handler runs the pipeline for one recording.
type Handler struct {
	Pipeline *audio.Pipeline
}

// Handle implements worker.Handler. Pipeline failures become "failed"
// envelopes that preserve id and filename.
func (h *Handler) Handle(ctx context.Context, msg bus.Message) ([]byte, error) {
	log := observability.LoggerWithTrace(ctx)

	var in Input
	if err := json.Unmarshal(msg.Value, &in); err != nil {
		log.Error().Err(err).Msg("malformed audio payload")
		var partial Input
		_ = json.Unmarshal(msg.Value, &partial)
		return marshalFailed(partial, fmt.Sprintf("invalid message payload: %v", err))
	}
	if in.ID == "" || in.Filename == "" {
		return marshalFailed(in, "missing id or filename")
	}

	res, err := h.Pipeline.Run(ctx, in.Filename, in.Language)
	if err != nil {
		log.Error().Err(err).Str("id", in.ID).Str("filename", in.Filename).Msg("audio pipeline failed")
		out := Output{
			ID:          in.ID,
			Filename:    in.Filename,
			Diarization: res.Diarization,
			Metadata:    &res.Metadata,
			Message:     "failed",
		}
		return json.Marshal(out)
	}

	log.Info().
		Str("id", in.ID).
		Str("filename", in.Filename).
		Bool("diarization", res.Diarization).
		Float64("confidence", res.Transcript.Confidence).
		Msg("audio transcription complete")

	out := Output{
		ID:             in.ID,
		Filename:       in.Filename,
		Transcription:  res.Transcript.Text,
		Conversation:   res.Transcript.Conversation,
		SpeakerSummary: res.Transcript.SpeakerSummary,
		TimingSummary:  &res.Transcript.Timing,
		Confidence:     res.Transcript.Confidence,
		Diarization:    res.Diarization,
		Metadata:       &res.Metadata,
		Message:        "SUCCESS",
	}
	return json.Marshal(out)
}

func marshalFailed(in Input, reason string) ([]byte, error) {
	id := in.ID
	if id == "" {
		id = "unknown"
	}
	out := Output{
		ID:            id,
		Filename:      in.Filename,
		Transcription: reason,
		Message:       "failed",
	}
	return json.Marshal(out)
}
