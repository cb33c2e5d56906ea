package audio

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// StageError identifies which pipeline stage failed; the orchestrator
// short-circuits on the first one and the worker emits a failed envelope.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ProcessingMetadata records how far a run got and what it did, populated
// up to the point of failure.
type ProcessingMetadata struct {
	Filename              string  `json:"filename"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	TranscriptionMethod   string  `json:"transcription_method"` // "chunked" or "direct"
	TotalChunks           int     `json:"total_chunks"`
	Channels              int     `json:"channels"`
	FailedStage           string  `json:"failed_stage,omitempty"`
}

// Result is the pipeline's output for one job.
type Result struct {
	Transcript  FinalTranscript
	Diarization bool
	Segments    []SpeakerSegment
	Metadata    ProcessingMetadata
}

// Pipeline wires the stages together: download, preprocess, chunk,
// transcribe, diarize, post-process. Scratch directories are removed when
// the run ends, success, failure, or panic alike.
type Pipeline struct {
	Downloader    *Downloader
	Preprocessor  *Preprocessor
	Chunker       *Chunker
	Fanout        *Fanout
	Diarizer      *Diarizer
	PostProcessor *PostProcessor
}

// Run executes all stages for one input file. The returned error is always
// a *StageError; Metadata is populated as far as the run got.
func (p *Pipeline) Run(ctx context.Context, filename, language string) (Result, error) {
	log := observability.LoggerWithTrace(ctx)
	tracer := otel.Tracer("audio")
	ctx, span := tracer.Start(ctx, "audio.pipeline")
	defer span.End()

	started := time.Now()
	var scratch Scratch
	defer scratch.Cleanup(context.WithoutCancel(ctx))

	result := Result{Metadata: ProcessingMetadata{Filename: filename}}
	fail := func(stage string, err error) (Result, error) {
		result.Metadata.FailedStage = stage
		result.Metadata.ProcessingTimeSeconds = time.Since(started).Seconds()
		log.Error().Err(err).Str("stage", stage).Str("filename", filename).Msg("pipeline stage failed")
		return result, &StageError{Stage: stage, Err: err}
	}

	// Download.
	downloadDir, err := scratch.Dir("whisper_audio_")
	if err != nil {
		return fail("download", err)
	}
	inputPath, err := p.Downloader.Fetch(ctx, filename, downloadDir)
	if err != nil {
		return fail("download", err)
	}

	// Preprocess: split, resample, trim.
	preDir, err := scratch.Dir("whisper_preprocessed_")
	if err != nil {
		return fail("preprocess", err)
	}
	channels, diarization, err := p.Preprocessor.Process(ctx, inputPath, preDir)
	if err != nil {
		return fail("preprocess", err)
	}
	result.Diarization = diarization
	result.Metadata.Channels = len(channels)

	// Chunk each channel.
	chunkDir, err := scratch.Dir("whisper_chunks_")
	if err != nil {
		return fail("chunk", err)
	}
	var chunks []Chunk
	for _, ch := range channels {
		cs, err := p.Chunker.Chunk(ctx, ch, chunkDir)
		if err != nil {
			return fail("chunk", err)
		}
		chunks = append(chunks, cs...)
	}
	result.Metadata.TotalChunks = len(chunks)
	result.Metadata.TranscriptionMethod = "direct"
	if len(chunks) > len(channels) {
		result.Metadata.TranscriptionMethod = "chunked"
	}

	// Transcribe with bounded concurrency.
	language = normalizeLanguage(language)
	channelSegments, err := p.Fanout.Transcribe(ctx, chunks, language)
	if err != nil {
		return fail("transcribe", err)
	}

	// Diarize.
	segments := p.Diarizer.Diarize(ctx, channelSegments)
	if len(segments) == 0 {
		return fail("diarize", fmt.Errorf("no usable speech segments"))
	}
	result.Segments = segments

	// Assemble.
	result.Transcript = p.PostProcessor.Assemble(ctx, segments)
	result.Metadata.ProcessingTimeSeconds = time.Since(started).Seconds()

	log.Info().
		Str("filename", filename).
		Int("segments", len(segments)).
		Float64("confidence", result.Transcript.Confidence).
		Float64("elapsed_sec", result.Metadata.ProcessingTimeSeconds).
		Msg("pipeline complete")
	return result, nil
}

func normalizeLanguage(lang string) string {
	// The transcription endpoint takes ISO-639-1; empty means autodetect.
	if len(lang) > 2 {
		return lang[:2]
	}
	return lang
}
