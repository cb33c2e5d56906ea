package audio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
	"github.com/neuralnoy/lokutor-workers/internal/retry"
	"github.com/neuralnoy/lokutor-workers/internal/stt"
)

// Transcriber is the rate-limited transcription entry point (stt.Adapter in
// production, fakes in tests).
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string, opts stt.Options) (stt.Result, error)
}

// defaultSegmentConfidence is assumed when the backend reports no logprob.
const defaultSegmentConfidence = 0.8

// minChunkSuccessRate is the fraction of chunks that must transcribe for the
// stage to count as successful.
const minChunkSuccessRate = 0.8

// Fanout runs bounded-concurrency transcription of chunks. The semaphore is
// per pipeline run and bounds in-flight requests independently of the token
// broker, protecting the remote endpoint from within-run bursts.
type Fanout struct {
	STT        Transcriber
	Broker     brokerclient.Client
	MaxInFlight int64 // default 4
	MaxRetries  int   // broker-window retries per chunk, default 3
}

// ChannelSegments is the rebased per-channel transcription output.
type ChannelSegments struct {
	ChannelID string
	SpeakerID string
	Segments  []SpeakerSegment
}

// Transcribe fans chunks out to the STT adapter. Failed chunks contribute an
// empty zero-confidence segment list; if fewer than 80% of chunks succeed
// the stage fails.
func (f *Fanout) Transcribe(ctx context.Context, chunks []Chunk, language string) ([]ChannelSegments, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks to transcribe")
	}

	maxInFlight := f.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	log := observability.LoggerWithTrace(ctx)
	sem := semaphore.NewWeighted(maxInFlight)

	type chunkResult struct {
		chunk    Chunk
		segments []SpeakerSegment
		err      error
	}
	results := make([]chunkResult, len(chunks))

	var wg sync.WaitGroup
	for i, ch := range chunks {
		wg.Add(1)
		go func(i int, ch Chunk) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = chunkResult{chunk: ch, err: err}
				return
			}
			defer sem.Release(1)

			res, err := retry.Do(ctx, f.Broker, maxRetries, func(ctx context.Context) (stt.Result, error) {
				return f.STT.Transcribe(ctx, ch.FilePath, stt.Options{Language: language})
			})
			if err != nil {
				log.Warn().Err(err).Str("chunk", ch.ID).Msg("chunk transcription failed")
				results[i] = chunkResult{chunk: ch, err: err}
				return
			}
			results[i] = chunkResult{chunk: ch, segments: rebaseSegments(ch, res)}
		}(i, ch)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.err == nil {
			succeeded++
		}
	}
	rate := float64(succeeded) / float64(len(chunks))
	log.Info().
		Int("chunks", len(chunks)).
		Int("succeeded", succeeded).
		Float64("success_rate", rate).
		Msg("transcription fan-out complete")
	if rate < minChunkSuccessRate {
		return nil, fmt.Errorf("only %d/%d chunks transcribed (below %.0f%% threshold)",
			succeeded, len(chunks), minChunkSuccessRate*100)
	}

	// Group by channel, ordered by chunk start.
	byChannel := map[string]*ChannelSegments{}
	var order []string
	for _, r := range results {
		cs, ok := byChannel[r.chunk.ChannelID]
		if !ok {
			cs = &ChannelSegments{ChannelID: r.chunk.ChannelID, SpeakerID: r.chunk.SpeakerID}
			byChannel[r.chunk.ChannelID] = cs
			order = append(order, r.chunk.ChannelID)
		}
		cs.Segments = append(cs.Segments, r.segments...)
	}

	out := make([]ChannelSegments, 0, len(order))
	for _, id := range order {
		cs := byChannel[id]
		sort.Slice(cs.Segments, func(a, b int) bool {
			return cs.Segments[a].StartSec < cs.Segments[b].StartSec
		})
		out = append(out, *cs)
	}
	return out, nil
}

// rebaseSegments shifts chunk-local timestamps into original-audio
// coordinates. This is the only place rebasing happens; segments are
// immutable afterwards.
func rebaseSegments(ch Chunk, res stt.Result) []SpeakerSegment {
	segments := make([]SpeakerSegment, 0, len(res.Segments))
	for _, s := range res.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, SpeakerSegment{
			StartSec:   ch.StartSec + s.Start,
			EndSec:     ch.StartSec + s.End,
			SpeakerID:  ch.SpeakerID,
			Text:       text,
			Confidence: segmentConfidence(s),
		})
	}
	if len(segments) == 0 && strings.TrimSpace(res.Text) != "" {
		// Backend produced text but no timings; one segment spanning the
		// chunk keeps the content.
		segments = append(segments, SpeakerSegment{
			StartSec:   ch.StartSec,
			EndSec:     ch.EndSec,
			SpeakerID:  ch.SpeakerID,
			Text:       strings.TrimSpace(res.Text),
			Confidence: defaultSegmentConfidence,
		})
	}
	return segments
}

// segmentConfidence maps the backend's avg_logprob onto [0,1].
func segmentConfidence(s stt.Segment) float64 {
	if s.AvgLogprob == 0 {
		return defaultSegmentConfidence
	}
	conf := math.Exp(s.AvgLogprob)
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
