package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// DefaultMaxChunkMB is the transcription endpoint's practical upload limit.
const DefaultMaxChunkMB = 24.0

// Chunker slices a channel file into size-bounded pieces. Chunks are
// zero-overlap and contiguous; reassembly relies on segment timestamps, not
// overlap heuristics.
type Chunker struct {
	MaxChunkMB float64
}

func (c *Chunker) maxBytes() int64 {
	mb := c.MaxChunkMB
	if mb <= 0 {
		mb = DefaultMaxChunkMB
	}
	return int64(mb * 1024 * 1024)
}

// Chunk emits one chunk covering the whole channel when the file fits the
// ceiling, otherwise ceil(size/ceiling) contiguous equal-duration chunks
// written into scratchDir.
func (c *Chunker) Chunk(ctx context.Context, ch ChannelAudio, scratchDir string) ([]Chunk, error) {
	log := observability.LoggerWithTrace(ctx)

	info, err := os.Stat(ch.Path)
	if err != nil {
		return nil, fmt.Errorf("stat channel file: %w", err)
	}

	ceiling := c.maxBytes()
	if info.Size() <= ceiling {
		log.Info().
			Str("channel", ch.ChannelID).
			Int64("size_bytes", info.Size()).
			Msg("channel fits in one chunk")
		return []Chunk{{
			ID:        fmt.Sprintf("chunk_%s_whole_%s", ch.ChannelID, uuid.NewString()[:8]),
			FilePath:  ch.Path,
			StartSec:  0,
			EndSec:    ch.DurationSec,
			SizeBytes: info.Size(),
			ChannelID: ch.ChannelID,
			SpeakerID: ch.SpeakerID,
		}}, nil
	}

	n := int(math.Ceil(float64(info.Size()) / float64(ceiling)))
	src, err := decodeWAV(ch.Path)
	if err != nil {
		return nil, err
	}

	frames := src.framesPerChannel()
	framesPerChunk := (frames + n - 1) / n

	chunks := make([]Chunk, 0, n)
	for i := 0; i < n; i++ {
		startFrame := i * framesPerChunk
		endFrame := startFrame + framesPerChunk
		if endFrame > frames {
			endFrame = frames
		}
		if startFrame >= endFrame {
			break
		}

		part := &pcm{
			samples:    src.samples[startFrame:endFrame],
			channels:   1,
			sampleRate: src.sampleRate,
			bitDepth:   src.bitDepth,
		}
		id := fmt.Sprintf("chunk_%s_%03d_%s", ch.ChannelID, i, uuid.NewString()[:8])
		path := filepath.Join(scratchDir, id+".wav")
		if err := encodeWAV(path, part); err != nil {
			return nil, err
		}
		partInfo, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat chunk file: %w", err)
		}

		chunks = append(chunks, Chunk{
			ID:        id,
			FilePath:  path,
			StartSec:  float64(startFrame) / float64(src.sampleRate),
			EndSec:    float64(endFrame) / float64(src.sampleRate),
			SizeBytes: partInfo.Size(),
			ChannelID: ch.ChannelID,
			SpeakerID: ch.SpeakerID,
		})
	}

	log.Info().
		Str("channel", ch.ChannelID).
		Int("chunks", len(chunks)).
		Int64("size_bytes", info.Size()).
		Msg("channel split into chunks")
	return chunks, nil
}
