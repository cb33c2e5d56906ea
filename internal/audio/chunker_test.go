package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChannel(t *testing.T, dir string, seconds float64) ChannelAudio {
	t.Helper()
	path := filepath.Join(dir, "channel_left.wav")
	require.NoError(t, encodeWAV(path, &pcm{
		samples: sine(seconds, TargetSampleRate, 0.8), channels: 1, sampleRate: TargetSampleRate, bitDepth: 16,
	}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	return ChannelAudio{
		ChannelID:   ChannelLeft,
		SpeakerID:   Speaker1,
		Path:        path,
		DurationSec: seconds,
		SizeMB:      float64(info.Size()) / (1024 * 1024),
	}
}

func TestChunkSmallFileIsSingleChunk(t *testing.T) {
	dir := t.TempDir()
	ch := writeChannel(t, dir, 2)

	c := &Chunker{} // default 24MB ceiling
	chunks, err := c.Chunk(t.Context(), ch, dir)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, ch.Path, chunks[0].FilePath)
	assert.Equal(t, 0.0, chunks[0].StartSec)
	assert.InDelta(t, 2.0, chunks[0].EndSec, 0.01)
	assert.Equal(t, Speaker1, chunks[0].SpeakerID)
}

func TestChunkLargeFileSplitsContiguously(t *testing.T) {
	dir := t.TempDir()
	// 10s at 16kHz 16-bit mono is ~320KB; a 100KB ceiling forces 4 chunks.
	ch := writeChannel(t, dir, 10)

	c := &Chunker{MaxChunkMB: 100.0 / 1024.0}
	chunks, err := c.Chunk(t.Context(), ch, dir)
	require.NoError(t, err)
	require.Equal(t, 4, len(chunks))

	ceiling := int64(c.MaxChunkMB * 1024 * 1024)
	prevEnd := 0.0
	for i, chunk := range chunks {
		assert.Greater(t, chunk.EndSec, chunk.StartSec)
		assert.InDelta(t, prevEnd, chunk.StartSec, 1e-6, "chunk %d must start where the previous ended", i)
		// WAV header overhead is negligible next to the ceiling.
		assert.LessOrEqual(t, chunk.SizeBytes, ceiling+1024)
		prevEnd = chunk.EndSec
	}
	assert.InDelta(t, ch.DurationSec, prevEnd, 0.05, "chunks must cover the full duration")

	// Chunk files decode independently.
	decoded, err := decodeWAV(chunks[1].FilePath)
	require.NoError(t, err)
	assert.Equal(t, TargetSampleRate, decoded.sampleRate)
}

func TestChunkMissingFile(t *testing.T) {
	c := &Chunker{}
	_, err := c.Chunk(t.Context(), ChannelAudio{Path: "/does/not/exist.wav"}, t.TempDir())
	assert.Error(t, err)
}
