package audio

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sine fills seconds of samples at the given amplitude (0..1) and rate.
func sine(seconds float64, rate int, amplitude float64) []int {
	n := int(seconds * float64(rate))
	out := make([]int, n)
	for i := range out {
		out[i] = int(amplitude * 20000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func writeStereoWAV(t *testing.T, path string, left, right []int, rate int) {
	t.Helper()
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	interleaved := make([]int, 0, n*2)
	for i := 0; i < n; i++ {
		interleaved = append(interleaved, left[i], right[i])
	}
	require.NoError(t, encodeWAV(path, &pcm{samples: interleaved, channels: 2, sampleRate: rate, bitDepth: 16}))
}

func TestProcessStereoSplitsChannels(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "call.wav")
	writeStereoWAV(t, input, sine(2, TargetSampleRate, 0.8), sine(2, TargetSampleRate, 0.8), TargetSampleRate)

	p := &Preprocessor{}
	channels, diarization, err := p.Process(t.Context(), input, dir)
	require.NoError(t, err)
	assert.True(t, diarization)
	require.Len(t, channels, 2)

	assert.Equal(t, ChannelLeft, channels[0].ChannelID)
	assert.Equal(t, Speaker1, channels[0].SpeakerID)
	assert.Equal(t, ChannelRight, channels[1].ChannelID)
	assert.Equal(t, Speaker2, channels[1].SpeakerID)

	for _, ch := range channels {
		decoded, err := decodeWAV(ch.Path)
		require.NoError(t, err)
		assert.Equal(t, 1, decoded.channels)
		assert.Equal(t, TargetSampleRate, decoded.sampleRate)
		assert.InDelta(t, 2.0, ch.DurationSec, 0.2)
	}
}

func TestProcessMonoDisablesDiarization(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "voicemail.wav")
	require.NoError(t, encodeWAV(input, &pcm{
		samples: sine(1, TargetSampleRate, 0.8), channels: 1, sampleRate: TargetSampleRate, bitDepth: 16,
	}))

	p := &Preprocessor{}
	channels, diarization, err := p.Process(t.Context(), input, dir)
	require.NoError(t, err)
	assert.False(t, diarization)
	require.Len(t, channels, 1)
	assert.Equal(t, ChannelMono, channels[0].ChannelID)
	assert.Equal(t, Speaker1, channels[0].SpeakerID)
}

func TestProcessResamples(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "hifi.wav")
	require.NoError(t, encodeWAV(input, &pcm{
		samples: sine(1, 44100, 0.8), channels: 1, sampleRate: 44100, bitDepth: 16,
	}))

	p := &Preprocessor{}
	channels, _, err := p.Process(t.Context(), input, dir)
	require.NoError(t, err)
	require.Len(t, channels, 1)

	decoded, err := decodeWAV(channels[0].Path)
	require.NoError(t, err)
	assert.Equal(t, TargetSampleRate, decoded.sampleRate)
	assert.InDelta(t, 1.0, decoded.durationSec(), 0.1)
}

func TestTrimSilenceRemovesLeadingAndTrailing(t *testing.T) {
	rate := TargetSampleRate
	silence := make([]int, rate) // 1s of digital silence
	voice := sine(1, rate, 0.8)

	samples := append(append(append([]int{}, silence...), voice...), silence...)
	src := &pcm{samples: samples, channels: 1, sampleRate: rate, bitDepth: 16}

	trimmed := trimSilence(src, -40, 500, 100)
	// 1s of speech plus ~100ms padding at each edge.
	assert.InDelta(t, 1.2, trimmed.durationSec(), 0.15)
}

func TestTrimSilenceKeepsShortPauses(t *testing.T) {
	rate := TargetSampleRate
	shortPause := make([]int, rate/5) // 200ms, below the 500ms run threshold
	voice := sine(1, rate, 0.8)

	samples := append(append([]int{}, shortPause...), voice...)
	src := &pcm{samples: samples, channels: 1, sampleRate: rate, bitDepth: 16}

	trimmed := trimSilence(src, -40, 500, 100)
	assert.InDelta(t, src.durationSec(), trimmed.durationSec(), 0.05)
}

func TestTrimSilenceAllQuietKeepsOriginal(t *testing.T) {
	rate := TargetSampleRate
	src := &pcm{samples: make([]int, rate), channels: 1, sampleRate: rate, bitDepth: 16}
	trimmed := trimSilence(src, -40, 500, 100)
	assert.Equal(t, len(src.samples), len(trimmed.samples))
}
