package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralnoy/lokutor-workers/internal/broker"
	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/stt"
)

// channelAwareSTT answers with per-channel scripted text so the pipeline
// test can assert speaker attribution end to end.
type channelAwareSTT struct {
	fail bool
}

func (c *channelAwareSTT) Transcribe(_ context.Context, path string, _ stt.Options) (stt.Result, error) {
	if c.fail {
		return stt.Result{}, errors.New("endpoint down")
	}
	// Alternating turns: the agent speaks first, the caller answers.
	text := "thanks for calling how can I help"
	start, end := 0.0, 3.0
	if strings.Contains(path, ChannelRight) {
		text = "hi I have a question about my card"
		start, end = 3.5, 6.5
	}
	return stt.Result{
		Text: text,
		Segments: []stt.Segment{
			{Start: start, End: end, Text: text, AvgLogprob: -0.2},
		},
	}, nil
}

func newTestPipeline(transcriber Transcriber) *Pipeline {
	return &Pipeline{
		Downloader:    NewDownloader(0),
		Preprocessor:  &Preprocessor{},
		Chunker:       &Chunker{},
		Fanout:        &Fanout{STT: transcriber, Broker: testClient(), MaxInFlight: 3},
		Diarizer:      &Diarizer{},
		PostProcessor: &PostProcessor{},
	}
}

func TestPipelineStereoHappyPath(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "call.wav")
	writeStereoWAV(t, input, sine(3, TargetSampleRate, 0.8), sine(3, TargetSampleRate, 0.8), TargetSampleRate)

	p := newTestPipeline(&channelAwareSTT{})
	res, err := p.Run(t.Context(), input, "en")
	require.NoError(t, err)

	assert.True(t, res.Diarization)
	assert.Contains(t, res.Transcript.Text, "Speaker_1:")
	assert.Contains(t, res.Transcript.Text, "Speaker_2:")
	assert.Equal(t, 2, res.Metadata.Channels)
	assert.Equal(t, "direct", res.Metadata.TranscriptionMethod)
	assert.Greater(t, res.Transcript.Confidence, 0.0)

	for i := 1; i < len(res.Segments); i++ {
		assert.GreaterOrEqual(t, res.Segments[i].StartSec, res.Segments[i-1].StartSec)
	}
}

func TestPipelineMonoHappyPath(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "voicemail.wav")
	require.NoError(t, encodeWAV(input, &pcm{
		samples: sine(2, TargetSampleRate, 0.8), channels: 1, sampleRate: TargetSampleRate, bitDepth: 16,
	}))

	p := newTestPipeline(&channelAwareSTT{})
	res, err := p.Run(t.Context(), input, "en")
	require.NoError(t, err)

	assert.False(t, res.Diarization)
	assert.Contains(t, res.Transcript.Text, "Speaker_1:")
	assert.NotContains(t, res.Transcript.Text, "Speaker_2:")
}

func TestPipelineTranscriptionFailureShortCircuits(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "call.wav")
	writeStereoWAV(t, input, sine(2, TargetSampleRate, 0.8), sine(2, TargetSampleRate, 0.8), TargetSampleRate)

	p := newTestPipeline(&channelAwareSTT{fail: true})
	res, err := p.Run(t.Context(), input, "en")
	require.Error(t, err)

	var stage *StageError
	require.True(t, errors.As(err, &stage))
	assert.Equal(t, "transcribe", stage.Stage)
	assert.Equal(t, "transcribe", res.Metadata.FailedStage)
	// Metadata populated up to the failure point.
	assert.Equal(t, 2, res.Metadata.Channels)
	assert.Equal(t, 2, res.Metadata.TotalChunks)
}

func TestPipelineDoesNotLeakBrokerTokens(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "call.wav")
	writeStereoWAV(t, input, sine(2, TargetSampleRate, 0.8), sine(2, TargetSampleRate, 0.8), TargetSampleRate)

	// Real STT adapter over a failing backend: every lock must be released.
	b := broker.New(100000, broker.Options{})
	client := &brokerclient.Embedded{Broker: b}
	adapter := &stt.Adapter{
		Backend: failingBackend{},
		Client:  client,
		AppID:   "app_whisper",
	}

	p := newTestPipeline(adapter)
	p.Fanout.Broker = client
	_, err := p.Run(t.Context(), input, "en")
	require.Error(t, err)

	st := b.Status()
	assert.Equal(t, 0, st.LockedTokens, "failed pipeline must not leak locked tokens")
}

type failingBackend struct{}

func (failingBackend) Transcribe(context.Context, string, stt.Options) (stt.Result, error) {
	return stt.Result{}, errors.New("permanently down")
}

func TestPipelineMissingInput(t *testing.T) {
	p := newTestPipeline(&channelAwareSTT{})
	res, err := p.Run(t.Context(), "/no/such/file.wav", "en")
	require.Error(t, err)
	var stage *StageError
	require.True(t, errors.As(err, &stage))
	assert.Equal(t, "download", stage.Stage)
	assert.Equal(t, "download", res.Metadata.FailedStage)
}

func TestScratchCleanup(t *testing.T) {
	var s Scratch
	dir, err := s.Dir("whisper_test_")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.wav"), []byte("x"), 0o644))

	s.Cleanup(t.Context())
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))

	// Second cleanup is a no-op.
	s.Cleanup(t.Context())
}
