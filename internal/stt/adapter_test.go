package stt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralnoy/lokutor-workers/internal/broker"
	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/llm"
)

type fakeBackend struct {
	failures int
	calls    int
	result   Result
}

func (f *fakeBackend) Transcribe(context.Context, string, Options) (Result, error) {
	f.calls++
	if f.calls <= f.failures {
		return Result{}, errors.New("connection reset")
	}
	return f.result, nil
}

func newTestAdapter(limit int, backend Backend) (*Adapter, *broker.Broker) {
	b := broker.New(limit, broker.Options{})
	return &Adapter{
		Backend:       backend,
		Client:        &brokerclient.Embedded{Broker: b},
		AppID:         "app_whisper",
		TokenEstimate: 500,
	}, b
}

func TestTranscribeCommitsFixedEstimate(t *testing.T) {
	backend := &fakeBackend{result: Result{Text: "hello", Segments: []Segment{{End: 2, Text: "hello"}}}}
	a, b := newTestAdapter(10000, backend)

	res, err := a.Transcribe(t.Context(), "chunk.wav", Options{Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)

	st := b.Status()
	assert.Equal(t, 0, st.LockedTokens)
	assert.Equal(t, 500, st.UsedTokens)
}

func TestTranscribeRetriesTransientFailures(t *testing.T) {
	backend := &fakeBackend{failures: 2, result: Result{Text: "late success"}}
	a, b := newTestAdapter(10000, backend)

	res, err := a.Transcribe(t.Context(), "chunk.wav", Options{})
	require.NoError(t, err)
	assert.Equal(t, "late success", res.Text)
	assert.Equal(t, 3, backend.calls)
	assert.Equal(t, 0, b.Status().LockedTokens)
}

func TestTranscribeReleasesOnFailure(t *testing.T) {
	backend := &fakeBackend{failures: 10}
	a, b := newTestAdapter(10000, backend)

	_, err := a.Transcribe(t.Context(), "chunk.wav", Options{})
	require.Error(t, err)
	var be *llm.BackendError
	assert.True(t, errors.As(err, &be))
	assert.Equal(t, 3, backend.calls)

	st := b.Status()
	assert.Equal(t, 0, st.LockedTokens)
	assert.Equal(t, 0, st.UsedTokens)
}

func TestTranscribeRateLimited(t *testing.T) {
	backend := &fakeBackend{}
	a, b := newTestAdapter(600, backend)

	// Exhaust the window.
	first := b.Lock("app_whisper", 400)
	require.True(t, first.Allowed)

	_, err := a.Transcribe(t.Context(), "chunk.wav", Options{})
	require.Error(t, err)
	assert.True(t, brokerclient.IsRateLimit(err))
	assert.Equal(t, 0, backend.calls)
}
