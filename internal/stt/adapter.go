package stt

import (
	"context"
	"time"

	"github.com/neuralnoy/lokutor-workers/internal/brokerclient"
	"github.com/neuralnoy/lokutor-workers/internal/llm"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// transientBackoff is the short fixed ladder for retrying flaky network
// failures against the transcription endpoint. Independent of the broker
// retry wrapper, which only handles window resets.
var transientBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// Adapter wraps a Backend with the broker lock/commit/release discipline.
type Adapter struct {
	Backend Backend
	Client  brokerclient.Client
	AppID   string

	// TokenEstimate is the fixed per-request admission charge. The remote
	// bills by audio seconds; this converts that to window tokens.
	TokenEstimate int
}

// Transcribe admits the request against the token window, invokes the
// backend with a small transient retry, and commits the fixed estimate on
// success or releases on failure.
func (a *Adapter) Transcribe(ctx context.Context, filePath string, opts Options) (Result, error) {
	est := a.TokenEstimate
	if est <= 0 {
		est = 1000
	}

	res, err := a.Client.Lock(ctx, a.AppID, est)
	if err != nil {
		return Result{}, &llm.BackendError{Op: "broker lock", Err: err}
	}
	if err := brokerclient.DenialError(a.AppID, est, res); err != nil {
		return Result{}, err
	}

	log := observability.LoggerWithTrace(ctx)

	var result Result
	var lastErr error
	for attempt := 0; attempt < len(transientBackoff); attempt++ {
		result, lastErr = a.Backend.Transcribe(ctx, filePath, opts)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if attempt < len(transientBackoff)-1 {
			log.Warn().Err(lastErr).
				Int("attempt", attempt+1).
				Str("file", filePath).
				Msg("transient transcription failure, retrying")
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(transientBackoff[attempt]):
				continue
			}
			break
		}
	}

	if lastErr != nil {
		// The release must go through even when ctx was the reason we failed.
		if relErr := a.Client.Release(context.WithoutCancel(ctx), a.AppID, res.RequestID); relErr != nil {
			log.Warn().Err(relErr).Str("request_id", res.RequestID).Msg("release after failed transcription")
		}
		return Result{}, &llm.BackendError{Op: "transcription", Err: lastErr}
	}

	if err := a.Client.Commit(ctx, a.AppID, res.RequestID, est, 0); err != nil {
		log.Warn().Err(err).Str("request_id", res.RequestID).Msg("commit after transcription")
	}
	return result, nil
}
