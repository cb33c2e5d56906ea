// Package stt adapts speech-to-text backends to the same broker admission
// discipline as the LLM adapter. The remote billing model is per audio
// second, not per token, so admission uses a fixed per-request estimate
// configured per deployment.
package stt

import "context"

// Options controls a single transcription request.
type Options struct {
	Language    string  // ISO code, empty lets the backend detect
	Temperature float64 // sampling temperature, 0 for deterministic output
	Prompt      string  // optional context priming
}

// Segment is one timestamped span of a verbose transcription response.
// Times are relative to the submitted file; callers rebase chunk-local
// times to original-audio coordinates.
type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

// Result is the verbose-JSON transcription response.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// Backend is a speech-to-text engine: the remote OpenAI-compatible
// transcription endpoint, or the local whisper.cpp binding.
type Backend interface {
	Transcribe(ctx context.Context, filePath string, opts Options) (Result, error)
}
