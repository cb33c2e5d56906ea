package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Preprocessor splits stereo input into per-channel mono streams, resamples
// to 16 kHz, and trims leading/trailing silence. Mono input yields a single
// channel and marks diarization unavailable downstream.
type Preprocessor struct {
	// SilenceThresholdDB is the dBFS floor below which audio counts as
	// silence (default -40).
	SilenceThresholdDB float64
	// MinSilenceMs is the minimum run length considered trimmable (default 500).
	MinSilenceMs int
	// PaddingMs of silence kept at each trimmed edge (default 100).
	PaddingMs int
}

func (p *Preprocessor) withDefaults() Preprocessor {
	out := *p
	if out.SilenceThresholdDB == 0 {
		out.SilenceThresholdDB = -40
	}
	if out.MinSilenceMs <= 0 {
		out.MinSilenceMs = 500
	}
	if out.PaddingMs <= 0 {
		out.PaddingMs = 100
	}
	return out
}

// Process reads inputPath and writes one 16 kHz mono WAV per channel into
// scratchDir. The second return value reports whether channel-based
// diarization is available (false for mono input).
func (p *Preprocessor) Process(ctx context.Context, inputPath, scratchDir string) ([]ChannelAudio, bool, error) {
	cfg := p.withDefaults()
	log := observability.LoggerWithTrace(ctx)

	src, err := decodeWAV(inputPath)
	if err != nil {
		return nil, false, err
	}
	log.Info().
		Int("channels", src.channels).
		Int("sample_rate", src.sampleRate).
		Float64("duration_sec", src.durationSec()).
		Msg("loaded input audio")

	type lane struct {
		channelID string
		speakerID string
		samples   []int
	}
	var lanes []lane
	switch src.channels {
	case 1:
		lanes = []lane{{ChannelMono, Speaker1, src.samples}}
	case 2:
		left, right := deinterleave(src.samples)
		lanes = []lane{
			{ChannelLeft, Speaker1, left},
			{ChannelRight, Speaker2, right},
		}
	default:
		return nil, false, fmt.Errorf("unsupported channel count %d", src.channels)
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := make([]ChannelAudio, 0, len(lanes))
	for _, ln := range lanes {
		mono := &pcm{samples: ln.samples, channels: 1, sampleRate: src.sampleRate, bitDepth: src.bitDepth}
		if mono.sampleRate != TargetSampleRate {
			mono = resample(mono, TargetSampleRate)
		}
		trimmed := trimSilence(mono, cfg.SilenceThresholdDB, cfg.MinSilenceMs, cfg.PaddingMs)

		path := filepath.Join(scratchDir, fmt.Sprintf("%s_%s.wav", base, ln.channelID))
		if err := encodeWAV(path, trimmed); err != nil {
			return nil, false, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, false, fmt.Errorf("stat %s: %w", path, err)
		}

		out = append(out, ChannelAudio{
			ChannelID:   ln.channelID,
			SpeakerID:   ln.speakerID,
			Path:        path,
			DurationSec: trimmed.durationSec(),
			SizeMB:      float64(info.Size()) / (1024 * 1024),
		})
		log.Info().
			Str("channel", ln.channelID).
			Str("speaker", ln.speakerID).
			Float64("duration_sec", trimmed.durationSec()).
			Float64("size_mb", float64(info.Size())/(1024*1024)).
			Msg("preprocessed channel")
	}

	return out, src.channels == 2, nil
}

func deinterleave(samples []int) (left, right []int) {
	n := len(samples) / 2
	left = make([]int, n)
	right = make([]int, n)
	for i := 0; i < n; i++ {
		left[i] = samples[i*2]
		right[i] = samples[i*2+1]
	}
	return left, right
}

// resample converts a mono stream with linear interpolation. Good enough
// for speech headed into Whisper; no external resampler dependency.
func resample(p *pcm, targetRate int) *pcm {
	if p.sampleRate == targetRate || len(p.samples) == 0 {
		out := *p
		out.sampleRate = targetRate
		return &out
	}
	ratio := float64(p.sampleRate) / float64(targetRate)
	outLen := int(float64(len(p.samples)) / ratio)
	out := make([]int, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= len(p.samples) {
			out[i] = p.samples[len(p.samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int(float64(p.samples[idx])*(1-frac) + float64(p.samples[idx+1])*frac)
	}
	return &pcm{samples: out, channels: 1, sampleRate: targetRate, bitDepth: p.bitDepth}
}

// trimSilence removes leading and trailing runs below the dBFS threshold
// that last at least minSilenceMs, keeping paddingMs at each edge.
func trimSilence(p *pcm, thresholdDB float64, minSilenceMs, paddingMs int) *pcm {
	if len(p.samples) == 0 {
		return p
	}
	frameLen := p.sampleRate / 100 // 10ms analysis frames
	if frameLen == 0 {
		return p
	}
	nFrames := len(p.samples) / frameLen
	if nFrames == 0 {
		return p
	}

	loud := make([]bool, nFrames)
	for i := 0; i < nFrames; i++ {
		loud[i] = frameDBFS(p.samples[i*frameLen:(i+1)*frameLen], p.bitDepth) > thresholdDB
	}

	minFrames := minSilenceMs / 10
	firstLoud, lastLoud := -1, -1
	for i, l := range loud {
		if l {
			if firstLoud == -1 {
				firstLoud = i
			}
			lastLoud = i
		}
	}
	if firstLoud == -1 {
		// Nothing above the floor; keep the original rather than emit
		// an empty file.
		return p
	}

	start := 0
	if firstLoud >= minFrames {
		start = firstLoud * frameLen
	}
	end := len(p.samples)
	if (nFrames-1)-lastLoud >= minFrames {
		end = (lastLoud + 1) * frameLen
	}

	pad := p.sampleRate * paddingMs / 1000
	if start > pad {
		start -= pad
	} else {
		start = 0
	}
	if end+pad < len(p.samples) {
		end += pad
	} else {
		end = len(p.samples)
	}

	out := make([]int, end-start)
	copy(out, p.samples[start:end])
	return &pcm{samples: out, channels: 1, sampleRate: p.sampleRate, bitDepth: p.bitDepth}
}

// frameDBFS computes the RMS level of a frame relative to full scale.
func frameDBFS(frame []int, bitDepth int) float64 {
	if len(frame) == 0 {
		return math.Inf(-1)
	}
	fullScale := math.Pow(2, float64(bitDepth-1))
	var sum float64
	for _, s := range frame {
		v := float64(s) / fullScale
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
