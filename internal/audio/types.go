// Package audio implements the stereo transcription pipeline: download,
// per-channel preprocessing, size-bounded chunking, bounded-concurrency
// transcription, channel-based diarization, and transcript assembly.
package audio

// Channel/speaker naming is fixed by convention: the left channel is always
// Speaker_1 and the right channel Speaker_2.
const (
	ChannelLeft  = "left"
	ChannelRight = "right"
	ChannelMono  = "mono"

	Speaker1 = "Speaker_1"
	Speaker2 = "Speaker_2"
)

// TargetSampleRate is what the transcription models expect.
const TargetSampleRate = 16000

// ChannelAudio describes one preprocessed mono stream.
type ChannelAudio struct {
	ChannelID   string
	SpeakerID   string
	Path        string
	DurationSec float64
	SizeMB      float64
}

// Chunk is a contiguous, size-bounded slice of one channel's audio.
// StartSec/EndSec are in original-audio coordinates.
type Chunk struct {
	ID        string
	FilePath  string
	StartSec  float64
	EndSec    float64
	SizeBytes int64
	ChannelID string
	SpeakerID string
}

// SpeakerSegment is a timestamped, speaker-attributed span of text.
// Treat as immutable once built: chunk-local timestamps are rebased exactly
// once at fan-out reassembly and never mutated again.
type SpeakerSegment struct {
	StartSec   float64
	EndSec     float64
	SpeakerID  string
	Text       string
	Confidence float64
}

// Duration returns the segment length in seconds.
func (s SpeakerSegment) Duration() float64 { return s.EndSec - s.StartSec }
