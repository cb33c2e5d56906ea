package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// pcm is a decoded mono or interleaved-stereo PCM stream held as int
// samples, the working representation between pipeline stages.
type pcm struct {
	samples    []int
	channels   int
	sampleRate int
	bitDepth   int
}

func (p *pcm) framesPerChannel() int {
	if p.channels == 0 {
		return 0
	}
	return len(p.samples) / p.channels
}

func (p *pcm) durationSec() float64 {
	if p.sampleRate == 0 {
		return 0
	}
	return float64(p.framesPerChannel()) / float64(p.sampleRate)
}

// decodeWAV loads a PCM WAV file fully into memory. Chunk sizes are bounded
// upstream so whole-file decode stays within a few hundred MB worst case.
func decodeWAV(path string) (*pcm, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav %s: %w", path, err)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	return &pcm{
		samples:    buf.Data,
		channels:   buf.Format.NumChannels,
		sampleRate: buf.Format.SampleRate,
		bitDepth:   bitDepth,
	}, nil
}

// encodeWAV writes samples as 16-bit PCM.
func encodeWAV(path string, p *pcm) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, p.sampleRate, 16, p.channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: p.channels, SampleRate: p.sampleRate},
		Data:           p.samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode wav %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav %s: %w", path, err)
	}
	return nil
}
