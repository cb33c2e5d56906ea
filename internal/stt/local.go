package stt

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Local runs transcription through the whisper.cpp bindings so the audio
// worker can operate without a remote endpoint. One loaded model serves all
// requests; contexts are per call and the binding is not reentrant, so calls
// serialize on a mutex.
type Local struct {
	mu    sync.Mutex
	model whisper.Model
}

// NewLocal loads the ggml model at modelPath.
func NewLocal(modelPath string) (*Local, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper model: %w", err)
	}
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}
	return &Local{model: model}, nil
}

func (l *Local) Close() error {
	return l.model.Close()
}

func (l *Local) Transcribe(ctx context.Context, filePath string, opts Options) (Result, error) {
	samples, err := loadWAVSamples(filePath)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	wctx, err := l.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("whisper context: %w", err)
	}
	if opts.Language != "" {
		if err := wctx.SetLanguage(opts.Language); err != nil {
			return Result{}, fmt.Errorf("set language %q: %w", opts.Language, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("whisper process: %w", err)
	}

	var result Result
	for i := 0; ; i++ {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		result.Segments = append(result.Segments, Segment{
			ID:    i,
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  seg.Text,
		})
		if result.Text != "" {
			result.Text += " "
		}
		result.Text += seg.Text
	}
	if n := len(result.Segments); n > 0 {
		result.Duration = result.Segments[n-1].End
	}
	result.Language = opts.Language
	return result, nil
}

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// loadWAVSamples reads a PCM WAV file into the float32 mono samples the
// whisper binding expects. The preprocessor already emits 16kHz mono 16-bit
// files; stereo input is downmixed defensively anyway.
func loadWAVSamples(path string) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	var header wavHeader
	if err := binary.Read(file, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("not a wav file: %s", path)
	}

	audioData := make([]byte, header.Subchunk2Size)
	if _, err := io.ReadFull(file, audioData); err != nil {
		return nil, fmt.Errorf("read audio data: %w", err)
	}

	var samples []float32
	switch header.BitsPerSample {
	case 16:
		samples = make([]float32, 0, len(audioData)/2)
		for i := 0; i+1 < len(audioData); i += 2 {
			sample := int16(binary.LittleEndian.Uint16(audioData[i : i+2]))
			samples = append(samples, float32(sample)/32768.0)
		}
	case 32:
		samples = make([]float32, 0, len(audioData)/4)
		for i := 0; i+3 < len(audioData); i += 4 {
			bits := binary.LittleEndian.Uint32(audioData[i : i+4])
			samples = append(samples, math.Float32frombits(bits))
		}
	default:
		return nil, fmt.Errorf("unsupported bits per sample: %d", header.BitsPerSample)
	}

	if header.NumChannels == 2 {
		mono := make([]float32, len(samples)/2)
		for i := range mono {
			mono[i] = (samples[i*2] + samples[i*2+1]) / 2.0
		}
		samples = mono
	}
	return samples, nil
}

var _ Backend = (*Local)(nil)
