package audio

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Buffer holds mono PCM samples normalized to [-1, 1] at a fixed sample rate.
// A Buffer is captured once and moved between pipeline stages; stages that
// modify audio return a new Buffer instead of mutating their input.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

func NewBuffer(samples []float64, sampleRate int) *Buffer {
	return &Buffer{Samples: samples, SampleRate: sampleRate}
}

// FromPCM16 converts signed 16-bit PCM samples to a normalized Buffer.
func FromPCM16(pcm []int16, sampleRate int) *Buffer {
	samples := make([]float64, len(pcm))
	for i, s := range pcm {
		samples[i] = float64(s) / 32768.0
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}
}

// ToPCM16 converts the buffer back to signed 16-bit PCM, clipping to range.
func (b *Buffer) ToPCM16() []int16 {
	pcm := make([]int16, len(b.Samples))
	for i, s := range b.Samples {
		v := s * 32767.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i] = int16(v)
	}
	return pcm
}

func (b *Buffer) Len() int { return len(b.Samples) }

func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

func (b *Buffer) Clone() *Buffer {
	samples := make([]float64, len(b.Samples))
	copy(samples, b.Samples)
	return &Buffer{Samples: samples, SampleRate: b.SampleRate}
}

// RMS returns the root-mean-square level of the buffer.
func (b *Buffer) RMS() float64 {
	return math.Sqrt(b.Power())
}

// Peak returns the maximum absolute sample value.
func (b *Buffer) Peak() float64 {
	var peak float64
	for _, s := range b.Samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// Power returns the mean squared sample value.
func (b *Buffer) Power() float64 {
	if len(b.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b.Samples {
		sum += s * s
	}
	return sum / float64(len(b.Samples))
}

// Chunk represents a timestamped segment of audio queued for streaming
// transcription.
type Chunk struct {
	ID      uuid.UUID
	Buffer  *Buffer
	Start   time.Time
	End     time.Time
	Speaker string
}

func NewChunk(buf *Buffer, start time.Time) *Chunk {
	return &Chunk{
		ID:     uuid.New(),
		Buffer: buf,
		Start:  start,
		End:    start.Add(buf.Duration()),
	}
}
