package audio

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Chunker accumulates incoming samples and emits fixed-duration Chunks on a
// bounded channel. When the channel is full the newest chunk is dropped so
// that a slow consumer never blocks the capture path.
type Chunker struct {
	chunkSamples int
	sampleRate   int

	buffer     []float64
	chunkStart time.Time

	chunkChan chan *Chunk
	stopped   bool
	mutex     sync.Mutex
}

func NewChunker(chunkMS, sampleRate, queueSize int) *Chunker {
	chunkSamples := chunkMS * sampleRate / 1000
	return &Chunker{
		chunkSamples: chunkSamples,
		sampleRate:   sampleRate,
		buffer:       make([]float64, 0, chunkSamples),
		chunkChan:    make(chan *Chunk, queueSize),
	}
}

// AddSamples appends samples to the pending chunk, emitting complete chunks
// as they fill up. The timestamp marks the capture time of the first sample.
func (c *Chunker) AddSamples(samples []float64, timestamp time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return
	}
	if len(c.buffer) == 0 {
		c.chunkStart = timestamp
	}
	c.buffer = append(c.buffer, samples...)

	for len(c.buffer) >= c.chunkSamples {
		c.emitChunk(c.buffer[:c.chunkSamples])
		c.buffer = c.buffer[c.chunkSamples:]
		c.chunkStart = c.chunkStart.Add(time.Duration(c.chunkSamples) * time.Second / time.Duration(c.sampleRate))
	}
}

func (c *Chunker) emitChunk(samples []float64) {
	pcm := make([]float64, len(samples))
	copy(pcm, samples)

	chunk := NewChunk(NewBuffer(pcm, c.sampleRate), c.chunkStart)

	select {
	case c.chunkChan <- chunk:
		log.Debug().
			Str("chunk_id", chunk.ID.String()).
			Int("samples", len(pcm)).
			Msg("Created audio chunk")
	default:
		log.Warn().Msg("Chunk channel full, dropping chunk")
	}
}

func (c *Chunker) Chunks() <-chan *Chunk {
	return c.chunkChan
}

// Stop flushes any partial chunk and closes the channel. Safe to call more
// than once.
func (c *Chunker) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	if len(c.buffer) > 0 {
		c.emitChunk(c.buffer)
		c.buffer = c.buffer[:0]
	}
	close(c.chunkChan)
}
