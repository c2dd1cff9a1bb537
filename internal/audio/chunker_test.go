package audio

import (
	"testing"
	"time"
)

func TestChunkerEmitsFixedChunks(t *testing.T) {
	c := NewChunker(100, 16000, 8) // 1600 samples per chunk
	start := time.Now()

	c.AddSamples(make([]float64, 3200), start)
	c.Stop()

	var chunks []*Chunk
	for chunk := range c.Chunks() {
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Buffer.Len() != 1600 {
			t.Errorf("chunk %d has %d samples, want 1600", i, chunk.Buffer.Len())
		}
		if chunk.Buffer.SampleRate != 16000 {
			t.Errorf("chunk %d sample rate = %d", i, chunk.Buffer.SampleRate)
		}
	}

	gap := chunks[1].Start.Sub(chunks[0].Start)
	if gap != 100*time.Millisecond {
		t.Errorf("chunk start gap = %v, want 100ms", gap)
	}
}

func TestChunkerFlushesPartialOnStop(t *testing.T) {
	c := NewChunker(100, 16000, 8)

	c.AddSamples(make([]float64, 500), time.Now())
	c.Stop()

	chunk, ok := <-c.Chunks()
	if !ok {
		t.Fatal("expected flushed partial chunk")
	}
	if chunk.Buffer.Len() != 500 {
		t.Errorf("partial chunk has %d samples, want 500", chunk.Buffer.Len())
	}
	if _, ok := <-c.Chunks(); ok {
		t.Error("channel should be closed after Stop")
	}
}

func TestChunkerDropsWhenQueueFull(t *testing.T) {
	c := NewChunker(100, 16000, 1)

	// Three full chunks into a queue of one, with no consumer.
	c.AddSamples(make([]float64, 4800), time.Now())
	c.Stop()

	count := 0
	for range c.Chunks() {
		count++
	}
	if count != 1 {
		t.Errorf("expected 1 surviving chunk, got %d", count)
	}
}

func TestChunkerStopIdempotent(t *testing.T) {
	c := NewChunker(100, 16000, 8)
	c.Stop()
	c.Stop()

	c.AddSamples(make([]float64, 1600), time.Now())
	if _, ok := <-c.Chunks(); ok {
		t.Error("samples after Stop should be discarded")
	}
}
