// Package stt defines the contract with external transcription backends.
// Speech recognition itself is delegated; this package only moves audio out
// and word-level results back in.
package stt

import (
	"context"
	"strings"

	"github.com/user/medaudio-pipeline/internal/audio"
)

// MaxAlternatives bounds the alternative hypotheses kept per word.
const MaxAlternatives = 3

// Alternative is a competing hypothesis for a word.
type Alternative struct {
	Text       string
	Confidence float64
}

// Word is one recognized token with its acoustic confidence.
type Word struct {
	Text         string
	Confidence   float64 // 0..1
	Start        float64 // seconds from buffer start
	End          float64
	Speaker      string
	Alternatives []Alternative
}

// Result is a transcription response. Streaming backends tag results as
// partial until the segment is final.
type Result struct {
	Transcript string
	Words      []Word
	Confidence float64
	IsFinal    bool
}

// JoinWords rebuilds a transcript string from its words.
func JoinWords(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// Transcriber is the whole-buffer (batch) transcription contract.
type Transcriber interface {
	Transcribe(ctx context.Context, buf *audio.Buffer) (*Result, error)
	Close() error
}

// ClampAlternatives trims a word's alternatives to MaxAlternatives.
func ClampAlternatives(alts []Alternative) []Alternative {
	if len(alts) > MaxAlternatives {
		return alts[:MaxAlternatives]
	}
	return alts
}
