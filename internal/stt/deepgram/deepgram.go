// Package deepgram implements the batch Transcriber contract against the
// Deepgram pre-recorded listen API.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/stt"
)

const listenURL = "https://api.deepgram.com/v1/listen"

type Transcriber struct {
	apiKey    string
	model     string
	diarize   bool
	punctuate bool
	client    *http.Client
}

type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
					Speaker    *int    `json:"speaker,omitempty"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func NewTranscriber(apiKey, model string, diarize, punctuate bool) *Transcriber {
	return &Transcriber{
		apiKey:    apiKey,
		model:     model,
		diarize:   diarize,
		punctuate: punctuate,
		client:    &http.Client{},
	}
}

func (d *Transcriber) Transcribe(ctx context.Context, buf *audio.Buffer) (*stt.Result, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return &stt.Result{IsFinal: true}, nil
	}

	wavData := audio.EncodeWAV(buf)

	params := url.Values{}
	if d.model != "" {
		params.Set("model", d.model)
	}
	params.Set("punctuate", strconv.FormatBool(d.punctuate))
	params.Set("diarize", strconv.FormatBool(d.diarize))
	params.Set("smart_format", "true")
	params.Set("language", "en")

	fullURL := listenURL + "?" + params.Encode()

	log.Debug().
		Str("model", d.model).
		Bool("diarize", d.diarize).
		Int("audio_size_bytes", len(wavData)).
		Msg("Making Deepgram API request")

	req, err := http.NewRequestWithContext(ctx, "POST", fullURL, bytes.NewReader(wavData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Deepgram API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body)).
			Msg("Deepgram API error response")
		return nil, fmt.Errorf("Deepgram API error %d: %s", resp.StatusCode, string(body))
	}

	var result response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		log.Debug().Msg("No alternatives in Deepgram response")
		return &stt.Result{IsFinal: true}, nil
	}

	alt := result.Results.Channels[0].Alternatives[0]
	words := make([]stt.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		word := stt.Word{
			Text:       w.Word,
			Confidence: w.Confidence,
			Start:      w.Start,
			End:        w.End,
		}
		if w.Speaker != nil {
			word.Speaker = fmt.Sprintf("speaker_%d", *w.Speaker)
		}
		words = append(words, word)
	}

	log.Debug().
		Int("words", len(words)).
		Float64("confidence", alt.Confidence).
		Msg("Deepgram transcription completed")

	return &stt.Result{
		Transcript: alt.Transcript,
		Words:      words,
		Confidence: alt.Confidence,
		IsFinal:    true,
	}, nil
}

func (d *Transcriber) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}
