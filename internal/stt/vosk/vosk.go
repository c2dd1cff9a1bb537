// Package vosk implements the batch Transcriber contract with a local Vosk
// model, for deployments where audio cannot leave the machine.
package vosk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/stt"
)

type Transcriber struct {
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	sampleRate int
}

type voskResult struct {
	Text   string     `json:"text"`
	Result []voskWord `json:"result"`
}

type voskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

func NewTranscriber(modelPath string, sampleRate int) (*Transcriber, error) {
	log.Info().Str("model_path", modelPath).Msg("Loading Vosk model")

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load Vosk model from %s: %w", modelPath, err)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("failed to create Vosk recognizer: %w", err)
	}
	recognizer.SetWords(1)

	log.Info().Msg("Vosk model loaded successfully")

	return &Transcriber{
		model:      model,
		recognizer: recognizer,
		sampleRate: sampleRate,
	}, nil
}

func (v *Transcriber) Transcribe(ctx context.Context, buf *audio.Buffer) (*stt.Result, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return &stt.Result{IsFinal: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pcm := buf.ToPCM16()
	pcmBytes := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		pcmBytes[i*2] = byte(sample)
		pcmBytes[i*2+1] = byte(sample >> 8)
	}

	if v.recognizer.AcceptWaveform(pcmBytes) == -1 {
		return nil, fmt.Errorf("failed to process audio buffer")
	}
	jsonResult := v.recognizer.FinalResult()
	if jsonResult == "" {
		return &stt.Result{IsFinal: true}, nil
	}

	var res voskResult
	if err := json.Unmarshal([]byte(jsonResult), &res); err != nil {
		log.Warn().
			Err(err).
			Str("json", jsonResult).
			Msg("Failed to parse Vosk result")
		return &stt.Result{IsFinal: true}, nil
	}

	words := make([]stt.Word, 0, len(res.Result))
	var confSum float64
	for _, w := range res.Result {
		words = append(words, stt.Word{
			Text:       w.Word,
			Confidence: w.Conf,
			Start:      w.Start,
			End:        w.End,
		})
		confSum += w.Conf
	}
	var confidence float64
	if len(words) > 0 {
		confidence = confSum / float64(len(words))
	}

	log.Debug().
		Str("text", res.Text).
		Int("words", len(words)).
		Float64("confidence", confidence).
		Msg("Vosk transcription completed")

	return &stt.Result{
		Transcript: res.Text,
		Words:      words,
		Confidence: confidence,
		IsFinal:    true,
	}, nil
}

func (v *Transcriber) Close() error {
	if v.recognizer != nil {
		v.recognizer.Free()
	}
	if v.model != nil {
		v.model.Free()
	}
	return nil
}
