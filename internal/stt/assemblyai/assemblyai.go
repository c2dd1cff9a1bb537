// Package assemblyai implements the batch Transcriber contract against the
// AssemblyAI transcript API: upload the audio, create a job, then poll until
// it completes.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/stt"
)

const defaultBaseURL = "https://api.assemblyai.com/v2"

// Polling is bounded: a job still running after MaxPolls * PollInterval
// fails with a timeout instead of blocking the worker forever.
const (
	DefaultMaxPolls     = 60
	DefaultPollInterval = 2 * time.Second
)

type Transcriber struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	maxPolls     int
	pollInterval time.Duration
}

type Option func(*Transcriber)

// WithBaseURL redirects API calls, used by tests.
func WithBaseURL(u string) Option {
	return func(t *Transcriber) { t.baseURL = u }
}

func WithPolling(maxPolls int, interval time.Duration) Option {
	return func(t *Transcriber) {
		t.maxPolls = maxPolls
		t.pollInterval = interval
	}
}

func NewTranscriber(apiKey string, opts ...Option) *Transcriber {
	t := &Transcriber{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		client:       &http.Client{},
		maxPolls:     DefaultMaxPolls,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
	FormatText    bool   `json:"format_text"`
	Punctuate     bool   `json:"punctuate"`
	LanguageCode  string `json:"language_code"`
}

type transcriptResponse struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
	Words      []struct {
		Text       string  `json:"text"`
		Start      int     `json:"start"` // milliseconds
		End        int     `json:"end"`
		Confidence float64 `json:"confidence"`
		Speaker    string  `json:"speaker"`
	} `json:"words"`
}

func (t *Transcriber) Transcribe(ctx context.Context, buf *audio.Buffer) (*stt.Result, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return &stt.Result{IsFinal: true}, nil
	}

	audioURL, err := t.upload(ctx, audio.EncodeWAV(buf))
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	jobID, err := t.submit(ctx, audioURL)
	if err != nil {
		return nil, fmt.Errorf("transcript submission failed: %w", err)
	}

	log.Debug().
		Str("job_id", jobID).
		Int("max_polls", t.maxPolls).
		Dur("poll_interval", t.pollInterval).
		Msg("Polling AssemblyAI transcript job")

	return t.waitForJob(ctx, jobID)
}

func (t *Transcriber) upload(ctx context.Context, wavData []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/upload", bytes.NewReader(wavData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp uploadResponse
	if err := t.do(req, &resp); err != nil {
		return "", err
	}
	return resp.UploadURL, nil
}

func (t *Transcriber) submit(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(transcriptRequest{
		AudioURL:      audioURL,
		SpeakerLabels: true,
		FormatText:    true,
		Punctuate:     true,
		LanguageCode:  "en",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var resp transcriptResponse
	if err := t.do(req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (t *Transcriber) waitForJob(ctx context.Context, jobID string) (*stt.Result, error) {
	for poll := 0; poll < t.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, "GET", t.baseURL+"/transcript/"+jobID, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", t.apiKey)

		var resp transcriptResponse
		if err := t.do(req, &resp); err != nil {
			return nil, err
		}

		switch resp.Status {
		case "completed":
			return t.toResult(&resp), nil
		case "error":
			return nil, fmt.Errorf("transcript job %s failed: %s", jobID, resp.Error)
		}
	}
	return nil, fmt.Errorf("transcript job %s timed out after %d polls", jobID, t.maxPolls)
}

func (t *Transcriber) toResult(resp *transcriptResponse) *stt.Result {
	words := make([]stt.Word, 0, len(resp.Words))
	for _, w := range resp.Words {
		word := stt.Word{
			Text:       w.Text,
			Confidence: w.Confidence,
			Start:      float64(w.Start) / 1000,
			End:        float64(w.End) / 1000,
		}
		if w.Speaker != "" {
			word.Speaker = "speaker_" + w.Speaker
		}
		words = append(words, word)
	}

	log.Debug().
		Str("job_id", resp.ID).
		Int("words", len(words)).
		Float64("confidence", resp.Confidence).
		Msg("AssemblyAI transcription completed")

	return &stt.Result{
		Transcript: resp.Text,
		Words:      words,
		Confidence: resp.Confidence,
		IsFinal:    true,
	}
}

func (t *Transcriber) do(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("AssemblyAI API error %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

func (t *Transcriber) Close() error {
	return nil
}
