// Package pipeline chains noise detection, noise reduction, transcription,
// and confidence triage into one pass over an audio buffer, and fans that
// pass out over a worker pool for batch jobs.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/metrics"
	"github.com/user/medaudio-pipeline/internal/noise"
	"github.com/user/medaudio-pipeline/internal/stt"
	"github.com/user/medaudio-pipeline/internal/triage"
)

// Options tune a single pipeline pass.
type Options struct {
	// Reduction overrides the level-based preset when non-nil.
	Reduction *noise.ReductionConfig
	// AccentDetected applies the accent confidence penalty during triage.
	AccentDetected bool
	// SkipReduction transcribes the original audio untouched.
	SkipReduction bool
}

// Result collects every stage's output for one buffer.
type Result struct {
	Detection     noise.DetectionResult
	Reduction     *noise.ReductionResult
	Transcription *stt.Result
	Triage        triage.Result
}

// FileResult pairs a batch input path with its outcome.
type FileResult struct {
	Path   string
	Result *Result
	Err    error
}

// Pipeline runs the quality pass. Stateless apart from its injected
// collaborators, so one instance serves concurrent callers.
type Pipeline struct {
	detector    *noise.Detector
	transcriber stt.Transcriber
	triager     *triage.Manager
	opts        Options
}

func New(detector *noise.Detector, transcriber stt.Transcriber, triager *triage.Manager, opts Options) *Pipeline {
	return &Pipeline{
		detector:    detector,
		transcriber: transcriber,
		triager:     triager,
		opts:        opts,
	}
}

// Process runs detect, reduce, transcribe, triage over one buffer.
func (p *Pipeline) Process(ctx context.Context, buf *audio.Buffer) (*Result, error) {
	if buf == nil || len(buf.Samples) == 0 {
		return nil, fmt.Errorf("empty audio buffer")
	}
	metrics.Default.BuffersProcessed.Inc()

	detection := p.detector.Detect(buf)
	log.Info().
		Str("noise_level", detection.OverallLevel.String()).
		Float64("snr_db", detection.SNR).
		Int("noise_types", len(detection.Profiles)).
		Msg("Noise detection completed")

	speech := buf
	var reduction *noise.ReductionResult
	if !p.opts.SkipReduction {
		cfg := noise.RecommendedConfig(detection.OverallLevel)
		if p.opts.Reduction != nil {
			cfg = *p.opts.Reduction
		}
		res := noise.NewProcessor(cfg).Process(buf)
		reduction = &res
		speech = res.Processed

		metrics.Default.SNRImprovement.Observe(res.SNRImprovement)
		for _, w := range res.Warnings {
			metrics.Default.ReductionWarnings.Inc()
			log.Warn().Str("warning", w).Msg("Noise reduction quality warning")
		}
	}

	transcription, err := p.transcriber.Transcribe(ctx, speech)
	if err != nil {
		metrics.Default.TranscriptionErrors.Inc()
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	metrics.Default.WordsTranscribed.Add(float64(len(transcription.Words)))

	triaged := p.triager.Analyze(transcription.Words, triage.NoiseContext{
		Level: detection.OverallLevel,
		SNR:   detection.SNR,
	}, p.opts.AccentDetected)
	metrics.Default.WordsFlagged.Add(float64(len(triaged.WordsNeedingReview)))
	metrics.Default.CriticalTermsFlagged.Add(float64(len(triaged.CriticalTermsFlagged)))

	log.Info().
		Int("words", len(triaged.Words)).
		Int("flagged", len(triaged.WordsNeedingReview)).
		Int("critical_flagged", len(triaged.CriticalTermsFlagged)).
		Float64("estimated_wer", triaged.EstimatedWER).
		Msg("Transcript triage completed")

	return &Result{
		Detection:     detection,
		Reduction:     reduction,
		Transcription: transcription,
		Triage:        triaged,
	}, nil
}

// ProcessFile decodes a WAV file and runs the pipeline over it.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return p.Process(ctx, buf)
}

// Coordinator runs the pipeline over many files with a fixed worker pool.
// One failed file never aborts the batch; its error lands in the
// corresponding FileResult.
type Coordinator struct {
	pipeline *Pipeline
	workers  int
}

func NewCoordinator(pipeline *Pipeline, workers int) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	return &Coordinator{pipeline: pipeline, workers: workers}
}

// ProcessFiles returns one FileResult per input path, in input order. It
// returns an error only when the context is cancelled.
func (c *Coordinator) ProcessFiles(ctx context.Context, paths []string) ([]FileResult, error) {
	results := make([]FileResult, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	log.Info().
		Int("files", len(paths)).
		Int("workers", c.workers).
		Msg("Starting batch processing")

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := c.pipeline.ProcessFile(ctx, path)
			if err != nil {
				metrics.Default.FilesFailed.Inc()
				log.Error().Err(err).Str("path", path).Msg("File processing failed")
			}
			mu.Lock()
			results[i] = FileResult{Path: path, Result: res, Err: err}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
