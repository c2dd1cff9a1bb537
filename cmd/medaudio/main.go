package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/config"
	"github.com/user/medaudio-pipeline/internal/noise"
	"github.com/user/medaudio-pipeline/internal/pipeline"
	"github.com/user/medaudio-pipeline/internal/stt"
	"github.com/user/medaudio-pipeline/internal/stt/assemblyai"
	"github.com/user/medaudio-pipeline/internal/stt/deepgram"
	"github.com/user/medaudio-pipeline/internal/stt/stream"
	"github.com/user/medaudio-pipeline/internal/stt/vosk"
	"github.com/user/medaudio-pipeline/internal/triage"
)

func main() {
	streamMode := flag.Bool("stream", false, "stream one file through the realtime backend instead of batch processing")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logging
	setupLogging(cfg.LogLevel)

	paths := flag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: medaudio [-stream] file.wav [file.wav ...]")
		os.Exit(2)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	if *streamMode {
		if err := runStreaming(cfg, paths[0]); err != nil {
			log.Fatal().Err(err).Msg("Streaming session failed")
		}
		return
	}

	if err := runBatch(cfg, paths); err != nil {
		log.Fatal().Err(err).Msg("Batch processing failed")
	}
}

func runBatch(cfg *config.Config, paths []string) error {
	transcriber, err := buildTranscriber(cfg)
	if err != nil {
		return err
	}
	defer transcriber.Close()

	db, err := buildDatabase(cfg)
	if err != nil {
		return err
	}

	p := pipeline.New(
		noise.NewDetector(db),
		transcriber,
		triage.NewManager(),
		pipeline.Options{
			Reduction:     reductionOverride(cfg),
			SkipReduction: cfg.SkipReduction,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	coord := pipeline.NewCoordinator(p, cfg.Workers)
	results, err := coord.ProcessFiles(ctx, paths)
	if err != nil {
		return err
	}

	for _, fr := range results {
		if fr.Err != nil {
			fmt.Printf("%s: FAILED: %v\n", fr.Path, fr.Err)
			continue
		}
		printResult(fr.Path, fr.Result)
	}
	return nil
}

func printResult(path string, res *pipeline.Result) {
	fmt.Printf("%s:\n", path)
	fmt.Printf("  noise level:   %s (SNR %.1f dB)\n", res.Detection.OverallLevel, res.Detection.SNR)
	if res.Reduction != nil {
		fmt.Printf("  SNR improved:  %.1f dB\n", res.Reduction.SNRImprovement)
	}
	fmt.Printf("  transcript:    %s\n", res.Triage.Transcript)
	fmt.Printf("  estimated WER: %.0f%%\n", res.Triage.EstimatedWER*100)
	for _, w := range res.Triage.WordsNeedingReview {
		marker := ""
		if w.Critical {
			marker = " [CRITICAL]"
		}
		fmt.Printf("  review: %q (%s, confidence %.2f)%s\n", w.Text, w.Term, w.AdjustedConfidence, marker)
	}
}

func runStreaming(cfg *config.Config, path string) error {
	if cfg.AssemblyAIAPIKey == "" {
		return fmt.Errorf("ASSEMBLYAI_API_KEY is required for streaming mode")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return err
	}

	var processor *noise.Processor
	if !cfg.SkipReduction {
		processor = noise.NewProcessor(noise.DefaultConfig())
	}

	session := stream.NewSessionWithQueue(
		stream.NewWebSocketBackend(cfg.AssemblyAIAPIKey, buf.SampleRate),
		processor,
		stream.Callbacks{
			OnPartial: func(r stt.Result) {
				log.Debug().Str("transcript", r.Transcript).Msg("Partial result")
			},
			OnFinal: func(r stt.Result) {
				fmt.Println(r.Transcript)
			},
			OnError: func(err error) {
				log.Error().Err(err).Msg("Session error")
			},
		},
		cfg.QueueSize,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := session.Start(ctx); err != nil {
		return err
	}

	chunker := audio.NewChunker(cfg.ChunkMS, buf.SampleRate, cfg.QueueSize)
	go func() {
		chunker.AddSamples(buf.Samples, time.Now())
		chunker.Stop()
	}()

	// Pace chunks at realtime so the backend sees a live microphone shape.
	interval := time.Duration(cfg.ChunkMS) * time.Millisecond
feed:
	for chunk := range chunker.Chunks() {
		session.SendAudio(chunk)
		select {
		case <-ctx.Done():
			break feed
		case <-time.After(interval):
		}
	}

	// Let the backend flush its last turn before tearing down.
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}

	if err := session.Stop(); err != nil {
		log.Warn().Err(err).Msg("Session close reported an error")
	}
	fmt.Printf("\nfull transcript: %s\n", session.Transcript())
	return nil
}

func buildTranscriber(cfg *config.Config) (stt.Transcriber, error) {
	switch cfg.STTBackend {
	case "deepgram":
		return deepgram.NewTranscriber(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.DeepgramDiarize, cfg.DeepgramPunctuate), nil
	case "assemblyai":
		return assemblyai.NewTranscriber(cfg.AssemblyAIAPIKey), nil
	case "vosk":
		return vosk.NewTranscriber(cfg.VoskModelPath, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unknown STT backend: %s", cfg.STTBackend)
	}
}

func buildDatabase(cfg *config.Config) (*noise.Database, error) {
	if cfg.ProfileDir == "" {
		return noise.NewDatabase(), nil
	}
	store, err := noise.NewStore(cfg.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open noise profile store: %w", err)
	}
	return store.Database()
}

func reductionOverride(cfg *config.Config) *noise.ReductionConfig {
	if cfg.ReductionMethod == "" {
		return nil
	}
	rc := noise.DefaultConfig()
	rc.Aggressiveness = cfg.Aggressiveness
	switch cfg.ReductionMethod {
	case "wiener":
		rc.Method = noise.MethodWiener
	case "multiband":
		rc.Method = noise.MethodMultiBand
	default:
		rc.Method = noise.MethodSpectralSubtraction
	}
	return &rc
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server stopped")
	}
}

func setupLogging(level string) {
	// Setup zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	// Set log level
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
