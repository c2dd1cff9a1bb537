package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Audio
	SampleRate int

	// STT Backend
	STTBackend string // "deepgram", "assemblyai" or "vosk"

	// Deepgram settings
	DeepgramAPIKey    string
	DeepgramModel     string
	DeepgramDiarize   bool
	DeepgramPunctuate bool

	// AssemblyAI settings
	AssemblyAIAPIKey string

	// Vosk settings
	VoskModelPath string

	// Noise reduction settings
	ReductionMethod string // "", "spectral_subtraction", "wiener" or "multiband"
	Aggressiveness  float64
	SkipReduction   bool
	ProfileDir      string

	// Batch settings
	Workers int

	// Streaming settings
	ChunkMS   int
	QueueSize int

	// Observability
	MetricsAddr string // empty disables the /metrics endpoint

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	cfg := &Config{
		// Audio
		SampleRate: getIntEnvOrDefault("SAMPLE_RATE", 16000),

		// STT Backend
		STTBackend: getEnvOrDefault("STT_BACKEND", "deepgram"),

		// Deepgram
		DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getEnvOrDefault("DEEPGRAM_MODEL", "nova-2-medical"),
		DeepgramDiarize:   getBoolEnvOrDefault("DEEPGRAM_DIARIZE", true),
		DeepgramPunctuate: getBoolEnvOrDefault("DEEPGRAM_PUNCTUATE", true),

		// AssemblyAI
		AssemblyAIAPIKey: os.Getenv("ASSEMBLYAI_API_KEY"),

		// Vosk
		VoskModelPath: getEnvOrDefault("VOSK_MODEL_PATH", "./models/vosk/en"),

		// Noise reduction
		ReductionMethod: os.Getenv("REDUCTION_METHOD"),
		Aggressiveness:  getFloatEnvOrDefault("REDUCTION_AGGRESSIVENESS", 1.0),
		SkipReduction:   getBoolEnvOrDefault("SKIP_REDUCTION", false),
		ProfileDir:      os.Getenv("NOISE_PROFILE_DIR"),

		// Batch
		Workers: getIntEnvOrDefault("WORKERS", 4),

		// Streaming
		ChunkMS:   getIntEnvOrDefault("CHUNK_MS", 250),
		QueueSize: getIntEnvOrDefault("QUEUE_SIZE", 32),

		// Observability
		MetricsAddr: os.Getenv("METRICS_ADDR"),

		// Logging
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.STTBackend {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when using deepgram backend")
		}
	case "assemblyai":
		if c.AssemblyAIAPIKey == "" {
			return fmt.Errorf("ASSEMBLYAI_API_KEY is required when using assemblyai backend")
		}
	case "vosk":
		if c.VoskModelPath == "" {
			return fmt.Errorf("VOSK_MODEL_PATH is required when using vosk backend")
		}
	default:
		return fmt.Errorf("STT_BACKEND must be 'deepgram', 'assemblyai' or 'vosk'")
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive")
	}
	if c.Aggressiveness < 0 {
		return fmt.Errorf("REDUCTION_AGGRESSIVENESS must not be negative")
	}
	switch c.ReductionMethod {
	case "", "spectral_subtraction", "wiener", "multiband":
	default:
		return fmt.Errorf("REDUCTION_METHOD must be 'spectral_subtraction', 'wiener' or 'multiband'")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
