// Package noise implements noise classification, reduction, and the profile
// table driving both.
package noise

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/dsp"
)

// Type is the closed set of noise classes the detector can report. Keeping
// this a tagged enum (rather than free-form strings) means a typo fails to
// compile instead of silently never matching.
type Type int

const (
	TypeUnknown Type = iota
	TypeAmbient
	TypeHVAC
	TypeMonitorBeep
	TypeConversation
	TypeElectrical
	TypeWhiteNoise
	TypeImpulse
)

func (t Type) String() string {
	switch t {
	case TypeAmbient:
		return "ambient"
	case TypeHVAC:
		return "hvac"
	case TypeMonitorBeep:
		return "monitor_beep"
	case TypeConversation:
		return "conversation"
	case TypeElectrical:
		return "electrical_interference"
	case TypeWhiteNoise:
		return "white_noise"
	case TypeImpulse:
		return "impulse"
	default:
		return "unknown"
	}
}

// ParseType maps the persisted string form back to a Type.
func ParseType(s string) (Type, error) {
	for t := TypeUnknown; t <= TypeImpulse; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown noise type %q", s)
}

// Level is an ordered severity scale.
type Level int

const (
	LevelVeryLow Level = iota
	LevelLow
	LevelModerate
	LevelHigh
	LevelVeryHigh
)

func (l Level) String() string {
	switch l {
	case LevelVeryLow:
		return "very_low"
	case LevelLow:
		return "low"
	case LevelModerate:
		return "moderate"
	case LevelHigh:
		return "high"
	case LevelVeryHigh:
		return "very_high"
	default:
		return "unknown"
	}
}

func ParseLevel(s string) (Level, error) {
	for l := LevelVeryLow; l <= LevelVeryHigh; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return LevelVeryLow, fmt.Errorf("unknown noise level %q", s)
}

// Characteristics describes the signature of a noise class.
type Characteristics struct {
	FreqLowHz    float64 `yaml:"freq_low_hz"`
	FreqHighHz   float64 `yaml:"freq_high_hz"`
	MinDuration  float64 `yaml:"min_duration_s"`
	MaxDuration  float64 `yaml:"max_duration_s"`
	MinIntensity float64 `yaml:"min_intensity"`
	MaxIntensity float64 `yaml:"max_intensity"`
	Periodic     bool    `yaml:"periodic"`
	Impulsive    bool    `yaml:"impulsive"`
	Continuous   bool    `yaml:"continuous"`
	// SpectralShape tags the coarse spectrum shape: "broadband",
	// "lowpass", "narrowband", or "harmonic".
	SpectralShape string `yaml:"spectral_shape"`
}

// ProfileStats summarizes the calibration recordings a profile was averaged
// from.
type ProfileStats struct {
	SampleCount int     `yaml:"sample_count"`
	MeanRMS     float64 `yaml:"mean_rms"`
	StdRMS      float64 `yaml:"std_rms"`
	PeakRMS     float64 `yaml:"peak_rms"`
}

// Profile pairs a noise signature with the reduction settings tuned for it.
// Profiles come either from the builtin Database or from a calibration
// session averaged over sample recordings.
type Profile struct {
	Name               string          `yaml:"name"`
	Type               Type            `yaml:"-"`
	Level              Level           `yaml:"-"`
	Characteristics    Characteristics `yaml:"characteristics"`
	ReductionStrength  float64         `yaml:"reduction_strength"`  // 0..1
	PreserveSpeech     bool            `yaml:"preserve_speech"`
	DetectionThreshold float64         `yaml:"detection_threshold"` // 0..1

	// Calibration data; empty for builtin profiles.
	AvgSpectrum []float64    `yaml:"avg_spectrum,omitempty"`
	SampleRate  int          `yaml:"sample_rate,omitempty"`
	FFTSize     int          `yaml:"fft_size,omitempty"`
	Stats       ProfileStats `yaml:"stats,omitempty"`
}

// Database is an explicit, injected read-only table of known noise
// signatures. Detector and Processor instances share one without locking
// because it is never mutated after construction.
type Database struct {
	profiles map[Type]Profile
}

// NewDatabase returns a table seeded with the builtin clinical-environment
// signatures.
func NewDatabase() *Database {
	db := &Database{profiles: make(map[Type]Profile)}
	for _, p := range builtinProfiles() {
		db.profiles[p.Type] = p
	}
	return db
}

// NewDatabaseWith builds a table from explicit profiles, e.g. ones reloaded
// from a calibration store. Later profiles replace earlier ones of the same
// type.
func NewDatabaseWith(profiles ...Profile) *Database {
	db := NewDatabase()
	for _, p := range profiles {
		db.profiles[p.Type] = p
	}
	return db
}

func (d *Database) Lookup(t Type) (Profile, bool) {
	p, ok := d.profiles[t]
	return p, ok
}

func (d *Database) Profiles() []Profile {
	out := make([]Profile, 0, len(d.profiles))
	for t := TypeUnknown; t <= TypeImpulse; t++ {
		if p, ok := d.profiles[t]; ok {
			out = append(out, p)
		}
	}
	return out
}

func builtinProfiles() []Profile {
	return []Profile{
		{
			Name:  "ward ambient",
			Type:  TypeAmbient,
			Level: LevelLow,
			Characteristics: Characteristics{
				FreqLowHz: 20, FreqHighHz: 500,
				MinIntensity: 0.01, MaxIntensity: 0.2,
				Continuous: true, SpectralShape: "lowpass",
			},
			ReductionStrength:  0.5,
			PreserveSpeech:     true,
			DetectionThreshold: 0.3,
		},
		{
			Name:  "hvac rumble",
			Type:  TypeHVAC,
			Level: LevelModerate,
			Characteristics: Characteristics{
				FreqLowHz: 40, FreqHighHz: 300,
				MinIntensity: 0.05, MaxIntensity: 0.4,
				Periodic: true, Continuous: true, SpectralShape: "lowpass",
			},
			ReductionStrength:  0.7,
			PreserveSpeech:     true,
			DetectionThreshold: 0.35,
		},
		{
			Name:  "patient monitor beep",
			Type:  TypeMonitorBeep,
			Level: LevelModerate,
			Characteristics: Characteristics{
				FreqLowHz: 800, FreqHighHz: 4000,
				MinDuration: 0.05, MaxDuration: 0.5,
				MinIntensity: 0.1, MaxIntensity: 0.8,
				Periodic: true, SpectralShape: "narrowband",
			},
			ReductionStrength:  0.6,
			PreserveSpeech:     true,
			DetectionThreshold: 0.4,
		},
		{
			Name:  "background conversation",
			Type:  TypeConversation,
			Level: LevelHigh,
			Characteristics: Characteristics{
				FreqLowHz: 100, FreqHighHz: 4000,
				MinIntensity: 0.05, MaxIntensity: 0.6,
				Continuous: true, SpectralShape: "broadband",
			},
			ReductionStrength:  0.4,
			PreserveSpeech:     true,
			DetectionThreshold: 0.45,
		},
		{
			Name:  "mains hum",
			Type:  TypeElectrical,
			Level: LevelModerate,
			Characteristics: Characteristics{
				FreqLowHz: 50, FreqHighHz: 180,
				MinIntensity: 0.01, MaxIntensity: 0.3,
				Periodic: true, Continuous: true, SpectralShape: "harmonic",
			},
			ReductionStrength:  0.9,
			PreserveSpeech:     true,
			DetectionThreshold: 0.25,
		},
		{
			Name:  "broadband hiss",
			Type:  TypeWhiteNoise,
			Level: LevelModerate,
			Characteristics: Characteristics{
				FreqLowHz: 20, FreqHighHz: 8000,
				MinIntensity: 0.02, MaxIntensity: 0.5,
				Continuous: true, SpectralShape: "broadband",
			},
			ReductionStrength:  0.8,
			PreserveSpeech:     true,
			DetectionThreshold: 0.3,
		},
		{
			Name:  "impulsive transient",
			Type:  TypeImpulse,
			Level: LevelHigh,
			Characteristics: Characteristics{
				FreqLowHz: 100, FreqHighHz: 8000,
				MinDuration: 0.005, MaxDuration: 0.2,
				MinIntensity: 0.3, MaxIntensity: 1.0,
				Impulsive: true, SpectralShape: "broadband",
			},
			ReductionStrength:  0.7,
			PreserveSpeech:     true,
			DetectionThreshold: 0.5,
		},
	}
}

// CalibrationAnalyzer returns the analyzer whose spectra the Processor can
// consume directly. Profiles built at any other resolution are ignored by
// ProcessWithProfile.
func CalibrationAnalyzer() *dsp.Analyzer {
	return dsp.NewAnalyzer(procFrameSize, procHop, procFrameSize)
}

// BuildProfile averages the spectra of sample recordings into a calibration
// profile for the given noise type. Used once per calibration session; the
// result is persisted via Store and reloaded before later runs. A nil
// analyzer defaults to CalibrationAnalyzer so the profile matches the
// Processor's resolution.
func BuildProfile(name string, t Type, analyzer *dsp.Analyzer, recordings []*audio.Buffer) (Profile, error) {
	if len(recordings) == 0 {
		return Profile{}, fmt.Errorf("no calibration recordings supplied")
	}
	if analyzer == nil {
		analyzer = CalibrationAnalyzer()
	}

	base, ok := NewDatabase().Lookup(t)
	if !ok {
		return Profile{}, fmt.Errorf("no builtin signature for noise type %s", t)
	}

	sampleRate := recordings[0].SampleRate
	var avg []float64
	rmsValues := make([]float64, 0, len(recordings))

	for _, rec := range recordings {
		if rec.SampleRate != sampleRate {
			return Profile{}, fmt.Errorf("mixed sample rates in calibration set: %d vs %d", rec.SampleRate, sampleRate)
		}
		feats := analyzer.Analyze(rec)
		if avg == nil {
			avg = make([]float64, len(feats.PowerSpectrum))
		}
		for i, p := range feats.PowerSpectrum {
			avg[i] += p
		}
		rmsValues = append(rmsValues, rec.RMS())
	}
	for i := range avg {
		avg[i] /= float64(len(recordings))
	}

	meanRMS, stdRMS := stat.MeanStdDev(rmsValues, nil)
	if len(rmsValues) < 2 {
		stdRMS = 0
	}
	var peakRMS float64
	for _, r := range rmsValues {
		if r > peakRMS {
			peakRMS = r
		}
	}

	p := base
	p.Name = name
	p.AvgSpectrum = avg
	p.SampleRate = sampleRate
	p.FFTSize = analyzer.FFTSize
	p.Stats = ProfileStats{
		SampleCount: len(recordings),
		MeanRMS:     meanRMS,
		StdRMS:      stdRMS,
		PeakRMS:     peakRMS,
	}
	return p, nil
}
