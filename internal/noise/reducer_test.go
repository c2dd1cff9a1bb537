package noise

import (
	"math"
	"math/rand"
	"testing"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/dsp"
)

// noisySpeechLike builds tone bursts over a constant noise floor: active
// speech in two windows with a silent gap between them.
func noisySpeechLike(seed int64, noiseAmp float64) *audio.Buffer {
	rng := rand.New(rand.NewSource(seed))
	sampleRate := 16000
	samples := make([]float64, 2*sampleRate)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = noiseAmp * (rng.Float64() - 0.5)
		inBurst := (ts >= 0 && ts < 0.5) || (ts >= 1.0 && ts < 1.5)
		if inBurst {
			samples[i] += 0.5*math.Sin(2*math.Pi*440*ts) + 0.2*math.Sin(2*math.Pi*880*ts)
		}
	}
	return audio.NewBuffer(samples, sampleRate)
}

// gapPower measures residual power in the known silent window.
func gapPower(buf *audio.Buffer) float64 {
	lo := int(0.65 * float64(buf.SampleRate))
	hi := int(0.85 * float64(buf.SampleRate))
	var sum float64
	for _, s := range buf.Samples[lo:hi] {
		sum += s * s
	}
	return sum / float64(hi-lo)
}

func TestProcessDegenerateInput(t *testing.T) {
	for _, method := range []Method{MethodSpectralSubtraction, MethodWiener, MethodMultiBand} {
		t.Run(method.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = method
			p := NewProcessor(cfg)

			res := p.Process(audio.NewBuffer(make([]float64, 4000), 16000))

			if res.Processed.Len() != 4000 {
				t.Errorf("processed length = %d, want 4000", res.Processed.Len())
			}
			for i, s := range res.Processed.Samples {
				if s != 0 {
					t.Fatalf("sample %d = %f, want 0 for silent input", i, s)
				}
			}
			if res.Metrics.Correlation != 1 || res.Metrics.EnergyRatio != 1 {
				t.Errorf("degenerate metrics = %+v, want correlation 1 and energy ratio 1", res.Metrics)
			}
			if len(res.Warnings) != 0 {
				t.Errorf("unexpected warnings for silent input: %v", res.Warnings)
			}
			if res.SNRImprovement != 0 {
				t.Errorf("SNR improvement = %f, want 0", res.SNRImprovement)
			}
		})
	}
}

func TestProcessPreservesLengthAndRate(t *testing.T) {
	buf := noisySpeechLike(1, 0.04)
	res := NewProcessor(DefaultConfig()).Process(buf)

	if res.Processed.Len() != buf.Len() {
		t.Errorf("processed length = %d, want %d", res.Processed.Len(), buf.Len())
	}
	if res.Processed.SampleRate != buf.SampleRate {
		t.Errorf("sample rate = %d, want %d", res.Processed.SampleRate, buf.SampleRate)
	}
	if res.Removed.Len() != buf.Len() {
		t.Errorf("removed length = %d, want %d", res.Removed.Len(), buf.Len())
	}
}

func TestProcessImprovesSNR(t *testing.T) {
	buf := noisySpeechLike(2, 0.04)

	for _, method := range []Method{MethodSpectralSubtraction, MethodWiener} {
		t.Run(method.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = method
			res := NewProcessor(cfg).Process(buf)

			if res.ProcessedSNR <= res.OriginalSNR {
				t.Errorf("SNR did not improve: %.1f dB -> %.1f dB",
					res.OriginalSNR, res.ProcessedSNR)
			}
			if res.SNRImprovement <= 0 {
				t.Errorf("SNR improvement = %.2f, want positive", res.SNRImprovement)
			}
		})
	}
}

func TestAggressivenessMonotonic(t *testing.T) {
	// Residual noise in the silent gap must never increase with
	// aggressiveness. Values stay below the spectral-floor saturation
	// point so each step still has headroom to remove more.
	buf := noisySpeechLike(3, 0.04)

	var prev float64 = math.Inf(1)
	for _, a := range []float64{0.2, 0.5, 0.8} {
		cfg := DefaultConfig()
		cfg.Aggressiveness = a
		res := NewProcessor(cfg).Process(buf)

		p := gapPower(res.Processed)
		if p > prev*1.02 {
			t.Errorf("gap power rose at aggressiveness %.1f: %.3e -> %.3e", a, prev, p)
		}
		prev = p
	}
}

func TestProcessKeepsSpeechCorrelated(t *testing.T) {
	buf := noisySpeechLike(4, 0.02)
	res := NewProcessor(DefaultConfig()).Process(buf)

	if res.Metrics.Correlation < 0.9 {
		t.Errorf("correlation with original = %.3f, want >= 0.9", res.Metrics.Correlation)
	}
	if res.Metrics.EnergyRatio < 0.5 || res.Metrics.EnergyRatio > 1.5 {
		t.Errorf("energy ratio = %.3f, outside sane range", res.Metrics.EnergyRatio)
	}
}

func TestProcessWithProfileFallsBackOnMismatch(t *testing.T) {
	buf := noisySpeechLike(5, 0.04)
	p := NewProcessor(DefaultConfig())

	// Wrong spectrum resolution: profile must be ignored in favor of the
	// internal estimate.
	mismatched := &Profile{
		Type:        TypeWhiteNoise,
		AvgSpectrum: make([]float64, 64),
		SampleRate:  buf.SampleRate,
	}

	plain := p.Process(buf)
	withProfile := p.ProcessWithProfile(buf, mismatched)

	for i := range plain.Processed.Samples {
		if plain.Processed.Samples[i] != withProfile.Processed.Samples[i] {
			t.Fatalf("sample %d differs: mismatched profile was not ignored", i)
		}
	}
}

func TestRecommendedConfig(t *testing.T) {
	cases := []struct {
		level          Level
		method         Method
		aggressiveness float64
		smoothing      bool
	}{
		{LevelVeryLow, MethodSpectralSubtraction, 0.5, false},
		{LevelLow, MethodSpectralSubtraction, 0.5, false},
		{LevelModerate, MethodWiener, 1.0, false},
		{LevelHigh, MethodMultiBand, 1.2, true},
		{LevelVeryHigh, MethodMultiBand, 1.5, true},
	}
	for _, tc := range cases {
		t.Run(tc.level.String(), func(t *testing.T) {
			cfg := RecommendedConfig(tc.level)
			if cfg.Method != tc.method {
				t.Errorf("method = %s, want %s", cfg.Method, tc.method)
			}
			if cfg.Aggressiveness != tc.aggressiveness {
				t.Errorf("aggressiveness = %.1f, want %.1f", cfg.Aggressiveness, tc.aggressiveness)
			}
			if cfg.TemporalSmoothing != tc.smoothing {
				t.Errorf("temporal smoothing = %v, want %v", cfg.TemporalSmoothing, tc.smoothing)
			}
			if !cfg.PreserveVoice {
				t.Error("voice preservation should stay on in every preset")
			}
		})
	}
}

func TestMethodString(t *testing.T) {
	cases := map[Method]string{
		MethodSpectralSubtraction: "spectral_subtraction",
		MethodWiener:              "wiener",
		MethodMultiBand:           "multi_band",
		Method(99):                "unknown",
	}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Errorf("Method(%d).String() = %q, want %q", m, got, want)
		}
	}
}

func TestMultiBandFormantProtection(t *testing.T) {
	// Equal-power tones inside and outside the voice band. Protection must
	// leave the voice-band tone with a larger share of the output energy.
	sampleRate := 16000
	samples := make([]float64, 2*sampleRate)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = 0.4*math.Sin(2*math.Pi*440*ts) + 0.4*math.Sin(2*math.Pi*7000*ts)
	}
	buf := audio.NewBuffer(samples, sampleRate)

	cfg := DefaultConfig()
	cfg.Method = MethodMultiBand
	cfg.Aggressiveness = 1.2
	cfg.FormantProtection = true
	protected := NewProcessor(cfg).Process(buf)

	cfg.FormantProtection = false
	plain := NewProcessor(cfg).Process(buf)

	analyzer := dsp.DefaultAnalyzer()
	protFrac := analyzer.Analyze(protected.Processed).BandEnergies[1]
	plainFrac := analyzer.Analyze(plain.Processed).BandEnergies[1]

	if protFrac <= plainFrac {
		t.Errorf("voice-band energy fraction %.3f with protection, %.3f without; protection had no effect",
			protFrac, plainFrac)
	}
}

func TestProcessWithCalibratedProfile(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	recordings := make([]*audio.Buffer, 2)
	for r := range recordings {
		samples := make([]float64, 8192)
		for i := range samples {
			samples[i] = 0.1 * (rng.Float64() - 0.5)
		}
		recordings[r] = audio.NewBuffer(samples, 16000)
	}

	// A nil analyzer calibrates at the resolution the processor consumes.
	profile, err := BuildProfile("booth hiss", TypeWhiteNoise, nil, recordings)
	if err != nil {
		t.Fatalf("BuildProfile: %v", err)
	}
	if len(profile.AvgSpectrum) != procFrameSize/2+1 {
		t.Fatalf("default calibration resolution = %d bins, want %d",
			len(profile.AvgSpectrum), procFrameSize/2+1)
	}

	buf := noisySpeechLike(5, 0.04)
	p := NewProcessor(DefaultConfig())
	plain := p.Process(buf)
	calibrated := p.ProcessWithProfile(buf, &profile)

	same := true
	for i := range plain.Processed.Samples {
		if plain.Processed.Samples[i] != calibrated.Processed.Samples[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("calibrated profile had no effect on the output")
	}
}

func TestReconstructionIdentity(t *testing.T) {
	// STFT followed by overlap-add with no spectral edits must reproduce
	// the input except at the unwindowed edges.
	rng := rand.New(rand.NewSource(6))
	samples := make([]float64, 8192)
	for i := range samples {
		samples[i] = rng.Float64() - 0.5
	}

	s := newSTFT(procFrameSize, procHop, samples)
	out := s.reconstruct(len(samples))

	for i := procFrameSize; i < len(samples)-procFrameSize; i++ {
		if math.Abs(out[i]-samples[i]) > 1e-9 {
			t.Fatalf("sample %d: reconstruction %.12f differs from input %.12f",
				i, out[i], samples[i])
		}
	}
}
