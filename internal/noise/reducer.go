package noise

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/dsp"
)

// Method selects the reduction algorithm.
type Method int

const (
	MethodSpectralSubtraction Method = iota
	MethodWiener
	MethodMultiBand
)

func (m Method) String() string {
	switch m {
	case MethodSpectralSubtraction:
		return "spectral_subtraction"
	case MethodWiener:
		return "wiener"
	case MethodMultiBand:
		return "multi_band"
	default:
		return "unknown"
	}
}

// ReductionConfig is immutable per run.
type ReductionConfig struct {
	Method            Method
	Aggressiveness    float64 // 0..2
	PreserveVoice     bool
	VoiceLowHz        float64
	VoiceHighHz       float64
	SpectralFloor     float64 // fraction of the noise power kept as floor
	FormantProtection bool
	TemporalSmoothing bool
}

func DefaultConfig() ReductionConfig {
	return ReductionConfig{
		Method:         MethodSpectralSubtraction,
		Aggressiveness: 1.0,
		PreserveVoice:  true,
		VoiceLowHz:     300,
		VoiceHighHz:    3400,
		SpectralFloor:  0.1,
	}
}

// RecommendedConfig maps a detected noise level to a method and
// aggressiveness preset. This is the auto-configuration path used when no
// explicit config is supplied.
func RecommendedConfig(level Level) ReductionConfig {
	cfg := DefaultConfig()
	switch level {
	case LevelVeryLow, LevelLow:
		cfg.Method = MethodSpectralSubtraction
		cfg.Aggressiveness = 0.5
	case LevelModerate:
		cfg.Method = MethodWiener
		cfg.Aggressiveness = 1.0
	case LevelHigh:
		cfg.Method = MethodMultiBand
		cfg.Aggressiveness = 1.2
		cfg.FormantProtection = true
		cfg.TemporalSmoothing = true
	case LevelVeryHigh:
		cfg.Method = MethodMultiBand
		cfg.Aggressiveness = 1.5
		cfg.FormantProtection = true
		cfg.TemporalSmoothing = true
	}
	return cfg
}

// QualityMetrics quantify how much damage the reduction did to the signal.
type QualityMetrics struct {
	SDR                float64 // signal-to-distortion ratio, dB
	Correlation        float64 // Pearson correlation original vs processed
	SpectralDistortion float64 // mean absolute spectral difference
	EnergyRatio        float64 // processed energy / original energy
}

// ReductionResult is emitted once per Process call.
type ReductionResult struct {
	Processed      *audio.Buffer
	Removed        *audio.Buffer
	OriginalSNR    float64
	ProcessedSNR   float64
	SNRImprovement float64
	Metrics        QualityMetrics
	Warnings       []string
}

// Processor applies one reduction algorithm per its immutable config; a
// single instance is safe under concurrent Process calls.
type Processor struct {
	cfg       ReductionConfig
	frameSize int
	hop       int
}

const (
	procFrameSize = 1024
	procHop       = 512
)

func NewProcessor(cfg ReductionConfig) *Processor {
	return &Processor{cfg: cfg, frameSize: procFrameSize, hop: procHop}
}

func (p *Processor) Config() ReductionConfig { return p.cfg }

// Process reduces noise using a noise spectrum estimated from the quietest
// frames of the buffer itself.
func (p *Processor) Process(buf *audio.Buffer) ReductionResult {
	return p.process(buf, nil)
}

// ProcessWithProfile uses the profile's calibrated average spectrum as the
// noise estimate when its resolution matches the CalibrationAnalyzer's;
// otherwise it warns and falls back to the internal estimate.
func (p *Processor) ProcessWithProfile(buf *audio.Buffer, profile *Profile) ReductionResult {
	var noiseSpectrum []float64
	if profile != nil {
		if len(profile.AvgSpectrum) == p.frameSize/2+1 && profile.SampleRate == buf.SampleRate {
			noiseSpectrum = profile.AvgSpectrum
		} else {
			log.Warn().
				Str("profile", profile.Name).
				Int("profile_bins", len(profile.AvgSpectrum)).
				Int("expected_bins", p.frameSize/2+1).
				Int("profile_rate", profile.SampleRate).
				Int("buffer_rate", buf.SampleRate).
				Msg("Calibration profile resolution mismatch, using internal noise estimate")
		}
	}
	return p.process(buf, noiseSpectrum)
}

func (p *Processor) process(buf *audio.Buffer, noiseSpectrum []float64) ReductionResult {
	// Degenerate input passes through untouched: all-zero output, no
	// warnings, zero SNR improvement.
	if buf == nil || len(buf.Samples) == 0 || buf.Peak() == 0 {
		var n int
		var rate int
		if buf != nil {
			n = len(buf.Samples)
			rate = buf.SampleRate
		}
		silent := audio.NewBuffer(make([]float64, n), rate)
		return ReductionResult{
			Processed: silent,
			Removed:   audio.NewBuffer(make([]float64, n), rate),
			Metrics:   QualityMetrics{Correlation: 1, EnergyRatio: 1},
		}
	}

	stft := newSTFT(p.frameSize, p.hop, buf.Samples)
	if noiseSpectrum == nil {
		noiseSpectrum = stft.estimateNoisePower()
	}

	switch p.cfg.Method {
	case MethodWiener:
		p.applyWiener(stft, noiseSpectrum)
	case MethodMultiBand:
		p.applyMultiBand(stft, buf.SampleRate)
	default:
		p.applySpectralSubtraction(stft, noiseSpectrum, buf.SampleRate)
	}

	processed := stft.reconstruct(len(buf.Samples))

	if p.cfg.TemporalSmoothing {
		processed = movingAverage3(processed)
	}

	// Renormalize to the original RMS, then hard-clip.
	origRMS := buf.RMS()
	procRMS := rms(processed)
	if procRMS > 0 {
		gain := origRMS / procRMS
		for i := range processed {
			processed[i] *= gain
		}
	}
	for i := range processed {
		if processed[i] > 1 {
			processed[i] = 1
		} else if processed[i] < -1 {
			processed[i] = -1
		}
	}

	removed := make([]float64, len(buf.Samples))
	for i := range removed {
		removed[i] = buf.Samples[i] - processed[i]
	}

	processedBuf := audio.NewBuffer(processed, buf.SampleRate)
	removedBuf := audio.NewBuffer(removed, buf.SampleRate)

	origSNR := bufferSNR(buf, p.frameSize, p.hop)
	procSNR := bufferSNR(processedBuf, p.frameSize, p.hop)

	metrics := p.qualityMetrics(buf, processedBuf, removedBuf)
	warnings := p.warnings(metrics)

	log.Debug().
		Str("method", p.cfg.Method.String()).
		Float64("aggressiveness", p.cfg.Aggressiveness).
		Float64("original_snr_db", origSNR).
		Float64("processed_snr_db", procSNR).
		Int("warnings", len(warnings)).
		Msg("Noise reduction completed")

	return ReductionResult{
		Processed:      processedBuf,
		Removed:        removedBuf,
		OriginalSNR:    origSNR,
		ProcessedSNR:   procSNR,
		SNRImprovement: procSNR - origSNR,
		Metrics:        metrics,
		Warnings:       warnings,
	}
}

func (p *Processor) applySpectralSubtraction(s *stftFrames, noisePower []float64, sampleRate int) {
	binHz := float64(sampleRate) / float64(s.frameSize)
	for _, fr := range s.frames {
		for i := range fr.coeffs {
			mag := cmplxAbs(fr.coeffs[i])
			power := mag * mag
			sub := power - p.cfg.Aggressiveness*noisePower[i]
			floor := p.cfg.SpectralFloor * noisePower[i]
			if sub < floor {
				sub = floor
			}
			newMag := math.Sqrt(sub)

			// Formant protection bounds attenuation inside the voice
			// band so vowel resonances survive aggressive settings.
			if p.cfg.FormantProtection && p.cfg.PreserveVoice {
				freq := float64(i) * binHz
				if freq >= p.cfg.VoiceLowHz && freq <= p.cfg.VoiceHighHz && newMag < 0.5*mag {
					newMag = 0.5 * mag
				}
			}
			fr.coeffs[i] = scaleToMagnitude(fr.coeffs[i], mag, newMag)
		}
	}
}

func (p *Processor) applyWiener(s *stftFrames, noisePower []float64) {
	for _, fr := range s.frames {
		for i := range fr.coeffs {
			mag := cmplxAbs(fr.coeffs[i])
			power := mag * mag
			denom := power + p.cfg.Aggressiveness*noisePower[i]
			var gain float64
			if denom > 0 {
				gain = power / denom
			}
			fr.coeffs[i] = scaleToMagnitude(fr.coeffs[i], mag, mag*gain)
		}
	}
}

// multiBandDepths holds the attenuation depth per band: strongest below
// 250 Hz, gentlest above 3 kHz.
var multiBandDepths = [dsp.NumBands]float64{0.7, 0.5, 0.3, 0.15, 0.1}

func (p *Processor) applyMultiBand(s *stftFrames, sampleRate int) {
	binHz := float64(sampleRate) / float64(s.frameSize)
	for _, fr := range s.frames {
		for i := range fr.coeffs {
			freq := float64(i) * binHz
			band := dsp.NumBands - 1
			for b := 0; b < dsp.NumBands-1; b++ {
				if freq < dsp.BandEdges[b+1] {
					band = b
					break
				}
			}
			depth := multiBandDepths[band]
			// Formant protection halves the attenuation inside the voice
			// band so vowel resonances survive aggressive settings.
			if p.cfg.FormantProtection && p.cfg.PreserveVoice &&
				freq >= p.cfg.VoiceLowHz && freq <= p.cfg.VoiceHighHz {
				depth /= 2
			}
			gain := 1 - depth*p.cfg.Aggressiveness/2
			if gain < 0.05 {
				gain = 0.05
			}
			mag := cmplxAbs(fr.coeffs[i])
			fr.coeffs[i] = scaleToMagnitude(fr.coeffs[i], mag, mag*gain)
		}
	}
}

func (p *Processor) qualityMetrics(original, processed, removed *audio.Buffer) QualityMetrics {
	origPower := original.Power()
	residualPower := removed.Power()

	sdr := math.Inf(1)
	if residualPower > 0 {
		sdr = 10 * math.Log10(origPower/residualPower)
	}

	correlation := stat.Correlation(original.Samples, processed.Samples, nil)
	if math.IsNaN(correlation) {
		correlation = 0
	}

	energyRatio := 0.0
	if origPower > 0 {
		energyRatio = processed.Power() / origPower
	}

	return QualityMetrics{
		SDR:                sdr,
		Correlation:        correlation,
		SpectralDistortion: spectralDistortion(original, processed),
		EnergyRatio:        energyRatio,
	}
}

// spectralDistortion is the mean absolute magnitude difference between the
// two buffers' representative spectra.
func spectralDistortion(original, processed *audio.Buffer) float64 {
	analyzer := dsp.NewAnalyzer(procFrameSize, procHop, procFrameSize)
	of := analyzer.Analyze(original)
	pf := analyzer.Analyze(processed)

	var sum float64
	for i := range of.Magnitudes {
		sum += math.Abs(of.Magnitudes[i] - pf.Magnitudes[i])
	}
	return sum / float64(len(of.Magnitudes))
}

func (p *Processor) warnings(m QualityMetrics) []string {
	var warnings []string
	if m.SDR < 10 {
		warnings = append(warnings, fmt.Sprintf("low signal-to-distortion ratio (%.1f dB); output may sound artifacted", m.SDR))
	}
	if m.EnergyRatio < 0.5 || m.EnergyRatio > 1.5 {
		warnings = append(warnings, fmt.Sprintf("energy ratio %.2f outside expected range; level balance changed significantly", m.EnergyRatio))
	}
	if m.Correlation < 0.7 {
		warnings = append(warnings, fmt.Sprintf("low correlation with original (%.2f); speech content may be damaged", m.Correlation))
	}
	return warnings
}

// bufferSNR estimates SNR from the quietest 10% of frame energies, matching
// the detector's method.
func bufferSNR(buf *audio.Buffer, frameSize, hop int) float64 {
	var energies []float64
	for off := 0; off+frameSize <= len(buf.Samples); off += hop {
		var e float64
		for _, s := range buf.Samples[off : off+frameSize] {
			e += s * s
		}
		energies = append(energies, math.Sqrt(e/float64(frameSize)))
	}
	if len(energies) == 0 {
		return 0
	}
	sort.Float64s(energies)
	n := len(energies) / 10
	if n < 1 {
		n = 1
	}
	var noisePower float64
	for _, e := range energies[:n] {
		noisePower += e * e
	}
	noisePower /= float64(n)
	if noisePower <= 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(buf.Power()/noisePower)
}

// --- STFT plumbing ---

type stftFrame struct {
	offset int
	coeffs []complex128
	energy float64
}

type stftFrames struct {
	frameSize int
	hop       int
	fft       *fourier.FFT
	window    []float64
	frames    []*stftFrame
}

// newSTFT frames the signal with a periodic Hann window and transforms each
// frame. The final partial frame is zero-padded.
func newSTFT(frameSize, hop int, samples []float64) *stftFrames {
	s := &stftFrames{
		frameSize: frameSize,
		hop:       hop,
		fft:       fourier.NewFFT(frameSize),
		window:    dsp.HannWindow(frameSize),
	}

	frame := make([]float64, frameSize)
	for off := 0; off < len(samples); off += hop {
		var energy float64
		for i := 0; i < frameSize; i++ {
			if off+i < len(samples) {
				frame[i] = samples[off+i] * s.window[i]
				energy += samples[off+i] * samples[off+i]
			} else {
				frame[i] = 0
			}
		}
		coeffs := s.fft.Coefficients(nil, frame)
		s.frames = append(s.frames, &stftFrame{
			offset: off,
			coeffs: coeffs,
			energy: math.Sqrt(energy / float64(frameSize)),
		})
		if off+frameSize >= len(samples) {
			break
		}
	}
	return s
}

// estimateNoisePower averages the power spectra of the quietest 10% of
// frames.
func (s *stftFrames) estimateNoisePower() []float64 {
	numBins := s.frameSize/2 + 1
	noise := make([]float64, numBins)
	if len(s.frames) == 0 {
		return noise
	}

	sorted := make([]*stftFrame, len(s.frames))
	copy(sorted, s.frames)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].energy < sorted[j].energy })

	n := len(sorted) / 10
	if n < 1 {
		n = 1
	}
	for _, fr := range sorted[:n] {
		for i, c := range fr.coeffs {
			mag := cmplxAbs(c)
			noise[i] += mag * mag
		}
	}
	for i := range noise {
		noise[i] /= float64(n)
	}
	return noise
}

// reconstruct inverts every frame with its (possibly modified) spectrum and
// original phase, then overlap-adds with window-sum normalization.
func (s *stftFrames) reconstruct(length int) []float64 {
	out := make([]float64, length)
	windowSum := make([]float64, length)
	seq := make([]float64, s.frameSize)

	for _, fr := range s.frames {
		s.fft.Sequence(seq, fr.coeffs)
		for i := 0; i < s.frameSize; i++ {
			idx := fr.offset + i
			if idx >= length {
				break
			}
			// gonum's inverse is unnormalized; divide by the frame size.
			out[idx] += seq[i] / float64(s.frameSize)
			windowSum[idx] += s.window[i]
		}
	}
	for i := range out {
		if windowSum[i] > 1e-8 {
			out[i] /= windowSum[i]
		}
	}
	return out
}

func scaleToMagnitude(c complex128, oldMag, newMag float64) complex128 {
	if oldMag == 0 {
		return 0
	}
	scale := newMag / oldMag
	return complex(real(c)*scale, imag(c)*scale)
}

func movingAverage3(samples []float64) []float64 {
	if len(samples) < 3 {
		return samples
	}
	out := make([]float64, len(samples))
	out[0] = samples[0]
	out[len(samples)-1] = samples[len(samples)-1]
	for i := 1; i < len(samples)-1; i++ {
		out[i] = (samples[i-1] + samples[i] + samples[i+1]) / 3
	}
	return out
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
