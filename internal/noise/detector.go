package noise

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/user/medaudio-pipeline/internal/audio"
	"github.com/user/medaudio-pipeline/internal/dsp"
)

// DetectionResult is created fresh per Detect call and consumed immediately.
type DetectionResult struct {
	Profiles        []Profile
	OverallLevel    Level
	SNR             float64 // dB; +Inf when no noise power is measurable
	Confidence      float64 // 0..1
	Recommendations []string
}

// Detector classifies noise in a buffer against the injected profile table.
// Configuration is read-only after construction, so one instance is safe
// under concurrent Detect calls.
type Detector struct {
	analyzer *dsp.Analyzer
	db       *Database
}

func NewDetector(db *Database) *Detector {
	return &Detector{analyzer: dsp.DefaultAnalyzer(), db: db}
}

func NewDetectorWithAnalyzer(db *Database, analyzer *dsp.Analyzer) *Detector {
	return &Detector{analyzer: analyzer, db: db}
}

// Detect classifies noise using the quietest 10% of frames as the noise
// estimate.
func (d *Detector) Detect(buf *audio.Buffer) DetectionResult {
	return d.detect(buf, nil)
}

// DetectWithReference uses a separately captured noise recording as the
// noise-power reference instead of the quietest frames.
func (d *Detector) DetectWithReference(buf, reference *audio.Buffer) DetectionResult {
	return d.detect(buf, reference)
}

func (d *Detector) detect(buf, reference *audio.Buffer) DetectionResult {
	// Malformed input yields a degenerate but well-defined result; the
	// pipeline stays available.
	if buf == nil || len(buf.Samples) == 0 || buf.Peak() == 0 {
		return DetectionResult{OverallLevel: LevelVeryLow}
	}

	// Normalize a copy to peak amplitude 1.0 so the heuristics see a
	// consistent scale.
	norm := buf.Clone()
	peak := norm.Peak()
	for i := range norm.Samples {
		norm.Samples[i] /= peak
	}

	feats := d.analyzer.Analyze(norm)
	profiles := d.classify(feats)

	snr := d.signalToNoise(norm, reference, feats)
	overall := overallLevel(snr, profiles)
	confidence := d.confidence(feats, profiles, norm)
	recs := d.recommendations(profiles, snr)

	log.Debug().
		Float64("snr_db", snr).
		Str("overall_level", overall.String()).
		Float64("confidence", confidence).
		Int("profiles", len(profiles)).
		Msg("Noise detection completed")

	return DetectionResult{
		Profiles:        profiles,
		OverallLevel:    overall,
		SNR:             snr,
		Confidence:      confidence,
		Recommendations: recs,
	}
}

func (d *Detector) classify(feats *dsp.Features) []Profile {
	var profiles []Profile

	add := func(t Type) {
		if p, ok := d.db.Lookup(t); ok {
			profiles = append(profiles, p)
		}
	}

	// Low-band energy concentration points at ambient room noise.
	if feats.BandEnergies[0] > 0.3 {
		add(TypeAmbient)
	}
	if d.hasMainsHum(feats) {
		add(TypeElectrical)
	}
	if feats.Flatness > 0.8 {
		add(TypeWhiteNoise)
	}
	if hasEnergyOutlier(feats.FrameEnergies) {
		add(TypeImpulse)
	}
	return profiles
}

// hasMainsHum looks for a spike at 50 or 60 Hz. Harmonics at 2x and 3x
// strengthen the match but a clean fundamental alone is enough; cheap
// recorders often filter the harmonics out.
func (d *Detector) hasMainsHum(feats *dsp.Features) bool {
	if feats.SampleRate == 0 {
		return false
	}
	for _, fundamental := range []float64{50, 60} {
		if spikeAt(feats, fundamental) {
			return true
		}
		if spikeAt(feats, 2*fundamental) && spikeAt(feats, 3*fundamental) {
			return true
		}
	}
	return false
}

// spikeAt reports whether the power near freq stands well above its
// neighborhood in the representative frame's spectrum.
func spikeAt(feats *dsp.Features, freq float64) bool {
	binHz := float64(feats.SampleRate) / float64(feats.FFTSize)
	center := int(math.Round(freq / binHz))
	if center < 2 || center >= len(feats.PowerSpectrum)-2 {
		return false
	}

	var peakPower float64
	for i := center - 1; i <= center+1; i++ {
		if feats.PowerSpectrum[i] > peakPower {
			peakPower = feats.PowerSpectrum[i]
		}
	}

	// Neighborhood excludes the peak and its immediate skirt.
	lo, hi := center-8, center+8
	if lo < 0 {
		lo = 0
	}
	if hi >= len(feats.PowerSpectrum) {
		hi = len(feats.PowerSpectrum) - 1
	}
	var sum float64
	count := 0
	for i := lo; i <= hi; i++ {
		if i >= center-2 && i <= center+2 {
			continue
		}
		sum += feats.PowerSpectrum[i]
		count++
	}
	if count == 0 {
		return false
	}
	neighborhood := sum / float64(count)
	return peakPower > 5*neighborhood && peakPower > 1e-9
}

func hasEnergyOutlier(energies []float64) bool {
	if len(energies) < 4 {
		return false
	}
	mean, std := stat.MeanStdDev(energies, nil)
	if std == 0 {
		return false
	}
	for _, e := range energies {
		if e > mean+3*std {
			return true
		}
	}
	return false
}

// signalToNoise estimates SNR in dB. Noise power comes from the reference
// recording if supplied, otherwise from the mean power of the quietest 10%
// of frames.
func (d *Detector) signalToNoise(buf, reference *audio.Buffer, feats *dsp.Features) float64 {
	signalPower := buf.Power()

	var noisePower float64
	if reference != nil && len(reference.Samples) > 0 {
		noisePower = reference.Power()
	} else {
		noisePower = quietestFramePower(feats.FrameEnergies)
	}

	if noisePower <= 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(signalPower/noisePower)
}

// quietestFramePower returns the mean power of the quietest 10% of frames
// (at least one frame).
func quietestFramePower(energies []float64) float64 {
	if len(energies) == 0 {
		return 0
	}
	sorted := make([]float64, len(energies))
	copy(sorted, energies)
	sort.Float64s(sorted)

	n := len(sorted) / 10
	if n < 1 {
		n = 1
	}
	var sum float64
	for _, e := range sorted[:n] {
		sum += e * e
	}
	return sum / float64(n)
}

// overallLevel combines per-profile levels with the SNR ladder.
func overallLevel(snr float64, profiles []Profile) Level {
	switch {
	case snr < 10:
		return LevelVeryHigh
	case snr < 20:
		return LevelHigh
	case snr < 30:
		return LevelModerate
	}
	level := LevelVeryLow
	for _, p := range profiles {
		if p.Level > level {
			level = p.Level
		}
	}
	return level
}

// confidence is the mean of spectral clarity, type consistency, and
// normalized signal strength.
func (d *Detector) confidence(feats *dsp.Features, profiles []Profile, buf *audio.Buffer) float64 {
	clarity := 1 - feats.Entropy
	if clarity < 0 {
		clarity = 0
	}

	types := make(map[Type]struct{}, len(profiles))
	for _, p := range profiles {
		types[p.Type] = struct{}{}
	}
	consistency := 1 / (1 + float64(len(types)))

	strength := buf.RMS() * 3
	if strength > 1 {
		strength = 1
	}

	return (clarity + consistency + strength) / 3
}

func (d *Detector) recommendations(profiles []Profile, snr float64) []string {
	var recs []string
	for _, p := range profiles {
		switch p.Type {
		case TypeAmbient:
			recs = append(recs, "low-frequency ambient noise present; spectral subtraction with voice-band preservation recommended")
		case TypeHVAC:
			recs = append(recs, "HVAC rumble detected; high-pass filtering below 100 Hz recommended")
		case TypeElectrical:
			recs = append(recs, "mains hum detected; notch out 50/60 Hz harmonics and check equipment grounding")
		case TypeWhiteNoise:
			recs = append(recs, "broadband hiss detected; Wiener filtering recommended")
		case TypeImpulse:
			recs = append(recs, "impulsive transients detected; enable temporal smoothing")
		case TypeMonitorBeep:
			recs = append(recs, "monitor alarm tones present; narrowband suppression recommended")
		case TypeConversation:
			recs = append(recs, "background speech present; aggressive reduction risks removing clinical speech")
		}
	}
	if snr < 10 {
		recs = append(recs, "very low SNR; consider re-recording closer to the speaker")
	}
	return recs
}
