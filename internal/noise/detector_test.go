package noise

import (
	"math"
	"math/rand"
	"testing"

	"github.com/user/medaudio-pipeline/internal/audio"
)

func hasType(profiles []Profile, t Type) bool {
	for _, p := range profiles {
		if p.Type == t {
			return true
		}
	}
	return false
}

func TestDetectEmptyBuffer(t *testing.T) {
	d := NewDetector(NewDatabase())

	for _, buf := range []*audio.Buffer{
		nil,
		audio.NewBuffer(nil, 16000),
		audio.NewBuffer(make([]float64, 8000), 16000),
	} {
		res := d.Detect(buf)
		if res.OverallLevel != LevelVeryLow {
			t.Errorf("degenerate input should report very_low, got %s", res.OverallLevel)
		}
		if len(res.Profiles) != 0 {
			t.Errorf("degenerate input should report no profiles, got %d", len(res.Profiles))
		}
	}
}

func TestDetectMainsHum(t *testing.T) {
	// Speech-band tone plus faint 60 Hz hum over a low noise floor.
	rng := rand.New(rand.NewSource(7))
	sampleRate := 16000
	samples := make([]float64, 2*sampleRate)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = 0.3*math.Sin(2*math.Pi*200*ts) +
			0.02*math.Sin(2*math.Pi*60*ts) +
			0.005*(rng.Float64()-0.5)
	}

	d := NewDetector(NewDatabase())
	res := d.Detect(audio.NewBuffer(samples, sampleRate))

	if !hasType(res.Profiles, TypeElectrical) {
		t.Errorf("expected electrical_interference among profiles, got %v", res.Profiles)
	}
	if len(res.Recommendations) == 0 {
		t.Error("expected at least one recommendation for detected hum")
	}
}

func TestHumRecordingDetectThenReduce(t *testing.T) {
	// Five seconds of speech-band tone over a gaussian floor with faint
	// mains hum, run through detection and default spectral subtraction.
	rng := rand.New(rand.NewSource(17))
	sampleRate := 16000
	samples := make([]float64, 5*sampleRate)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = 0.3*math.Sin(2*math.Pi*200*ts) +
			0.05*rng.NormFloat64() +
			0.02*math.Sin(2*math.Pi*60*ts)
	}
	buf := audio.NewBuffer(samples, sampleRate)

	res := NewDetector(NewDatabase()).Detect(buf)
	if !hasType(res.Profiles, TypeElectrical) {
		t.Errorf("expected electrical_interference among profiles, got %v", res.Profiles)
	}

	red := NewProcessor(DefaultConfig()).Process(buf)
	if red.ProcessedSNR <= red.OriginalSNR {
		t.Errorf("reduction did not improve SNR: %.1f dB -> %.1f dB",
			red.OriginalSNR, red.ProcessedSNR)
	}
}

func TestDetectDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.2*math.Sin(2*math.Pi*300*float64(i)/16000) + 0.05*(rng.Float64()-0.5)
	}
	buf := audio.NewBuffer(samples, 16000)

	d := NewDetector(NewDatabase())
	first := d.Detect(buf)
	second := d.Detect(buf)

	if first.SNR != second.SNR {
		t.Errorf("SNR differs between runs: %f vs %f", first.SNR, second.SNR)
	}
	if first.OverallLevel != second.OverallLevel {
		t.Errorf("level differs between runs: %s vs %s", first.OverallLevel, second.OverallLevel)
	}
	if len(first.Profiles) != len(second.Profiles) {
		t.Errorf("profile count differs between runs: %d vs %d", len(first.Profiles), len(second.Profiles))
	}
}

func TestDetectSNRFromQuietTail(t *testing.T) {
	// A loud tone burst followed by near-silence: the quietest frames carry
	// only the floor, so the estimated SNR must be high.
	rng := rand.New(rand.NewSource(11))
	sampleRate := 16000
	samples := make([]float64, 2*sampleRate)
	for i := range samples {
		ts := float64(i) / float64(sampleRate)
		samples[i] = 0.005 * (rng.Float64() - 0.5)
		if i < sampleRate {
			samples[i] += 0.5 * math.Sin(2*math.Pi*800*ts)
		}
	}

	d := NewDetector(NewDatabase())
	res := d.Detect(audio.NewBuffer(samples, sampleRate))

	if res.SNR < 30 {
		t.Errorf("expected SNR above 30 dB with near-silent tail, got %.1f", res.SNR)
	}
	if res.OverallLevel == LevelVeryHigh || res.OverallLevel == LevelHigh {
		t.Errorf("clean recording classified as %s", res.OverallLevel)
	}
}

func TestDetectWithReference(t *testing.T) {
	sampleRate := 16000
	signal := make([]float64, sampleRate)
	for i := range signal {
		signal[i] = math.Sin(2 * math.Pi * 440 * float64(i) / float64(sampleRate))
	}
	// Constant-level reference noise with power 0.01.
	reference := make([]float64, sampleRate)
	for i := range reference {
		reference[i] = 0.1
	}

	d := NewDetector(NewDatabase())
	res := d.DetectWithReference(
		audio.NewBuffer(signal, sampleRate),
		audio.NewBuffer(reference, sampleRate),
	)

	// Signal power 0.5 over reference power 0.01 is ~17 dB.
	if math.Abs(res.SNR-17) > 1 {
		t.Errorf("reference SNR = %.2f dB, want ~17", res.SNR)
	}
	if res.OverallLevel != LevelHigh {
		t.Errorf("17 dB SNR should map to high, got %s", res.OverallLevel)
	}
}

func TestDetectImpulse(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	sampleRate := 16000
	samples := make([]float64, 4*sampleRate)
	for i := range samples {
		samples[i] = 0.05 * (rng.Float64() - 0.5)
	}
	// A short loud burst midway.
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			samples[2*sampleRate+i] = 1.0
		} else {
			samples[2*sampleRate+i] = -1.0
		}
	}

	d := NewDetector(NewDatabase())
	res := d.Detect(audio.NewBuffer(samples, sampleRate))

	if !hasType(res.Profiles, TypeImpulse) {
		t.Errorf("expected impulse among profiles, got %v", res.Profiles)
	}
}

func TestDetectConfidenceRange(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	samples := make([]float64, 16000)
	for i := range samples {
		samples[i] = 0.3*math.Sin(2*math.Pi*500*float64(i)/16000) + 0.02*(rng.Float64()-0.5)
	}

	d := NewDetector(NewDatabase())
	res := d.Detect(audio.NewBuffer(samples, 16000))

	if res.Confidence < 0 || res.Confidence > 1 {
		t.Errorf("confidence %.3f out of [0,1]", res.Confidence)
	}
}

func TestOverallLevelLadder(t *testing.T) {
	cases := []struct {
		snr      float64
		profiles []Profile
		want     Level
	}{
		{5, nil, LevelVeryHigh},
		{15, nil, LevelHigh},
		{25, nil, LevelModerate},
		{40, nil, LevelVeryLow},
		{40, []Profile{{Level: LevelModerate}}, LevelModerate},
		{40, []Profile{{Level: LevelLow}, {Level: LevelHigh}}, LevelHigh},
	}
	for _, tc := range cases {
		if got := overallLevel(tc.snr, tc.profiles); got != tc.want {
			t.Errorf("overallLevel(%.0f, %d profiles) = %s, want %s",
				tc.snr, len(tc.profiles), got, tc.want)
		}
	}
}

func TestParseTypeAndLevelRoundTrip(t *testing.T) {
	for typ := TypeUnknown; typ <= TypeImpulse; typ++ {
		parsed, err := ParseType(typ.String())
		if err != nil {
			t.Errorf("ParseType(%q): %v", typ.String(), err)
		}
		if parsed != typ {
			t.Errorf("ParseType(%q) = %v, want %v", typ.String(), parsed, typ)
		}
	}
	for l := LevelVeryLow; l <= LevelVeryHigh; l++ {
		parsed, err := ParseLevel(l.String())
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", l.String(), err)
		}
		if parsed != l {
			t.Errorf("ParseLevel(%q) = %v, want %v", l.String(), parsed, l)
		}
	}
	if _, err := ParseType("sparkles"); err == nil {
		t.Error("expected error for unknown type name")
	}
}
