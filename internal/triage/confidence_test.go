package triage

import (
	"math"
	"testing"

	"github.com/user/medaudio-pipeline/internal/noise"
	"github.com/user/medaudio-pipeline/internal/stt"
)

func quiet() NoiseContext {
	return NoiseContext{Level: noise.LevelVeryLow, SNR: 40}
}

func word(text string, conf float64) stt.Word {
	return stt.Word{Text: text, Confidence: conf}
}

func TestDosageThresholdBoundary(t *testing.T) {
	m := NewManager()

	// 0.96 is under the 0.98 dosage bar.
	res := m.Analyze([]stt.Word{word("mg", 0.96)}, quiet(), false)
	if len(res.WordsNeedingReview) != 1 {
		t.Fatalf("dosage at 0.96 should be flagged, got %d flags", len(res.WordsNeedingReview))
	}
	if !res.Words[0].Critical {
		t.Error("flagged dosage term should be critical")
	}
	if len(res.CriticalTermsFlagged) != 1 {
		t.Errorf("critical flags = %d, want 1", len(res.CriticalTermsFlagged))
	}

	// 0.981 clears it.
	res = m.Analyze([]stt.Word{word("mg", 0.981)}, quiet(), false)
	if len(res.WordsNeedingReview) != 0 {
		t.Errorf("dosage at 0.981 should pass, got %d flags", len(res.WordsNeedingReview))
	}
}

func TestMedicationThresholdBoundary(t *testing.T) {
	m := NewManager()

	res := m.Analyze([]stt.Word{word("lisinopril", 0.951)}, quiet(), false)
	if len(res.WordsNeedingReview) != 0 {
		t.Errorf("medication at 0.951 should pass the 0.95 bar, got %d flags", len(res.WordsNeedingReview))
	}

	res = m.Analyze([]stt.Word{word("lisinopril", 0.949)}, quiet(), false)
	if len(res.WordsNeedingReview) != 1 {
		t.Errorf("medication at 0.949 should be flagged, got %d flags", len(res.WordsNeedingReview))
	}
	if len(res.CriticalTermsFlagged) != 1 {
		t.Errorf("misheard medication should be a critical flag, got %d", len(res.CriticalTermsFlagged))
	}
}

func TestLowConfidenceMedicationInBothLists(t *testing.T) {
	m := NewManager()
	res := m.Analyze([]stt.Word{word("lisinopril", 0.65)}, quiet(), false)

	if len(res.WordsNeedingReview) != 1 || len(res.CriticalTermsFlagged) != 1 {
		t.Fatalf("expected word in both review and critical lists, got %d/%d",
			len(res.WordsNeedingReview), len(res.CriticalTermsFlagged))
	}
	if res.WordsNeedingReview[0].Text != "lisinopril" {
		t.Errorf("wrong word flagged: %q", res.WordsNeedingReview[0].Text)
	}
}

func TestNoisePenalties(t *testing.T) {
	m := NewManager()
	words := []stt.Word{word("metformin", 0.97)}

	// 0.97 clears the 0.95 medication bar in quiet conditions.
	res := m.Analyze(words, quiet(), false)
	if len(res.WordsNeedingReview) != 0 {
		t.Fatalf("0.97 medication flagged in quiet conditions")
	}

	// High noise scales it to 0.97 * 0.92 = 0.8924, under the bar.
	res = m.Analyze(words, NoiseContext{Level: noise.LevelHigh, SNR: 12}, false)
	if len(res.WordsNeedingReview) != 1 {
		t.Errorf("high noise should push 0.97 medication under the bar")
	}
	got := res.Words[0].AdjustedConfidence
	if math.Abs(got-0.97*0.92) > 1e-9 {
		t.Errorf("adjusted confidence = %.4f, want %.4f", got, 0.97*0.92)
	}

	// Very high noise applies the harsher penalty.
	res = m.Analyze(words, NoiseContext{Level: noise.LevelVeryHigh, SNR: 6}, false)
	got = res.Words[0].AdjustedConfidence
	if math.Abs(got-0.97*0.85) > 1e-9 {
		t.Errorf("adjusted confidence = %.4f, want %.4f", got, 0.97*0.85)
	}
}

func TestAccentPenalty(t *testing.T) {
	m := NewManager()
	words := []stt.Word{word("warfarin", 0.96)}

	res := m.Analyze(words, quiet(), true)
	got := res.Words[0].AdjustedConfidence
	if math.Abs(got-0.96*0.93) > 1e-9 {
		t.Errorf("adjusted confidence = %.4f, want %.4f", got, 0.96*0.93)
	}
	if len(res.WordsNeedingReview) != 1 {
		t.Error("accent-penalized medication should be flagged")
	}
}

func TestContextBoost(t *testing.T) {
	m := NewManager()

	// Confident neighbors push a borderline medication over the bar.
	words := []stt.Word{
		word("patient", 0.97),
		word("takes", 0.96),
		word("metoprolol", 0.93),
		word("every", 0.98),
		word("morning", 0.97),
	}
	res := m.Analyze(words, quiet(), false)
	boosted := res.Words[2]
	if math.Abs(boosted.AdjustedConfidence-0.98) > 1e-9 {
		t.Errorf("boosted confidence = %.4f, want 0.98", boosted.AdjustedConfidence)
	}
	if boosted.NeedsReview {
		t.Error("boosted medication should clear the bar")
	}

	// Shaky neighbors grant no boost.
	words = []stt.Word{
		word("um", 0.55),
		word("the", 0.60),
		word("metoprolol", 0.93),
		word("uh", 0.58),
		word("thing", 0.62),
	}
	res = m.Analyze(words, quiet(), false)
	if math.Abs(res.Words[2].AdjustedConfidence-0.93) > 1e-9 {
		t.Errorf("confidence = %.4f, want unboosted 0.93", res.Words[2].AdjustedConfidence)
	}
}

func TestSingleWordGetsNoBoost(t *testing.T) {
	m := NewManager()
	res := m.Analyze([]stt.Word{word("mg", 0.96)}, quiet(), false)
	if res.Words[0].AdjustedConfidence != 0.96 {
		t.Errorf("single word confidence = %.4f, want exactly 0.96",
			res.Words[0].AdjustedConfidence)
	}
}

func TestConfidenceClampedAtOne(t *testing.T) {
	m := NewManager()
	words := []stt.Word{
		word("blood", 0.99),
		word("pressure", 0.98),
		word("stable", 0.99),
	}
	res := m.Analyze(words, quiet(), false)
	for _, w := range res.Words {
		if w.AdjustedConfidence > 1 {
			t.Errorf("confidence %.4f exceeds 1", w.AdjustedConfidence)
		}
	}
}

func TestEstimatedWERSteps(t *testing.T) {
	m := NewManager()
	cases := []struct {
		conf float64
		want float64
	}{
		{0.97, 0.02},
		{0.91, 0.05},
		{0.84, 0.10},
		{0.73, 0.18},
		{0.63, 0.28},
		{0.40, 0.40},
	}
	for _, tc := range cases {
		res := m.Analyze([]stt.Word{word("note", tc.conf)}, quiet(), false)
		if res.EstimatedWER != tc.want {
			t.Errorf("WER at mean confidence %.2f = %.2f, want %.2f",
				tc.conf, res.EstimatedWER, tc.want)
		}
	}
}

func TestClassifyTerm(t *testing.T) {
	cases := []struct {
		word string
		want MedicalTermType
	}{
		{"lisinopril", TermMedication},
		{"Lisinopril", TermMedication},
		{"mg", TermDosage},
		{"5mg", TermDosage},
		{"10ml", TermDosage},
		{"penicillin", TermAllergy}, // allergen beats medication by order
		{"hemoglobin", TermLabValue},
		{"hypertension", TermDiagnosis},
		{"biopsy", TermProcedure},
		{"heart,", TermAnatomy}, // punctuation stripped
		{"dyspnea", TermSymptom},
		{"systolic", TermVitalSign},
		{"the", TermNone},
		{"", TermNone},
		{"5miles", TermNone},
	}
	for _, tc := range cases {
		t.Run(tc.word, func(t *testing.T) {
			if got := ClassifyTerm(tc.word); got != tc.want {
				t.Errorf("ClassifyTerm(%q) = %s, want %s", tc.word, got, tc.want)
			}
		})
	}
}

func TestCriticalCategories(t *testing.T) {
	critical := []MedicalTermType{TermMedication, TermDosage, TermAllergy, TermLabValue}
	for _, term := range critical {
		if !term.Critical() {
			t.Errorf("%s should be critical", term)
		}
	}
	benign := []MedicalTermType{TermNone, TermDiagnosis, TermProcedure, TermAnatomy, TermSymptom, TermVitalSign}
	for _, term := range benign {
		if term.Critical() {
			t.Errorf("%s should not be critical", term)
		}
	}
}

func TestStats(t *testing.T) {
	m := NewManager()
	words := []stt.Word{
		word("clear", 0.99),
		word("speech", 0.95),
		word("here", 0.60),
	}
	res := m.Analyze(words, quiet(), false)

	if res.Stats.Max < res.Stats.Min {
		t.Errorf("max %.2f below min %.2f", res.Stats.Max, res.Stats.Min)
	}
	if res.Stats.BelowDefault != 1 {
		t.Errorf("below-default count = %d, want 1", res.Stats.BelowDefault)
	}
	if res.Transcript != "clear speech here" {
		t.Errorf("transcript = %q", res.Transcript)
	}
}
