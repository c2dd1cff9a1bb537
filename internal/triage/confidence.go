// Package triage scores transcribed words against per-category confidence
// thresholds and flags clinically critical terms for human review.
package triage

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/user/medaudio-pipeline/internal/noise"
	"github.com/user/medaudio-pipeline/internal/stt"
)

// MedicalTermType is the closed category set for clinically significant
// vocabulary. Dispatching on an enum instead of raw strings means a typo in
// a category name cannot silently fall through.
type MedicalTermType int

const (
	TermNone MedicalTermType = iota
	TermMedication
	TermDosage
	TermDiagnosis
	TermProcedure
	TermAnatomy
	TermSymptom
	TermAllergy
	TermLabValue
	TermVitalSign
)

func (t MedicalTermType) String() string {
	switch t {
	case TermMedication:
		return "medication"
	case TermDosage:
		return "dosage"
	case TermDiagnosis:
		return "diagnosis"
	case TermProcedure:
		return "procedure"
	case TermAnatomy:
		return "anatomy"
	case TermSymptom:
		return "symptom"
	case TermAllergy:
		return "allergy"
	case TermLabValue:
		return "lab_value"
	case TermVitalSign:
		return "vital_sign"
	default:
		return "none"
	}
}

// Critical reports whether misrecognizing a term of this category can
// directly harm a patient.
func (t MedicalTermType) Critical() bool {
	switch t {
	case TermMedication, TermDosage, TermAllergy, TermLabValue:
		return true
	default:
		return false
	}
}

// ThresholdTable holds the confidence thresholds. Immutable configuration;
// critical categories carry the highest bars.
type ThresholdTable struct {
	Default float64
	Accept  float64
	Review  float64
	Reject  float64

	PerCategory map[MedicalTermType]float64
}

func DefaultThresholds() ThresholdTable {
	return ThresholdTable{
		Default: 0.85,
		Accept:  0.90,
		Review:  0.70,
		Reject:  0.40,
		PerCategory: map[MedicalTermType]float64{
			TermDosage:     0.98,
			TermAllergy:    0.97,
			TermLabValue:   0.96,
			TermMedication: 0.95,
			TermVitalSign:  0.93,
			TermDiagnosis:  0.92,
			TermProcedure:  0.92,
			TermAnatomy:    0.90,
			TermSymptom:    0.90,
		},
	}
}

// For returns the review threshold for a category.
func (t ThresholdTable) For(term MedicalTermType) float64 {
	if v, ok := t.PerCategory[term]; ok {
		return v
	}
	return t.Default
}

// Heuristic adjustment constants. Uncalibrated policy values, not a fitted
// model.
const (
	highNoisePenalty   = 0.92
	severeNoisePenalty = 0.85
	accentPenalty      = 0.93
	contextBoostMax    = 0.05
	contextWindowMean  = 0.85
	contextWindow      = 2
)

// NoiseContext carries the detection output relevant to confidence
// adjustment.
type NoiseContext struct {
	Level noise.Level
	SNR   float64
}

// AssessedWord is a transcribed word with its category and triage verdict.
type AssessedWord struct {
	stt.Word
	Term               MedicalTermType
	AdjustedConfidence float64
	NeedsReview        bool
	Critical           bool
}

// Stats summarizes the adjusted confidences of a transcript.
type Stats struct {
	Mean         float64
	Min          float64
	Max          float64
	BelowDefault int
}

// Result is the terminal triage artifact handed to export logic.
type Result struct {
	Transcript           string
	Words                []AssessedWord
	Stats                Stats
	WordsNeedingReview   []AssessedWord
	CriticalTermsFlagged []AssessedWord
	EstimatedWER         float64
}

// Manager maps per-word acoustic confidence plus noise context into triage
// decisions. Pure computation with read-only configuration; safe to share
// across goroutines.
type Manager struct {
	thresholds ThresholdTable
}

func NewManager() *Manager {
	return &Manager{thresholds: DefaultThresholds()}
}

func NewManagerWithThresholds(t ThresholdTable) *Manager {
	return &Manager{thresholds: t}
}

// Analyze triages the word sequence. No I/O; independent transcripts can be
// analyzed in parallel.
func (m *Manager) Analyze(words []stt.Word, noiseCtx NoiseContext, accentDetected bool) Result {
	assessed := make([]AssessedWord, len(words))

	for i, w := range words {
		conf := w.Confidence

		switch noiseCtx.Level {
		case noise.LevelHigh:
			conf *= highNoisePenalty
		case noise.LevelVeryHigh:
			conf *= severeNoisePenalty
		}
		if accentDetected {
			conf *= accentPenalty
		}
		conf += m.contextBoost(words, i)
		if conf > 1 {
			conf = 1
		}

		term := ClassifyTerm(w.Text)
		needsReview := m.thresholds.For(term) > conf

		assessed[i] = AssessedWord{
			Word:               w,
			Term:               term,
			AdjustedConfidence: conf,
			NeedsReview:        needsReview,
			Critical:           needsReview && term.Critical(),
		}
	}

	result := Result{
		Transcript: stt.JoinWords(words),
		Words:      assessed,
		Stats:      computeStats(assessed, m.thresholds.Default),
	}
	for _, w := range assessed {
		if w.NeedsReview {
			result.WordsNeedingReview = append(result.WordsNeedingReview, w)
		}
		if w.Critical {
			result.CriticalTermsFlagged = append(result.CriticalTermsFlagged, w)
		}
	}
	result.EstimatedWER = estimateWER(result.Stats.Mean)

	log.Debug().
		Int("words", len(words)).
		Int("needs_review", len(result.WordsNeedingReview)).
		Int("critical", len(result.CriticalTermsFlagged)).
		Float64("estimated_wer", result.EstimatedWER).
		Msg("Transcript triage completed")

	return result
}

// contextBoost rewards a word whose neighbors were recognized confidently:
// when the mean raw confidence of the +-2 word window (excluding the word
// itself) exceeds contextWindowMean, the word gets a bounded boost.
func (m *Manager) contextBoost(words []stt.Word, i int) float64 {
	var sum float64
	count := 0
	for j := i - contextWindow; j <= i+contextWindow; j++ {
		if j == i || j < 0 || j >= len(words) {
			continue
		}
		sum += words[j].Confidence
		count++
	}
	if count == 0 {
		return 0
	}
	if sum/float64(count) > contextWindowMean {
		return contextBoostMax
	}
	return 0
}

func computeStats(words []AssessedWord, defaultThreshold float64) Stats {
	if len(words) == 0 {
		return Stats{}
	}
	s := Stats{Min: 1, Max: 0}
	var sum float64
	for _, w := range words {
		c := w.AdjustedConfidence
		sum += c
		if c < s.Min {
			s.Min = c
		}
		if c > s.Max {
			s.Max = c
		}
		if c < defaultThreshold {
			s.BelowDefault++
		}
	}
	s.Mean = sum / float64(len(words))
	return s
}

// estimateWER is a step-function approximation of word error rate from
// average confidence. A documented heuristic, not a calibrated model.
func estimateWER(meanConfidence float64) float64 {
	switch {
	case meanConfidence >= 0.95:
		return 0.02
	case meanConfidence >= 0.90:
		return 0.05
	case meanConfidence >= 0.80:
		return 0.10
	case meanConfidence >= 0.70:
		return 0.18
	case meanConfidence >= 0.60:
		return 0.28
	default:
		return 0.40
	}
}

// ClassifyTerm assigns a word to the first matching category. Categories are
// checked in order of clinical criticality so ambiguous terms (penicillin is
// both an allergen and a medication) land on the stricter threshold.
func ClassifyTerm(word string) MedicalTermType {
	w := normalizeWord(word)
	if w == "" {
		return TermNone
	}
	for _, cat := range termCategories {
		for _, kw := range cat.keywords {
			if w == kw {
				return cat.term
			}
		}
	}
	// Dosage strings usually arrive fused with their quantity ("5mg",
	// "10ml"); match on the unit suffix.
	if hasDigitPrefix(w) {
		for _, unit := range dosageUnits {
			if strings.HasSuffix(w, unit) {
				return TermDosage
			}
		}
	}
	return TermNone
}

func normalizeWord(word string) string {
	return strings.TrimFunc(strings.ToLower(word), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

func hasDigitPrefix(w string) bool {
	return len(w) > 0 && w[0] >= '0' && w[0] <= '9'
}

var dosageUnits = []string{"mg", "mcg", "ml", "g", "units", "iu"}

var termCategories = []struct {
	term     MedicalTermType
	keywords []string
}{
	{TermDosage, []string{
		"mg", "mcg", "milligram", "milligrams", "microgram", "micrograms",
		"ml", "milliliter", "milliliters", "units", "unit", "tablet",
		"tablets", "capsule", "capsules", "dose", "doses", "daily", "twice",
		"bid", "tid", "qid", "prn",
	}},
	{TermAllergy, []string{
		"allergy", "allergies", "allergic", "anaphylaxis", "anaphylactic",
		"penicillin", "sulfa", "latex", "intolerance",
	}},
	{TermLabValue, []string{
		"hemoglobin", "hematocrit", "glucose", "creatinine", "potassium",
		"sodium", "platelets", "troponin", "bilirubin", "albumin", "inr",
		"wbc", "a1c", "lactate",
	}},
	{TermMedication, []string{
		"lisinopril", "metformin", "atorvastatin", "amlodipine",
		"amoxicillin", "azithromycin", "insulin", "warfarin", "heparin",
		"morphine", "fentanyl", "aspirin", "ibuprofen", "acetaminophen",
		"prednisone", "albuterol", "omeprazole", "levothyroxine",
		"furosemide", "gabapentin", "metoprolol", "losartan",
	}},
	{TermVitalSign, []string{
		"pulse", "temperature", "respiration", "respiratory", "oxygen",
		"saturation", "bp", "spo2", "systolic", "diastolic", "tachycardia",
		"bradycardia", "hypotension", "hypertensive",
	}},
	{TermDiagnosis, []string{
		"hypertension", "diabetes", "pneumonia", "asthma", "copd", "sepsis",
		"stroke", "infarction", "anemia", "arrhythmia", "fibrillation",
		"embolism", "cellulitis", "appendicitis", "fracture",
	}},
	{TermProcedure, []string{
		"biopsy", "intubation", "catheter", "catheterization", "endoscopy",
		"colonoscopy", "dialysis", "transfusion", "suture", "resection",
		"angioplasty", "thoracentesis", "paracentesis",
	}},
	{TermAnatomy, []string{
		"heart", "lung", "lungs", "liver", "kidney", "kidneys", "artery",
		"vein", "abdomen", "thorax", "femur", "tibia", "cranial", "spine",
		"pancreas", "spleen", "aorta",
	}},
	{TermSymptom, []string{
		"pain", "fever", "nausea", "dyspnea", "fatigue", "dizziness",
		"cough", "vomiting", "swelling", "edema", "syncope", "pruritus",
		"headache", "chills",
	}},
}
