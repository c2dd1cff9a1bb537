// Package dsp provides frequency-domain analysis of PCM buffers.
package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/user/medaudio-pipeline/internal/audio"
)

// Band boundaries in Hz for the per-band energy split. The last band extends
// to Nyquist.
var BandEdges = []float64{0, 250, 1000, 3000, 6000}

const NumBands = 5

// RolloffFraction is the cumulative-energy fraction used for the spectral
// rolloff point.
const RolloffFraction = 0.85

// Features is a derived snapshot of a buffer's spectral content. It is
// recomputed per call and never mutated.
type Features struct {
	// PowerSpectrum and Magnitudes come from the representative
	// (highest-energy) frame.
	PowerSpectrum []float64
	Magnitudes    []float64

	Centroid      float64           // Hz
	Rolloff       float64           // Hz below which RolloffFraction of energy lies
	Flux          float64           // mean frame-to-frame spectral change
	ZeroCrossRate float64           // crossings per sample
	BandEnergies  [NumBands]float64 // fraction of total power per band
	Flatness      float64           // geometric/arithmetic mean ratio of power spectrum
	Entropy       float64           // normalized spectral entropy, 0..1

	// FrameEnergies holds the RMS of each analysis frame.
	FrameEnergies []float64

	SampleRate int
	FFTSize    int
}

// Analyzer frames a buffer with a Hann window and computes Features. An
// Analyzer holds only immutable configuration, so a single instance is safe
// under concurrent calls on distinct buffers.
type Analyzer struct {
	FrameSize int
	Hop       int
	FFTSize   int
}

func NewAnalyzer(frameSize, hop, fftSize int) *Analyzer {
	if fftSize < frameSize {
		fftSize = frameSize
	}
	return &Analyzer{FrameSize: frameSize, Hop: hop, FFTSize: fftSize}
}

// DefaultAnalyzer matches the detector's resolution: 2048-sample frames with
// 50% overlap give 7.8 Hz bins at 16 kHz, enough to separate 50 Hz from
// 60 Hz mains hum.
func DefaultAnalyzer() *Analyzer {
	return NewAnalyzer(2048, 1024, 2048)
}

// Analyze computes spectral features for the buffer. Empty or all-zero input
// yields zero-valued features; no division by zero occurs.
func (a *Analyzer) Analyze(buf *audio.Buffer) *Features {
	numBins := a.FFTSize/2 + 1
	f := &Features{
		PowerSpectrum: make([]float64, numBins),
		Magnitudes:    make([]float64, numBins),
		SampleRate:    buf.SampleRate,
		FFTSize:       a.FFTSize,
	}
	if len(buf.Samples) == 0 || buf.Peak() == 0 {
		return f
	}

	fft := fourier.NewFFT(a.FFTSize)
	window := HannWindow(a.FrameSize)
	frames := frameOffsets(len(buf.Samples), a.FrameSize, a.Hop)

	f.ZeroCrossRate = zeroCrossRate(buf.Samples)
	f.FrameEnergies = make([]float64, 0, len(frames))

	var (
		bestEnergy float64 = -1
		bestMags   []float64
		prevMags   []float64
		fluxSum    float64
		fluxCount  int
	)
	coeffs := make([]complex128, numBins)
	frame := make([]float64, a.FFTSize)

	for _, off := range frames {
		windowFrame(buf.Samples, off, a.FrameSize, window, frame)

		var energy float64
		for _, s := range frame[:a.FrameSize] {
			energy += s * s
		}
		energy = math.Sqrt(energy / float64(a.FrameSize))
		f.FrameEnergies = append(f.FrameEnergies, energy)

		fft.Coefficients(coeffs, frame)
		mags := make([]float64, numBins)
		for i, c := range coeffs {
			mags[i] = cmplxAbs(c)
		}

		if prevMags != nil {
			var d float64
			for i := range mags {
				diff := mags[i] - prevMags[i]
				d += diff * diff
			}
			fluxSum += math.Sqrt(d)
			fluxCount++
		}
		prevMags = mags

		if energy > bestEnergy {
			bestEnergy = energy
			bestMags = mags
		}
	}

	if bestMags == nil {
		return f
	}
	copy(f.Magnitudes, bestMags)
	for i, m := range bestMags {
		f.PowerSpectrum[i] = m * m
	}
	if fluxCount > 0 {
		f.Flux = fluxSum / float64(fluxCount)
	}

	a.fillSpectralShape(f, buf.SampleRate)
	return f
}

func (a *Analyzer) fillSpectralShape(f *Features, sampleRate int) {
	var total float64
	for _, p := range f.PowerSpectrum {
		total += p
	}
	if total == 0 {
		return
	}

	binHz := float64(sampleRate) / float64(a.FFTSize)

	// Centroid and rolloff.
	var weighted, cum float64
	rolloffTarget := RolloffFraction * total
	rolloffSet := false
	for i, p := range f.PowerSpectrum {
		freq := float64(i) * binHz
		weighted += freq * p
		cum += p
		if !rolloffSet && cum >= rolloffTarget {
			f.Rolloff = freq
			rolloffSet = true
		}
	}
	f.Centroid = weighted / total

	// Per-band energy fractions.
	nyquist := float64(sampleRate) / 2
	for i, p := range f.PowerSpectrum {
		freq := float64(i) * binHz
		band := NumBands - 1
		for b := 0; b < NumBands-1; b++ {
			if freq < BandEdges[b+1] {
				band = b
				break
			}
		}
		if freq <= nyquist {
			f.BandEnergies[band] += p
		}
	}
	for b := range f.BandEnergies {
		f.BandEnergies[b] /= total
	}

	// Flatness: geometric over arithmetic mean of the power spectrum.
	var logSum float64
	n := float64(len(f.PowerSpectrum))
	for _, p := range f.PowerSpectrum {
		logSum += math.Log(p + 1e-12)
	}
	geoMean := math.Exp(logSum / n)
	arithMean := total / n
	f.Flatness = geoMean / arithMean

	// Normalized spectral entropy.
	var entropy float64
	for _, p := range f.PowerSpectrum {
		prob := p / total
		if prob > 0 {
			entropy -= prob * math.Log(prob)
		}
	}
	f.Entropy = entropy / math.Log(n)
}

// HannWindow returns a periodic Hann window of length n. The periodic form
// sums to unity at 50% overlap, which the processor's overlap-add relies on.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

func frameOffsets(length, frameSize, hop int) []int {
	if length < frameSize {
		if length == 0 {
			return nil
		}
		return []int{0}
	}
	var offsets []int
	for off := 0; off+frameSize <= length; off += hop {
		offsets = append(offsets, off)
	}
	return offsets
}

// windowFrame copies frameSize samples at off into dst, applies the window,
// and zero-pads dst to its full length.
func windowFrame(samples []float64, off, frameSize int, window, dst []float64) {
	for i := 0; i < frameSize; i++ {
		if off+i < len(samples) {
			dst[i] = samples[off+i] * window[i]
		} else {
			dst[i] = 0
		}
	}
	for i := frameSize; i < len(dst); i++ {
		dst[i] = 0
	}
}

func zeroCrossRate(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples))
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
