//
// Copyright (c) 2025, Antonio Chirizzi <antonio.chirizzi@gmail.com>
// All rights reserved.
//
// This code is released under 3-clause BSD license. Please see the
// file LICENSE
//

package timestretch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// --- Shared Test Helper Functions ---

// genSineGo fills output with a pure sine wave at the given normalized
// frequency (cycles per sample, must be in (0, 0.5)).
func genSineGo(freq, amplitude float64, output []float32) {
	if freq <= 0.0 || freq >= 0.5 {
		panic(fmt.Sprintf("genSineGo: freq == %g is out of range (0.0, 0.5)", freq))
	}
	for k := range output {
		output[k] = float32(amplitude * math.Sin(2.0*math.Pi*freq*float64(k)))
	}
}

// genWindowedSinesGo generates a sum of sine waves under a Hanning window,
// for spectral tests where edge discontinuities would smear the spectrum.
func genWindowedSinesGo(freqs []float64, maxAmp float64, output []float32) {
	outputLen := len(output)
	if outputLen <= 1 || len(freqs) == 0 {
		for i := range output {
			output[i] = 0.0
		}
		return
	}

	for i := range output {
		output[i] = 0.0
	}

	amplitude := maxAmp / float64(len(freqs))
	for _, freqVal := range freqs {
		if freqVal <= 0.0 || freqVal >= 0.5 {
			panic(fmt.Sprintf("genWindowedSinesGo: freq == %g is out of range (0.0, 0.5)", freqVal))
		}
		phase := 0.9 * math.Pi / float64(len(freqs))
		for k := 0; k < outputLen; k++ {
			output[k] += float32(amplitude * math.Sin(freqVal*(2.0*float64(k))*math.Pi+phase))
		}
	}

	denominator := float64(outputLen) - 1.0
	for k := 0; k < outputLen; k++ {
		w := 0.5 - 0.5*math.Cos((2.0*float64(k))*math.Pi/denominator)
		output[k] *= float32(w)
	}
}

// rmsGo returns the root-mean-square level of data.
func rmsGo(data []float32) float64 {
	if len(data) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range data {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(data)))
}

// findPeakGo returns the largest absolute sample value in data.
func findPeakGo(data []float32) float64 {
	peak := 0.0
	for _, v := range data {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
		}
	}
	return peak
}

// snrGo computes the signal-to-noise ratio, in dB, of got against want,
// treating the per-sample difference as noise.
func snrGo(got, want []float32) float64 {
	n := len(got)
	if len(want) < n {
		n = len(want)
	}
	if n == 0 {
		return 0.0
	}
	sigPow, noisePow := 0.0, 0.0
	for i := 0; i < n; i++ {
		s := float64(want[i])
		d := float64(got[i]) - s
		sigPow += s * s
		noisePow += d * d
	}
	if noisePow <= 0.0 {
		return 200.0 // effectively perfect
	}
	return 10.0 * math.Log10(sigPow/noisePow)
}

// dominantFreqGo windows data, runs an FFT and returns the normalized
// frequency (cycles per sample) of the largest magnitude bin.
func dominantFreqGo(data []float32) float64 {
	n := len(data)
	seq := make([]float64, n)
	for i, v := range data {
		seq[i] = float64(v)
	}
	window.Hann(seq)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, seq)

	bestIdx, bestMag := 0, 0.0
	for i := 1; i < len(coeffs); i++ {
		re, im := real(coeffs[i]), imag(coeffs[i])
		if mag := re*re + im*im; mag > bestMag {
			bestMag = mag
			bestIdx = i
		}
	}
	return fft.Freq(bestIdx) // cycles per sample
}

// allFiniteGo reports whether data contains no NaNs or infinities.
func allFiniteGo(data []float32) bool {
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
