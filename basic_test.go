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
	"testing"
)

// --- Basic engine signal quality tests ---
//
// These run whole streams through the Basic engine and measure the audio
// that comes out, rather than poking at grain internals: pass-through must
// reproduce the input (delayed by the pipeline), pitch shifting must move
// the spectral peak, and level must stay sane under time stretching.

// processAll streams input through a fresh mono stream in fixed-size blocks
// at the given speed and pitch, returning all produced output.
func processAll(t *testing.T, input []float32, sampleRate, blockLen int, speed, pitch float64) []float32 {
	t.Helper()

	stream, err := NewStream(sampleRate, 1, blockLen)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer stream.Close()

	outFrameCount := float64(blockLen) / speed
	outBlock := make([]float32, int(math.Ceil(outFrameCount)))
	var output []float32

	for off := 0; off+blockLen <= len(input); off += blockLen {
		in := [][]float32{input[off : off+blockLen]}
		produced := stream.Process(in, [][]float32{outBlock}, blockLen, outFrameCount, pitch)
		output = append(output, outBlock[:produced]...)
	}
	return output
}

// TestBasicPassThroughSNR: at speed 1 and pitch 1 the engine must act as a
// pure delay. The delay is the reported latency (one grain length at these
// settings), and after the warm-up region the output must match the input
// to well over 30 dB.
func TestBasicPassThroughSNR(t *testing.T) {
	const (
		sampleRate = 44100
		blockLen   = 512
		totalLen   = 1 << 14
	)

	input := make([]float32, totalLen)
	genSineGo(0.03125, 0.8, input)

	output := processAll(t, input, sampleRate, blockLen, 1.0, 1.0)
	if len(output) != totalLen {
		t.Fatalf("produced %d frames, want %d at speed 1", len(output), totalLen)
	}

	stream, err := NewStream(sampleRate, 1, blockLen)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	delay := int(stream.Latency())
	stream.Close()
	if delay <= 0 || delay >= totalLen/2 {
		t.Fatalf("latency %d out of plausible range", delay)
	}

	// Compare past the warm-up, leaving the tail where input ran out.
	start := 2 * delay
	end := totalLen - delay
	got := output[start:end]
	want := input[start-delay : end-delay]

	snr := snrGo(got, want)
	t.Logf("pass-through SNR = %.2f dB (delay %d frames)", snr, delay)
	if snr < 30.0 {
		t.Errorf("pass-through SNR = %.2f dB, want >= 30 dB", snr)
	}
}

// TestBasicPitchShiftSpectrum: pitch 2.0 at speed 1 must move a sine's
// spectral peak to twice its frequency while keeping the duration.
func TestBasicPitchShiftSpectrum(t *testing.T) {
	const (
		sampleRate = 44100
		blockLen   = 512
		totalLen   = 1 << 14
		inFreq     = 0.03125 // cycles/sample; chosen so grains stay phase-aligned
	)

	input := make([]float32, totalLen)
	genSineGo(inFreq, 0.8, input)

	output := processAll(t, input, sampleRate, blockLen, 1.0, 2.0)
	if len(output) != totalLen {
		t.Fatalf("produced %d frames, want %d at speed 1", len(output), totalLen)
	}

	segment := output[4096 : 4096+8192]
	if rms := rmsGo(segment); rms < 0.05 {
		t.Fatalf("output segment RMS %.4f too low for spectral analysis", rms)
	}

	gotFreq := dominantFreqGo(segment)
	wantFreq := 2.0 * inFreq
	t.Logf("dominant output frequency = %.5f cycles/sample, want %.5f", gotFreq, wantFreq)
	if math.Abs(gotFreq-wantFreq) > 0.005 {
		t.Errorf("dominant frequency %.5f, want %.5f +/- 0.005", gotFreq, wantFreq)
	}
}

// TestBasicStretchLevel: time stretching must not blow up or collapse the
// signal level. Overlap-add of misaligned grains modulates a sine somewhat,
// so the bound is loose.
func TestBasicStretchLevel(t *testing.T) {
	const (
		sampleRate = 44100
		blockLen   = 512
		totalLen   = 1 << 14
	)

	for _, speed := range []float64{0.5, 0.7, 1.3, 2.0} {
		sp := speed
		t.Run(formatSpeedName(sp), func(t *testing.T) {
			input := make([]float32, totalLen)
			genSineGo(0.021, 0.8, input)

			output := processAll(t, input, sampleRate, blockLen, sp, 1.0)

			wantLen := float64(totalLen) / sp
			if math.Abs(float64(len(output))-wantLen) > float64(totalLen/blockLen) {
				t.Errorf("produced %d frames, want about %.0f", len(output), wantLen)
			}

			// Steady-state region, away from warm-up and tail.
			lo, hi := len(output)/4, len(output)*3/4
			outRms := rmsGo(output[lo:hi])
			inRms := rmsGo(input[totalLen/4 : totalLen*3/4])
			ratio := outRms / inRms
			t.Logf("speed %.2f: RMS ratio = %.3f", sp, ratio)
			if ratio < 0.4 || ratio > 1.5 {
				t.Errorf("speed %.2f: RMS ratio %.3f outside [0.4, 1.5]", sp, ratio)
			}

			if peak := findPeakGo(output); peak > 2.0 {
				t.Errorf("speed %.2f: output peak %.3f, want <= 2.0", sp, peak)
			}
		})
	}
}

func formatSpeedName(speed float64) string {
	switch {
	case speed < 1.0:
		return fmt.Sprintf("SlowDown_%.2f", speed)
	case speed > 1.0:
		return fmt.Sprintf("SpeedUp_%.2f", speed)
	}
	return "Unity"
}
