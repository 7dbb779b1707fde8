//
// Copyright (c) 2025, Antonio Chirizzi <antonio.chirizzi@gmail.com>
// All rights reserved.
//
// This code is released under 3-clause BSD license. Please see the
// file LICENSE
//

package timestretch

import (
	"math"

	"gonum.org/v1/gonum/dsp/window"
)

// --- Basic Engine ---

// basicEngine is the built-in "Basic" edition: a granular overlap-add
// stretcher. Each grain reads a window of input centred on the requested
// position, resamples it by the pitch ratio with linear interpolation,
// applies a Hann window and overlap-adds it into a synthesis accumulator at
// a fixed hop of half the grain length. Speed changes fall out of the grain
// positioning alone: grains advance through the input at hop*speed frames
// while the output always advances by one hop.
type basicEngine struct {
	rates      SampleRates
	channels   int
	hop        int     // synthesis hop: output frames emitted per grain
	grainLen   int     // window length, 2*hop (50% overlap)
	frameRatio float64 // input frames per output frame at speed 1
	maxInput   int

	window []float32
	grain  []float32 // windowed current grain, planar, stride grainLen
	accum  []float32 // OLA accumulator, planar, stride grainLen

	// staging between SpecifyGrain and AnalyseGrain
	specLen      int
	centerOff    float64 // grain centre in chunk-local coordinates
	step         float64 // input frames per grain sample
	pendingReset bool
	grainValid   bool

	curReq   Request
	haveCur  bool
	prevReq  Request
	havePrev bool

	// drain counts how many more grains must be synthesised before all
	// previously analysed audio has left the accumulator. With 50% overlap a
	// grain spans two hops.
	drain     int
	lastSpeed float64
}

// newBasicEngine is the EditionBasic entry in the engine function table.
func newBasicEngine(rates SampleRates, channels, log2SynthesisHopAdjust int) (Engine, ErrorCode) {
	if rates.Input <= 0 || rates.Output <= 0 {
		return nil, ErrBadSampleRate
	}
	if channels <= 0 || channels > maxChannels {
		return nil, ErrBadChannelCount
	}

	// Power-of-two hop of roughly 1/128 of the output rate (512 at 44.1kHz),
	// then the caller's adjustment.
	hop := minSynthesisHop
	for hop*128 < rates.Output {
		hop <<= 1
	}
	if log2SynthesisHopAdjust > 0 {
		hop <<= uint(log2SynthesisHopAdjust)
	} else if log2SynthesisHopAdjust < 0 {
		hop >>= uint(-log2SynthesisHopAdjust)
	}
	hop = clampInt(hop, minSynthesisHop, maxSynthesisHop)

	grainLen := 2 * hop
	frameRatio := float64(rates.Input) / float64(rates.Output)
	maxInput := int(math.Ceil(float64(grainLen)*maxPitchRatio*frameRatio)) + 2

	// Hann coefficients; gonum's window functions scale a sequence in place.
	coeffs := make([]float64, grainLen)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	window.Hann(coeffs)
	win := make([]float32, grainLen)
	for i, c := range coeffs {
		win[i] = float32(c)
	}

	return &basicEngine{
		rates:      rates,
		channels:   channels,
		hop:        hop,
		grainLen:   grainLen,
		frameRatio: frameRatio,
		maxInput:   maxInput,
		window:     win,
		grain:      make([]float32, grainLen*channels),
		accum:      make([]float32, grainLen*channels),
		lastSpeed:  1.0,
	}, ErrNoError
}

func (e *basicEngine) MaxInputFrameCount() int {
	return e.maxInput
}

// grainAdvance is the input-frame distance between consecutive grain
// centres at the given speed.
func (e *basicEngine) grainAdvance(speed float64) float64 {
	return float64(e.hop) * speed * e.frameRatio
}

func (e *basicEngine) Preroll(request Request) Request {
	request.Position -= e.grainAdvance(request.Speed)
	request.Reset = true
	return request
}

func (e *basicEngine) Next(request Request) Request {
	request.Reset = false
	if request.IsFlushGrain() {
		return request
	}
	request.Position += e.grainAdvance(request.Speed)
	return request
}

func (e *basicEngine) SpecifyGrain(request Request, bufferStartPosition float64) InputChunk {
	e.curReq = request
	e.haveCur = true
	e.pendingReset = request.Reset

	if request.IsFlushGrain() {
		e.specLen = 0
		return InputChunk{}
	}

	e.step = request.Pitch * e.frameRatio
	specLen := int(math.Ceil(e.step*float64(e.grainLen))) + 1
	if specLen > e.maxInput {
		specLen = e.maxInput
	}
	e.specLen = specLen

	rel := request.Position - bufferStartPosition
	begin := floorInt(rel) - specLen/2
	e.centerOff = rel - float64(begin)
	return InputChunk{Begin: begin, End: begin + specLen}
}

func (e *basicEngine) AnalyseGrain(data []float32, channelStride, muteFrameCountHead, muteFrameCountTail int) {
	if e.pendingReset {
		// Forget all previous grains: restart as at a fresh stream start.
		for i := range e.accum {
			e.accum[i] = 0
		}
		e.drain = 0
		e.havePrev = false
		e.pendingReset = false
	}

	if e.specLen == 0 {
		e.grainValid = false
		return
	}

	for ch := 0; ch < e.channels; ch++ {
		src := data[ch*channelStride:]
		grain := e.grain[ch*e.grainLen:][:e.grainLen]
		for k := range grain {
			pos := e.centerOff + (float64(k)-float64(e.hop))*e.step
			i0 := floorInt(pos)
			frac := float32(pos - float64(i0))
			y0 := e.sampleAt(src, i0, muteFrameCountHead, muteFrameCountTail)
			y1 := e.sampleAt(src, i0+1, muteFrameCountHead, muteFrameCountTail)
			grain[k] = e.window[k] * (y0 + frac*(y1-y0))
		}
	}
	e.grainValid = true
}

// sampleAt reads one chunk-local input sample, treating out-of-chunk and
// muted regions as silence.
func (e *basicEngine) sampleAt(src []float32, i, muteHead, muteTail int) float32 {
	if i < muteHead || i >= e.specLen-muteTail {
		return 0
	}
	return src[i]
}

func (e *basicEngine) SynthesiseGrain(chunk *OutputChunk) {
	assertf(chunk.ChannelStride >= e.hop,
		"output chunk stride %d is less than the synthesis hop %d", chunk.ChannelStride, e.hop)

	for ch := 0; ch < e.channels; ch++ {
		acc := e.accum[ch*e.grainLen:][:e.grainLen]
		if e.grainValid {
			grain := e.grain[ch*e.grainLen:][:e.grainLen]
			for k := range acc {
				acc[k] += grain[k]
			}
		}
		out := chunk.Data[ch*chunk.ChannelStride:]
		copy(out[:e.hop], acc[:e.hop])
		copy(acc, acc[e.hop:])
		for k := e.grainLen - e.hop; k < e.grainLen; k++ {
			acc[k] = 0
		}
	}
	chunk.FrameCount = e.hop

	if e.havePrev {
		prev := e.prevReq
		chunk.Requests[0] = &prev
	} else {
		chunk.Requests[0] = nil
	}
	if e.haveCur {
		cur := e.curReq
		chunk.Requests[1] = &cur
		e.prevReq = e.curReq
		e.havePrev = true
	} else {
		chunk.Requests[1] = nil
	}

	if e.grainValid {
		e.drain = 2
		e.lastSpeed = e.curReq.Speed
	} else if e.drain > 0 {
		e.drain--
	}
	e.grainValid = false
}

func (e *basicEngine) IsFlushed() bool {
	return e.drain <= 0
}

// Latency reports the delay between an input frame entering the pipeline and
// its audio appearing in synthesised output: one full grain (two hops) in
// output frames, expressed in input-frame units.
func (e *basicEngine) Latency() float64 {
	return float64(e.grainLen) * e.lastSpeed * e.frameRatio
}

func (e *basicEngine) Close() {
	e.window = nil
	e.grain = nil
	e.accum = nil
}
